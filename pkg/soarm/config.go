package soarm

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// Driver defaults. All of them are overridable through Config.
const (
	DefaultBaudRate        = 1_000_000
	DefaultBusTimeout      = 100 * time.Millisecond
	DefaultPollInterval    = time.Second / 60
	DefaultChangeThreshold = 5
	DefaultRangeThreshold  = 500
	DefaultSampleInterval  = 100 * time.Millisecond
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 100 * time.Millisecond
	DefaultLockStepDelay   = 10 * time.Millisecond
)

// Config configures the SO-arm driver stack. Port is the only required
// field; everything else defaults via Validate.
type Config struct {
	// Port is the serial device path, e.g. /dev/ttyUSB0.
	Port string
	// BaudRate and BusTimeout configure the serial link. Drivers sharing a
	// port must agree on both.
	BaudRate   int
	BusTimeout time.Duration

	// Descriptor maps joints to servo IDs. Defaults to the SO-100 layout.
	Descriptor robot.Descriptor

	// Preset, when set, is applied to the shared calibration store on
	// connect so drivers can skip the interactive session.
	Preset Preset

	// PollInterval is the consumer's read cadence; ChangeThreshold is the
	// raw movement (in servo units) below which a joint is considered
	// unchanged.
	PollInterval    time.Duration
	ChangeThreshold int

	// RangeThreshold is the minimum discovered raw range for a joint to
	// count as calibrated. SampleInterval is the calibration session's
	// read cadence.
	RangeThreshold int
	SampleInterval time.Duration

	// MaxRetries and RetryDelay bound transport retries; LockStepDelay
	// paces sequential torque writes so the bus is not overwhelmed.
	MaxRetries    int
	RetryDelay    time.Duration
	LockStepDelay time.Duration

	Logger *zap.SugaredLogger
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.BusTimeout <= 0 {
		c.BusTimeout = DefaultBusTimeout
	}
	if len(c.Descriptor) == 0 {
		c.Descriptor = robot.SO100()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ChangeThreshold <= 0 {
		c.ChangeThreshold = DefaultChangeThreshold
	}
	if c.RangeThreshold <= 0 {
		c.RangeThreshold = DefaultRangeThreshold
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.LockStepDelay <= 0 {
		c.LockStepDelay = DefaultLockStepDelay
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	return nil
}

// linkEqual reports whether two configs agree on the physical link
// settings. Per-driver cadence settings may differ between drivers sharing
// a port; the link settings may not.
func (c Config) linkEqual(other Config) bool {
	return c.Port == other.Port && c.BaudRate == other.BaudRate
}
