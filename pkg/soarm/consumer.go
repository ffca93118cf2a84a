package soarm

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// acquireController is swapped out in tests.
var acquireController = Acquire

const commandBuffer = 8

// Consumer reads a physical arm as an input device. It keeps the servos
// unlocked so a person can move the arm by hand, polls raw positions and
// emits a command whenever a joint moves past the change threshold.
type Consumer struct {
	cfg    Config
	log    *zap.SugaredLogger
	status robot.StatusTracker
	cmds   chan robot.Command

	mu     sync.Mutex
	ctrl   *SharedController
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ robot.Consumer    = (*Consumer)(nil)
	_ robot.StateSeeder = (*Consumer)(nil)
)

// NewConsumer builds a consumer for the arm on cfg.Port. Nothing touches
// the hardware until Connect.
func NewConsumer(cfg Config) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Consumer{
		cfg:  cfg,
		log:  cfg.Logger,
		cmds: make(chan robot.Command, commandBuffer),
	}, nil
}

// Connect acquires the port, verifies calibration, unlocks the servos and
// starts the polling loop. It fails with robot.ErrCalibrationRequired if
// any joint is uncalibrated and no preset covers it.
func (c *Consumer) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl != nil {
		return errors.New("consumer already connected")
	}

	sc, err := acquireController(ctx, c.cfg)
	if err != nil {
		c.status.SetError(err)
		return err
	}
	if c.cfg.Preset != nil {
		sc.Calibrations.SetAll(c.cfg.Preset)
	}
	if sc.Calibrations.NeedsCalibration() {
		sc.Release()
		c.status.SetError(robot.ErrCalibrationRequired)
		return robot.ErrCalibrationRequired
	}
	if err := sc.UnlockAll(ctx); err != nil {
		sc.Release()
		c.status.SetError(err)
		return err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.ctrl, c.cancel, c.done = sc, cancel, done
	c.status.SetConnected()
	go c.poll(pollCtx, sc, done)
	return nil
}

// poll reads positions at the configured rate. The first read is the
// baseline and emits nothing; after that a joint is reported when its raw
// position moves more than ChangeThreshold from the last reported value.
func (c *Consumer) poll(ctx context.Context, sc *SharedController, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	last := make(map[int]int)
	primed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		raw, err := sc.ReadPositions(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warnf("position poll: %v", err)
			continue
		}
		if !primed {
			for id, v := range raw {
				last[id] = v
			}
			primed = true
			continue
		}

		joints := make(map[robot.JointName]float64)
		for _, spec := range c.cfg.Descriptor {
			cur, ok := raw[spec.ServoID]
			if !ok {
				continue
			}
			prev, seen := last[spec.ServoID]
			if seen && absInt(cur-prev) <= c.cfg.ChangeThreshold {
				continue
			}
			last[spec.ServoID] = cur
			joints[spec.Name] = Normalize(cur, spec.Kind, sc.Calibrations.Get(spec.Name))
		}
		if len(joints) == 0 {
			continue
		}
		c.emit(robot.NewCommand(joints))
	}
}

// emit hands a command to the consumer channel without ever blocking the
// poll loop. When the reader lags, the oldest command is dropped.
func (c *Consumer) emit(cmd robot.Command) {
	select {
	case c.cmds <- cmd:
		return
	default:
	}
	select {
	case <-c.cmds:
		c.log.Warnf("command buffer full, dropping oldest")
	default:
	}
	select {
	case c.cmds <- cmd:
	default:
	}
}

// Commands returns the command stream. The channel is allocated once and
// never closed, so it stays valid across reconnects.
func (c *Consumer) Commands() <-chan robot.Command {
	return c.cmds
}

// InitialState reads and normalizes every joint's current position.
func (c *Consumer) InitialState(ctx context.Context) (map[robot.JointName]float64, error) {
	c.mu.Lock()
	sc := c.ctrl
	c.mu.Unlock()
	if sc == nil {
		return nil, robot.ErrNotConnected
	}

	raw, err := sc.ReadPositions(ctx)
	if err != nil {
		return nil, err
	}
	state := make(map[robot.JointName]float64, len(c.cfg.Descriptor))
	for _, spec := range c.cfg.Descriptor {
		if cur, ok := raw[spec.ServoID]; ok {
			state[spec.Name] = Normalize(cur, spec.Kind, sc.Calibrations.Get(spec.Name))
		}
	}
	return state, nil
}

// Disconnect stops the polling loop, then unlocks the servos and releases
// the port. The unlock runs even when the session is being torn down
// after an error so the arm is never left stiff.
func (c *Consumer) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	sc, cancel, done := c.ctrl, c.cancel, c.done
	c.ctrl, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()
	if sc == nil {
		return nil
	}

	cancel()
	<-done

	if err := sc.UnlockAll(ctx); err != nil {
		c.log.Warnf("unlock on disconnect: %v", err)
	}
	err := sc.Release()
	c.status.SetDisconnected(nil)
	return err
}

// Status returns the current connection status.
func (c *Consumer) Status() robot.ConnectionStatus {
	return c.status.Status()
}

// Changes streams connection status transitions.
func (c *Consumer) Changes() <-chan robot.ConnectionStatus {
	return c.status.Changes()
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
