package soarm

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/armhub-dev/armhub/pkg/robot"
)

var registry = struct {
	mu          sync.Mutex
	controllers map[string]*SharedController
}{controllers: make(map[string]*SharedController)}

// SharedController is a refcounted controller handle. Drivers that name
// the same serial port receive the same underlying controller, so a
// consumer and a producer on one physical arm share a single connection
// instead of fighting over the device file.
//
// Sharing a port means sharing calibration and lock authority too: if one
// driver locks the servos and another unlocks them, the last writer wins.
// Running a hardware consumer and a hardware producer against the same
// arm is a configuration hazard, not an error the library detects.
type SharedController struct {
	*Controller

	// Calibrations is the per-joint calibration shared by every driver on
	// this port.
	Calibrations *CalibrationStore

	port string
	refs int
}

// Acquire returns the controller for cfg.Port, dialing it on first use.
// Subsequent acquisitions must agree on the link settings; per-driver
// cadence settings may differ.
func Acquire(ctx context.Context, cfg Config) (*SharedController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if sc, ok := registry.controllers[cfg.Port]; ok {
		if !sc.cfg.linkEqual(cfg) {
			return nil, errors.Errorf("port %s already open at %d baud", cfg.Port, sc.cfg.BaudRate)
		}
		sc.refs++
		return sc, nil
	}

	ctrl, err := connectController(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sc := &SharedController{
		Controller:   ctrl,
		Calibrations: newCalibrationStore(cfg.Descriptor),
		port:         cfg.Port,
		refs:         1,
	}
	registry.controllers[cfg.Port] = sc
	return sc, nil
}

// Release drops one reference. The connection closes when the last holder
// releases it.
func (sc *SharedController) Release() error {
	registry.mu.Lock()
	sc.refs--
	last := sc.refs == 0
	if last {
		delete(registry.controllers, sc.port)
	}
	registry.mu.Unlock()

	if !last {
		return nil
	}
	return sc.Close()
}

// CalibrationStore holds per-joint calibration, safe for concurrent use.
// Joints start uncalibrated until a calibration session completes or a
// saved preset is applied.
type CalibrationStore struct {
	mu     sync.RWMutex
	byName map[robot.JointName]Calibration
}

func newCalibrationStore(desc robot.Descriptor) *CalibrationStore {
	byName := make(map[robot.JointName]Calibration, len(desc))
	for _, spec := range desc {
		byName[spec.Name] = Calibration{}
	}
	return &CalibrationStore{byName: byName}
}

// Get returns the calibration for a joint. Unknown joints report an
// uncalibrated zero value.
func (s *CalibrationStore) Get(name robot.JointName) Calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byName[name]
}

func (s *CalibrationStore) set(name robot.JointName, cal Calibration) {
	s.mu.Lock()
	s.byName[name] = cal
	s.mu.Unlock()
}

// SetAll replaces the calibration for every joint present in cals.
func (s *CalibrationStore) SetAll(cals map[robot.JointName]Calibration) {
	s.mu.Lock()
	for name, cal := range cals {
		s.byName[name] = cal
	}
	s.mu.Unlock()
}

// Snapshot copies the current calibration map.
func (s *CalibrationStore) Snapshot() map[robot.JointName]Calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[robot.JointName]Calibration, len(s.byName))
	for name, cal := range s.byName {
		out[name] = cal
	}
	return out
}

// NeedsCalibration reports whether any joint lacks calibration. Drivers
// refuse to attach while this is true.
func (s *CalibrationStore) NeedsCalibration() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cal := range s.byName {
		if !cal.Calibrated {
			return true
		}
	}
	return false
}
