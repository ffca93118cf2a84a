package soarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// SessionState is the lifecycle state of a calibration session.
type SessionState int

const (
	StateUncalibrated SessionState = iota
	StateCalibrating
	StateCalibrated
)

func (s SessionState) String() string {
	switch s {
	case StateUncalibrated:
		return "uncalibrated"
	case StateCalibrating:
		return "calibrating"
	case StateCalibrated:
		return "calibrated"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// JointRange is the observed raw travel of one joint during recording.
type JointRange struct {
	Current int
	Min     int
	Max     int
}

// Snapshot is a point-in-time view of a session, published on Updates
// after every sample.
type Snapshot struct {
	State    SessionState
	Progress float64
	Joints   map[robot.JointName]JointRange
}

// IncompleteError reports the joints whose recorded travel never reached
// the range threshold. Joints that did qualify are committed anyway.
type IncompleteError struct {
	Uncalibrated []robot.JointName
}

func (e *IncompleteError) Error() string {
	names := make([]string, len(e.Uncalibrated))
	for i, n := range e.Uncalibrated {
		names[i] = string(n)
	}
	return fmt.Sprintf("joints below calibration range threshold: %s", strings.Join(names, ", "))
}

type positionReader interface {
	ReadPositions(ctx context.Context) (map[int]int, error)
}

// Session records joint travel while the operator moves the arm by hand,
// then derives per-joint calibration from the observed extremes. Servos
// must be unlocked while recording.
type Session struct {
	reader         positionReader
	desc           robot.Descriptor
	store          *CalibrationStore
	rangeThreshold int
	sampleInterval time.Duration
	log            *zap.SugaredLogger

	mu      sync.Mutex
	state   SessionState
	ranges  map[robot.JointName]JointRange
	cancel  context.CancelFunc
	done    chan struct{}
	updates chan Snapshot
}

// NewSession builds a session over an acquired controller. Calibration
// commits into the controller's shared store on Complete.
func NewSession(sc *SharedController) *Session {
	return newSession(sc, sc.cfg.Descriptor, sc.Calibrations, sc.cfg.RangeThreshold, sc.cfg.SampleInterval, sc.log)
}

func newSession(reader positionReader, desc robot.Descriptor, store *CalibrationStore, rangeThreshold int, sampleInterval time.Duration, log *zap.SugaredLogger) *Session {
	return &Session{
		reader:         reader,
		desc:           desc,
		store:          store,
		rangeThreshold: rangeThreshold,
		sampleInterval: sampleInterval,
		log:            log,
		updates:        make(chan Snapshot, 8),
	}
}

// Start seeds every joint's range from the current position and begins
// sampling in the background. The session keeps recording until Complete,
// Skip, ApplyPreset, or Cancel.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateCalibrating {
		s.mu.Unlock()
		return errors.New("calibration already in progress")
	}
	s.mu.Unlock()

	raw, err := s.reader.ReadPositions(ctx)
	if err != nil {
		return errors.Wrap(err, "reading initial positions")
	}

	s.mu.Lock()
	s.ranges = make(map[robot.JointName]JointRange, len(s.desc))
	for _, spec := range s.desc {
		if cur, ok := raw[spec.ServoID]; ok {
			s.ranges[spec.Name] = JointRange{Current: cur, Min: cur, Max: cur}
		}
	}
	s.state = StateCalibrating
	ctx, s.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	s.publish()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample(ctx)
			}
		}
	}()
	return nil
}

// sample takes one reading and widens the recorded ranges.
func (s *Session) sample(ctx context.Context) {
	raw, err := s.reader.ReadPositions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warnf("calibration sample: %v", err)
		}
		return
	}

	s.mu.Lock()
	for _, spec := range s.desc {
		cur, ok := raw[spec.ServoID]
		if !ok {
			continue
		}
		r, ok := s.ranges[spec.Name]
		if !ok {
			r = JointRange{Current: cur, Min: cur, Max: cur}
		}
		r.Current = cur
		if cur < r.Min {
			r.Min = cur
		}
		if cur > r.Max {
			r.Max = cur
		}
		s.ranges[spec.Name] = r
	}
	s.mu.Unlock()

	s.publish()
}

// Updates streams a snapshot after every sample. Slow readers see the
// latest snapshots, not every one.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current state, progress and recorded ranges.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Progress is the mean per-joint progress percentage, where a joint is at
// 100 once its recorded span reaches the range threshold.
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	joints := make(map[robot.JointName]JointRange, len(s.ranges))
	for name, r := range s.ranges {
		joints[name] = r
	}
	return Snapshot{State: s.state, Progress: s.progressLocked(), Joints: joints}
}

func (s *Session) progressLocked() float64 {
	if len(s.ranges) == 0 {
		return 0
	}
	var total float64
	for _, r := range s.ranges {
		pct := float64(r.Max-r.Min) / float64(s.rangeThreshold) * 100
		if pct > 100 {
			pct = 100
		}
		total += pct
	}
	return total / float64(len(s.ranges))
}

func (s *Session) publish() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	select {
	case s.updates <- snap:
	default:
		// Full: drop the oldest snapshot and retry once.
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- snap:
		default:
		}
	}
}

func (s *Session) stopSampler() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Complete stops recording and commits calibration for every joint whose
// span reached the range threshold. It returns each committed joint's
// final raw position so the caller can seed downstream state. Joints
// below the threshold stay uncalibrated and are reported through
// IncompleteError.
func (s *Session) Complete() (map[robot.JointName]int, error) {
	s.stopSampler()

	s.mu.Lock()
	defer s.mu.Unlock()

	finals := make(map[robot.JointName]int)
	var short []robot.JointName
	for _, spec := range s.desc {
		r, ok := s.ranges[spec.Name]
		if !ok || r.Max-r.Min < s.rangeThreshold {
			short = append(short, spec.Name)
			continue
		}
		s.store.set(spec.Name, Calibration{Calibrated: true, MinRaw: r.Min, MaxRaw: r.Max})
		finals[spec.Name] = r.Current
	}
	if len(short) > 0 {
		s.state = StateUncalibrated
		return finals, &IncompleteError{Uncalibrated: short}
	}
	s.state = StateCalibrated
	return finals, nil
}

// Skip marks every joint calibrated over the servo's full mechanical
// range without recording.
func (s *Session) Skip() {
	s.stopSampler()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range s.desc {
		s.store.set(spec.Name, Calibration{Calibrated: true, MinRaw: rawMin, MaxRaw: rawMax})
	}
	s.state = StateCalibrated
}

// ApplyPreset loads a saved calibration instead of recording. The preset
// must cover every joint in the descriptor.
func (s *Session) ApplyPreset(p Preset) error {
	for _, spec := range s.desc {
		if _, ok := p[spec.Name]; !ok {
			return errors.Errorf("preset missing joint %s", spec.Name)
		}
	}
	s.stopSampler()
	s.store.SetAll(p)

	s.mu.Lock()
	s.state = StateCalibrated
	s.mu.Unlock()
	return nil
}

// Cancel stops recording and discards everything gathered so far.
func (s *Session) Cancel() {
	s.stopSampler()

	s.mu.Lock()
	s.ranges = nil
	s.state = StateUncalibrated
	s.mu.Unlock()
}
