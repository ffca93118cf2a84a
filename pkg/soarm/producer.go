package soarm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

const sendBuffer = 32

// Producer drives a physical arm as an output device. It locks the
// servos for the lifetime of the connection and replays incoming
// commands onto the hardware from its own write loop, so Send never
// waits on the serial link.
type Producer struct {
	cfg    Config
	log    *zap.SugaredLogger
	status robot.StatusTracker

	mu     sync.Mutex
	ctrl   *SharedController
	sendCh chan robot.Command
	cancel context.CancelFunc
	done   chan struct{}
}

var _ robot.Producer = (*Producer)(nil)

// NewProducer builds a producer for the arm on cfg.Port. Nothing touches
// the hardware until Connect.
func NewProducer(cfg Config) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Producer{cfg: cfg, log: cfg.Logger}, nil
}

// Connect acquires the port, verifies calibration, locks the servos and
// starts the write loop. It fails with robot.ErrCalibrationRequired if
// any joint is uncalibrated and no preset covers it.
func (p *Producer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctrl != nil {
		return errors.New("producer already connected")
	}

	sc, err := acquireController(ctx, p.cfg)
	if err != nil {
		p.status.SetError(err)
		return err
	}
	if p.cfg.Preset != nil {
		sc.Calibrations.SetAll(p.cfg.Preset)
	}
	if sc.Calibrations.NeedsCalibration() {
		sc.Release()
		p.status.SetError(robot.ErrCalibrationRequired)
		return robot.ErrCalibrationRequired
	}
	if err := sc.LockAll(ctx); err != nil {
		sc.Release()
		p.status.SetError(err)
		return err
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	sendCh := make(chan robot.Command, sendBuffer)
	done := make(chan struct{})
	p.ctrl, p.sendCh, p.cancel, p.done = sc, sendCh, cancel, done
	p.status.SetConnected()
	go p.drain(drainCtx, sc, sendCh, done)
	return nil
}

// Send queues a command for the write loop in arrival order. It returns
// quickly: when the queue is full the oldest queued command is dropped to
// make room for the newest.
func (p *Producer) Send(ctx context.Context, cmd robot.Command) error {
	p.mu.Lock()
	sendCh, done := p.sendCh, p.done
	p.mu.Unlock()
	if sendCh == nil {
		return robot.ErrNotConnected
	}

	select {
	case sendCh <- cmd:
		return nil
	default:
	}
	select {
	case <-sendCh:
		p.log.Warnf("write queue full, dropping oldest command")
	default:
	}
	select {
	case sendCh <- cmd:
		return nil
	case <-done:
		return robot.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain replays queued commands onto the hardware one at a time.
func (p *Producer) drain(ctx context.Context, sc *SharedController, sendCh <-chan robot.Command, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-sendCh:
			p.write(ctx, sc, cmd)
		}
	}
}

// write denormalizes a command and pushes it to the servos. Single-joint
// commands use a targeted write; larger ones go out as one sync write.
// Hardware failures are logged, not returned: one bad frame must not kill
// the stream.
func (p *Producer) write(ctx context.Context, sc *SharedController, cmd robot.Command) {
	positions := make(map[int]int, len(cmd.Joints))
	for name, value := range cmd.Joints {
		spec, ok := p.cfg.Descriptor.ByName(name)
		if !ok {
			p.log.Warnf("unknown joint %q in command", name)
			continue
		}
		positions[spec.ServoID] = Denormalize(value, spec.Kind, sc.Calibrations.Get(name))
	}
	if len(positions) == 0 {
		return
	}

	var err error
	if len(positions) == 1 {
		for id, raw := range positions {
			err = sc.WritePosition(ctx, id, raw)
		}
	} else {
		err = sc.WritePositions(ctx, positions)
	}
	if err != nil && ctx.Err() == nil {
		p.log.Warnf("position write: %v", err)
	}
}

// Disconnect stops the write loop, then unlocks the servos and releases
// the port. The unlock runs unconditionally so the arm is never left
// stiff after the producer goes away.
func (p *Producer) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	sc, cancel, done := p.ctrl, p.cancel, p.done
	p.ctrl, p.sendCh, p.cancel, p.done = nil, nil, nil, nil
	p.mu.Unlock()
	if sc == nil {
		return nil
	}

	cancel()
	<-done

	if err := sc.UnlockAll(ctx); err != nil {
		p.log.Warnf("unlock on disconnect: %v", err)
	}
	err := sc.Release()
	p.status.SetDisconnected(nil)
	return err
}

// Status returns the current connection status.
func (p *Producer) Status() robot.ConnectionStatus {
	return p.status.Status()
}

// Changes streams connection status transitions.
func (p *Producer) Changes() <-chan robot.ConnectionStatus {
	return p.status.Changes()
}
