package soarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// ErrControllerClosed is returned for operations submitted after Close.
var ErrControllerClosed = errors.New("controller closed")

// Controller owns one serial connection and serializes every read and
// write on it: all operations pass through a single request loop, so two
// logical drivers sharing the port can never interleave bytes on the wire.
type Controller struct {
	cfg  Config
	log  *zap.SugaredLogger
	wire wire
	ids  []int

	reqCh     chan request
	closeCh   chan struct{}
	closeOnce sync.Once
}

type request struct {
	ctx  context.Context
	op   func(ctx context.Context) error
	done chan error
}

// newController wraps an open wire and starts the request loop. Production
// code reaches it through Acquire.
func newController(cfg Config, w wire) *Controller {
	c := &Controller{
		cfg:     cfg,
		log:     cfg.Logger,
		wire:    w,
		ids:     cfg.Descriptor.ServoIDs(),
		reqCh:   make(chan request),
		closeCh: make(chan struct{}),
	}
	go c.run()
	return c
}

func connectController(ctx context.Context, cfg Config) (*Controller, error) {
	w, err := dialFeetech(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cfg.Logger.Infof("connected to %s at %d baud (%d servos)", cfg.Port, cfg.BaudRate, len(cfg.Descriptor))
	return newController(cfg, w), nil
}

// run executes requests one at a time, in submission order.
func (c *Controller) run() {
	for {
		select {
		case <-c.closeCh:
			for {
				select {
				case req := <-c.reqCh:
					req.done <- ErrControllerClosed
				default:
					return
				}
			}
		case req := <-c.reqCh:
			if err := req.ctx.Err(); err != nil {
				req.done <- err
				continue
			}
			req.done <- req.op(req.ctx)
		}
	}
}

// do submits op to the request loop and waits for its result.
func (c *Controller) do(ctx context.Context, op func(ctx context.Context) error) error {
	req := request{ctx: ctx, op: op, done: make(chan error, 1)}
	select {
	case c.reqCh <- req:
	case <-c.closeCh:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-c.closeCh:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry runs op up to the configured attempt budget with a fixed delay
// between attempts, returning the last error.
func (c *Controller) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		c.log.Debugf("transport attempt %d/%d failed: %v", attempt, c.cfg.MaxRetries, err)
		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// ServoIDs returns the servo IDs the controller addresses.
func (c *Controller) ServoIDs() []int {
	return append([]int(nil), c.ids...)
}

// ReadPositions reads every servo's raw position in one sync read.
func (c *Controller) ReadPositions(ctx context.Context) (map[int]int, error) {
	var out map[int]int
	err := c.do(ctx, func(ctx context.Context) error {
		if err := c.retry(ctx, func() error {
			var rerr error
			out, rerr = c.wire.syncRead(ctx, c.ids)
			return rerr
		}); err != nil {
			return &robot.ReadError{Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadPosition reads a single servo's raw position.
func (c *Controller) ReadPosition(ctx context.Context, id int) (int, error) {
	var raw int
	err := c.do(ctx, func(ctx context.Context) error {
		if err := c.retry(ctx, func() error {
			var rerr error
			raw, rerr = c.wire.readPosition(ctx, id)
			return rerr
		}); err != nil {
			return &robot.ReadError{ServoID: id, Err: err}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return raw, nil
}

// WritePositions writes raw positions to multiple servos in one sync
// write, retried as a unit.
func (c *Controller) WritePositions(ctx context.Context, positions map[int]int) error {
	return c.do(ctx, func(ctx context.Context) error {
		if err := c.retry(ctx, func() error {
			return c.wire.syncWrite(ctx, positions)
		}); err != nil {
			return &robot.WriteError{Attempts: c.cfg.MaxRetries, Err: err}
		}
		return nil
	})
}

// WritePosition writes one servo's raw position.
func (c *Controller) WritePosition(ctx context.Context, id, raw int) error {
	return c.do(ctx, func(ctx context.Context) error {
		if err := c.retry(ctx, func() error {
			return c.wire.writePosition(ctx, id, raw)
		}); err != nil {
			return &robot.WriteError{ServoID: id, Attempts: c.cfg.MaxRetries, Err: err}
		}
		return nil
	})
}

// LockAll enables torque on every servo, taking software control.
func (c *Controller) LockAll(ctx context.Context) error {
	return c.setTorqueAll(ctx, true)
}

// UnlockAll disables torque on every servo so the arm can be moved by
// hand. Both lock and unlock are idempotent.
func (c *Controller) UnlockAll(ctx context.Context) error {
	return c.setTorqueAll(ctx, false)
}

// setTorqueAll writes the torque flag to each servo sequentially with a
// fixed pacing delay. Individual failures are logged and skipped: one
// stuck servo must not leave the rest in the wrong lock state.
func (c *Controller) setTorqueAll(ctx context.Context, enabled bool) error {
	return c.do(ctx, func(ctx context.Context) error {
		for i, id := range c.ids {
			if i > 0 {
				select {
				case <-time.After(c.cfg.LockStepDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := c.wire.writeTorqueEnable(ctx, id, enabled); err != nil {
				c.log.Warnf("torque enable=%v servo %d: %v", enabled, id, err)
			}
		}
		return nil
	})
}

// Close stops the request loop and closes the serial link. The wire is
// closed from inside the loop so no operation is mid-flight when the port
// goes away. Close is idempotent.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.do(context.Background(), func(context.Context) error {
			return c.wire.close()
		})
		close(c.closeCh)
	})
	return err
}
