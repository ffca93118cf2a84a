package soarm

import (
	"context"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// wire is the transport the controller funnels every operation through.
// The real implementation speaks the Feetech STS protocol; tests
// substitute a scripted fake.
type wire interface {
	syncRead(ctx context.Context, ids []int) (map[int]int, error)
	syncWrite(ctx context.Context, positions map[int]int) error
	readPosition(ctx context.Context, id int) (int, error)
	writePosition(ctx context.Context, id, raw int) error
	writeTorqueEnable(ctx context.Context, id int, enabled bool) error
	close() error
}

// feetechWire drives servos through a feetech serial bus. A servo group
// carries the batched sync read/write traffic; per-servo handles carry
// single-servo operations and torque writes.
type feetechWire struct {
	bus    *feetech.Bus
	group  *feetech.ServoGroup
	servos map[int]*feetech.Servo
}

// dialFeetech opens the serial bus and verifies every expected servo
// answers a scan before any driver starts issuing commands.
func dialFeetech(ctx context.Context, cfg Config) (*feetechWire, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.BusTimeout,
	})
	if err != nil {
		return nil, &robot.ConnectError{Port: cfg.Port, Err: err}
	}

	ids := cfg.Descriptor.ServoIDs()
	lo, hi := idBounds(ids)

	found, err := bus.Scan(ctx, lo, hi)
	if err != nil {
		bus.Close()
		return nil, &robot.ConnectError{Port: cfg.Port, Err: errors.Wrap(err, "scan")}
	}
	models := make(map[int]*feetech.Model, len(found))
	for _, s := range found {
		models[s.ID] = s.Model
	}

	servos := make(map[int]*feetech.Servo, len(ids))
	for _, id := range ids {
		model, ok := models[id]
		if !ok {
			bus.Close()
			return nil, &robot.ConnectError{Port: cfg.Port, Err: errors.Errorf("servo %d did not answer scan", id)}
		}
		servos[id] = feetech.NewServo(bus, id, model)
	}

	return &feetechWire{
		bus:    bus,
		group:  feetech.NewServoGroupByIDs(bus, ids...),
		servos: servos,
	}, nil
}

func (w *feetechWire) syncRead(ctx context.Context, ids []int) (map[int]int, error) {
	positions, err := w.group.Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(ids))
	for _, id := range ids {
		raw, ok := positions[id]
		if !ok {
			return nil, errors.Errorf("servo %d missing from sync read", id)
		}
		out[id] = raw
	}
	return out, nil
}

func (w *feetechWire) syncWrite(ctx context.Context, positions map[int]int) error {
	return w.group.SetPositions(ctx, feetech.PositionMap(positions))
}

func (w *feetechWire) readPosition(ctx context.Context, id int) (int, error) {
	servo, ok := w.servos[id]
	if !ok {
		return 0, errors.Errorf("no servo with id %d", id)
	}
	return servo.Position(ctx)
}

func (w *feetechWire) writePosition(ctx context.Context, id, raw int) error {
	servo, ok := w.servos[id]
	if !ok {
		return errors.Errorf("no servo with id %d", id)
	}
	return servo.SetPosition(ctx, raw)
}

func (w *feetechWire) writeTorqueEnable(ctx context.Context, id int, enabled bool) error {
	servo, ok := w.servos[id]
	if !ok {
		return errors.Errorf("no servo with id %d", id)
	}
	return servo.SetTorqueEnabled(ctx, enabled)
}

func (w *feetechWire) close() error {
	return w.bus.Close()
}

func idBounds(ids []int) (lo, hi int) {
	lo, hi = ids[0], ids[0]
	for _, id := range ids {
		if id < lo {
			lo = id
		}
		if id > hi {
			hi = id
		}
	}
	return lo, hi
}
