package soarm

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

const probeTimeout = 2 * time.Second

// ArmInfo describes an arm found during discovery.
type ArmInfo struct {
	Port   string
	Servos []int
}

// FindArms probes every serial port on the system and returns the ports
// where all of the descriptor's servos answer a scan.
func FindArms(ctx context.Context, desc robot.Descriptor, log *zap.SugaredLogger) ([]ArmInfo, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "listing serial ports")
	}

	var arms []ArmInfo
	for _, port := range candidatePorts(ports) {
		if err := ctx.Err(); err != nil {
			return arms, err
		}
		if info, ok := probePort(ctx, port, desc, log); ok {
			log.Infof("found arm on %s", port)
			arms = append(arms, info)
		}
	}
	return arms, nil
}

// candidatePorts filters out ports that cannot be an arm, like macOS
// Bluetooth devices.
func candidatePorts(ports []string) []string {
	out := make([]string, 0, len(ports))
	for _, port := range ports {
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		out = append(out, port)
	}
	return out
}

func probePort(ctx context.Context, port string, desc robot.Descriptor, log *zap.SugaredLogger) (ArmInfo, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: DefaultBaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  DefaultBusTimeout,
	})
	if err != nil {
		log.Debugf("open %s: %v", port, err)
		return ArmInfo{}, false
	}
	defer bus.Close()

	ids := desc.ServoIDs()
	lo, hi := idBounds(ids)
	found, err := bus.Scan(ctx, lo, hi)
	if err != nil {
		log.Debugf("scan %s: %v", port, err)
		return ArmInfo{}, false
	}
	if !hasAllServos(found, ids) {
		return ArmInfo{}, false
	}

	servoIDs := make([]int, 0, len(found))
	for _, s := range found {
		servoIDs = append(servoIDs, s.ID)
	}
	sort.Ints(servoIDs)
	return ArmInfo{Port: port, Servos: servoIDs}, true
}

func hasAllServos(found []feetech.FoundServo, want []int) bool {
	if len(found) != len(want) {
		return false
	}
	ids := make(map[int]bool, len(found))
	for _, s := range found {
		ids[s.ID] = true
	}
	for _, id := range want {
		if !ids[id] {
			return false
		}
	}
	return true
}

// Identify wiggles the arm's base joint so an operator with several
// identical arms can tell which one is on this port. The servo is moved
// gently around its current position and returned to it.
func Identify(ctx context.Context, port string, desc robot.Descriptor) error {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: DefaultBaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  DefaultBusTimeout,
	})
	if err != nil {
		return &robot.ConnectError{Port: port, Err: err}
	}
	defer bus.Close()

	ids := desc.ServoIDs()
	lo, hi := idBounds(ids)
	found, err := bus.Scan(ctx, lo, hi)
	if err != nil {
		return &robot.ConnectError{Port: port, Err: errors.Wrap(err, "scan")}
	}

	base := desc[0]
	var servo *feetech.Servo
	for _, s := range found {
		if s.ID == base.ServoID {
			servo = feetech.NewServo(bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return errors.Errorf("servo %d not found on %s", base.ServoID, port)
	}

	original, err := servo.Position(ctx)
	if err != nil {
		return errors.Wrap(err, "reading position")
	}
	if err := servo.Enable(ctx); err != nil {
		return errors.Wrap(err, "enabling torque")
	}
	defer servo.Disable(ctx)

	const wiggle = 30
	const moveMs = 500
	for _, target := range []int{original + wiggle, original - wiggle, original} {
		servo.SetPositionWithTime(ctx, target, moveMs)
		select {
		case <-time.After((moveMs + 100) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
