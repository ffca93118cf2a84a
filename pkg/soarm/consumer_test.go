package soarm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// fakeShared wraps a scripted wire in a SharedController without touching
// the registry or a real serial port.
func fakeShared(t *testing.T, w *fakeWire, cfg Config) *SharedController {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return &SharedController{
		Controller:   newController(cfg, w),
		Calibrations: newCalibrationStore(cfg.Descriptor),
		port:         cfg.Port,
	}
}

// stubAcquire routes driver connects to fake controllers by port.
func stubAcquire(t *testing.T, shared ...*SharedController) {
	t.Helper()
	byPort := make(map[string]*SharedController, len(shared))
	for _, sc := range shared {
		byPort[sc.port] = sc
	}
	orig := acquireController
	acquireController = func(ctx context.Context, cfg Config) (*SharedController, error) {
		sc, ok := byPort[cfg.Port]
		if !ok {
			return nil, fmt.Errorf("no fake controller for port %s", cfg.Port)
		}
		registry.mu.Lock()
		sc.refs++
		registry.mu.Unlock()
		return sc, nil
	}
	t.Cleanup(func() {
		acquireController = orig
		for _, sc := range shared {
			sc.Controller.Close()
		}
	})
}

func refsOf(sc *SharedController) int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return sc.refs
}

func waitForCommand(t *testing.T, ch <-chan robot.Command) robot.Command {
	t.Helper()
	select {
	case cmd := <-ch:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
		return robot.Command{}
	}
}

func TestConsumer_CalibrationGate(t *testing.T) {
	w := &fakeWire{}
	sc := fakeShared(t, w, testConfig("leader"))
	stubAcquire(t, sc)

	c, err := NewConsumer(testConfig("leader"))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, robot.ErrCalibrationRequired) {
		t.Fatalf("Connect = %v, want ErrCalibrationRequired", err)
	}
	if c.Status().Err == "" {
		t.Error("status should record the refusal")
	}
	if got := refsOf(sc); got != 0 {
		t.Errorf("controller not released after refusal, refs = %d", got)
	}
}

func TestConsumer_PresetSkipsGate(t *testing.T) {
	w := &fakeWire{}
	sc := fakeShared(t, w, testConfig("leader"))
	stubAcquire(t, sc)

	cfg := testConfig("leader")
	cfg.Preset = FullRange(robot.SO100())
	c, err := NewConsumer(cfg)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect with preset: %v", err)
	}
	defer c.Disconnect(context.Background())

	if !c.Status().Connected {
		t.Error("status not connected")
	}
}

func TestConsumer_UnlocksAndEmitsOnMovement(t *testing.T) {
	// Baseline read, then servo 1 moves well past the change threshold.
	w := &fakeWire{reads: []map[int]int{{}, {1: 2148}}}
	sc := fakeShared(t, w, testConfig("leader"))
	sc.Calibrations.SetAll(FullRange(sc.cfg.Descriptor))
	stubAcquire(t, sc)

	c, err := NewConsumer(testConfig("leader"))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	cmd := waitForCommand(t, c.Commands())
	if len(cmd.Joints) != 1 {
		t.Errorf("command has %d joints, want only the moved one: %v", len(cmd.Joints), cmd.Joints)
	}
	if v, ok := cmd.Joints[robot.Rotation]; !ok || v <= 0 {
		t.Errorf("command Rotation = %f (ok=%v), want positive value", v, ok)
	}

	ops := w.torqueOps()
	if len(ops) < 6 {
		t.Fatalf("torque writes = %d, want >= 6", len(ops))
	}
	for _, op := range ops[:6] {
		if op.enabled {
			t.Errorf("consumer locked servo %d on connect", op.id)
		}
	}

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.Status().Connected {
		t.Error("status still connected after Disconnect")
	}
	if !w.isClosed() {
		t.Error("wire should close when the last holder releases")
	}
	ops = w.torqueOps()
	for _, op := range ops[len(ops)-6:] {
		if op.enabled {
			t.Errorf("disconnect left servo %d locked", op.id)
		}
	}
}

func TestConsumer_IgnoresJitterBelowThreshold(t *testing.T) {
	// Servo 1 drifts 3 raw units, within the default threshold of 5.
	w := &fakeWire{reads: []map[int]int{{}, {1: 2051}}}
	sc := fakeShared(t, w, testConfig("leader"))
	sc.Calibrations.SetAll(FullRange(sc.cfg.Descriptor))
	stubAcquire(t, sc)

	c, err := NewConsumer(testConfig("leader"))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	select {
	case cmd := <-c.Commands():
		t.Fatalf("jitter produced command %v", cmd.Joints)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConsumer_InitialState(t *testing.T) {
	w := &fakeWire{}
	sc := fakeShared(t, w, testConfig("leader"))
	sc.Calibrations.SetAll(FullRange(sc.cfg.Descriptor))
	stubAcquire(t, sc)

	c, err := NewConsumer(testConfig("leader"))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if _, err := c.InitialState(context.Background()); !errors.Is(err, robot.ErrNotConnected) {
		t.Fatalf("InitialState before Connect = %v, want ErrNotConnected", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	state, err := c.InitialState(context.Background())
	if err != nil {
		t.Fatalf("InitialState: %v", err)
	}
	if len(state) != 6 {
		t.Fatalf("state has %d joints, want 6", len(state))
	}
	// All servos rest at center, which is ~0 over the full-travel range.
	if v := state[robot.Rotation]; math.Abs(v) > 1 {
		t.Errorf("state[Rotation] = %f, want ~0", v)
	}
}

func TestConsumer_DisconnectWithoutConnect(t *testing.T) {
	c, err := NewConsumer(testConfig("leader"))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect on idle consumer = %v, want nil", err)
	}
}

// TestCalibrateThenListen walks the first-run flow end to end: the consumer
// is refused while uncalibrated, a recording session calibrates both
// joints, and the consumer then connects over the recorded ranges.
func TestCalibrateThenListen(t *testing.T) {
	desc := twoJointDesc()
	cfg := testConfig("leader")
	cfg.Descriptor = desc
	w := &fakeWire{reads: []map[int]int{
		{1: 1000, 6: 2000},
		{1: 3000, 6: 3600},
	}}
	sc := fakeShared(t, w, cfg)
	stubAcquire(t, sc)

	// Hold a reference of our own, like the calibrate command does, so
	// the refused consumer's release does not close the controller.
	registry.mu.Lock()
	sc.refs++
	registry.mu.Unlock()

	c, err := NewConsumer(cfg)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); !errors.Is(err, robot.ErrCalibrationRequired) {
		t.Fatalf("Connect before calibration = %v, want ErrCalibrationRequired", err)
	}

	s := testSession(sc, desc, sc.Calibrations)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.sample(ctx)

	finals, err := s.Complete()
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if finals[robot.Rotation] != 3000 || finals[robot.Jaw] != 3600 {
		t.Errorf("final positions = %v, want Rotation 3000 and Jaw 3600", finals)
	}

	if got := Normalize(2000, robot.Bipolar, sc.Calibrations.Get(robot.Rotation)); math.Abs(got) > 0.001 {
		t.Errorf("Normalize(2000, Rotation) = %f, want 0 (midpoint)", got)
	}
	if got := Normalize(3600, robot.Gripper, sc.Calibrations.Get(robot.Jaw)); math.Abs(got-100) > 0.001 {
		t.Errorf("Normalize(3600, Jaw) = %f, want 100 (open)", got)
	}

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect after calibration: %v", err)
	}
	if !c.Status().Connected {
		t.Error("status not connected")
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := sc.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
