package soarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// scriptedReader replays a fixed sequence of position reads, repeating the
// last one once exhausted.
type scriptedReader struct {
	mu    sync.Mutex
	reads []map[int]int
	idx   int
}

func (r *scriptedReader) ReadPositions(ctx context.Context) (map[int]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx >= len(r.reads) {
		return r.reads[len(r.reads)-1], nil
	}
	out := r.reads[r.idx]
	r.idx++
	return out, nil
}

func twoJointDesc() robot.Descriptor {
	return robot.Descriptor{
		{Name: robot.Rotation, ServoID: 1, Kind: robot.Bipolar},
		{Name: robot.Jaw, ServoID: 6, Kind: robot.Gripper},
	}
}

// testSession builds a session whose ticker never fires so tests drive
// sampling deterministically through sample().
func testSession(reader positionReader, desc robot.Descriptor, store *CalibrationStore) *Session {
	return newSession(reader, desc, store, DefaultRangeThreshold, time.Hour, zap.NewNop().Sugar())
}

func TestSession_CompleteCommitsQualifyingJoints(t *testing.T) {
	desc := twoJointDesc()
	store := newCalibrationStore(desc)
	reader := &scriptedReader{reads: []map[int]int{
		{1: 1800, 6: 1000},
		{1: 2300, 6: 1400}, // Rotation span 500, Jaw span 400
	}}
	s := testSession(reader, desc, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != StateCalibrating {
		t.Fatalf("state after Start = %v, want calibrating", got)
	}
	s.sample(context.Background())

	finals, err := s.Complete()

	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("Complete returned %v, want IncompleteError", err)
	}
	if len(incomplete.Uncalibrated) != 1 || incomplete.Uncalibrated[0] != robot.Jaw {
		t.Errorf("Uncalibrated = %v, want [Jaw]", incomplete.Uncalibrated)
	}

	// The qualifying joint is committed anyway.
	if got := store.Get(robot.Rotation); !got.Calibrated || got.MinRaw != 1800 || got.MaxRaw != 2300 {
		t.Errorf("Rotation calibration = %+v, want calibrated 1800..2300", got)
	}
	if final, ok := finals[robot.Rotation]; !ok || final != 2300 {
		t.Errorf("final[Rotation] = %d (ok=%v), want 2300", final, ok)
	}
	if _, ok := finals[robot.Jaw]; ok {
		t.Error("final positions should not include unqualified joints")
	}
	if store.Get(robot.Jaw).Calibrated {
		t.Error("Jaw should stay uncalibrated")
	}
	if !store.NeedsCalibration() {
		t.Error("store should still need calibration")
	}
	if got := s.State(); got != StateUncalibrated {
		t.Errorf("state after partial Complete = %v, want uncalibrated", got)
	}
}

func TestSession_RangeThresholdBoundary(t *testing.T) {
	desc := robot.Descriptor{{Name: robot.Rotation, ServoID: 1, Kind: robot.Bipolar}}

	tests := []struct {
		max       int
		qualifies bool
	}{
		{2300, true},  // span 500 == threshold
		{2299, false}, // span 499, one unit short
	}

	for _, tt := range tests {
		store := newCalibrationStore(desc)
		reader := &scriptedReader{reads: []map[int]int{
			{1: 1800},
			{1: tt.max},
		}}
		s := testSession(reader, desc, store)
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		s.sample(context.Background())

		_, err := s.Complete()
		if tt.qualifies && err != nil {
			t.Errorf("span %d: Complete returned %v, want success", tt.max-1800, err)
		}
		if !tt.qualifies && err == nil {
			t.Errorf("span %d: Complete succeeded, want IncompleteError", tt.max-1800)
		}
		if got := store.Get(robot.Rotation).Calibrated; got != tt.qualifies {
			t.Errorf("span %d: calibrated = %v, want %v", tt.max-1800, got, tt.qualifies)
		}
	}
}

func TestSession_Progress(t *testing.T) {
	desc := twoJointDesc()
	store := newCalibrationStore(desc)
	reader := &scriptedReader{reads: []map[int]int{
		{1: 2000, 6: 1000},
		{1: 2250, 6: 2000}, // Rotation at 50%, Jaw capped at 100%
	}}
	s := testSession(reader, desc, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Progress(); got != 0 {
		t.Errorf("initial progress = %f, want 0", got)
	}
	s.sample(context.Background())
	if got := s.Progress(); got < 74.9 || got > 75.1 {
		t.Errorf("progress = %f, want 75", got)
	}
}

func TestSession_UpdatesStream(t *testing.T) {
	desc := twoJointDesc()
	store := newCalibrationStore(desc)
	reader := &scriptedReader{reads: []map[int]int{{1: 2000, 6: 1000}}}
	s := testSession(reader, desc, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	select {
	case snap := <-s.Updates():
		if snap.State != StateCalibrating {
			t.Errorf("snapshot state = %v, want calibrating", snap.State)
		}
		if r, ok := snap.Joints[robot.Rotation]; !ok || r.Current != 2000 {
			t.Errorf("snapshot Rotation = %+v, want current 2000", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published after Start")
	}
}

func TestSession_Skip(t *testing.T) {
	desc := twoJointDesc()
	store := newCalibrationStore(desc)
	s := testSession(&scriptedReader{reads: []map[int]int{{1: 0, 6: 0}}}, desc, store)

	s.Skip()

	if got := s.State(); got != StateCalibrated {
		t.Fatalf("state after Skip = %v, want calibrated", got)
	}
	if store.NeedsCalibration() {
		t.Error("store should be fully calibrated after Skip")
	}
	if got := store.Get(robot.Rotation); got.MinRaw != 0 || got.MaxRaw != 4095 {
		t.Errorf("Skip calibration = %+v, want full travel", got)
	}
}

func TestSession_ApplyPreset(t *testing.T) {
	desc := twoJointDesc()
	store := newCalibrationStore(desc)
	s := testSession(&scriptedReader{reads: []map[int]int{{1: 0, 6: 0}}}, desc, store)

	partial := Preset{robot.Rotation: {Calibrated: true, MinRaw: 1000, MaxRaw: 3000}}
	if err := s.ApplyPreset(partial); err == nil {
		t.Fatal("ApplyPreset accepted a preset missing a joint")
	}

	full := Preset{
		robot.Rotation: {Calibrated: true, MinRaw: 1000, MaxRaw: 3000},
		robot.Jaw:      {Calibrated: true, MinRaw: 2000, MaxRaw: 3600},
	}
	if err := s.ApplyPreset(full); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if got := s.State(); got != StateCalibrated {
		t.Errorf("state after preset = %v, want calibrated", got)
	}
	if got := store.Get(robot.Jaw); got.MinRaw != 2000 || got.MaxRaw != 3600 {
		t.Errorf("Jaw calibration = %+v, want 2000..3600", got)
	}
}

func TestSession_CancelDiscardsProgress(t *testing.T) {
	desc := twoJointDesc()
	store := newCalibrationStore(desc)
	reader := &scriptedReader{reads: []map[int]int{
		{1: 1000, 6: 1000},
		{1: 3000, 6: 3000},
	}}
	s := testSession(reader, desc, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.sample(context.Background())
	s.Cancel()

	if got := s.State(); got != StateUncalibrated {
		t.Errorf("state after Cancel = %v, want uncalibrated", got)
	}
	if !store.NeedsCalibration() {
		t.Error("Cancel must not commit calibration")
	}
	if joints := s.Snapshot().Joints; len(joints) != 0 {
		t.Errorf("ranges survived Cancel: %v", joints)
	}
}

func TestSession_StartWhileRecording(t *testing.T) {
	desc := twoJointDesc()
	store := newCalibrationStore(desc)
	s := testSession(&scriptedReader{reads: []map[int]int{{1: 0, 6: 0}}}, desc, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail while recording")
	}
}
