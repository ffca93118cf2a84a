package soarm

import (
	"math"
	"testing"

	"github.com/armhub-dev/armhub/pkg/robot"
)

func TestNormalize_BipolarCalibrated(t *testing.T) {
	cal := Calibration{Calibrated: true, MinRaw: 1000, MaxRaw: 3000}

	tests := []struct {
		raw      int
		expected float64
	}{
		{1000, -100.0}, // min -> -100
		{3000, 100.0},  // max -> 100
		{2000, 0.0},    // mid -> 0
		{1500, -50.0},  // quarter -> -50
		{2500, 50.0},   // three-quarter -> 50
		{500, -100.0},  // below range is bounded, not extrapolated
		{3500, 100.0},  // above range is bounded
	}

	for _, tt := range tests {
		got := Normalize(tt.raw, robot.Bipolar, cal)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("Normalize(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestNormalize_GripperCalibrated(t *testing.T) {
	cal := Calibration{Calibrated: true, MinRaw: 2000, MaxRaw: 3600}

	tests := []struct {
		raw      int
		expected float64
	}{
		{2000, 0.0},   // closed
		{3600, 100.0}, // open
		{2800, 50.0},  // mid
		{1900, 0.0},   // bounded low
		{3700, 100.0}, // bounded high
	}

	for _, tt := range tests {
		got := Normalize(tt.raw, robot.Gripper, cal)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("Normalize(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestNormalize_UncalibratedFallback(t *testing.T) {
	var cal Calibration

	bipolar := []struct {
		raw      int
		expected float64
	}{
		{2048, 0.0},   // center
		{0, -100.0},   // low end of travel
		{1024, -50.0}, // quarter travel
		{3072, 50.0},  // three-quarter travel
	}
	for _, tt := range bipolar {
		got := Normalize(tt.raw, robot.Bipolar, cal)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("bipolar Normalize(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}

	gripper := []struct {
		raw      int
		expected float64
	}{
		{0, 0.0},      // closed
		{4095, 100.0}, // open
		{819, 20.0},   // 819/4095 = 0.2
	}
	for _, tt := range gripper {
		got := Normalize(tt.raw, robot.Gripper, cal)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("gripper Normalize(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestNormalize_DegenerateRange(t *testing.T) {
	cal := Calibration{Calibrated: true, MinRaw: 2000, MaxRaw: 2000}

	for _, raw := range []int{0, 2000, 4095} {
		if got := Normalize(raw, robot.Bipolar, cal); got != 0 {
			t.Errorf("Normalize(%d) over empty range = %f, want 0", raw, got)
		}
	}
	if got := Denormalize(50, robot.Bipolar, cal); got != 2000 {
		t.Errorf("Denormalize(50) over empty range = %d, want 2000", got)
	}
}

func TestDenormalize_BipolarCalibrated(t *testing.T) {
	cal := Calibration{Calibrated: true, MinRaw: 1000, MaxRaw: 3000}

	tests := []struct {
		value    float64
		expected int
	}{
		{-100.0, 1000}, // -100 -> min
		{100.0, 3000},  // 100 -> max
		{0.0, 2000},    // 0 -> mid
		{-50.0, 1500},  // -50 -> quarter
		{50.0, 2500},   // 50 -> three-quarter
		{150.0, 3000},  // clamped to 100 first
		{-300.0, 1000}, // clamped to -100 first
	}

	for _, tt := range tests {
		got := Denormalize(tt.value, robot.Bipolar, cal)
		if got != tt.expected {
			t.Errorf("Denormalize(%f) = %d, want %d", tt.value, got, tt.expected)
		}
	}
}

func TestDenormalize_GripperCalibrated(t *testing.T) {
	cal := Calibration{Calibrated: true, MinRaw: 2000, MaxRaw: 3600}

	tests := []struct {
		value    float64
		expected int
	}{
		{0.0, 2000},
		{100.0, 3600},
		{50.0, 2800},
		{-5.0, 2000},  // clamped to 0 first
		{120.0, 3600}, // clamped to 100 first
	}

	for _, tt := range tests {
		got := Denormalize(tt.value, robot.Gripper, cal)
		if got != tt.expected {
			t.Errorf("Denormalize(%f) = %d, want %d", tt.value, got, tt.expected)
		}
	}
}

func TestDenormalize_UncalibratedStaysInTravel(t *testing.T) {
	var cal Calibration

	tests := []struct {
		value    float64
		expected int
	}{
		{0.0, 2048},   // center
		{-100.0, 0},   // low end
		{100.0, 4095}, // mapped to 4096, bounded to servo travel
		{50.0, 3072},
	}

	for _, tt := range tests {
		got := Denormalize(tt.value, robot.Bipolar, cal)
		if got != tt.expected {
			t.Errorf("Denormalize(%f) = %d, want %d", tt.value, got, tt.expected)
		}
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	cal := Calibration{Calibrated: true, MinRaw: 823, MaxRaw: 3540}

	for raw := cal.MinRaw; raw <= cal.MaxRaw; raw += 100 {
		norm := Normalize(raw, robot.Bipolar, cal)
		back := Denormalize(norm, robot.Bipolar, cal)
		if math.Abs(float64(back-raw)) > 1 {
			t.Errorf("round-trip failed: %d -> %f -> %d", raw, norm, back)
		}
	}
}
