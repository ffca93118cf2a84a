// Package soarm drives Feetech STS-servo arms such as the SO-100 over a
// serial bus: value normalization, interactive calibration, and the
// hardware consumer/producer drivers built on a shared single-flight
// controller.
package soarm

import (
	"math"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// Raw servo positions are 12-bit.
const (
	rawMin    = 0
	rawMax    = 4095
	rawCenter = 2048
)

// Calibration holds the discovered raw range for one joint.
type Calibration struct {
	Calibrated bool `json:"calibrated"`
	MinRaw     int  `json:"min_raw"`
	MaxRaw     int  `json:"max_raw"`
}

// Span returns the width of the discovered range in raw units.
func (c Calibration) Span() int { return c.MaxRaw - c.MinRaw }

// bounds returns the effective raw range used for mapping: the calibrated
// range, or the full-travel fallback so the arm stays usable before
// calibration. Bipolar joints fall back to center ± half travel.
func (c Calibration) bounds(kind robot.JointKind) (lo, hi int) {
	if c.Calibrated {
		return c.MinRaw, c.MaxRaw
	}
	if kind == robot.Gripper {
		return rawMin, rawMax
	}
	return rawCenter - 2048, rawCenter + 2048
}

// Normalize converts a raw servo position to the joint's normalized range:
// [-100, 100] for bipolar joints, [0, 100] for grippers. Raw values outside
// the effective range are bounded first, never extrapolated.
func Normalize(raw int, kind robot.JointKind, cal Calibration) float64 {
	lo, hi := cal.bounds(kind)
	span := float64(hi - lo)
	if span == 0 {
		return 0
	}
	if raw < lo {
		raw = lo
	}
	if raw > hi {
		raw = hi
	}
	frac := float64(raw-lo) / span
	if kind == robot.Gripper {
		return frac * 100
	}
	return frac*200 - 100
}

// Denormalize converts a normalized value back to raw servo units: the
// algebraic inverse of Normalize, rounded to the nearest unit and bounded
// to the calibrated range (or the servo's full travel when uncalibrated).
func Denormalize(value float64, kind robot.JointKind, cal Calibration) int {
	value = kind.Clamp(value)
	lo, hi := cal.bounds(kind)
	span := float64(hi - lo)
	if span == 0 {
		return lo
	}
	var frac float64
	if kind == robot.Gripper {
		frac = value / 100
	} else {
		frac = (value + 100) / 200
	}
	raw := lo + int(math.Round(frac*span))

	if !cal.Calibrated {
		lo, hi = rawMin, rawMax
	}
	if raw < lo {
		raw = lo
	}
	if raw > hi {
		raw = hi
	}
	return raw
}
