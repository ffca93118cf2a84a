// Package robot provides the hardware abstraction for multi-joint servo
// arms: joint state, the command pipeline, and the pluggable driver roles
// that feed and follow it.
package robot

import "math"

// JointName identifies a joint in the arm.
type JointName string

// Joint names for the SO-100 arm.
const (
	Rotation   JointName = "Rotation"
	Pitch      JointName = "Pitch"
	Elbow      JointName = "Elbow"
	WristPitch JointName = "Wrist_Pitch"
	WristRoll  JointName = "Wrist_Roll"
	Jaw        JointName = "Jaw"
)

// JointKind selects the normalized range a joint's values live in.
type JointKind int

const (
	// Bipolar joints range [-100, 100] with 0 at mid-travel.
	Bipolar JointKind = iota
	// Gripper joints range [0, 100]: 0 closed, 100 fully open.
	Gripper
)

// Range returns the normalized bounds for the kind.
func (k JointKind) Range() (lo, hi float64) {
	if k == Gripper {
		return 0, 100
	}
	return -100, 100
}

// Clamp bounds v to the kind's normalized range.
func (k JointKind) Clamp(v float64) float64 {
	lo, hi := k.Range()
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Limits holds a joint's physical travel limits in radians.
type Limits struct {
	Lower float64
	Upper float64
}

// JointSpec describes one joint of an arm model.
type JointSpec struct {
	Name    JointName
	ServoID int
	Kind    JointKind
	Limits  Limits
}

// Descriptor lists the joints of an arm model in servo ID order.
type Descriptor []JointSpec

// SO100 returns the descriptor for the six-servo SO-100 arm.
func SO100() Descriptor {
	return Descriptor{
		{Name: Rotation, ServoID: 1, Kind: Bipolar, Limits: Limits{-math.Pi, math.Pi}},
		{Name: Pitch, ServoID: 2, Kind: Bipolar, Limits: Limits{-math.Pi / 2, math.Pi / 2}},
		{Name: Elbow, ServoID: 3, Kind: Bipolar, Limits: Limits{-math.Pi / 2, math.Pi / 2}},
		{Name: WristPitch, ServoID: 4, Kind: Bipolar, Limits: Limits{-math.Pi / 2, math.Pi / 2}},
		{Name: WristRoll, ServoID: 5, Kind: Bipolar, Limits: Limits{-math.Pi, math.Pi}},
		{Name: Jaw, ServoID: 6, Kind: Gripper, Limits: Limits{0, math.Pi / 2}},
	}
}

// Names returns the joint names in servo ID order.
func (d Descriptor) Names() []JointName {
	names := make([]JointName, 0, len(d))
	for _, spec := range d {
		names = append(names, spec.Name)
	}
	return names
}

// ServoIDs returns the servo IDs in order.
func (d Descriptor) ServoIDs() []int {
	ids := make([]int, 0, len(d))
	for _, spec := range d {
		ids = append(ids, spec.ServoID)
	}
	return ids
}

// ByName returns the spec for a joint name.
func (d Descriptor) ByName(name JointName) (JointSpec, bool) {
	for _, spec := range d {
		if spec.Name == name {
			return spec, true
		}
	}
	return JointSpec{}, false
}

// ByServoID returns the spec for a servo ID.
func (d Descriptor) ByServoID(id int) (JointSpec, bool) {
	for _, spec := range d {
		if spec.ServoID == id {
			return spec, true
		}
	}
	return JointSpec{}, false
}

// JointState is a snapshot of one joint.
type JointState struct {
	Name    JointName
	Value   float64
	Limits  Limits
	ServoID int
}
