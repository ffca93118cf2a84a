package robot

import "time"

// Command is a set of target joint values to apply together. Values are
// normalized per joint kind. Joints absent from the map keep their current
// targets, so consumers can send sparse updates.
type Command struct {
	Joints    map[JointName]float64
	Timestamp time.Time
}

// NewCommand builds a command for the given joint values, stamped now.
func NewCommand(joints map[JointName]float64) Command {
	return Command{Joints: joints, Timestamp: time.Now()}
}

// Single builds a one-joint command, stamped now.
func Single(name JointName, value float64) Command {
	return NewCommand(map[JointName]float64{name: value})
}
