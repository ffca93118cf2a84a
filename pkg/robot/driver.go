package robot

import (
	"context"
	"time"
)

// ConnectionStatus reports a driver's link health. It is mutated only by
// the owning driver.
type ConnectionStatus struct {
	Connected     bool
	Err           string
	LastConnected time.Time
}

// A Consumer feeds commands into a robot: a leader arm polled over serial,
// a relay room, a scripted trajectory. A robot has at most one consumer
// attached at any time.
type Consumer interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Status() ConnectionStatus

	// Commands returns the channel the consumer delivers on. The consumer
	// never closes it; it stays valid across reconnects.
	Commands() <-chan Command
}

// A Producer receives every command a robot applies: a follower arm, a
// relay room. Producers fail independently of each other.
//
// Send must not block the caller; implementations queue internally and
// drain in arrival order.
type Producer interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Status() ConnectionStatus
	Send(ctx context.Context, cmd Command) error
}

// StateSeeder is implemented by drivers that can report the arm's actual
// pose. When an attached consumer implements it, the robot seeds its joint
// state from the hardware without fanning those values out to producers.
type StateSeeder interface {
	InitialState(ctx context.Context) (map[JointName]float64, error)
}
