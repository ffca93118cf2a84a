package relay

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultStateSyncInterval = 5 * time.Second
	DefaultPollWait          = 10 * time.Second
)

// RemoteConfig configures a remote consumer or producer.
type RemoteConfig struct {
	// Client is the relay to talk to.
	Client *Client
	// RoomID names the room to join.
	RoomID string
	// ParticipantID identifies this driver within the room. Defaults to a
	// random id, which is right unless you need stable identities.
	ParticipantID string

	// StateSyncInterval is how often a producer reposts the full joint
	// state.
	StateSyncInterval time.Duration
	// PollWait is the consumer's long-poll window per request.
	PollWait time.Duration
	// MessageTimeout is how long a consumer tolerates silence before it
	// reports the stream stale. Health signal only; commands are never
	// dropped for arriving late. Defaults to three sync intervals.
	MessageTimeout time.Duration

	Logger *zap.SugaredLogger
}

// Validate checks required fields and fills defaults.
func (c *RemoteConfig) Validate() error {
	if c.Client == nil {
		return errors.New("relay client is required")
	}
	if c.RoomID == "" {
		return errors.New("room id is required")
	}
	if c.ParticipantID == "" {
		c.ParticipantID = randomID()
	}
	if c.StateSyncInterval <= 0 {
		c.StateSyncInterval = DefaultStateSyncInterval
	}
	if c.PollWait <= 0 {
		c.PollWait = DefaultPollWait
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 3 * c.StateSyncInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	return nil
}
