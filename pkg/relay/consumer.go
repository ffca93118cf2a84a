package relay

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

const commandBuffer = 8

// RemoteConsumer receives commands from a room's producer over the relay
// and feeds them to a robot, so an arm can follow a leader it has no
// serial connection to.
type RemoteConsumer struct {
	cfg    RemoteConfig
	log    *zap.SugaredLogger
	status robot.StatusTracker
	cmds   chan robot.Command

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ robot.Consumer = (*RemoteConsumer)(nil)

// NewRemoteConsumer builds a consumer for a relay room. Nothing talks to
// the relay until Connect.
func NewRemoteConsumer(cfg RemoteConfig) (*RemoteConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RemoteConsumer{
		cfg:  cfg,
		log:  cfg.Logger,
		cmds: make(chan robot.Command, commandBuffer),
	}, nil
}

// Connect joins the room and starts the long-poll loop.
func (c *RemoteConsumer) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("consumer already connected")
	}

	if err := c.cfg.Client.join(ctx, c.cfg.RoomID, c.cfg.ParticipantID, RoleConsumer); err != nil {
		c.status.SetError(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.status.SetConnected()
	go c.run(runCtx, done)
	return nil
}

func (c *RemoteConsumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	lastSeen := time.Now()
	staleWarned := false
	staleAfter := c.cfg.MessageTimeout

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := c.cfg.Client.fetchMessages(ctx, c.cfg.RoomID, c.cfg.ParticipantID, c.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warnf("fetch messages: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if len(msgs) == 0 {
			if !staleWarned && time.Since(lastSeen) > staleAfter {
				c.log.Warnf("no messages from room %s for %s, producer may be gone", c.cfg.RoomID, staleAfter)
				staleWarned = true
			}
			continue
		}
		lastSeen = time.Now()
		staleWarned = false

		for _, msg := range msgs {
			if cmd, ok := msg.Command(); ok {
				c.emit(cmd)
			}
		}
	}
}

// emit hands a command to the consumer channel without blocking the poll
// loop; the oldest command is dropped when the reader lags.
func (c *RemoteConsumer) emit(cmd robot.Command) {
	select {
	case c.cmds <- cmd:
		return
	default:
	}
	select {
	case <-c.cmds:
		c.log.Warnf("command buffer full, dropping oldest")
	default:
	}
	select {
	case c.cmds <- cmd:
	default:
	}
}

// Commands returns the command stream. The channel is allocated once and
// never closed, so it stays valid across reconnects.
func (c *RemoteConsumer) Commands() <-chan robot.Command {
	return c.cmds
}

// Disconnect stops the poll loop and leaves the room.
func (c *RemoteConsumer) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	err := c.cfg.Client.leave(ctx, c.cfg.RoomID, c.cfg.ParticipantID)
	c.status.SetDisconnected(nil)
	return err
}

// Status returns the current connection status.
func (c *RemoteConsumer) Status() robot.ConnectionStatus {
	return c.status.Status()
}

// Changes streams connection status transitions.
func (c *RemoteConsumer) Changes() <-chan robot.ConnectionStatus {
	return c.status.Changes()
}
