package relay

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

const (
	sendBuffer = 32
	maxBatch   = 16
)

// RemoteProducer publishes a robot's commands into a relay room: joint
// updates as they happen, plus a periodic full-state sync so consumers
// that join late or miss updates still converge. A room accepts one
// producer at a time; Connect fails while another holds the role.
type RemoteProducer struct {
	cfg    RemoteConfig
	log    *zap.SugaredLogger
	status robot.StatusTracker

	mu     sync.Mutex
	sendCh chan robot.Command
	cancel context.CancelFunc
	done   chan struct{}

	stateMu sync.Mutex
	state   map[robot.JointName]float64
}

var _ robot.Producer = (*RemoteProducer)(nil)

// NewRemoteProducer builds a producer for a relay room. Nothing talks to
// the relay until Connect.
func NewRemoteProducer(cfg RemoteConfig) (*RemoteProducer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RemoteProducer{cfg: cfg, log: cfg.Logger}, nil
}

// Connect claims the room's producer role and starts the publish loop.
func (p *RemoteProducer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("producer already connected")
	}

	if err := p.cfg.Client.join(ctx, p.cfg.RoomID, p.cfg.ParticipantID, RoleProducer); err != nil {
		p.status.SetError(err)
		return err
	}

	p.stateMu.Lock()
	p.state = make(map[robot.JointName]float64)
	p.stateMu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	sendCh := make(chan robot.Command, sendBuffer)
	done := make(chan struct{})
	p.sendCh, p.cancel, p.done = sendCh, cancel, done
	p.status.SetConnected()
	go p.run(runCtx, sendCh, done)
	return nil
}

// Send queues a command for publication in arrival order and folds it
// into the state kept for sync messages. It returns quickly: when the
// queue is full the oldest queued command is dropped.
func (p *RemoteProducer) Send(ctx context.Context, cmd robot.Command) error {
	p.mu.Lock()
	sendCh, done := p.sendCh, p.done
	p.mu.Unlock()
	if sendCh == nil {
		return robot.ErrNotConnected
	}

	p.stateMu.Lock()
	for name, value := range cmd.Joints {
		p.state[name] = value
	}
	p.stateMu.Unlock()

	select {
	case sendCh <- cmd:
		return nil
	default:
	}
	select {
	case <-sendCh:
		p.log.Warnf("relay queue full, dropping oldest command")
	default:
	}
	select {
	case sendCh <- cmd:
		return nil
	case <-done:
		return robot.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *RemoteProducer) run(ctx context.Context, sendCh <-chan robot.Command, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.StateSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-sendCh:
			p.post(ctx, p.batch(cmd, sendCh))
		case <-ticker.C:
			msg := p.stateSync()
			if len(msg.State) > 0 {
				p.post(ctx, []Message{msg})
			}
		}
	}
}

// batch folds whatever else is already queued into one post.
func (p *RemoteProducer) batch(first robot.Command, sendCh <-chan robot.Command) []Message {
	msgs := []Message{messageFromCommand(first)}
	for len(msgs) < maxBatch {
		select {
		case cmd := <-sendCh:
			msgs = append(msgs, messageFromCommand(cmd))
		default:
			return msgs
		}
	}
	return msgs
}

func messageFromCommand(cmd robot.Command) Message {
	return Message{Type: TypeJointUpdate, Joints: cmd.Joints, Timestamp: cmd.Timestamp}
}

func (p *RemoteProducer) stateSync() Message {
	p.stateMu.Lock()
	state := make(map[robot.JointName]float64, len(p.state))
	for name, value := range p.state {
		state[name] = value
	}
	p.stateMu.Unlock()
	return Message{Type: TypeStateSync, State: state, Timestamp: time.Now()}
}

func (p *RemoteProducer) post(ctx context.Context, msgs []Message) {
	if err := p.cfg.Client.postMessages(ctx, p.cfg.RoomID, p.cfg.ParticipantID, msgs); err != nil && ctx.Err() == nil {
		p.log.Warnf("post messages: %v", err)
	}
}

// Disconnect stops the publish loop and gives up the producer role.
func (p *RemoteProducer) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.sendCh, p.cancel, p.done = nil, nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	err := p.cfg.Client.leave(ctx, p.cfg.RoomID, p.cfg.ParticipantID)
	p.status.SetDisconnected(nil)
	return err
}

// Status returns the current connection status.
func (p *RemoteProducer) Status() robot.ConnectionStatus {
	return p.status.Status()
}

// Changes streams connection status transitions.
func (p *RemoteProducer) Changes() <-chan robot.ConnectionStatus {
	return p.status.Changes()
}
