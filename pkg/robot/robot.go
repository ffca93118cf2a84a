package robot

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pipeline defaults.
const (
	// DefaultQueueSize bounds the pending command queue; overflow drops
	// the oldest entry.
	DefaultQueueSize = 32
	// DefaultDedupWindow and DefaultDedupEpsilon: a command arriving
	// within the window whose values are all within epsilon of the applied
	// state is dropped.
	DefaultDedupWindow  = 16 * time.Millisecond
	DefaultDedupEpsilon = 0.5
)

// Options tune a Robot's command pipeline.
type Options struct {
	QueueSize    int
	DedupWindow  time.Duration
	DedupEpsilon float64
	Logger       *zap.SugaredLogger
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	if o.DedupEpsilon <= 0 {
		o.DedupEpsilon = DefaultDedupEpsilon
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// Robot owns the joint state for one arm and the pipeline that moves
// commands from its consumer (or manual control) to its producers.
// Commands are applied by a single goroutine in arrival order; joint
// values are mutated nowhere else.
type Robot struct {
	ID string

	descriptor Descriptor
	opts       Options
	log        *zap.SugaredLogger
	subs       *subscribers

	// attachMu serializes consumer attach/detach so the single-consumer
	// invariant holds even under concurrent SetConsumer calls.
	attachMu sync.Mutex

	mu           sync.RWMutex
	values       map[JointName]float64
	consumer     Consumer
	consumerStop context.CancelFunc
	producers    []Producer
	prevCommand  time.Time

	enqMu     sync.Mutex
	cmdCh     chan Command
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a robot for the given arm descriptor and starts its command
// pipeline.
func New(id string, desc Descriptor, opts Options) *Robot {
	r := newRobot(id, desc, opts)
	go r.loop()
	return r
}

func newRobot(id string, desc Descriptor, opts Options) *Robot {
	opts.setDefaults()
	return &Robot{
		ID:         id,
		descriptor: desc,
		opts:       opts,
		log:        opts.Logger,
		subs:       newSubscribers(),
		values:     make(map[JointName]float64, len(desc)),
		cmdCh:      make(chan Command, opts.QueueSize),
		done:       make(chan struct{}),
	}
}

// Descriptor returns the arm model the robot was created with.
func (r *Robot) Descriptor() Descriptor {
	return r.descriptor
}

// Joints returns a snapshot of all joint states in servo ID order.
func (r *Robot) Joints() []JointState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]JointState, 0, len(r.descriptor))
	for _, spec := range r.descriptor {
		states = append(states, JointState{
			Name:    spec.Name,
			Value:   r.values[spec.Name],
			Limits:  spec.Limits,
			ServoID: spec.ServoID,
		})
	}
	return states
}

// Values returns a copy of the current joint values keyed by name.
func (r *Robot) Values() map[JointName]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[JointName]float64, len(r.values))
	for name, v := range r.values {
		out[name] = v
	}
	return out
}

// Subscribe returns a channel of joint updates plus a cancel func that
// deregisters the subscription.
func (r *Robot) Subscribe() (<-chan JointUpdate, func()) {
	return r.subs.add()
}

// UpdateJoint sets one joint from manual input. It is rejected with
// ErrConsumerAttached while a consumer is attached: the consumer owns the
// command stream and manual control would fight it.
func (r *Robot) UpdateJoint(name JointName, value float64) error {
	r.mu.RLock()
	attached := r.consumer != nil
	r.mu.RUnlock()
	if attached {
		return ErrConsumerAttached
	}
	if _, ok := r.descriptor.ByName(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJoint, name)
	}
	r.enqueue(Single(name, value))
	return nil
}

// Execute submits a command to the pipeline. It never blocks: when the
// pending queue is full the oldest queued command is discarded.
func (r *Robot) Execute(cmd Command) {
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	r.enqueue(cmd)
}

// Seed overwrites joint state with driver-reported values. Subscribers are
// notified; producers are not, so hardware-originated state never echoes
// back out to hardware.
func (r *Robot) Seed(state map[JointName]float64) {
	r.mu.Lock()
	updates := make([]JointUpdate, 0, len(state))
	for name, value := range state {
		spec, ok := r.descriptor.ByName(name)
		if !ok {
			r.log.Warnf("robot %s: seed: unknown joint %q", r.ID, name)
			continue
		}
		v := spec.Kind.Clamp(value)
		r.values[name] = v
		updates = append(updates, JointUpdate{Name: name, Value: v, Limits: spec.Limits})
	}
	r.prevCommand = time.Now()
	r.mu.Unlock()

	for _, u := range updates {
		r.subs.publish(u)
	}
}

// SetConsumer connects c and attaches it, detaching any current consumer
// first so the robot never observes two at once. If c can report the arm's
// pose, the robot seeds its joint state from it.
func (r *Robot) SetConsumer(ctx context.Context, c Consumer) error {
	r.attachMu.Lock()
	defer r.attachMu.Unlock()

	if err := r.removeConsumerLocked(ctx); err != nil {
		r.log.Warnf("robot %s: detach previous consumer: %v", r.ID, err)
	}

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect consumer: %w", err)
	}

	if seeder, ok := c.(StateSeeder); ok {
		state, err := seeder.InitialState(ctx)
		if err != nil {
			r.log.Warnf("robot %s: read initial state: %v", r.ID, err)
		} else {
			r.Seed(state)
		}
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.consumer = c
	r.consumerStop = cancel
	r.mu.Unlock()

	go r.forward(fwdCtx, c.Commands())
	r.log.Infof("robot %s: consumer attached", r.ID)
	return nil
}

// RemoveConsumer detaches and disconnects the current consumer, if any.
func (r *Robot) RemoveConsumer(ctx context.Context) error {
	r.attachMu.Lock()
	defer r.attachMu.Unlock()
	return r.removeConsumerLocked(ctx)
}

func (r *Robot) removeConsumerLocked(ctx context.Context) error {
	r.mu.Lock()
	c := r.consumer
	stop := r.consumerStop
	r.consumer = nil
	r.consumerStop = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	if stop != nil {
		stop()
	}
	if err := c.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect consumer: %w", err)
	}
	r.log.Infof("robot %s: consumer detached", r.ID)
	return nil
}

// HasConsumer reports whether a consumer is attached. UIs use this to
// disable manual controls.
func (r *Robot) HasConsumer() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.consumer != nil
}

// ConsumerStatus returns the attached consumer's status.
func (r *Robot) ConsumerStatus() (ConnectionStatus, bool) {
	r.mu.RLock()
	c := r.consumer
	r.mu.RUnlock()
	if c == nil {
		return ConnectionStatus{}, false
	}
	return c.Status(), true
}

// AddProducer connects p and attaches it to the fan-out set, then primes
// it with the current joint state so it starts in sync.
func (r *Robot) AddProducer(ctx context.Context, p Producer) error {
	if err := p.Connect(ctx); err != nil {
		return fmt.Errorf("connect producer: %w", err)
	}

	r.mu.Lock()
	r.producers = append(r.producers, p)
	snapshot := make(map[JointName]float64, len(r.values))
	for name, v := range r.values {
		snapshot[name] = v
	}
	r.mu.Unlock()

	if len(snapshot) > 0 {
		if err := p.Send(ctx, NewCommand(snapshot)); err != nil {
			r.log.Warnf("robot %s: prime producer: %v", r.ID, err)
		}
	}
	r.log.Infof("robot %s: producer attached (%d total)", r.ID, r.producerCount())
	return nil
}

// RemoveProducer detaches p from the fan-out set and disconnects it.
func (r *Robot) RemoveProducer(ctx context.Context, p Producer) error {
	r.mu.Lock()
	for i, q := range r.producers {
		if q == p {
			r.producers = append(r.producers[:i], r.producers[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	return p.Disconnect(ctx)
}

// ProducerStatuses returns the status of every attached producer.
func (r *Robot) ProducerStatuses() []ConnectionStatus {
	r.mu.RLock()
	producers := append([]Producer(nil), r.producers...)
	r.mu.RUnlock()
	statuses := make([]ConnectionStatus, 0, len(producers))
	for _, p := range producers {
		statuses = append(statuses, p.Status())
	}
	return statuses
}

func (r *Robot) producerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}

// Close detaches the consumer, disconnects all producers and stops the
// pipeline. The robot cannot be reused afterwards.
func (r *Robot) Close() error {
	var firstErr error
	r.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.RemoveConsumer(ctx); err != nil {
			firstErr = err
		}

		r.mu.Lock()
		producers := r.producers
		r.producers = nil
		r.mu.Unlock()
		for _, p := range producers {
			if err := p.Disconnect(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		close(r.done)
	})
	return firstErr
}

// forward drains an attached consumer's command channel into the pipeline
// until the consumer is detached.
func (r *Robot) forward(ctx context.Context, cmds <-chan Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			r.enqueue(cmd)
		}
	}
}

func (r *Robot) enqueue(cmd Command) {
	// Multiple goroutines enqueue; the mutex keeps the drop-oldest swap
	// atomic so the final send can never block.
	r.enqMu.Lock()
	defer r.enqMu.Unlock()
	select {
	case r.cmdCh <- cmd:
	default:
		select {
		case <-r.cmdCh:
			r.log.Warnf("robot %s: command queue full, dropped oldest", r.ID)
		default:
		}
		r.cmdCh <- cmd
	}
}

// loop is the single applier: one command at a time, in arrival order.
func (r *Robot) loop() {
	for {
		select {
		case <-r.done:
			return
		case cmd := <-r.cmdCh:
			r.apply(cmd)
		}
	}
}

func (r *Robot) apply(cmd Command) {
	now := time.Now()

	r.mu.Lock()
	dup := r.isDuplicateLocked(cmd, now)
	r.prevCommand = now
	if dup {
		r.mu.Unlock()
		return
	}

	applied := make(map[JointName]float64, len(cmd.Joints))
	updates := make([]JointUpdate, 0, len(cmd.Joints))
	for name, value := range cmd.Joints {
		spec, ok := r.descriptor.ByName(name)
		if !ok {
			r.log.Warnf("robot %s: ignoring unknown joint %q", r.ID, name)
			continue
		}
		v := spec.Kind.Clamp(value)
		r.values[name] = v
		applied[name] = v
		updates = append(updates, JointUpdate{Name: name, Value: v, Limits: spec.Limits})
	}
	producers := append([]Producer(nil), r.producers...)
	r.mu.Unlock()

	if len(applied) == 0 {
		return
	}

	for _, u := range updates {
		r.subs.publish(u)
	}

	// Fan out the clamped values. Producers fail independently; one bad
	// producer never blocks delivery to its siblings.
	out := Command{Joints: applied, Timestamp: cmd.Timestamp}
	var wg sync.WaitGroup
	for _, p := range producers {
		wg.Add(1)
		go func(p Producer) {
			defer wg.Done()
			if err := p.Send(context.Background(), out); err != nil {
				r.log.Warnf("robot %s: producer send: %v", r.ID, err)
			}
		}(p)
	}
	wg.Wait()
}

// isDuplicateLocked reports whether cmd arrived within the dedup window of
// the previous command with every value within epsilon of the applied
// state. Values are clamped before comparison, matching what apply would
// store.
func (r *Robot) isDuplicateLocked(cmd Command, now time.Time) bool {
	if r.prevCommand.IsZero() || now.Sub(r.prevCommand) > r.opts.DedupWindow {
		return false
	}
	for name, value := range cmd.Joints {
		spec, ok := r.descriptor.ByName(name)
		if !ok {
			continue
		}
		cur, seen := r.values[name]
		if !seen {
			return false
		}
		if math.Abs(spec.Kind.Clamp(value)-cur) > r.opts.DedupEpsilon {
			return false
		}
	}
	return true
}
