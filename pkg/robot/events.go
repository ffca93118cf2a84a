package robot

import "sync"

// JointUpdate is delivered to subscribers after a joint's stored value
// changes. Limits carry the declared radian travel so a renderer can map
// the normalized value to an angle.
type JointUpdate struct {
	Name   JointName
	Value  float64
	Limits Limits
}

const subscriberBuffer = 16

// subscribers fans joint updates out to any number of watchers. Each
// watcher gets its own buffered channel and a cancel func; slow watchers
// lose oldest updates rather than stalling command application.
type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan JointUpdate
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]chan JointUpdate)}
}

func (s *subscribers) add() (<-chan JointUpdate, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan JointUpdate, subscriberBuffer)
	s.subs[id] = ch
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
	return ch, cancel
}

func (s *subscribers) publish(u JointUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
			// Full: drop the oldest update, keep the newest.
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}
