package robot

import (
	"sync"
	"time"
)

// StatusTracker holds the ConnectionStatus state shared by driver
// implementations. The zero value is ready to use.
type StatusTracker struct {
	mu      sync.Mutex
	status  ConnectionStatus
	changes chan ConnectionStatus
}

// Status returns the current connection status.
func (t *StatusTracker) Status() ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Changes returns a channel receiving each status transition. The channel
// is buffered; when the reader falls behind, older transitions are dropped.
func (t *StatusTracker) Changes() <-chan ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.changes == nil {
		t.changes = make(chan ConnectionStatus, 8)
	}
	return t.changes
}

// SetConnected records a successful connection.
func (t *StatusTracker) SetConnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishLocked(ConnectionStatus{Connected: true, LastConnected: time.Now()})
}

// SetDisconnected records an orderly disconnect, keeping the last connect
// time. A non-nil err records why the teardown was dirty.
func (t *StatusTracker) SetDisconnected(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := ConnectionStatus{LastConnected: t.status.LastConnected}
	if err != nil {
		s.Err = err.Error()
	}
	t.publishLocked(s)
}

// SetError records a failed connection attempt.
func (t *StatusTracker) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	s.Connected = false
	if err != nil {
		s.Err = err.Error()
	}
	t.publishLocked(s)
}

func (t *StatusTracker) publishLocked(s ConnectionStatus) {
	t.status = s
	if t.changes == nil {
		return
	}
	select {
	case t.changes <- s:
	default:
		// Drop the oldest transition, keep the newest.
		select {
		case <-t.changes:
		default:
		}
		t.changes <- s
	}
}
