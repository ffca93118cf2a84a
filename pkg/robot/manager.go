package robot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RoomInfo describes a relay room through which producers and consumers
// exchange joint messages.
type RoomInfo struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspace_id"`
	CreatedAt     time.Time `json:"created_at"`
	HasProducer   bool      `json:"has_producer"`
	ConsumerCount int       `json:"consumer_count"`
}

// Rooms is the relay surface the manager needs for room bookkeeping.
type Rooms interface {
	// CreateRoom creates a room in the workspace. An empty roomID lets the
	// relay assign one.
	CreateRoom(ctx context.Context, workspaceID, roomID string) (RoomInfo, error)
	ListRooms(ctx context.Context, workspaceID string) ([]RoomInfo, error)
}

// Manager is a registry of robots plus relay room bookkeeping.
type Manager struct {
	log   *zap.SugaredLogger
	rooms Rooms

	mu     sync.Mutex
	robots map[string]*Robot
}

// NewManager creates a manager. rooms may be nil when no relay is
// configured; room operations then fail with ErrNoRelay.
func NewManager(rooms Rooms, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		log:    logger,
		rooms:  rooms,
		robots: make(map[string]*Robot),
	}
}

// CreateRobot registers a new robot under an unused id.
func (m *Manager) CreateRobot(id string, desc Descriptor) (*Robot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.robots[id]; exists {
		return nil, fmt.Errorf("robot %q already exists", id)
	}
	r := New(id, desc, Options{Logger: m.log})
	m.robots[id] = r
	m.log.Infof("created robot %s (%d joints)", id, len(desc))
	return r, nil
}

// Robot returns the robot registered under id.
func (m *Manager) Robot(id string) (*Robot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.robots[id]
	return r, ok
}

// Robots returns all registered robots sorted by id.
func (m *Manager) Robots() []*Robot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Robot, 0, len(m.robots))
	for _, r := range m.robots {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveRobot tears the robot down, disconnecting all of its drivers, and
// unregisters it.
func (m *Manager) RemoveRobot(id string) error {
	m.mu.Lock()
	r, ok := m.robots[id]
	delete(m.robots, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("robot %q not found", id)
	}
	m.log.Infof("removing robot %s", id)
	return r.Close()
}

// Close tears down every registered robot.
func (m *Manager) Close() error {
	m.mu.Lock()
	robots := make([]*Robot, 0, len(m.robots))
	for _, r := range m.robots {
		robots = append(robots, r)
	}
	m.robots = make(map[string]*Robot)
	m.mu.Unlock()

	var firstErr error
	for _, r := range robots {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CreateRoom creates a relay room in the workspace.
func (m *Manager) CreateRoom(ctx context.Context, workspaceID, roomID string) (RoomInfo, error) {
	if m.rooms == nil {
		return RoomInfo{}, ErrNoRelay
	}
	return m.rooms.CreateRoom(ctx, workspaceID, roomID)
}

// ListRooms lists the relay rooms in the workspace.
func (m *Manager) ListRooms(ctx context.Context, workspaceID string) ([]RoomInfo, error) {
	if m.rooms == nil {
		return nil, ErrNoRelay
	}
	return m.rooms.ListRooms(ctx, workspaceID)
}
