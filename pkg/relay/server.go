package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

const (
	// mailboxLimit bounds how far a slow consumer can fall behind before
	// its oldest messages are dropped.
	mailboxLimit = 64
	maxPollWait  = 25 * time.Second
)

// Server hosts relay rooms over HTTP. State is in memory; rooms exist
// until deleted or the process exits.
type Server struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	rooms map[string]*room
}

// room fields are guarded by Server.mu.
type room struct {
	info       robot.RoomInfo
	producerID string
	consumers  map[string]*mailbox
}

func (r *room) snapshot() robot.RoomInfo {
	info := r.info
	info.HasProducer = r.producerID != ""
	info.ConsumerCount = len(r.consumers)
	return info
}

// mailbox is one consumer's message queue with long-poll wakeup.
type mailbox struct {
	mu   sync.Mutex
	msgs []Message
	wake chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) put(msgs []Message) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msgs...)
	if n := len(m.msgs) - mailboxLimit; n > 0 {
		m.msgs = m.msgs[n:]
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// take drains the mailbox, waiting up to wait for something to arrive.
func (m *mailbox) take(ctx context.Context, wait time.Duration) []Message {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		if len(m.msgs) > 0 {
			out := m.msgs
			m.msgs = nil
			m.mu.Unlock()
			return out
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-deadline.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// NewServer builds an empty rooms server.
func NewServer(logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{log: logger, rooms: make(map[string]*room)}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("DELETE /api/rooms/{id}", s.handleDeleteRoom)
	mux.HandleFunc("POST /api/rooms/{id}/join", s.handleJoin)
	mux.HandleFunc("POST /api/rooms/{id}/leave", s.handleLeave)
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.handlePostMessages)
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.handleFetchMessages)
	return mux
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.WorkspaceID == "" {
		http.Error(w, "missing workspace_id", http.StatusBadRequest)
		return
	}
	id := req.RoomID
	if id == "" {
		id = randomID()
	}

	s.mu.Lock()
	if _, exists := s.rooms[id]; exists {
		s.mu.Unlock()
		http.Error(w, "room already exists", http.StatusConflict)
		return
	}
	rm := &room{
		info: robot.RoomInfo{
			ID:          id,
			WorkspaceID: req.WorkspaceID,
			CreatedAt:   time.Now(),
		},
		consumers: make(map[string]*mailbox),
	}
	s.rooms[id] = rm
	info := rm.snapshot()
	s.mu.Unlock()

	s.log.Infof("room %s created in workspace %s", id, req.WorkspaceID)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(info)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	workspace := r.URL.Query().Get("workspace")

	s.mu.Lock()
	rooms := make([]robot.RoomInfo, 0, len(s.rooms))
	for _, rm := range s.rooms {
		if workspace != "" && rm.info.WorkspaceID != workspace {
			continue
		}
		rooms = append(rooms, rm.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	_ = json.NewEncoder(w).Encode(roomsResponse{Rooms: rooms})
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	_, ok := s.rooms[id]
	if ok {
		delete(s.rooms, id)
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	s.log.Infof("room %s deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		http.Error(w, "missing participant_id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[id]
	if !ok {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}

	switch req.Role {
	case RoleProducer:
		if rm.producerID != "" && rm.producerID != req.ParticipantID {
			http.Error(w, "room already has a producer", http.StatusConflict)
			return
		}
		rm.producerID = req.ParticipantID
	case RoleConsumer:
		if _, exists := rm.consumers[req.ParticipantID]; !exists {
			rm.consumers[req.ParticipantID] = newMailbox()
		}
	default:
		http.Error(w, "role must be producer or consumer", http.StatusBadRequest)
		return
	}

	s.log.Infof("%s %s joined room %s", req.Role, req.ParticipantID, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[id]
	if !ok {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	if rm.producerID == req.ParticipantID {
		rm.producerID = ""
	}
	delete(rm.consumers, req.ParticipantID)

	s.log.Infof("participant %s left room %s", req.ParticipantID, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req postMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	rm, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	if rm.producerID != req.ParticipantID {
		s.mu.Unlock()
		http.Error(w, "only the room's producer can post", http.StatusForbidden)
		return
	}
	boxes := make([]*mailbox, 0, len(rm.consumers))
	for _, mb := range rm.consumers {
		boxes = append(boxes, mb)
	}
	s.mu.Unlock()

	for _, mb := range boxes {
		mb.put(req.Messages)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetchMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	participant := r.URL.Query().Get("participant")
	wait, _ := time.ParseDuration(r.URL.Query().Get("wait"))
	if wait < 0 {
		wait = 0
	}
	if wait > maxPollWait {
		wait = maxPollWait
	}

	s.mu.Lock()
	rm, ok := s.rooms[id]
	var mb *mailbox
	if ok {
		mb = rm.consumers[participant]
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	if mb == nil {
		http.Error(w, "not a consumer in this room", http.StatusNotFound)
		return
	}

	msgs := mb.take(r.Context(), wait)
	if msgs == nil {
		msgs = []Message{}
	}
	_ = json.NewEncoder(w).Encode(messagesResponse{Messages: msgs})
}
