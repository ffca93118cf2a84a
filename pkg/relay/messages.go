// Package relay moves teleoperation traffic between arms over HTTP. A
// relay server hosts rooms; one producer per room posts joint updates and
// periodic full-state syncs, and any number of consumers long-poll them.
// The remote consumer and producer plug into a robot like their hardware
// counterparts.
package relay

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// Participant roles within a room.
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
)

// Message types.
const (
	// TypeJointUpdate carries the joints that just changed.
	TypeJointUpdate = "joint_update"
	// TypeStateSync carries the full joint state, sent periodically so
	// late joiners and lossy links converge.
	TypeStateSync = "state_sync"
)

// Message is the unit relayed from a room's producer to its consumers.
type Message struct {
	Type      string                      `json:"type"`
	Joints    map[robot.JointName]float64 `json:"joints,omitempty"`
	State     map[robot.JointName]float64 `json:"state,omitempty"`
	Timestamp time.Time                   `json:"timestamp"`
}

// Command converts a message to a robot command. The second return is
// false for messages that carry no joint values.
func (m Message) Command() (robot.Command, bool) {
	switch m.Type {
	case TypeJointUpdate:
		if len(m.Joints) == 0 {
			return robot.Command{}, false
		}
		return robot.Command{Joints: m.Joints, Timestamp: m.Timestamp}, true
	case TypeStateSync:
		if len(m.State) == 0 {
			return robot.Command{}, false
		}
		return robot.Command{Joints: m.State, Timestamp: m.Timestamp}, true
	}
	return robot.Command{}, false
}

type createRoomRequest struct {
	WorkspaceID string `json:"workspace_id"`
	RoomID      string `json:"room_id,omitempty"`
}

type joinRequest struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}

type leaveRequest struct {
	ParticipantID string `json:"participant_id"`
}

type postMessagesRequest struct {
	ParticipantID string    `json:"participant_id"`
	Messages      []Message `json:"messages"`
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

type roomsResponse struct {
	Rooms []robot.RoomInfo `json:"rooms"`
}

// randomID returns a short hex id for rooms and participants.
func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
