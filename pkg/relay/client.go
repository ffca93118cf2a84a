package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// Client talks to a relay server. It implements robot.Rooms so a manager
// can create and list rooms through it.
type Client struct {
	base string
	http *http.Client
}

var _ robot.Rooms = (*Client)(nil)

// NewClient builds a client for the relay at baseURL. The timeout must
// exceed the long-poll window, which the 30s default comfortably does.
func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = resp.Status
		}
		return errors.Errorf("relay: %s", text)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateRoom creates a room in a workspace. An empty roomID asks the
// server to assign one.
func (c *Client) CreateRoom(ctx context.Context, workspaceID, roomID string) (robot.RoomInfo, error) {
	var info robot.RoomInfo
	err := c.doJSON(ctx, http.MethodPost, "/api/rooms", createRoomRequest{
		WorkspaceID: workspaceID,
		RoomID:      roomID,
	}, &info)
	return info, err
}

// ListRooms returns the rooms in a workspace.
func (c *Client) ListRooms(ctx context.Context, workspaceID string) ([]robot.RoomInfo, error) {
	var resp roomsResponse
	q := url.Values{"workspace": {workspaceID}}
	if err := c.doJSON(ctx, http.MethodGet, "/api/rooms?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// DeleteRoom removes a room, disconnecting its participants.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(roomID), nil, nil)
}

func (c *Client) join(ctx context.Context, roomID, participantID, role string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/join", joinRequest{
		ParticipantID: participantID,
		Role:          role,
	}, nil)
}

func (c *Client) leave(ctx context.Context, roomID, participantID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/leave", leaveRequest{
		ParticipantID: participantID,
	}, nil)
}

func (c *Client) postMessages(ctx context.Context, roomID, participantID string, msgs []Message) error {
	return c.doJSON(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/messages", postMessagesRequest{
		ParticipantID: participantID,
		Messages:      msgs,
	}, nil)
}

func (c *Client) fetchMessages(ctx context.Context, roomID, participantID string, wait time.Duration) ([]Message, error) {
	q := url.Values{
		"participant": {participantID},
		"wait":        {wait.String()},
	}
	var resp messagesResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID)+"/messages?"+q.Encode(), nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}
