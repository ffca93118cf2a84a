package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/robot"
)

func newTestRelay(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(zap.NewNop().Sugar()).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestServer_RoomLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)

	info, err := c.CreateRoom(ctx, "ws1", "lab")
	require.NoError(t, err)
	assert.Equal(t, "lab", info.ID)
	assert.Equal(t, "ws1", info.WorkspaceID)
	assert.False(t, info.HasProducer)
	assert.Equal(t, 0, info.ConsumerCount)

	_, err = c.CreateRoom(ctx, "ws1", "lab")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	assigned, err := c.CreateRoom(ctx, "ws1", "")
	require.NoError(t, err)
	assert.Len(t, assigned.ID, 16)

	_, err = c.CreateRoom(ctx, "ws2", "other")
	require.NoError(t, err)

	rooms, err := c.ListRooms(ctx, "ws1")
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	all, err := c.ListRooms(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, c.DeleteRoom(ctx, "lab"))
	err = c.DeleteRoom(ctx, "lab")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such room")

	rooms, err = c.ListRooms(ctx, "ws1")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

func TestServer_SingleProducerPerRoom(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)

	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)

	require.NoError(t, c.join(ctx, "room", "p1", RoleProducer))

	err = c.join(ctx, "room", "p2", RoleProducer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a producer")

	// Re-joining under the same id is a no-op, not a conflict.
	require.NoError(t, c.join(ctx, "room", "p1", RoleProducer))

	require.NoError(t, c.leave(ctx, "room", "p1"))
	require.NoError(t, c.join(ctx, "room", "p2", RoleProducer))
}

func TestServer_MessageFanout(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)

	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)
	require.NoError(t, c.join(ctx, "room", "prod", RoleProducer))
	require.NoError(t, c.join(ctx, "room", "c1", RoleConsumer))
	require.NoError(t, c.join(ctx, "room", "c2", RoleConsumer))

	sent := Message{
		Type:      TypeJointUpdate,
		Joints:    map[robot.JointName]float64{robot.Rotation: 12.5},
		Timestamp: time.Now(),
	}
	require.NoError(t, c.postMessages(ctx, "room", "prod", []Message{sent}))

	for _, consumer := range []string{"c1", "c2"} {
		msgs, err := c.fetchMessages(ctx, "room", consumer, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "consumer %s", consumer)
		assert.Equal(t, TypeJointUpdate, msgs[0].Type)
		assert.Equal(t, 12.5, msgs[0].Joints[robot.Rotation])
	}

	// A fetch drains the mailbox.
	msgs, err := c.fetchMessages(ctx, "room", "c1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestServer_OnlyProducerPosts(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)

	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)
	require.NoError(t, c.join(ctx, "room", "c1", RoleConsumer))

	msg := Message{Type: TypeJointUpdate, Joints: map[robot.JointName]float64{robot.Jaw: 50}}

	err = c.postMessages(ctx, "room", "c1", []Message{msg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer")

	err = c.postMessages(ctx, "missing", "c1", []Message{msg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such room")
}

func TestServer_FetchRequiresJoin(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)

	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)

	_, err = c.fetchMessages(ctx, "room", "ghost", 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a consumer")
}

func TestServer_ListShowsLiveOccupancy(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)

	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)
	require.NoError(t, c.join(ctx, "room", "prod", RoleProducer))
	require.NoError(t, c.join(ctx, "room", "c1", RoleConsumer))
	require.NoError(t, c.join(ctx, "room", "c2", RoleConsumer))

	rooms, err := c.ListRooms(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.True(t, rooms[0].HasProducer)
	assert.Equal(t, 2, rooms[0].ConsumerCount)

	require.NoError(t, c.leave(ctx, "room", "c2"))
	require.NoError(t, c.leave(ctx, "room", "prod"))

	rooms, err = c.ListRooms(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.False(t, rooms[0].HasProducer)
	assert.Equal(t, 1, rooms[0].ConsumerCount)
}

func TestServer_LongPollWakesOnPost(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)

	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)
	require.NoError(t, c.join(ctx, "room", "prod", RoleProducer))
	require.NoError(t, c.join(ctx, "room", "c1", RoleConsumer))

	go func() {
		time.Sleep(50 * time.Millisecond)
		msg := Message{Type: TypeJointUpdate, Joints: map[robot.JointName]float64{robot.Elbow: -30}}
		_ = c.postMessages(ctx, "room", "prod", []Message{msg})
	}()

	start := time.Now()
	msgs, err := c.fetchMessages(ctx, "room", "c1", 5*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, -30.0, msgs[0].Joints[robot.Elbow])
	assert.Less(t, time.Since(start), 3*time.Second, "poll should wake on delivery, not ride out the window")
}

func TestMailbox_DropsOldestWhenFull(t *testing.T) {
	mb := newMailbox()
	for i := 0; i < mailboxLimit+10; i++ {
		mb.put([]Message{{Type: TypeJointUpdate, Joints: map[robot.JointName]float64{robot.Rotation: float64(i)}}})
	}

	msgs := mb.take(context.Background(), 0)
	require.Len(t, msgs, mailboxLimit)
	// The ten oldest were dropped, so the backlog starts at 10.
	assert.Equal(t, 10.0, msgs[0].Joints[robot.Rotation])
	assert.Equal(t, float64(mailboxLimit+9), msgs[len(msgs)-1].Joints[robot.Rotation])
}

func TestMessage_Command(t *testing.T) {
	update := Message{Type: TypeJointUpdate, Joints: map[robot.JointName]float64{robot.Pitch: 45}}
	cmd, ok := update.Command()
	require.True(t, ok)
	assert.Equal(t, 45.0, cmd.Joints[robot.Pitch])

	sync := Message{Type: TypeStateSync, State: map[robot.JointName]float64{robot.Pitch: 45, robot.Jaw: 10}}
	cmd, ok = sync.Command()
	require.True(t, ok)
	assert.Len(t, cmd.Joints, 2)

	for _, empty := range []Message{
		{Type: TypeJointUpdate},
		{Type: TypeStateSync},
		{Type: "heartbeat"},
	} {
		if _, ok := empty.Command(); ok {
			t.Errorf("message %q with no joints should not produce a command", empty.Type)
		}
	}
}

func TestRandomID(t *testing.T) {
	a, b := randomID(), randomID()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.False(t, strings.ContainsAny(a, "ghijklmnopqrstuvwxyz-"))
}
