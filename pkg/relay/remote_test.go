package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armhub-dev/armhub/pkg/robot"
)

func waitForCommand(t *testing.T, ch <-chan robot.Command) robot.Command {
	t.Helper()
	select {
	case cmd := <-ch:
		return cmd
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a command")
		return robot.Command{}
	}
}

func TestRemote_ProducerToConsumer(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)
	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)

	consumer, err := NewRemoteConsumer(RemoteConfig{
		Client:        c,
		RoomID:        "room",
		ParticipantID: "follower",
		PollWait:      100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Connect(ctx))
	defer consumer.Disconnect(ctx)

	producer, err := NewRemoteProducer(RemoteConfig{
		Client:            c,
		RoomID:            "room",
		ParticipantID:     "leader",
		StateSyncInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, producer.Connect(ctx))
	defer producer.Disconnect(ctx)

	assert.True(t, producer.Status().Connected)
	assert.True(t, consumer.Status().Connected)

	require.NoError(t, producer.Send(ctx, robot.Single(robot.Rotation, 42.5)))

	cmd := waitForCommand(t, consumer.Commands())
	assert.Equal(t, 42.5, cmd.Joints[robot.Rotation])

	require.NoError(t, producer.Disconnect(ctx))
	assert.False(t, producer.Status().Connected)
}

func TestRemote_StateSyncCatchesUpLateConsumer(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)
	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)

	producer, err := NewRemoteProducer(RemoteConfig{
		Client:            c,
		RoomID:            "room",
		ParticipantID:     "leader",
		StateSyncInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, producer.Connect(ctx))
	defer producer.Disconnect(ctx)

	// Nobody is in the room yet; these updates reach no mailbox.
	require.NoError(t, producer.Send(ctx, robot.Single(robot.Rotation, 10)))
	require.NoError(t, producer.Send(ctx, robot.Single(robot.Pitch, -20)))

	consumer, err := NewRemoteConsumer(RemoteConfig{
		Client:        c,
		RoomID:        "room",
		ParticipantID: "late",
		PollWait:      100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Connect(ctx))
	defer consumer.Disconnect(ctx)

	// The periodic state sync must bring the late joiner up to date with
	// both joints even though it missed the individual updates.
	deadline := time.After(5 * time.Second)
	for {
		var cmd robot.Command
		select {
		case cmd = <-consumer.Commands():
		case <-deadline:
			t.Fatal("late consumer never received a state sync")
		}
		if len(cmd.Joints) == 2 {
			assert.Equal(t, 10.0, cmd.Joints[robot.Rotation])
			assert.Equal(t, -20.0, cmd.Joints[robot.Pitch])
			return
		}
	}
}

func TestRemote_SecondProducerRejected(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)
	_, err := c.CreateRoom(ctx, "ws", "room")
	require.NoError(t, err)

	first, err := NewRemoteProducer(RemoteConfig{Client: c, RoomID: "room", ParticipantID: "a"})
	require.NoError(t, err)
	require.NoError(t, first.Connect(ctx))

	second, err := NewRemoteProducer(RemoteConfig{Client: c, RoomID: "room", ParticipantID: "b"})
	require.NoError(t, err)
	err = second.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a producer")
	assert.False(t, second.Status().Connected)
	assert.NotEmpty(t, second.Status().Err)

	// The role frees up once the first producer leaves.
	require.NoError(t, first.Disconnect(ctx))
	require.NoError(t, second.Connect(ctx))
	require.NoError(t, second.Disconnect(ctx))
}

func TestRemote_SendWhenDisconnected(t *testing.T) {
	c := newTestRelay(t)
	producer, err := NewRemoteProducer(RemoteConfig{Client: c, RoomID: "room"})
	require.NoError(t, err)

	err = producer.Send(context.Background(), robot.Single(robot.Jaw, 1))
	assert.ErrorIs(t, err, robot.ErrNotConnected)
}

func TestRemote_ConnectToMissingRoom(t *testing.T) {
	ctx := context.Background()
	c := newTestRelay(t)

	consumer, err := NewRemoteConsumer(RemoteConfig{Client: c, RoomID: "nope"})
	require.NoError(t, err)
	err = consumer.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such room")
	assert.False(t, consumer.Status().Connected)

	// Disconnect without a connection is a no-op.
	require.NoError(t, consumer.Disconnect(ctx))
}
