package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "images.3", subject(ImagesSubjectBase, 3))
	assert.Equal(t, "visits.12", subject(VisitsSubjectBase, 12))
}

func TestStreamConfigs(t *testing.T) {
	cfgs := streamConfigs()
	require.Len(t, cfgs, 2)
	assert.Equal(t, ImagesStreamName, cfgs[0].Name)
	assert.Equal(t, jetstream.WorkQueuePolicy, cfgs[0].Retention)
	assert.Equal(t, []string{"images.>"}, cfgs[0].Subjects)
	assert.Equal(t, VisitsStreamName, cfgs[1].Name)
}

func TestDecodeTask(t *testing.T) {
	task, err := DecodeTask([]byte(`{"task_id":"3f2a9c1e-0000-4000-8000-000000000000","camera_id":2,"object_key":"incoming/x","source":"api","received_at":"2024-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, task.CameraID)
	assert.Equal(t, "incoming/x", task.ObjectKey)

	_, err = DecodeTask([]byte(`{"camera_id":2}`))
	assert.Error(t, err)

	_, err = DecodeTask([]byte(`nope`))
	assert.Error(t, err)
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"action":"stop","camera_id":4}`))
	require.NoError(t, err)
	assert.Equal(t, 4, cmd.CameraID)

	_, err = DecodeCommand([]byte(`{"action":"reboot","camera_id":4}`))
	assert.Error(t, err)
}

func TestDecodeVisit(t *testing.T) {
	v, err := DecodeVisit([]byte(`{"id":7,"camera_id":1,"gender":"male","age_range":{"low":20,"high":25},"primary_emotion":"CALM"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.ID)
	assert.Equal(t, 25, v.AgeRange.High)
}

type fakeMsg struct {
	jetstream.Msg
	acked, naked atomic.Bool
}

func (m *fakeMsg) Data() []byte    { return []byte("{}") }
func (m *fakeMsg) Subject() string { return "images.1" }

func (m *fakeMsg) Ack() error {
	m.acked.Store(true)
	return nil
}

func (m *fakeMsg) Nak() error {
	m.naked.Store(true)
	return nil
}

func TestDrain_InFlightHandlerFinishesAfterShutdown(t *testing.T) {
	c := &Consumer{log: zaptest.NewLogger(t)}
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	msgs := make(chan jetstream.Msg, 1)
	msg := &fakeMsg{}
	msgs <- msg
	close(msgs)

	c.pools = append(c.pools, c.startWorkers(ctx, msgs, func(ctx context.Context, _ jetstream.Msg) error {
		close(started)
		<-release
		return ctx.Err()
	}, 2))

	<-started
	cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	assert.True(t, c.Drain(5*time.Second))
	assert.True(t, msg.acked.Load())
	assert.False(t, msg.naked.Load())
}

func TestDrain_TimeoutCancelsHandlers(t *testing.T) {
	c := &Consumer{log: zaptest.NewLogger(t)}
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	msgs := make(chan jetstream.Msg, 1)
	msg := &fakeMsg{}
	msgs <- msg
	close(msgs)

	c.pools = append(c.pools, c.startWorkers(ctx, msgs, func(ctx context.Context, _ jetstream.Msg) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, 1))

	<-started
	cancel()

	assert.False(t, c.Drain(20*time.Millisecond))
	assert.True(t, msg.naked.Load())
	assert.False(t, msg.acked.Load())
}
