package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toll-monitor/internal/domain/detection"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
	closed  bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() detection.DetectionEvent {
	text, conf := "ABC123", 0.93
	return detection.DetectionEvent{
		DetectionID:            uuid.NewString(),
		Timestamp:              time.Now().UTC(),
		TollBoothID:            7,
		CameraID:               "main_camera",
		LicensePlateText:       &text,
		LicensePlateConfidence: &conf,
	}
}

func TestRedisPublisher(t *testing.T) {
	fake := &fakeRedis{}
	p := newRedisPublisher(fake, "")
	ev := sampleEvent()

	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, DefaultRedisChannel, fake.channel)

	var got detection.DetectionEvent
	require.NoError(t, json.Unmarshal(fake.payload, &got))
	assert.Equal(t, ev.DetectionID, got.DetectionID)

	fake.err = errors.New("connection reset")
	assert.ErrorContains(t, p.Publish(context.Background(), ev), "connection reset")

	require.NoError(t, p.Close())
	assert.True(t, fake.closed)
}

type fakeToken struct {
	done    chan struct{}
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type fakeMQTT struct {
	topic        string
	qos          byte
	token        *fakeToken
	connectToken *fakeToken
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	f.topic, f.qos = topic, qos
	return f.token
}

func (f *fakeMQTT) Disconnect(uint) { f.disconnected = true }

func (f *fakeMQTT) Connect() mqtt.Token { return f.connectToken }

func completedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{done: done, err: err}
}

func TestMQTTPublisherTopicPerBooth(t *testing.T) {
	fake := &fakeMQTT{token: completedToken(nil)}
	p := newMQTTPublisher(fake, "")

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "anvl/detections/7", fake.topic)
	assert.Equal(t, byte(1), fake.qos)

	require.NoError(t, p.Close())
	assert.True(t, fake.disconnected)
}

func TestMQTTPublisherErrors(t *testing.T) {
	fake := &fakeMQTT{token: completedToken(errors.New("not connected"))}
	p := newMQTTPublisher(fake, "tolls")
	assert.ErrorContains(t, p.Publish(context.Background(), sampleEvent()), "not connected")

	fake.token = &fakeToken{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, sampleEvent()), context.Canceled)
	assert.Equal(t, "tolls/7", fake.topic)
}

func TestConnectDisconnectsOnFailure(t *testing.T) {
	pending := &fakeMQTT{connectToken: &fakeToken{done: make(chan struct{}), pending: true}}
	err := connect(pending, "tcp://broker:1883", time.Millisecond)
	assert.ErrorContains(t, err, "timeout")
	assert.True(t, pending.disconnected, "retrying client must be stopped")

	refused := &fakeMQTT{connectToken: completedToken(errors.New("connection refused"))}
	err = connect(refused, "tcp://broker:1883", time.Second)
	assert.ErrorContains(t, err, "connection refused")
	assert.True(t, refused.disconnected)

	ok := &fakeMQTT{connectToken: completedToken(nil)}
	require.NoError(t, connect(ok, "tcp://broker:1883", time.Second))
	assert.False(t, ok.disconnected)
}
