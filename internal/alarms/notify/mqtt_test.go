package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/eventing"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	done := make(chan struct{})
	close(done)
	return &doneToken{err: err, done: done}
}

func (t *doneToken) Wait() bool { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} { return t.done }
func (t *doneToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	messages []published
	err      error
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	f.messages = append(f.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newDoneToken(f.err)
}

func TestMQTTPublisherEnvelope(t *testing.T) {
	client := &fakeMQTT{}
	pub, err := NewMQTTPublisher(client, "/alarms/", 1)
	require.NoError(t, err)

	alarm := sampleAlarm(time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC))
	ctx := eventing.WithCorrelationID(context.Background(), "event-42")
	require.NoError(t, pub.PushLifecycleMessage(ctx, "tenant-1", alarm.Originator, message(alarms.EventAlarmCreated, *alarm), alarms.EventAlarmCreated))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "alarms/tenant-1/DEVICE/boiler-7", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var env eventing.Envelope
	require.NoError(t, json.Unmarshal(msg.payload, &env))
	assert.Equal(t, alarms.EventAlarmCreated, env.EventType)
	assert.Equal(t, "event-42", env.CorrelationID)
	assert.Equal(t, "tenant-1", env.TenantID)
	assert.Equal(t, "DEVICE:boiler-7", env.EntityID)
	assert.Contains(t, string(env.Payload), `"ruleName":"Boiler Temperature"`)
}

func TestMQTTPublisherErrors(t *testing.T) {
	_, err := NewMQTTPublisher(nil, "alarms", 0)
	require.Error(t, err)
	_, err = NewMQTTPublisher(&fakeMQTT{}, "alarms", 3)
	require.Error(t, err)

	pub, err := NewMQTTPublisher(&fakeMQTT{err: errors.New("not connected")}, "", 0)
	require.NoError(t, err)
	alarm := sampleAlarm(time.Now().UTC())
	err = pub.PushLifecycleMessage(context.Background(), "tenant-1", alarm.Originator, message(alarms.EventAlarmCleared, *alarm), alarms.EventAlarmCleared)
	require.Error(t, err)
	assert.Equal(t, "tenant-1/DEVICE/boiler-7", pub.Topic("tenant-1", alarm.Originator))
}

func TestMultiPublisherJoinsErrors(t *testing.T) {
	ok := &fakeMQTT{}
	failing := &fakeMQTT{err: errors.New("broker down")}
	first, err := NewMQTTPublisher(ok, "a", 0)
	require.NoError(t, err)
	second, err := NewMQTTPublisher(failing, "b", 0)
	require.NoError(t, err)

	multi := NewMultiPublisher(first, nil, second)
	assert.Equal(t, 2, multi.Len())

	alarm := sampleAlarm(time.Now().UTC())
	err = multi.PushLifecycleMessage(context.Background(), "tenant-1", alarm.Originator, message(alarms.EventAlarmUpdated, *alarm), alarms.EventAlarmUpdated)
	require.Error(t, err)
	assert.Len(t, ok.messages, 1)
	assert.Len(t, failing.messages, 1)
}
