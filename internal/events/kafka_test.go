package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
	deadline bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, KafkaConfig{Topic: "requests"}, nil)

	ev, err := NewEvent(TypeRequestCompleted, "abc123", RequestCompleted{
		RequestType: "search",
		Status:      "DONE",
		NumResults:  2,
	})
	require.NoError(t, err)
	ev.WithRequestID("req-1")

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.messages, 1)
	assert.True(t, w.deadline)

	msg := w.messages[0]
	assert.Equal(t, "abc123", string(msg.Key))
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		"event_type": TypeRequestCompleted,
		"source":     Source,
		"request_id": "req-1",
	}, headers)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, 1, decoded.Version)

	var payload RequestCompleted
	require.NoError(t, decoded.UnmarshalData(&payload))
	assert.Equal(t, "DONE", payload.Status)
	assert.Equal(t, 2, payload.NumResults)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, KafkaConfig{Topic: "requests"}, nil)

	ev, err := NewEvent(TypeRequestCompleted, "abc123", RequestCompleted{})
	require.NoError(t, err)

	err = p.Publish(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to requests")
	assert.ErrorIs(t, err, w.err)
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{}, nil)
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, p.topic)
	require.NoError(t, p.Close())
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(TypeAuthCompleted, "u", map[string]string{"state": "AUTHENTICATED"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, Source, ev.Source)
	assert.False(t, ev.Timestamp.IsZero())
	assert.JSONEq(t, `{"state":"AUTHENTICATED"}`, string(ev.Data))

	_, err = NewEvent(TypeAuthCompleted, "u", make(chan int))
	assert.Error(t, err)

	assert.NoError(t, Nop{}.Publish(context.Background(), ev))
}
