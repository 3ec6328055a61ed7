package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	kgo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
)

type fakeWriter struct {
	messages []kgo.Message
	err      error
	deadline bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
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

func testEvent() *events.TaskEvent {
	return events.NewTaskEvent(events.TypeTaskSent, &domain.Task{
		ID:        uuid.MustParse("0195f1e2-0000-7000-8000-000000000001"),
		EntityID:  "TICKET-1",
		Status:    domain.StatusSent,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestPublisher_HandleEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, 0, nil)
	event := testEvent()

	require.NoError(t, p.HandleEvent(context.Background(), event))
	require.Len(t, w.messages, 1)
	assert.True(t, w.deadline, "publish must run under a timeout")

	msg := w.messages[0]
	assert.Equal(t, event.TaskID.String(), string(msg.Key))
	assert.Equal(t, event.OccurredAt, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "task.sent", string(msg.Headers[0].Value))

	var decoded events.TaskEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, domain.StatusSent, decoded.Status)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_HandleEventError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := newPublisher(w, time.Second, nil)

	err := p.HandleEvent(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Contains(t, err.Error(), "task.sent")
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(Config{Brokers: []string{" "}, Topic: "events"}, nil)
	assert.Error(t, err)

	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "events"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWriteTimeout, p.timeout)
	assert.NoError(t, p.Close())
}

func TestNewPublisher_WriterFlushesWithoutBatchDelay(t *testing.T) {
	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "events"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	w, ok := p.writer.(*kgo.Writer)
	require.True(t, ok)
	assert.Equal(t, batchTimeout, w.BatchTimeout)
	assert.Less(t, w.BatchTimeout, time.Second)
	assert.Equal(t, "events", w.Topic)
}
