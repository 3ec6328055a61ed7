// Package kafka publishes task lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/phrazzld/safe-notify/internal/events"
)

// DefaultWriteTimeout bounds a single publish so a broker outage cannot stall
// the delivery pipeline.
const DefaultWriteTimeout = 3 * time.Second

// batchTimeout caps how long a synchronous single-message write waits for a
// batch to fill. kafka-go defaults to one second.
const batchTimeout = 10 * time.Millisecond

// messageWriter is the subset of *kgo.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Config configures a Publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Publisher is an events.EventHandler that writes each event as JSON, keyed
// by task ID so all events of one task land on the same partition in order.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

var _ events.EventHandler = (*Publisher)(nil)

// NewPublisher creates a Publisher backed by a kafka-go Writer.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	return newPublisher(newWriter(brokers, cfg.Topic), cfg.WriteTimeout, logger), nil
}

func newWriter(brokers []string, topic string) *kgo.Writer {
	return &kgo.Writer{
		Addr:                   kgo.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kgo.Hash{},
		RequiredAcks:           kgo.RequireOne,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
}

func newPublisher(w messageWriter, timeout time.Duration, logger *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer:  w,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "kafka_publisher")),
	}
}

// HandleEvent implements events.EventHandler.
func (p *Publisher) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: encode event %s: %w", event.ID, err)
	}

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(wctx, kgo.Message{
		Key:   []byte(event.TaskID.String()),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kgo.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka: publish %s for task %s: %w", event.Type, event.TaskID, err)
	}

	p.logger.Debug("published task event",
		"event_id", event.ID,
		"event_type", event.Type,
		"task_id", event.TaskID)
	return nil
}

// Close flushes pending writes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
