package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/safe-notify/internal/domain"
)

// ErrUnknownChannel is returned when no sender is registered for a task's channel.
var ErrUnknownChannel = errors.New("no sender registered for channel")

// Message is a rendered notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// RenderMessage builds the notification for t.
func RenderMessage(t *domain.Task) Message {
	return Message{
		To:      t.Recipient,
		Subject: fmt.Sprintf("[Safe-Notify] %s (%s)", t.EventType, t.EntityID),
		Body: fmt.Sprintf(
			"TaskID: %s\nEventType: %s\nEntityID: %s\nPriority: %s\nChannel: %s\n",
			t.ID, t.EventType, t.EntityID, t.Priority, t.Channel,
		),
	}
}

// Sender delivers a message over one channel. It must honour ctx
// cancellation; the Deliverer still abandons calls that outlive the timeout.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// ChannelRegistry maps channel tags to senders.
type ChannelRegistry struct {
	mu      sync.RWMutex
	senders map[domain.Channel]Sender
}

// NewChannelRegistry creates an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{senders: make(map[domain.Channel]Sender)}
}

// Register installs s for channel, replacing any previous sender.
func (r *ChannelRegistry) Register(channel domain.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = s
}

// Lookup returns the sender for channel.
func (r *ChannelRegistry) Lookup(channel domain.Channel) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return s, nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. If logger is nil, the default logger is used.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With(slog.String("component", "log_sender"))}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "notification delivered",
		"to", msg.To,
		"subject", msg.Subject)
	return nil
}
