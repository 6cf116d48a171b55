package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Kinds of access events the gateway emits.
const (
	KindServed = "served"
	KindPaid   = "paid"
)

// AccessEvent records one release of a record: an open record served, or
// a monetized record released after verification. The gateway keeps no
// ledger; this stream is how the marketplace sees access happen.
type AccessEvent struct {
	ID         string `json:"id"`
	TopicID    string `json:"topicId"`
	Identifier string `json:"identifier,omitempty"`
	Kind       string `json:"kind"`
	Amount     string `json:"amount,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Publisher writes access events to Kafka. A nil Publisher is valid and
// drops everything, so the stream stays optional.
type Publisher struct {
	writer  *kafka.Writer
	log     *slog.Logger
	timeout time.Duration
}

// NewPublisher builds a publisher, or nil when no brokers are configured.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     brokers,
		Topic:       topic,
		MaxAttempts: 3,
	})

	return &Publisher{writer: writer, log: logger, timeout: 5 * time.Second}
}

// Publish emits one event best-effort. Failures are logged and swallowed;
// serving a record never depends on the event stream.
func (p *Publisher) Publish(ctx context.Context, ev AccessEvent) {
	if p == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	value, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal access event", slog.Any("err", err))
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(ev.TopicID),
		Value: value,
	}
	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		p.log.Warn("publish access event",
			slog.Any("err", err),
			slog.String("topic_id", ev.TopicID),
			slog.String("kind", ev.Kind),
		)
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
