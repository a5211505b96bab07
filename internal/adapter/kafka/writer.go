package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/grid-patch-service/internal/config"
	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// Writer publishes patch events to a Kafka topic.
// It implements patch.EventPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured patch topic. Events
// are keyed by chunk, so patches to one chunk keep their order.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaPatchTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes one patch event and writes it synchronously.
func (w *Writer) Publish(ctx context.Context, event domain.PatchEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write patch event %s: %w", event.ID, err)
	}
	w.logger.Debug("patch event published", "event_id", event.ID, "chunk_key", event.Key.String())
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a PatchEvent into a Kafka message.
func serializeToMessage(event domain.PatchEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize patch event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Key.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "field", Value: []byte(event.Key.Field)},
			{Key: "patched_at", Value: []byte(event.PatchedAt.Format(time.RFC3339))},
		},
	}, nil
}
