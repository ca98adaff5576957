// Package kafka publishes captured event batches to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/library-events-service/internal/config"
	"github.com/couchcryptid/library-events-service/internal/domain"
	"github.com/couchcryptid/library-events-service/internal/observability"
)

// Message header keys.
const (
	HeaderLibraryURL = "library_url"
	HeaderCapturedAt = "captured_at"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes one message per capture batch.
// It implements pipeline.BatchPublisher.
type Writer struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, metrics: metrics, logger: logger}
}

// Publish writes batch to the topic keyed by library name, so every capture
// of a library lands on the same partition in order.
func (w *Writer) Publish(ctx context.Context, batch domain.CaptureBatch) error {
	msg, err := serializeToMessage(batch)
	if err != nil {
		w.metrics.PublishErrors.Inc()
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		w.metrics.PublishErrors.Inc()
		return fmt.Errorf("publish capture for %q: %w", batch.Library.Name, err)
	}
	w.metrics.BatchesPublished.Inc()
	w.logger.Debug("capture batch published",
		"library", batch.Library.Name,
		"events", len(batch.Events),
	)
	return nil
}

// Close flushes pending messages and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a CaptureBatch into a Kafka message.
func serializeToMessage(batch domain.CaptureBatch) (kafkago.Message, error) {
	if batch.Events == nil {
		batch.Events = []domain.ScrapedEvent{}
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize capture batch: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(batch.Library.Name),
		Value: data,
		Headers: []kafkago.Header{
			{Key: HeaderLibraryURL, Value: []byte(batch.Library.URL)},
			{Key: HeaderCapturedAt, Value: []byte(batch.CapturedAt.UTC().Format(time.RFC3339Nano))},
		},
	}, nil
}
