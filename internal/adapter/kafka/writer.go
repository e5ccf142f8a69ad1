package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes cleaned forecast rows to a Kafka topic, one message per
// row. It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *zap.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, topic: cfg.KafkaTopic, logger: logger}
}

// Publish sends every row of dataset in a single WriteMessages call. Rows of
// one city hash to the same partition, so consumers see them in time order.
func (w *Writer) Publish(ctx context.Context, dataset domain.CleanedDataset) error {
	if dataset.Len() == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(dataset.Rows))
	for i, row := range dataset.Rows {
		if row.City == "" {
			row.City = dataset.City
		}
		msg, err := serializeToMessage(row, dataset.Cleaned)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d rows for %s to %s: %w", len(msgs), dataset.City, w.topic, err)
	}
	w.logger.Debug("cleaned rows published",
		zap.String("city", dataset.City),
		zap.String("topic", w.topic),
		zap.Int("messages", len(msgs)))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey identifies a row across republishes of the same forecast.
func MessageKey(row domain.CleanedRow) string {
	return row.City + "|" + row.Time.UTC().Format(domain.TimeLayout)
}

// serializeToMessage marshals a cleaned row into a Kafka message.
func serializeToMessage(row domain.CleanedRow, cleanedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize cleaned row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(row)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "city", Value: []byte(row.City)},
			{Key: "cleaned_at", Value: []byte(cleanedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
