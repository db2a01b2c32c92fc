package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/lox/surfcast/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink produces one JSON message per forecast record.
type KafkaSink struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaSink{writer: w, logger: logger.With("component", "kafka")}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, records []models.ForecastRecord) error {
	if len(records) == 0 {
		return nil
	}
	published := time.Now().UTC()
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := recordMessage(records[i], published)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	k.logger.Debug("published forecast", "records", len(msgs))
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// recordMessage keys a record by model, criterion and valid date so updates
// of the same forecast land on the same partition.
func recordMessage(r models.ForecastRecord, published time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast record: %w", err)
	}
	key := r.Model + "|" + r.Criterion + "|" + r.ValidDate.UTC().Format(time.RFC3339)
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "model", Value: []byte(r.Model)},
			{Key: "published_at", Value: []byte(published.Format(time.RFC3339))},
		},
	}, nil
}
