package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes entries as JSON to a topic, keyed by tenant so a
// tenant's entries stay ordered within one partition.
type KafkaWriter struct {
	w messageWriter
}

// NewKafkaWriter builds a producer for brokers/topic. Writes are batched
// in the background; delivery failures are logged when a batch completes
// and Close flushes what is pending.
func NewKafkaWriter(brokers []string, topic string, log zerolog.Logger) *KafkaWriter {
	return &KafkaWriter{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("entries", len(msgs)).Str("topic", topic).Msg("kafka audit batch failed")
			}
		},
	}}
}

func (k *KafkaWriter) Write(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.TenantID),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "status", Value: []byte(e.Status)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

func (k *KafkaWriter) Close() error { return k.w.Close() }
