package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"zynx/internal/audit"
	"zynx/internal/platform/kafka/producer"
)

type messageProducer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaSink appends audit entries to a Kafka topic, keyed by user so one
// user's trail stays ordered within a partition.
type KafkaSink struct {
	producer messageProducer
	topic    string
}

// NewKafkaSink returns a sink producing to topic.
func NewKafkaSink(p messageProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) Publish(ctx context.Context, entry audit.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	key := entry.UserID
	if key == "" {
		key = entry.ID
	}
	err = s.producer.Produce(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(key),
		Value: payload,
		Headers: map[string]string{
			"event_type": entry.Type,
		},
	})
	if err != nil {
		return fmt.Errorf("kafka produce %s: %w", s.topic, err)
	}
	return nil
}

var _ audit.Sink = (*KafkaSink)(nil)
