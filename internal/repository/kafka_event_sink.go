package repository

import (
	"context"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	pkgkafka "SwingPulse/pkg/kafka"
)

type eventProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaEventSink forwards engine events to a Kafka topic as JSON. Events are
// keyed by instrument, or by type for engine-wide events.
type KafkaEventSink struct {
	producer eventProducer
	topic    string
}

var _ domrepo.EventPublisher = (*KafkaEventSink)(nil)

func NewKafkaEventSink(producer *pkgkafka.Producer, topic string) *KafkaEventSink {
	return &KafkaEventSink{producer: producer, topic: topic}
}

func eventKey(ev models.Event) []byte {
	if ev.Instrument != "" {
		return []byte(ev.Instrument)
	}
	return []byte(ev.Type)
}

func (s *KafkaEventSink) Publish(ctx context.Context, ev models.Event) error {
	return s.producer.Publish(ctx, s.topic, eventKey(ev), ev)
}

func (s *KafkaEventSink) PublishBatch(ctx context.Context, evs []models.Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(evs))
	for i, ev := range evs {
		msgs[i] = pkgkafka.Message{Key: eventKey(ev), Value: ev}
	}
	return s.producer.PublishBatch(ctx, s.topic, msgs)
}

func (s *KafkaEventSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
