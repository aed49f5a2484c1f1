package ingest

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/job-tracking/internal/events"
)

// KafkaProducer forwards tracking events to downstream consumers (history,
// analytics). Messages are keyed by job id so one job's events stay on one
// partition and in order.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) Publish(ctx context.Context, ev events.Event) error {
	b, err := events.Encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(events.JobIDOf(ev)), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
