package events

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// Bus publishes envelopes to named topics. The Kafka implementation is the
// only production Bus; tests substitute in-memory fakes.
type Bus interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Close() error
}

// KafkaBus wraps a synchronous sarama producer. Publishes block until the
// broker acknowledges the write, which is what the outbox publisher relies on
// before marking a row SENT.
type KafkaBus struct {
	producer sarama.SyncProducer
}

// NewKafkaBus connects a synchronous producer to the given brokers.
func NewKafkaBus(brokers []string) (*KafkaBus, error) {
	var cfg = sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &KafkaBus{producer: producer}, nil
}

// Publish sends one envelope, keyed by aggregate id so a payment's events
// land on one partition.
func (b *KafkaBus) Publish(_ context.Context, topic string, env Envelope) error {
	value, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.AggregateID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close shuts down the underlying producer.
func (b *KafkaBus) Close() error { return b.producer.Close() }
