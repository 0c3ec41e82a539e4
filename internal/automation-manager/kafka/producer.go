package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher emits domain events keyed by the id of the entity they describe.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	Writer       MessageWriter
	WriteTimeout time.Duration
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	zap.L().Info("Kafka producer configured", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return w
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{Writer: w, WriteTimeout: 10 * time.Second}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", key, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, p.WriteTimeout)
	defer cancel()
	if err := p.Writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("write event %s: %w", key, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.Writer.Close() }

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }
