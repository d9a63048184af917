package repository

import (
	"context"
	"fmt"

	"CryptoRelay/internal/domain/models"
)

// MessageProducer is the subset of pkg/kafka.Producer used here.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher ships ticks and hourly averages to Kafka, keyed by symbol.
type KafkaEventPublisher struct {
	producer      MessageProducer
	ticksTopic    string
	averagesTopic string
}

// NewKafkaEventPublisher creates a publisher. An empty topic disables that stream.
func NewKafkaEventPublisher(producer MessageProducer, ticksTopic, averagesTopic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, ticksTopic: ticksTopic, averagesTopic: averagesTopic}
}

func (p *KafkaEventPublisher) PublishTick(ctx context.Context, t models.PriceTick) error {
	if p.ticksTopic == "" {
		return nil
	}
	if err := p.producer.Publish(ctx, p.ticksTopic, []byte(t.Symbol), t); err != nil {
		return fmt.Errorf("publish tick %s: %w", t.Symbol, err)
	}
	return nil
}

func (p *KafkaEventPublisher) PublishAverage(ctx context.Context, avg models.HourlyAverage) error {
	if p.averagesTopic == "" {
		return nil
	}
	if err := p.producer.Publish(ctx, p.averagesTopic, []byte(avg.Symbol), avg); err != nil {
		return fmt.Errorf("publish average %s: %w", avg.Symbol, err)
	}
	return nil
}

// PublishMessage forwards a raw payload, used by the log collector.
func (p *KafkaEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

func (p *KafkaEventPublisher) Name() string { return "kafka" }

func (p *KafkaEventPublisher) HandleTick(ctx context.Context, t models.PriceTick) error {
	return p.PublishTick(ctx, t)
}

func (p *KafkaEventPublisher) HandleAverage(ctx context.Context, avg models.HourlyAverage) error {
	return p.PublishAverage(ctx, avg)
}
