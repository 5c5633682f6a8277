// Package messaging carries governance events from the outbox relay toward
// the broker.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"zmart/contexts/market-governance/ports"
)

// Sink receives every published event. Downstream consumers register one at
// construction; the external Kafka producer lands behind this signature.
type Sink func(ctx context.Context, topic string, event ports.EventEnvelope) error

// Producer is the broker-facing publish surface used by the outbox relay.
// Publishing is synchronous: the relay marks an outbox row published only
// after every sink accepted the event, so a failing sink keeps the row
// pending for the next cycle.
type Producer struct {
	mu        sync.Mutex
	logger    *slog.Logger
	sinks     []Sink
	published map[string]uint64
}

func NewProducer(sinks []Sink, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		logger:    logger,
		sinks:     sinks,
		published: make(map[string]uint64),
	}
}

func (p *Producer) Publish(ctx context.Context, topic string, event ports.EventEnvelope) error {
	if topic == "" {
		return errors.New("publish topic is required")
	}
	if event.EventID == "" || event.EventType == "" {
		return errors.New("event id and type are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, sink := range p.sinks {
		if err := sink(ctx, topic, event); err != nil {
			p.logger.Error("event delivery failed",
				"event", "messaging_publish_failed",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"event_id", event.EventID,
				"event_type", event.EventType,
				"error", err.Error(),
			)
			return err
		}
	}

	p.mu.Lock()
	p.published[topic]++
	count := p.published[topic]
	p.mu.Unlock()

	p.logger.Info("event published",
		"event", "messaging_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"partition_key", event.PartitionKey,
		"topic_total", count,
	)
	return nil
}

// PublishedCount reports how many events went out on a topic since startup.
func (p *Producer) PublishedCount(topic string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[topic]
}

var _ ports.EventPublisher = (*Producer)(nil)
