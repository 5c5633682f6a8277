package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	application "zmart/contexts/market-governance/application"
	"zmart/contexts/market-governance/ports"
)

// OutboxRelay drains persisted outbox rows to the event bus. Rows are
// relayed oldest first and marked published only after the broker accepted
// them, so a crash between publish and mark at worst redelivers.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce relays one bounded batch. The first failing row aborts the cycle
// with everything after it left pending; per-market ordering would break if
// later rows jumped the queue.
func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)

	pending, err := r.Outbox.ListPendingOutbox(ctx, r.batchLimit())
	if err != nil {
		logger.Error("governance outbox list failed",
			"event", "governance_outbox_list_failed",
			"module", "market-governance",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	published := 0
	for _, row := range pending {
		if err := r.relayRow(ctx, row); err != nil {
			logger.Error("governance outbox relay aborted",
				"event", "governance_outbox_relay_failed",
				"module", "market-governance",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"published_count", published,
				"pending_count", len(pending)-published,
				"error", err.Error(),
			)
			return err
		}
		published++
	}

	logger.Info("governance outbox relay cycle completed",
		"event", "governance_outbox_relay_completed",
		"module", "market-governance",
		"layer", "worker",
		"published_count", published,
	)
	return nil
}

func (r OutboxRelay) relayRow(ctx context.Context, row ports.OutboxMessage) error {
	event, topic, err := decodeOutboxRow(row)
	if err != nil {
		return err
	}
	if err := r.Publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish event %s: %w", event.EventID, err)
	}
	if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, r.now()); err != nil {
		return fmt.Errorf("mark outbox row %s published: %w", row.OutboxID, err)
	}
	return nil
}

// decodeOutboxRow rebuilds the envelope from the stored payload. The row's
// own event type is the topic fallback for envelopes whose payload omits it.
func decodeOutboxRow(row ports.OutboxMessage) (ports.EventEnvelope, string, error) {
	var event ports.EventEnvelope
	if err := json.Unmarshal(row.Payload, &event); err != nil {
		return ports.EventEnvelope{}, "", fmt.Errorf("decode outbox row %s: %w", row.OutboxID, err)
	}
	topic := event.EventType
	if topic == "" {
		topic = row.EventType
	}
	return event, topic, nil
}

func (r OutboxRelay) batchLimit() int {
	if r.BatchSize > 0 {
		return r.BatchSize
	}
	return 100
}

func (r OutboxRelay) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
