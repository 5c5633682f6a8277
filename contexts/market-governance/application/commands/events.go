package commands

import (
	"encoding/json"
	"time"

	"zmart/contexts/market-governance/ports"
)

// newGovernanceEnvelope builds canonical envelopes for command-side events.
// Events are partitioned by market for stable ordering on market-scoped
// subscribers.
func newGovernanceEnvelope(
	eventID string,
	eventType string,
	marketID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "market-governance",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "market_id",
		PartitionKey:     marketID,
		Data:             payload,
	}, nil
}
