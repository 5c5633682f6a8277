package workers

import (
	"context"
	"encoding/json"
	"time"

	"zmart/contexts/market-governance/ports"
)

// newGovernanceEnvelope builds canonical envelopes for worker-produced
// events, partitioned by market.
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

// leaseKey namespaces per-market leases in the shared lease table.
func leaseKey(marketID string) string {
	return "market:" + marketID
}

// leaseHolder tags every acquisition with a fresh ID. Two replicas running
// the same role must never share a holder string, or the conditional write
// treats the second acquisition as a re-entry.
func leaseHolder(ctx context.Context, idgen ports.IDGenerator, role string) (string, error) {
	id, err := idgen.NewID(ctx)
	if err != nil {
		return "", err
	}
	return role + "-" + id, nil
}
