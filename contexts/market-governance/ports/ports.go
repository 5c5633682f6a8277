package ports

import (
	"context"
	"encoding/json"
	"time"

	"zmart/contexts/market-governance/domain/entities"
)

type MarketRepository interface {
	SaveMarket(ctx context.Context, market entities.Market) error
	GetMarket(ctx context.Context, marketID string) (entities.Market, error)
	ListMarketsByState(ctx context.Context, states ...entities.MarketState) ([]entities.Market, error)
	ListMarkets(ctx context.Context) ([]entities.Market, error)
}

type VoteRepository interface {
	// InsertVoteRecord fails with ErrDuplicateVote when a record for
	// (market, voter, vote type) already exists.
	InsertVoteRecord(ctx context.Context, record entities.VoteRecord) error
	CountVotes(ctx context.Context, marketID string, voteType entities.VoteType) (entities.Tally, error)
	ListVotesByMarket(ctx context.Context, marketID string, voteType entities.VoteType) ([]entities.VoteRecord, error)
}

type ResultRepository interface {
	AppendAggregationResult(ctx context.Context, result entities.AggregationResult) error
	ListResultsByMarket(ctx context.Context, marketID string) ([]entities.AggregationResult, error)
}

type EventRepository interface {
	// InsertLedgerEvent returns false when the transaction signature is
	// already recorded, which makes redelivery a no-op.
	InsertLedgerEvent(ctx context.Context, event entities.LedgerEvent) (bool, error)
	GetLedgerEvent(ctx context.Context, txSignature string) (entities.LedgerEvent, error)
}

type DiscrepancyRepository interface {
	AppendDiscrepancy(ctx context.Context, discrepancy entities.ReconciliationDiscrepancy) error
}

type PositionRepository interface {
	SavePosition(ctx context.Context, position entities.Position) error
	GetPosition(ctx context.Context, marketID string, ownerID string) (entities.Position, bool, error)
}

// LeaseStore is the per-market distributed lock. AcquireLease is a
// conditional write: it returns false on contention and reclaims leases whose
// TTL has lapsed.
type LeaseStore interface {
	AcquireLease(ctx context.Context, resourceKey string, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, resourceKey string, holder string) error
}

// TallyStore is the low-durability counter cache. It supports concurrent
// atomic increments and is never treated as authoritative.
type TallyStore interface {
	// AddVoter adds the voter to the dedup set, returning false when the
	// voter was already present.
	AddVoter(ctx context.Context, marketID string, voteType entities.VoteType, voterID string, ttl time.Duration) (bool, error)
	// IncrTally adds the vote's full stake weight to the chosen side so
	// cached counters agree with the durable weighted sums.
	IncrTally(ctx context.Context, marketID string, voteType entities.VoteType, value bool, weight uint64, ttl time.Duration) (entities.Tally, error)
	ReadTally(ctx context.Context, marketID string, voteType entities.VoteType) (entities.Tally, error)
}

// LedgerInstruction describes one signed program call.
type LedgerInstruction struct {
	Program     string
	Instruction string
	MarketID    string
	Authority   string
	Args        map[string]any
}

// MarketSnapshot is the canonical account state read straight from the
// ledger, bypassing accumulated events.
type MarketSnapshot struct {
	MarketID             string
	State                entities.MarketState
	Slot                 uint64
	Creator              string
	Resolver             string
	ProposedOutcome      *bool
	FinalOutcome         *bool
	ProposalYes          uint64
	ProposalNo           uint64
	DisputeYes           uint64
	DisputeNo            uint64
	ResolutionProposedAt *time.Time
	DisputeInitiatedAt   *time.Time
	FinalizedAt          *time.Time
}

type LedgerClient interface {
	SubmitInstruction(ctx context.Context, ix LedgerInstruction) (string, error)
	ReadMarketState(ctx context.Context, marketID string) (MarketSnapshot, error)
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type Alert struct {
	Type     string
	Severity string
	Payload  map[string]any
}

// Alerter delivers fire-and-forget pages to the external notification
// collaborator. Callers log delivery failures and move on.
type Alerter interface {
	RaiseAlert(ctx context.Context, alert Alert) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
