package entities

import (
	"encoding/json"
	"time"
)

type LedgerEventType string

const (
	EventMarketCreated      LedgerEventType = "market_created"
	EventProposalAggregated LedgerEventType = "proposal_aggregated"
	EventMarketApproved     LedgerEventType = "market_approved"
	EventMarketActivated    LedgerEventType = "market_activated"
	EventResolutionProposed LedgerEventType = "resolution_proposed"
	EventDisputeInitiated   LedgerEventType = "dispute_initiated"
	EventDisputeAggregated  LedgerEventType = "dispute_aggregated"
	EventMarketFinalized    LedgerEventType = "market_finalized"
	EventMarketCancelled    LedgerEventType = "market_cancelled"
	EventPositionChanged    LedgerEventType = "position_changed"

	// EventUnknown tags payloads the indexer cannot decode. They are
	// persisted for audit and skipped, never a hard failure.
	EventUnknown LedgerEventType = "unknown"
)

// LedgerEvent is one persisted transaction notification. TxSignature is
// globally unique and enforces at-most-once application.
type LedgerEvent struct {
	TxSignature string
	Slot        uint64
	BlockTime   time.Time
	EventType   LedgerEventType
	MarketID    string
	Payload     json.RawMessage
	ProcessedAt time.Time
}

// Typed payloads for the event union. Decoding an unrecognized event_type
// yields EventUnknown instead of an ingestion error.

type MarketCreatedPayload struct {
	Creator string `json:"creator"`
}

type ProposalAggregatedPayload struct {
	Likes    uint64 `json:"likes"`
	Dislikes uint64 `json:"dislikes"`
	Approved bool   `json:"approved"`
}

type ResolutionProposedPayload struct {
	Resolver string `json:"resolver"`
	Outcome  bool   `json:"outcome"`
}

type DisputeInitiatedPayload struct {
	Initiator string `json:"initiator"`
}

type DisputeAggregatedPayload struct {
	Agrees           uint64 `json:"agrees"`
	Disagrees        uint64 `json:"disagrees"`
	DisputeSucceeded bool   `json:"dispute_succeeded"`
}

type MarketFinalizedPayload struct {
	Outcome bool `json:"outcome"`
}

type PositionChangedPayload struct {
	Owner     string `json:"owner"`
	SharesYes uint64 `json:"shares_yes"`
	SharesNo  uint64 `json:"shares_no"`
}

// KnownEventType reports whether the indexer understands event_type.
func KnownEventType(eventType LedgerEventType) bool {
	switch eventType {
	case EventMarketCreated, EventProposalAggregated, EventMarketApproved,
		EventMarketActivated, EventResolutionProposed, EventDisputeInitiated,
		EventDisputeAggregated, EventMarketFinalized, EventMarketCancelled,
		EventPositionChanged:
		return true
	default:
		return false
	}
}

// ReconciliationDiscrepancy is the audit row written whenever the sweep finds
// local state drifted from ledger truth.
type ReconciliationDiscrepancy struct {
	DiscrepancyID string
	MarketID      string
	LocalState    MarketState
	LedgerState   MarketState
	DetectedAt    time.Time
	ResolvedAt    *time.Time
}

// Lease is the per-market distributed lock. Acquire is a conditional write on
// resource_key; expired leases are reclaimable by any holder.
type Lease struct {
	ResourceKey string
	Holder      string
	ExpiresAt   time.Time
}
