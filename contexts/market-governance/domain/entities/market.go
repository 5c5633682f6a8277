package entities

import "time"

type MarketState string

const (
	MarketStateProposed  MarketState = "proposed"
	MarketStateApproved  MarketState = "approved"
	MarketStateActive    MarketState = "active"
	MarketStateResolving MarketState = "resolving"
	MarketStateDisputed  MarketState = "disputed"
	MarketStateFinalized MarketState = "finalized"
	MarketStateCancelled MarketState = "cancelled"
)

// transitions is the full lifecycle table. Anything not listed is rejected.
var transitions = map[MarketState][]MarketState{
	MarketStateProposed:  {MarketStateApproved, MarketStateCancelled},
	MarketStateApproved:  {MarketStateActive, MarketStateCancelled},
	MarketStateActive:    {MarketStateResolving},
	MarketStateResolving: {MarketStateDisputed, MarketStateFinalized},
	MarketStateDisputed:  {MarketStateFinalized},
}

func CanTransition(from MarketState, to MarketState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s MarketState) Terminal() bool {
	return s == MarketStateFinalized || s == MarketStateCancelled
}

func (s MarketState) Valid() bool {
	switch s {
	case MarketStateProposed, MarketStateApproved, MarketStateActive,
		MarketStateResolving, MarketStateDisputed, MarketStateFinalized,
		MarketStateCancelled:
		return true
	default:
		return false
	}
}

// Market mirrors the on-chain market account. The ledger owns State; the
// aggregator and monitor only write optimistic values that reconciliation may
// later correct.
type Market struct {
	MarketID string
	Creator  string
	State    MarketState

	// Slot is the ledger sequence marker of the last applied event. Events
	// with an older slot never regress local state.
	Slot uint64

	ProposedOutcome *bool
	FinalOutcome    *bool
	Resolver        string

	ProposalYes uint64
	ProposalNo  uint64
	DisputeYes  uint64
	DisputeNo   uint64

	CreatedAt            time.Time
	ApprovedAt           *time.Time
	ActivatedAt          *time.Time
	ResolutionProposedAt *time.Time
	DisputeInitiatedAt   *time.Time
	FinalizedAt          *time.Time
	CancelledAt          *time.Time
	UpdatedAt            time.Time
}

// Tally is a yes/no counter pair read from the tally store.
type Tally struct {
	Yes uint64
	No  uint64
}

func (t Tally) Total() uint64 {
	return t.Yes + t.No
}

// PercentageBps returns floor(yes*10000/total) in basis points. Zero total
// votes is 0 bps, never a division.
func (t Tally) PercentageBps() uint64 {
	total := t.Total()
	if total == 0 {
		return 0
	}
	return t.Yes * 10000 / total
}

// Position is a voter's share holding in one market, mirrored from ledger
// position accounts. Dispute vote weight is the total share size.
type Position struct {
	MarketID  string
	OwnerID   string
	SharesYes uint64
	SharesNo  uint64
	UpdatedAt time.Time
}

func (p Position) TotalShares() uint64 {
	return p.SharesYes + p.SharesNo
}
