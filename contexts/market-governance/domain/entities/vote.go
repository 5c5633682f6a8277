package entities

import "time"

type VoteType string

const (
	VoteTypeProposal VoteType = "proposal"
	VoteTypeDispute  VoteType = "dispute"
)

func (t VoteType) Valid() bool {
	return t == VoteTypeProposal || t == VoteTypeDispute
}

// EligibleState is the single market state in which votes of this type are
// accepted.
func (t VoteType) EligibleState() MarketState {
	if t == VoteTypeDispute {
		return MarketStateDisputed
	}
	return MarketStateProposed
}

// VoteRecord is one voter's ballot. Unique per (market, voter, vote type):
// one vote per voter per round.
type VoteRecord struct {
	MarketID string
	VoterID  string
	VoteType VoteType

	// Value semantics: proposal votes, true = approve the proposal; dispute
	// votes, true = support the dispute (the proposed resolution is wrong).
	Value bool

	// Weight is 1 for proposal votes and the voter's position size for
	// dispute votes.
	Weight  uint64
	VotedAt time.Time
}

// AggregationResult is an append-only audit row written on every sweep
// decision, including failed ledger submissions.
type AggregationResult struct {
	ResultID      string
	MarketID      string
	VoteType      VoteType
	YesCount      uint64
	NoCount       uint64
	PercentageBps uint64
	ThresholdBps  uint64
	ThresholdMet  bool

	// TxSignature is empty when the threshold was not met or every
	// submission attempt failed.
	TxSignature string
	CreatedAt   time.Time
}
