package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "zmart/contexts/market-governance/application"
	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"
)

// SubmitVoteCommand is the write-model input for vote submission.
type SubmitVoteCommand struct {
	MarketID string
	VoterID  string
	VoteType entities.VoteType
	Value    bool
}

// SubmitVoteResult returns the persisted record and the updated cached tally.
type SubmitVoteResult struct {
	Record entities.VoteRecord
	Tally  entities.Tally
}

// VoteUseCase accepts votes for the aggregator: eligibility checks, the
// one-vote-per-voter invariant, durable persistence, and tally cache updates.
type VoteUseCase struct {
	Markets   ports.MarketRepository
	Votes     ports.VoteRepository
	Positions ports.PositionRepository
	Tallies   ports.TallyStore
	Outbox    ports.OutboxWriter
	Clock     ports.Clock
	IDGen     ports.IDGenerator

	// VotingWindow bounds the tally cache TTL; counters expire with the
	// voting round they belong to.
	VotingWindow time.Duration
	Logger       *slog.Logger
}

// SubmitVote validates market and voter eligibility, persists the VoteRecord
// and atomically increments the tally counters. A duplicate
// (market, voter, vote type) is rejected with ErrDuplicateVote; the unique
// constraint in the durable store is the authoritative guard, the tally dedup
// set only keeps the cache honest.
func (uc VoteUseCase) SubmitVote(ctx context.Context, cmd SubmitVoteCommand) (SubmitVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	marketID := strings.TrimSpace(cmd.MarketID)
	voterID := strings.TrimSpace(cmd.VoterID)
	if marketID == "" || voterID == "" || !cmd.VoteType.Valid() {
		logger.Warn("vote submission validation failed",
			"event", "governance_vote_validation_failed",
			"module", "market-governance",
			"layer", "application",
			"market_id", marketID,
			"voter_id", voterID,
			"vote_type", string(cmd.VoteType),
		)
		return SubmitVoteResult{}, domainerrors.ErrInvalidVoteInput
	}

	market, err := uc.Markets.GetMarket(ctx, marketID)
	if err != nil {
		return SubmitVoteResult{}, err
	}
	if market.State != cmd.VoteType.EligibleState() {
		logger.Warn("vote rejected for market state",
			"event", "governance_vote_state_rejected",
			"module", "market-governance",
			"layer", "application",
			"market_id", marketID,
			"market_state", string(market.State),
			"vote_type", string(cmd.VoteType),
		)
		return SubmitVoteResult{}, domainerrors.ErrInvalidMarketState
	}

	weight, err := uc.resolveWeight(ctx, marketID, voterID, cmd.VoteType)
	if err != nil {
		return SubmitVoteResult{}, err
	}

	now := uc.now()
	record := entities.VoteRecord{
		MarketID: marketID,
		VoterID:  voterID,
		VoteType: cmd.VoteType,
		Value:    cmd.Value,
		Weight:   weight,
		VotedAt:  now,
	}
	if err := uc.Votes.InsertVoteRecord(ctx, record); err != nil {
		return SubmitVoteResult{}, err
	}

	tally, err := uc.applyTally(ctx, record)
	if err != nil {
		// The durable record exists; the cache drift will be corrected by
		// the aggregation sweep reading durable counts as fallback.
		logger.Error("tally cache update failed after durable insert",
			"event", "governance_vote_tally_update_failed",
			"module", "market-governance",
			"layer", "application",
			"market_id", marketID,
			"voter_id", voterID,
			"error", err.Error(),
		)
		return SubmitVoteResult{}, err
	}

	if err := uc.appendTallyEvent(ctx, record, tally, now); err != nil {
		return SubmitVoteResult{}, err
	}

	logger.Info("vote accepted",
		"event", "governance_vote_accepted",
		"module", "market-governance",
		"layer", "application",
		"market_id", marketID,
		"voter_id", voterID,
		"vote_type", string(cmd.VoteType),
		"value", cmd.Value,
		"weight", weight,
		"tally_yes", tally.Yes,
		"tally_no", tally.No,
	)
	return SubmitVoteResult{Record: record, Tally: tally}, nil
}

func (uc VoteUseCase) resolveWeight(
	ctx context.Context,
	marketID string,
	voterID string,
	voteType entities.VoteType,
) (uint64, error) {
	if voteType == entities.VoteTypeProposal {
		return 1, nil
	}
	// Dispute weight is the voter's live position size at submission time.
	position, found, err := uc.Positions.GetPosition(ctx, marketID, voterID)
	if err != nil {
		return 0, err
	}
	if !found || position.TotalShares() == 0 {
		return 0, domainerrors.ErrVoterNotEligible
	}
	return position.TotalShares(), nil
}

func (uc VoteUseCase) applyTally(ctx context.Context, record entities.VoteRecord) (entities.Tally, error) {
	ttl := uc.VotingWindow
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	added, err := uc.Tallies.AddVoter(ctx, record.MarketID, record.VoteType, record.VoterID, ttl)
	if err != nil {
		return entities.Tally{}, err
	}
	if !added {
		// Cached set already counted this voter; read instead of double
		// incrementing.
		return uc.Tallies.ReadTally(ctx, record.MarketID, record.VoteType)
	}
	return uc.Tallies.IncrTally(ctx, record.MarketID, record.VoteType, record.Value, record.Weight, ttl)
}

func (uc VoteUseCase) appendTallyEvent(
	ctx context.Context,
	record entities.VoteRecord,
	tally entities.Tally,
	occurredAt time.Time,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newGovernanceEnvelope(eventID, "tally_updated", record.MarketID, occurredAt, map[string]any{
		"market_id": record.MarketID,
		"vote_type": string(record.VoteType),
		"yes":       tally.Yes,
		"no":        tally.No,
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc VoteUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}
