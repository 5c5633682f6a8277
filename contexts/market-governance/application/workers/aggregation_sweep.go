package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	application "zmart/contexts/market-governance/application"
	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"
)

// AggregationSweep tallies outstanding votes for one vote type and submits
// the aggregate instruction when the threshold is reached. Proposal and
// dispute instances run on offset schedules; each guards against overlapping
// with itself, and every market is processed under its own lease so a slow
// ledger call for one market never blocks the others.
type AggregationSweep struct {
	VoteType entities.VoteType
	Markets  ports.MarketRepository
	Votes    ports.VoteRepository
	Tallies  ports.TallyStore
	Leases   ports.LeaseStore
	Ledger   ports.LedgerClient
	Results  ports.ResultRepository
	Outbox   ports.OutboxWriter
	Alerts   ports.Alerter
	Clock    ports.Clock
	IDGen    ports.IDGenerator

	ThresholdBps uint64
	LeaseTTL     time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	Program      string
	Authority    string
	Logger       *slog.Logger

	running atomic.Bool
}

// RunOnce processes every market in the eligible state. A failure on one
// market is logged and never aborts the rest of the sweep.
func (s *AggregationSweep) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("aggregation sweep still running, skipping cycle",
			"event", "governance_aggregation_overlap_skipped",
			"module", "market-governance",
			"layer", "worker",
			"vote_type", string(s.VoteType),
		)
		return nil
	}
	defer s.running.Store(false)

	markets, err := s.Markets.ListMarketsByState(ctx, s.VoteType.EligibleState())
	if err != nil {
		logger.Error("aggregation sweep market listing failed",
			"event", "governance_aggregation_list_failed",
			"module", "market-governance",
			"layer", "worker",
			"vote_type", string(s.VoteType),
			"error", err.Error(),
		)
		return err
	}

	for _, market := range markets {
		if err := s.processMarket(ctx, market); err != nil {
			logger.Error("aggregation failed for market",
				"event", "governance_aggregation_market_failed",
				"module", "market-governance",
				"layer", "worker",
				"vote_type", string(s.VoteType),
				"market_id", market.MarketID,
				"error", err.Error(),
			)
		}
	}
	return nil
}

func (s *AggregationSweep) processMarket(ctx context.Context, market entities.Market) error {
	logger := application.ResolveLogger(s.Logger)
	holder, err := leaseHolder(ctx, s.IDGen, "aggregation-"+string(s.VoteType))
	if err != nil {
		return err
	}

	acquired, err := s.Leases.AcquireLease(ctx, leaseKey(market.MarketID), holder, s.leaseTTL())
	if err != nil {
		return err
	}
	if !acquired {
		// Contention is benign: another worker owns this market right now.
		logger.Debug("market lease held, skipping",
			"event", "governance_aggregation_lease_skipped",
			"module", "market-governance",
			"layer", "worker",
			"market_id", market.MarketID,
		)
		return nil
	}
	defer func() {
		if err := s.Leases.ReleaseLease(ctx, leaseKey(market.MarketID), holder); err != nil {
			logger.Warn("lease release failed",
				"event", "governance_lease_release_failed",
				"module", "market-governance",
				"layer", "worker",
				"market_id", market.MarketID,
				"error", err.Error(),
			)
		}
	}()

	tally, err := s.readTally(ctx, market.MarketID)
	if err != nil {
		return err
	}
	if tally.Total() == 0 {
		return nil
	}

	now := s.now()
	bps := tally.PercentageBps()
	met := bps >= s.ThresholdBps

	resultID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	result := entities.AggregationResult{
		ResultID:      resultID,
		MarketID:      market.MarketID,
		VoteType:      s.VoteType,
		YesCount:      tally.Yes,
		NoCount:       tally.No,
		PercentageBps: bps,
		ThresholdBps:  s.ThresholdBps,
		ThresholdMet:  met,
		CreatedAt:     now,
	}

	if !met {
		logger.Info("threshold not met, audit recorded",
			"event", "governance_aggregation_below_threshold",
			"module", "market-governance",
			"layer", "worker",
			"vote_type", string(s.VoteType),
			"market_id", market.MarketID,
			"percentage_bps", bps,
			"threshold_bps", s.ThresholdBps,
		)
		return s.Results.AppendAggregationResult(ctx, result)
	}

	signature, err := s.submitWithRetry(ctx, market, tally)
	if err != nil {
		// No silent failures: the attempt is persisted without a signature
		// and escalated.
		if appendErr := s.Results.AppendAggregationResult(ctx, result); appendErr != nil {
			return appendErr
		}
		s.raiseAlert(ctx, market.MarketID, err)
		return nil
	}
	result.TxSignature = signature
	if err := s.Results.AppendAggregationResult(ctx, result); err != nil {
		return err
	}

	previous := market.State
	s.advanceMarket(&market, tally, now)
	if err := s.Markets.SaveMarket(ctx, market); err != nil {
		return err
	}

	logger.Info("aggregate instruction submitted",
		"event", "governance_aggregation_submitted",
		"module", "market-governance",
		"layer", "worker",
		"vote_type", string(s.VoteType),
		"market_id", market.MarketID,
		"percentage_bps", bps,
		"tx_signature", signature,
		"from", string(previous),
		"to", string(market.State),
	)
	return s.publishStateChange(ctx, market, previous, signature, now)
}

// readTally prefers the cache and falls back to durable counts when the
// cached entry expired with the voting window.
func (s *AggregationSweep) readTally(ctx context.Context, marketID string) (entities.Tally, error) {
	tally, err := s.Tallies.ReadTally(ctx, marketID, s.VoteType)
	if err == nil && tally.Total() > 0 {
		return tally, nil
	}
	if err != nil {
		application.ResolveLogger(s.Logger).Warn("tally cache read failed, using durable counts",
			"event", "governance_aggregation_cache_miss",
			"module", "market-governance",
			"layer", "worker",
			"market_id", marketID,
			"error", err.Error(),
		)
	}
	return s.Votes.CountVotes(ctx, marketID, s.VoteType)
}

func (s *AggregationSweep) submitWithRetry(
	ctx context.Context,
	market entities.Market,
	tally entities.Tally,
) (string, error) {
	logger := application.ResolveLogger(s.Logger)
	ix := s.buildInstruction(market, tally)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts(); attempt++ {
		signature, err := s.Ledger.SubmitInstruction(ctx, ix)
		if err == nil {
			return signature, nil
		}
		lastErr = err
		if errors.Is(err, domainerrors.ErrPersistentLedger) {
			logger.Error("persistent ledger error, not retrying",
				"event", "governance_aggregation_persistent_failure",
				"module", "market-governance",
				"layer", "worker",
				"market_id", market.MarketID,
				"error", err.Error(),
			)
			return "", err
		}
		logger.Warn("ledger submission failed",
			"event", "governance_aggregation_submit_retry",
			"module", "market-governance",
			"layer", "worker",
			"market_id", market.MarketID,
			"attempt", attempt,
			"error", err.Error(),
		)
		if attempt < s.maxAttempts() {
			if err := sleepBackoff(ctx, s.backoffBase(), attempt); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

func (s *AggregationSweep) buildInstruction(market entities.Market, tally entities.Tally) ports.LedgerInstruction {
	instruction := "aggregate_proposal_votes"
	args := map[string]any{
		"final_likes":    tally.Yes,
		"final_dislikes": tally.No,
	}
	if s.VoteType == entities.VoteTypeDispute {
		instruction = "aggregate_dispute_votes"
		args = map[string]any{
			"final_agrees":    tally.Yes,
			"final_disagrees": tally.No,
		}
	}
	return ports.LedgerInstruction{
		Program:     s.Program,
		Instruction: instruction,
		MarketID:    market.MarketID,
		Authority:   s.Authority,
		Args:        args,
	}
}

// advanceMarket writes the optimistic state the ledger call implies; the
// reconciliation sweep corrects it if the ledger disagrees.
func (s *AggregationSweep) advanceMarket(market *entities.Market, tally entities.Tally, now time.Time) {
	if s.VoteType == entities.VoteTypeProposal {
		market.ProposalYes = tally.Yes
		market.ProposalNo = tally.No
		market.State = entities.MarketStateApproved
		market.ApprovedAt = &now
	} else {
		// Dispute succeeded: the proposed resolution was wrong, so the
		// finalized outcome is its inverse.
		market.DisputeYes = tally.Yes
		market.DisputeNo = tally.No
		market.State = entities.MarketStateFinalized
		market.FinalizedAt = &now
		if market.ProposedOutcome != nil {
			flipped := !*market.ProposedOutcome
			market.FinalOutcome = &flipped
		}
	}
	market.UpdatedAt = now
}

func (s *AggregationSweep) publishStateChange(
	ctx context.Context,
	market entities.Market,
	previous entities.MarketState,
	signature string,
	occurredAt time.Time,
) error {
	if s.Outbox == nil {
		return nil
	}
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newGovernanceEnvelope(eventID, "entity_state_changed", market.MarketID, occurredAt, map[string]any{
		"market_id":      market.MarketID,
		"previous_state": string(previous),
		"state":          string(market.State),
		"tx_signature":   signature,
		"source":         "aggregator",
	})
	if err != nil {
		return err
	}
	return s.Outbox.AppendOutbox(ctx, envelope)
}

func (s *AggregationSweep) raiseAlert(ctx context.Context, marketID string, cause error) {
	if s.Alerts == nil {
		return
	}
	if err := s.Alerts.RaiseAlert(ctx, ports.Alert{
		Type:     "aggregation_submission_failed",
		Severity: "high",
		Payload: map[string]any{
			"market_id": marketID,
			"vote_type": string(s.VoteType),
			"error":     cause.Error(),
		},
	}); err != nil {
		application.ResolveLogger(s.Logger).Warn("alert delivery failed",
			"event", "governance_alert_delivery_failed",
			"module", "market-governance",
			"layer", "worker",
			"market_id", marketID,
			"error", err.Error(),
		)
	}
}

func (s *AggregationSweep) leaseTTL() time.Duration {
	if s.LeaseTTL <= 0 {
		return 30 * time.Second
	}
	return s.LeaseTTL
}

func (s *AggregationSweep) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return 3
	}
	return s.MaxAttempts
}

func (s *AggregationSweep) backoffBase() time.Duration {
	if s.BackoffBase <= 0 {
		return 500 * time.Millisecond
	}
	return s.BackoffBase
}

func (s *AggregationSweep) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

// sleepBackoff waits base*2^(attempt-1), aborting early on context
// cancellation.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
