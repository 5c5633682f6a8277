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

// LifecycleSweep drives time-triggered transitions of the market state
// machine: Resolving markets finalize after the resolution delay, Disputed
// markets finalize when the dispute window lapses. Ledger calls go through
// the circuit breaker; markets with no progress for the stuck window are
// flagged without mutation.
type LifecycleSweep struct {
	Markets ports.MarketRepository
	Votes   ports.VoteRepository
	Leases  ports.LeaseStore
	Ledger  ports.LedgerClient
	Breaker *CircuitBreaker
	Outbox  ports.OutboxWriter
	Alerts  ports.Alerter
	Clock   ports.Clock
	IDGen   ports.IDGenerator

	ResolutionDelay time.Duration
	DisputeWindow   time.Duration
	StuckWindow     time.Duration
	LeaseTTL        time.Duration
	Program         string
	Authority       string
	Logger          *slog.Logger

	running atomic.Bool
}

func (s *LifecycleSweep) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("lifecycle sweep still running, skipping cycle",
			"event", "governance_lifecycle_overlap_skipped",
			"module", "market-governance",
			"layer", "worker",
		)
		return nil
	}
	defer s.running.Store(false)

	markets, err := s.Markets.ListMarketsByState(ctx,
		entities.MarketStateProposed,
		entities.MarketStateApproved,
		entities.MarketStateActive,
		entities.MarketStateResolving,
		entities.MarketStateDisputed,
	)
	if err != nil {
		logger.Error("lifecycle sweep market listing failed",
			"event", "governance_lifecycle_list_failed",
			"module", "market-governance",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	now := s.now()
	for _, market := range markets {
		if err := s.processMarket(ctx, market, now); err != nil {
			logger.Error("lifecycle processing failed for market",
				"event", "governance_lifecycle_market_failed",
				"module", "market-governance",
				"layer", "worker",
				"market_id", market.MarketID,
				"error", err.Error(),
			)
		}
	}
	return nil
}

func (s *LifecycleSweep) processMarket(ctx context.Context, market entities.Market, now time.Time) error {
	outcome, due, err := s.evaluateGuard(ctx, market, now)
	if err != nil {
		return err
	}
	if !due {
		s.checkStuck(ctx, market, now)
		return nil
	}
	return s.finalizeMarket(ctx, market, outcome, now)
}

// evaluateGuard returns the outcome to finalize with when a time guard is
// satisfied: the proposed outcome for lapsed resolutions, the dispute-vote
// majority for lapsed disputes (ties and zero votes leave the proposed
// outcome standing).
func (s *LifecycleSweep) evaluateGuard(
	ctx context.Context,
	market entities.Market,
	now time.Time,
) (*bool, bool, error) {
	switch market.State {
	case entities.MarketStateResolving:
		if market.ResolutionProposedAt == nil {
			return nil, false, nil
		}
		if now.Sub(market.ResolutionProposedAt.UTC()) < s.ResolutionDelay {
			return nil, false, nil
		}
		return market.ProposedOutcome, true, nil
	case entities.MarketStateDisputed:
		if market.DisputeInitiatedAt == nil {
			return nil, false, nil
		}
		if now.Sub(market.DisputeInitiatedAt.UTC()) < s.DisputeWindow {
			return nil, false, nil
		}
		tally, err := s.Votes.CountVotes(ctx, market.MarketID, entities.VoteTypeDispute)
		if err != nil {
			return nil, false, err
		}
		if tally.Yes > tally.No && market.ProposedOutcome != nil {
			flipped := !*market.ProposedOutcome
			return &flipped, true, nil
		}
		return market.ProposedOutcome, true, nil
	default:
		return nil, false, nil
	}
}

func (s *LifecycleSweep) finalizeMarket(
	ctx context.Context,
	market entities.Market,
	outcome *bool,
	now time.Time,
) error {
	logger := application.ResolveLogger(s.Logger)
	holder, err := leaseHolder(ctx, s.IDGen, "lifecycle-monitor")
	if err != nil {
		return err
	}

	acquired, err := s.Leases.AcquireLease(ctx, leaseKey(market.MarketID), holder, s.leaseTTL())
	if err != nil {
		return err
	}
	if !acquired {
		logger.Debug("market lease held, skipping",
			"event", "governance_lifecycle_lease_skipped",
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

	args := map[string]any{}
	if outcome != nil {
		args["outcome"] = *outcome
	}
	var signature string
	err = s.Breaker.Execute(ctx, func(ctx context.Context) error {
		var submitErr error
		signature, submitErr = s.Ledger.SubmitInstruction(ctx, ports.LedgerInstruction{
			Program:     s.Program,
			Instruction: "finalize_market",
			MarketID:    market.MarketID,
			Authority:   s.Authority,
			Args:        args,
		})
		return submitErr
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrBreakerOpen) {
			// Short-circuited without a network attempt; escalate instead
			// of retrying while the ledger path is failing.
			s.raiseAlert(ctx, "finalization_short_circuited", "high", market.MarketID, err)
			return nil
		}
		s.raiseAlert(ctx, "finalization_ledger_failed", "high", market.MarketID, err)
		return err
	}

	previous := market.State
	market.State = entities.MarketStateFinalized
	market.FinalOutcome = outcome
	market.FinalizedAt = &now
	market.UpdatedAt = now
	if err := s.Markets.SaveMarket(ctx, market); err != nil {
		return err
	}

	logger.Info("market finalized",
		"event", "governance_lifecycle_finalized",
		"module", "market-governance",
		"layer", "worker",
		"market_id", market.MarketID,
		"from", string(previous),
		"tx_signature", signature,
	)
	return s.publishStateChange(ctx, market, previous, signature, now)
}

func (s *LifecycleSweep) checkStuck(ctx context.Context, market entities.Market, now time.Time) {
	if s.StuckWindow <= 0 || now.Sub(market.UpdatedAt.UTC()) < s.StuckWindow {
		return
	}
	application.ResolveLogger(s.Logger).Warn("market stuck without lifecycle progress",
		"event", "governance_lifecycle_stuck_market",
		"module", "market-governance",
		"layer", "worker",
		"market_id", market.MarketID,
		"state", string(market.State),
		"last_update", market.UpdatedAt.UTC().Format(time.RFC3339),
	)
	s.raiseAlert(ctx, "stuck_market", "medium", market.MarketID, nil)
}

func (s *LifecycleSweep) publishStateChange(
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
		"source":         "monitor",
	})
	if err != nil {
		return err
	}
	return s.Outbox.AppendOutbox(ctx, envelope)
}

func (s *LifecycleSweep) raiseAlert(ctx context.Context, alertType string, severity string, marketID string, cause error) {
	if s.Alerts == nil {
		return
	}
	payload := map[string]any{"market_id": marketID}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	if err := s.Alerts.RaiseAlert(ctx, ports.Alert{
		Type:     alertType,
		Severity: severity,
		Payload:  payload,
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

func (s *LifecycleSweep) leaseTTL() time.Duration {
	if s.LeaseTTL <= 0 {
		return 30 * time.Second
	}
	return s.LeaseTTL
}

func (s *LifecycleSweep) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
