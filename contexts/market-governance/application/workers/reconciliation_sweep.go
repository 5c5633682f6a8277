package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	application "zmart/contexts/market-governance/application"
	"zmart/contexts/market-governance/domain/entities"
	"zmart/contexts/market-governance/ports"
)

// ReconciliationSweep compares every locally known market against the
// on-ledger account state. The ledger is authoritative: any divergence is
// recorded as a discrepancy, the local row is overwritten from the ledger
// snapshot, and an alert is raised.
type ReconciliationSweep struct {
	Markets       ports.MarketRepository
	Discrepancies ports.DiscrepancyRepository
	Ledger        ports.LedgerClient
	Alerts        ports.Alerter
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	Logger        *slog.Logger

	running atomic.Bool
}

func (s *ReconciliationSweep) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("reconciliation sweep still running, skipping cycle",
			"event", "governance_reconciliation_overlap_skipped",
			"module", "market-governance",
			"layer", "worker",
		)
		return nil
	}
	defer s.running.Store(false)

	markets, err := s.Markets.ListMarkets(ctx)
	if err != nil {
		logger.Error("reconciliation market listing failed",
			"event", "governance_reconciliation_list_failed",
			"module", "market-governance",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	checked := 0
	corrected := 0
	for _, market := range markets {
		fixed, err := s.reconcileMarket(ctx, market)
		if err != nil {
			logger.Error("reconciliation failed for market",
				"event", "governance_reconciliation_market_failed",
				"module", "market-governance",
				"layer", "worker",
				"market_id", market.MarketID,
				"error", err.Error(),
			)
			continue
		}
		checked++
		if fixed {
			corrected++
		}
	}

	logger.Info("reconciliation sweep completed",
		"event", "governance_reconciliation_completed",
		"module", "market-governance",
		"layer", "worker",
		"checked", checked,
		"corrected", corrected,
	)
	return nil
}

func (s *ReconciliationSweep) reconcileMarket(ctx context.Context, market entities.Market) (bool, error) {
	snapshot, err := s.Ledger.ReadMarketState(ctx, market.MarketID)
	if err != nil {
		return false, err
	}
	if snapshotMatches(market, snapshot) {
		return false, nil
	}

	now := s.now()
	discrepancyID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return false, err
	}
	// Correction happens in the same pass, so the row is born resolved.
	if err := s.Discrepancies.AppendDiscrepancy(ctx, entities.ReconciliationDiscrepancy{
		DiscrepancyID: discrepancyID,
		MarketID:      market.MarketID,
		LocalState:    market.State,
		LedgerState:   snapshot.State,
		DetectedAt:    now,
		ResolvedAt:    &now,
	}); err != nil {
		return false, err
	}

	corrected := applySnapshot(market, snapshot, now)
	if err := s.Markets.SaveMarket(ctx, corrected); err != nil {
		return false, err
	}

	application.ResolveLogger(s.Logger).Warn("market state corrected from ledger",
		"event", "governance_reconciliation_corrected",
		"module", "market-governance",
		"layer", "worker",
		"market_id", market.MarketID,
		"local_state", string(market.State),
		"ledger_state", string(snapshot.State),
	)
	s.raiseDriftAlert(ctx, market.MarketID, market.State, snapshot.State)
	return true, nil
}

func snapshotMatches(market entities.Market, snapshot ports.MarketSnapshot) bool {
	if market.State != snapshot.State {
		return false
	}
	if market.Slot != snapshot.Slot {
		return false
	}
	if !outcomeEqual(market.ProposedOutcome, snapshot.ProposedOutcome) {
		return false
	}
	if !outcomeEqual(market.FinalOutcome, snapshot.FinalOutcome) {
		return false
	}
	return market.ProposalYes == snapshot.ProposalYes &&
		market.ProposalNo == snapshot.ProposalNo &&
		market.DisputeYes == snapshot.DisputeYes &&
		market.DisputeNo == snapshot.DisputeNo
}

// applySnapshot overwrites the mutable fields of the local row with the
// ledger values. Local-only bookkeeping timestamps are kept when the ledger
// carries no equivalent.
func applySnapshot(market entities.Market, snapshot ports.MarketSnapshot, now time.Time) entities.Market {
	market.State = snapshot.State
	market.Slot = snapshot.Slot
	market.Creator = snapshot.Creator
	market.Resolver = snapshot.Resolver
	market.ProposedOutcome = snapshot.ProposedOutcome
	market.FinalOutcome = snapshot.FinalOutcome
	market.ProposalYes = snapshot.ProposalYes
	market.ProposalNo = snapshot.ProposalNo
	market.DisputeYes = snapshot.DisputeYes
	market.DisputeNo = snapshot.DisputeNo
	if snapshot.ResolutionProposedAt != nil {
		market.ResolutionProposedAt = snapshot.ResolutionProposedAt
	}
	if snapshot.DisputeInitiatedAt != nil {
		market.DisputeInitiatedAt = snapshot.DisputeInitiatedAt
	}
	if snapshot.FinalizedAt != nil {
		market.FinalizedAt = snapshot.FinalizedAt
	}
	market.UpdatedAt = now
	return market
}

func (s *ReconciliationSweep) raiseDriftAlert(ctx context.Context, marketID string, local entities.MarketState, ledger entities.MarketState) {
	if s.Alerts == nil {
		return
	}
	if err := s.Alerts.RaiseAlert(ctx, ports.Alert{
		Type:     "state_drift_detected",
		Severity: "high",
		Payload: map[string]any{
			"market_id":    marketID,
			"local_state":  string(local),
			"ledger_state": string(ledger),
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

func outcomeEqual(a *bool, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *ReconciliationSweep) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
