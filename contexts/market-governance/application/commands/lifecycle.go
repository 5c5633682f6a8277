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

// LifecycleUseCase exposes the externally triggered transitions: manual
// activation, administrative cancellation and oracle resolution proposals.
// Each submits the matching ledger instruction and writes an optimistic local
// update that reconciliation will correct if the ledger disagrees.
type LifecycleUseCase struct {
	Markets  ports.MarketRepository
	Leases   ports.LeaseStore
	Ledger   ports.LedgerClient
	Outbox   ports.OutboxWriter
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	LeaseTTL time.Duration

	Program   string
	Authority string
	Logger    *slog.Logger
}

// ActivateMarket transitions Approved to Active.
func (uc LifecycleUseCase) ActivateMarket(ctx context.Context, marketID string, actorID string) error {
	return uc.transition(ctx, marketID, entities.MarketStateActive, "activate_market",
		map[string]any{"actor": strings.TrimSpace(actorID)},
		func(market *entities.Market, now time.Time) {
			market.ActivatedAt = &now
		},
	)
}

// CancelMarket transitions Proposed or Approved to Cancelled.
func (uc LifecycleUseCase) CancelMarket(ctx context.Context, marketID string, actorID string) error {
	return uc.transition(ctx, marketID, entities.MarketStateCancelled, "cancel_market",
		map[string]any{"actor": strings.TrimSpace(actorID)},
		func(market *entities.Market, now time.Time) {
			market.CancelledAt = &now
		},
	)
}

// ProposeResolution transitions Active to Resolving with the resolver's
// proposed outcome; the resolution delay starts counting from here.
func (uc LifecycleUseCase) ProposeResolution(
	ctx context.Context,
	marketID string,
	resolverID string,
	outcome bool,
) error {
	resolver := strings.TrimSpace(resolverID)
	if resolver == "" {
		return domainerrors.ErrInvalidVoteInput
	}
	return uc.transition(ctx, marketID, entities.MarketStateResolving, "resolve_market",
		map[string]any{"resolver": resolver, "outcome": outcome},
		func(market *entities.Market, now time.Time) {
			market.Resolver = resolver
			market.ProposedOutcome = &outcome
			market.ResolutionProposedAt = &now
		},
	)
}

func (uc LifecycleUseCase) transition(
	ctx context.Context,
	marketID string,
	to entities.MarketState,
	instruction string,
	args map[string]any,
	mutate func(*entities.Market, time.Time),
) error {
	logger := application.ResolveLogger(uc.Logger)
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return domainerrors.ErrMarketNotFound
	}

	// The holder carries a fresh ID so two API replicas issuing the same
	// command never pass the lease check at once.
	holderID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	holder := "lifecycle-command-" + holderID

	acquired, err := uc.Leases.AcquireLease(ctx, leaseKey(marketID), holder, uc.leaseTTL())
	if err != nil {
		return err
	}
	if !acquired {
		return domainerrors.ErrLeaseHeld
	}
	defer func() {
		if err := uc.Leases.ReleaseLease(ctx, leaseKey(marketID), holder); err != nil {
			logger.Warn("lease release failed",
				"event", "governance_lease_release_failed",
				"module", "market-governance",
				"layer", "application",
				"market_id", marketID,
				"error", err.Error(),
			)
		}
	}()

	market, err := uc.Markets.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if !entities.CanTransition(market.State, to) {
		logger.Warn("lifecycle transition rejected",
			"event", "governance_transition_rejected",
			"module", "market-governance",
			"layer", "application",
			"market_id", marketID,
			"from", string(market.State),
			"to", string(to),
		)
		return domainerrors.ErrInvalidTransition
	}

	signature, err := uc.Ledger.SubmitInstruction(ctx, ports.LedgerInstruction{
		Program:     uc.Program,
		Instruction: instruction,
		MarketID:    marketID,
		Authority:   uc.Authority,
		Args:        args,
	})
	if err != nil {
		logger.Error("lifecycle ledger call failed",
			"event", "governance_transition_ledger_failed",
			"module", "market-governance",
			"layer", "application",
			"market_id", marketID,
			"instruction", instruction,
			"error", err.Error(),
		)
		return err
	}

	now := uc.now()
	previous := market.State
	market.State = to
	market.UpdatedAt = now
	mutate(&market, now)
	if err := uc.Markets.SaveMarket(ctx, market); err != nil {
		return err
	}

	if err := uc.appendStateEvent(ctx, market, previous, signature, now); err != nil {
		return err
	}

	logger.Info("lifecycle transition applied",
		"event", "governance_transition_applied",
		"module", "market-governance",
		"layer", "application",
		"market_id", marketID,
		"from", string(previous),
		"to", string(to),
		"tx_signature", signature,
	)
	return nil
}

func (uc LifecycleUseCase) appendStateEvent(
	ctx context.Context,
	market entities.Market,
	previous entities.MarketState,
	signature string,
	occurredAt time.Time,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newGovernanceEnvelope(eventID, "entity_state_changed", market.MarketID, occurredAt, map[string]any{
		"market_id":      market.MarketID,
		"previous_state": string(previous),
		"state":          string(market.State),
		"tx_signature":   signature,
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc LifecycleUseCase) leaseTTL() time.Duration {
	if uc.LeaseTTL <= 0 {
		return 30 * time.Second
	}
	return uc.LeaseTTL
}

func (uc LifecycleUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

// leaseKey namespaces per-market leases in the shared lease table.
func leaseKey(marketID string) string {
	return "market:" + marketID
}
