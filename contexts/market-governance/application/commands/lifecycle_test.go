package commands_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"zmart/contexts/market-governance/adapters/memory"
	"zmart/contexts/market-governance/application/commands"
	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"
)

type stubLedger struct {
	signature string
	submitErr error
	calls     []ports.LedgerInstruction
}

func (l *stubLedger) SubmitInstruction(_ context.Context, ix ports.LedgerInstruction) (string, error) {
	l.calls = append(l.calls, ix)
	if l.submitErr != nil {
		return "", l.submitErr
	}
	if l.signature == "" {
		return "sig-stub", nil
	}
	return l.signature, nil
}

func (l *stubLedger) ReadMarketState(_ context.Context, marketID string) (ports.MarketSnapshot, error) {
	return ports.MarketSnapshot{MarketID: marketID}, nil
}

func newLifecycleUseCase(store *memory.Store, ledger *stubLedger, now time.Time) commands.LifecycleUseCase {
	return commands.LifecycleUseCase{
		Markets:   store,
		Leases:    store,
		Ledger:    ledger,
		Outbox:    store,
		Clock:     fixedClock{now: now},
		IDGen:     memory.IDGenerator{},
		Program:   "zmart_governance",
		Authority: "backend-authority",
	}
}

func TestActivateMarketTransitionsApprovedToActive(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateApproved, CreatedAt: now, UpdatedAt: now},
	})
	ledger := &stubLedger{signature: "sig-activate"}
	uc := newLifecycleUseCase(store, ledger, now)

	if err := uc.ActivateMarket(context.Background(), "market-1", "admin-1"); err != nil {
		t.Fatalf("activate market failed: %v", err)
	}
	market, err := store.GetMarket(context.Background(), "market-1")
	if err != nil {
		t.Fatalf("load market failed: %v", err)
	}
	if market.State != entities.MarketStateActive {
		t.Fatalf("expected active state, got %s", market.State)
	}
	if market.ActivatedAt == nil || !market.ActivatedAt.Equal(now) {
		t.Fatalf("expected activation timestamp set")
	}
	if len(ledger.calls) != 1 || ledger.calls[0].Instruction != "activate_market" {
		t.Fatalf("expected a single activate_market instruction, got %+v", ledger.calls)
	}
}

func TestActivateMarketRejectsInvalidTransition(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	ledger := &stubLedger{}
	uc := newLifecycleUseCase(store, ledger, now)

	err := uc.ActivateMarket(context.Background(), "market-1", "admin-1")
	if !errors.Is(err, domainerrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("rejected transition must not reach the ledger")
	}
}

func TestCancelMarketFromProposed(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	uc := newLifecycleUseCase(store, &stubLedger{}, now)

	if err := uc.CancelMarket(context.Background(), "market-1", "admin-1"); err != nil {
		t.Fatalf("cancel market failed: %v", err)
	}
	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateCancelled {
		t.Fatalf("expected cancelled state, got %s", market.State)
	}
	if market.CancelledAt == nil {
		t.Fatalf("expected cancellation timestamp set")
	}
}

func TestProposeResolutionRecordsOutcomeAndResolver(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateActive, CreatedAt: now, UpdatedAt: now},
	})
	ledger := &stubLedger{}
	uc := newLifecycleUseCase(store, ledger, now)

	if err := uc.ProposeResolution(context.Background(), "market-1", "oracle-1", false); err != nil {
		t.Fatalf("propose resolution failed: %v", err)
	}
	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateResolving {
		t.Fatalf("expected resolving state, got %s", market.State)
	}
	if market.ProposedOutcome == nil || *market.ProposedOutcome {
		t.Fatalf("expected proposed outcome false")
	}
	if market.Resolver != "oracle-1" {
		t.Fatalf("expected resolver oracle-1, got %q", market.Resolver)
	}
	if market.ResolutionProposedAt == nil || !market.ResolutionProposedAt.Equal(now) {
		t.Fatalf("expected resolution delay anchor at command time")
	}
}

func TestLifecycleCommandFailsWhenLedgerRejects(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateApproved, CreatedAt: now, UpdatedAt: now},
	})
	ledger := &stubLedger{submitErr: domainerrors.ErrPersistentLedger}
	uc := newLifecycleUseCase(store, ledger, now)

	err := uc.ActivateMarket(context.Background(), "market-1", "admin-1")
	if !errors.Is(err, domainerrors.ErrPersistentLedger) {
		t.Fatalf("expected ledger error surfaced, got %v", err)
	}
	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateApproved {
		t.Fatalf("ledger failure must not advance local state, got %s", market.State)
	}
}

func TestLifecycleCommandSkipsWhenLeaseHeld(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateApproved, CreatedAt: now, UpdatedAt: now},
	})
	acquired, err := store.AcquireLease(context.Background(), "market:market-1", "lifecycle-monitor", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("seed lease failed: acquired=%v err=%v", acquired, err)
	}
	uc := newLifecycleUseCase(store, &stubLedger{}, now)

	if err := uc.ActivateMarket(context.Background(), "market-1", "admin-1"); !errors.Is(err, domainerrors.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
}

func TestLifecycleCommandBlocksPeerReplicaWithSameRole(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateApproved, CreatedAt: now, UpdatedAt: now},
	})
	// Another API replica is mid-transition on this market. Sharing the
	// command role must not count as a re-entry.
	acquired, err := store.AcquireLease(context.Background(), "market:market-1", "lifecycle-command", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("seed lease failed: acquired=%v err=%v", acquired, err)
	}
	ledger := &stubLedger{}
	uc := newLifecycleUseCase(store, ledger, now)

	if err := uc.ActivateMarket(context.Background(), "market-1", "admin-1"); !errors.Is(err, domainerrors.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("blocked command must not reach the ledger, got %d calls", len(ledger.calls))
	}
	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateApproved {
		t.Fatalf("blocked command must not change state, got %s", market.State)
	}
}
