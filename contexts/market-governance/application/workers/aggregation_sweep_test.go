package workers_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"zmart/contexts/market-governance/adapters/memory"
	"zmart/contexts/market-governance/application/commands"
	"zmart/contexts/market-governance/application/workers"
	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type scriptedLedger struct {
	alwaysErr error
	errs      []error
	signature string
	calls     []ports.LedgerInstruction
	snapshots map[string]ports.MarketSnapshot
	readErr   error
}

func (l *scriptedLedger) SubmitInstruction(_ context.Context, ix ports.LedgerInstruction) (string, error) {
	l.calls = append(l.calls, ix)
	if l.alwaysErr != nil {
		return "", l.alwaysErr
	}
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if l.signature == "" {
		return "sig-test", nil
	}
	return l.signature, nil
}

func (l *scriptedLedger) ReadMarketState(_ context.Context, marketID string) (ports.MarketSnapshot, error) {
	if l.readErr != nil {
		return ports.MarketSnapshot{}, l.readErr
	}
	return l.snapshots[marketID], nil
}

type stubAlerter struct {
	alerts []ports.Alert
}

func (a *stubAlerter) RaiseAlert(_ context.Context, alert ports.Alert) error {
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *stubAlerter) hasType(alertType string) bool {
	for _, alert := range a.alerts {
		if alert.Type == alertType {
			return true
		}
	}
	return false
}

func seedProposalVotes(t *testing.T, store *memory.Store, marketID string, yes int, no int, at time.Time) {
	t.Helper()
	for i := 0; i < yes; i++ {
		record := entities.VoteRecord{
			MarketID: marketID,
			VoterID:  "voter-yes-" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			VoteType: entities.VoteTypeProposal,
			Value:    true,
			Weight:   1,
			VotedAt:  at,
		}
		if err := store.InsertVoteRecord(context.Background(), record); err != nil {
			t.Fatalf("seed yes vote failed: %v", err)
		}
	}
	for i := 0; i < no; i++ {
		record := entities.VoteRecord{
			MarketID: marketID,
			VoterID:  "voter-no-" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			VoteType: entities.VoteTypeProposal,
			Value:    false,
			Weight:   1,
			VotedAt:  at,
		}
		if err := store.InsertVoteRecord(context.Background(), record); err != nil {
			t.Fatalf("seed no vote failed: %v", err)
		}
	}
}

func newProposalSweep(store *memory.Store, ledger *scriptedLedger, alerts *stubAlerter, now time.Time) *workers.AggregationSweep {
	return &workers.AggregationSweep{
		VoteType:     entities.VoteTypeProposal,
		Markets:      store,
		Votes:        store,
		Tallies:      store,
		Leases:       store,
		Ledger:       ledger,
		Results:      store,
		Outbox:       store,
		Alerts:       alerts,
		Clock:        fixedClock{now: now},
		IDGen:        memory.IDGenerator{},
		ThresholdBps: 7000,
		MaxAttempts:  2,
		BackoffBase:  time.Millisecond,
		Program:      "zmart_governance",
		Authority:    "backend-authority",
	}
}

func TestProposalSweepApprovesMarketAtExactThreshold(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)},
	})
	seedProposalVotes(t, store, "market-1", 7, 3, now.Add(-time.Minute))
	ledger := &scriptedLedger{signature: "sig-aggregate-1"}
	alerts := &stubAlerter{}
	sweep := newProposalSweep(store, ledger, alerts, now)

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	market, err := store.GetMarket(context.Background(), "market-1")
	if err != nil {
		t.Fatalf("load market failed: %v", err)
	}
	if market.State != entities.MarketStateApproved {
		t.Fatalf("expected approved market, got %s", market.State)
	}
	if market.ProposalYes != 7 || market.ProposalNo != 3 {
		t.Fatalf("expected counters 7/3, got %d/%d", market.ProposalYes, market.ProposalNo)
	}
	if market.ApprovedAt == nil || !market.ApprovedAt.Equal(now) {
		t.Fatalf("expected approval timestamp at sweep time")
	}

	results, err := store.ListResultsByMarket(context.Background(), "market-1")
	if err != nil {
		t.Fatalf("list results failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one audit row, got %d", len(results))
	}
	if !results[0].ThresholdMet || results[0].PercentageBps != 7000 {
		t.Fatalf("expected threshold met at 7000 bps, got %+v", results[0])
	}
	if results[0].TxSignature != "sig-aggregate-1" {
		t.Fatalf("expected submission signature recorded, got %q", results[0].TxSignature)
	}
	if len(ledger.calls) != 1 || ledger.calls[0].Instruction != "aggregate_proposal_votes" {
		t.Fatalf("expected one aggregate_proposal_votes call, got %+v", ledger.calls)
	}
	if len(alerts.alerts) != 0 {
		t.Fatalf("successful sweep must not page, got %+v", alerts.alerts)
	}
}

func TestProposalSweepRecordsAuditBelowThreshold(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	seedProposalVotes(t, store, "market-1", 2, 1, now.Add(-time.Minute))
	ledger := &scriptedLedger{}
	sweep := newProposalSweep(store, ledger, &stubAlerter{}, now)

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateProposed {
		t.Fatalf("below-threshold market must stay proposed, got %s", market.State)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("below-threshold market must not reach the ledger")
	}

	results, _ := store.ListResultsByMarket(context.Background(), "market-1")
	if len(results) != 1 {
		t.Fatalf("expected audit row for the below-threshold decision, got %d", len(results))
	}
	if results[0].ThresholdMet || results[0].PercentageBps != 6666 {
		t.Fatalf("expected 6666 bps not met, got %+v", results[0])
	}
}

func TestProposalSweepSkipsMarketsWithoutVotes(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	sweep := newProposalSweep(store, &scriptedLedger{}, &stubAlerter{}, now)

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	results, _ := store.ListResultsByMarket(context.Background(), "market-1")
	if len(results) != 0 {
		t.Fatalf("zero-vote market must not produce audit rows, got %d", len(results))
	}
}

func TestProposalSweepSkipsLeasedMarkets(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	seedProposalVotes(t, store, "market-1", 8, 2, now.Add(-time.Minute))
	acquired, err := store.AcquireLease(context.Background(), "market:market-1", "another-worker", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("seed lease failed: acquired=%v err=%v", acquired, err)
	}
	ledger := &scriptedLedger{}
	sweep := newProposalSweep(store, ledger, &stubAlerter{}, now)

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("leased market must be skipped, got %d ledger calls", len(ledger.calls))
	}
	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateProposed {
		t.Fatalf("leased market must not change state, got %s", market.State)
	}
}

func TestProposalSweepDoesNotReenterPeerReplicaLease(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	seedProposalVotes(t, store, "market-1", 8, 2, now.Add(-time.Minute))
	// A peer replica running the same sweep role holds the lease. The role
	// name alone must not let this replica through.
	acquired, err := store.AcquireLease(context.Background(), "market:market-1", "aggregation-proposal", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("seed lease failed: acquired=%v err=%v", acquired, err)
	}
	ledger := &scriptedLedger{}
	sweep := newProposalSweep(store, ledger, &stubAlerter{}, now)

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("peer-held market must be skipped, got %d ledger calls", len(ledger.calls))
	}
	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateProposed {
		t.Fatalf("peer-held market must not change state, got %s", market.State)
	}
}

func TestProposalSweepRetriesTransientFailuresThenEscalates(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	seedProposalVotes(t, store, "market-1", 9, 1, now.Add(-time.Minute))
	ledger := &scriptedLedger{alwaysErr: domainerrors.ErrTransientLedger}
	alerts := &stubAlerter{}
	sweep := newProposalSweep(store, ledger, alerts, now)

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(ledger.calls) != 2 {
		t.Fatalf("expected two attempts before giving up, got %d", len(ledger.calls))
	}

	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateProposed {
		t.Fatalf("failed submission must not advance state, got %s", market.State)
	}

	results, _ := store.ListResultsByMarket(context.Background(), "market-1")
	if len(results) != 1 {
		t.Fatalf("expected failed attempt recorded, got %d rows", len(results))
	}
	if results[0].TxSignature != "" || !results[0].ThresholdMet {
		t.Fatalf("expected met-threshold row without signature, got %+v", results[0])
	}
	if !alerts.hasType("aggregation_submission_failed") {
		t.Fatalf("expected aggregation_submission_failed alert, got %+v", alerts.alerts)
	}
}

func TestProposalSweepDoesNotRetryPersistentFailures(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	seedProposalVotes(t, store, "market-1", 9, 1, now.Add(-time.Minute))
	ledger := &scriptedLedger{alwaysErr: domainerrors.ErrPersistentLedger}
	alerts := &stubAlerter{}
	sweep := newProposalSweep(store, ledger, alerts, now)

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(ledger.calls) != 1 {
		t.Fatalf("persistent failure must not retry, got %d calls", len(ledger.calls))
	}
	if !alerts.hasType("aggregation_submission_failed") {
		t.Fatalf("expected escalation alert, got %+v", alerts.alerts)
	}
}

func TestDisputeSweepFinalizesWithFlippedOutcome(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	proposed := true
	store := memory.NewStore([]entities.Market{
		{
			MarketID:        "market-1",
			State:           entities.MarketStateDisputed,
			ProposedOutcome: &proposed,
			CreatedAt:       now.Add(-time.Hour),
			UpdatedAt:       now.Add(-time.Hour),
		},
	})
	if err := store.InsertVoteRecord(context.Background(), entities.VoteRecord{
		MarketID: "market-1", VoterID: "holder-1", VoteType: entities.VoteTypeDispute,
		Value: true, Weight: 70, VotedAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed dispute vote failed: %v", err)
	}
	if err := store.InsertVoteRecord(context.Background(), entities.VoteRecord{
		MarketID: "market-1", VoterID: "holder-2", VoteType: entities.VoteTypeDispute,
		Value: false, Weight: 30, VotedAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed dispute vote failed: %v", err)
	}

	ledger := &scriptedLedger{}
	sweep := newProposalSweep(store, ledger, &stubAlerter{}, now)
	sweep.VoteType = entities.VoteTypeDispute
	sweep.ThresholdBps = 6000

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateFinalized {
		t.Fatalf("expected finalized market, got %s", market.State)
	}
	if market.FinalOutcome == nil || *market.FinalOutcome {
		t.Fatalf("successful dispute must flip the proposed outcome")
	}
	if market.DisputeYes != 70 || market.DisputeNo != 30 {
		t.Fatalf("expected weighted counters 70/30, got %d/%d", market.DisputeYes, market.DisputeNo)
	}
	if len(ledger.calls) != 1 || ledger.calls[0].Instruction != "aggregate_dispute_votes" {
		t.Fatalf("expected aggregate_dispute_votes call, got %+v", ledger.calls)
	}
}

func TestDisputeSweepSeesStakeWeightsThroughTallyCache(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	proposed := true
	store := memory.NewStore([]entities.Market{
		{
			MarketID:        "market-1",
			State:           entities.MarketStateDisputed,
			ProposedOutcome: &proposed,
			CreatedAt:       now.Add(-time.Hour),
			UpdatedAt:       now.Add(-time.Hour),
		},
	})
	store.SetPosition(entities.Position{MarketID: "market-1", OwnerID: "holder-1", SharesYes: 50, SharesNo: 20})
	store.SetPosition(entities.Position{MarketID: "market-1", OwnerID: "holder-2", SharesYes: 10, SharesNo: 20})

	votes := commands.VoteUseCase{
		Markets:      store,
		Votes:        store,
		Positions:    store,
		Tallies:      store,
		Outbox:       store,
		Clock:        fixedClock{now: now},
		IDGen:        memory.IDGenerator{},
		VotingWindow: 24 * time.Hour,
	}
	if _, err := votes.SubmitVote(context.Background(), commands.SubmitVoteCommand{
		MarketID: "market-1", VoterID: "holder-1", VoteType: entities.VoteTypeDispute, Value: true,
	}); err != nil {
		t.Fatalf("submit yes vote failed: %v", err)
	}
	if _, err := votes.SubmitVote(context.Background(), commands.SubmitVoteCommand{
		MarketID: "market-1", VoterID: "holder-2", VoteType: entities.VoteTypeDispute, Value: false,
	}); err != nil {
		t.Fatalf("submit no vote failed: %v", err)
	}

	cached, err := store.ReadTally(context.Background(), "market-1", entities.VoteTypeDispute)
	if err != nil || cached.Yes != 70 || cached.No != 30 {
		t.Fatalf("expected cached weighted tally 70/30, got %+v err=%v", cached, err)
	}

	ledger := &scriptedLedger{}
	sweep := newProposalSweep(store, ledger, &stubAlerter{}, now)
	sweep.VoteType = entities.VoteTypeDispute
	sweep.ThresholdBps = 6000

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	market, _ := store.GetMarket(context.Background(), "market-1")
	if market.State != entities.MarketStateFinalized {
		t.Fatalf("expected finalized market, got %s", market.State)
	}
	results, err := store.ListResultsByMarket(context.Background(), "market-1")
	if err != nil || len(results) != 1 {
		t.Fatalf("expected one audit row, got %+v err=%v", results, err)
	}
	if !results[0].ThresholdMet || results[0].PercentageBps != 7000 {
		t.Fatalf("expected threshold met at 7000 bps from the cache, got %+v", results[0])
	}
}

func TestProposalSweepEmitsStateChangeEvent(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	})
	seedProposalVotes(t, store, "market-1", 8, 2, now.Add(-time.Minute))
	sweep := newProposalSweep(store, &scriptedLedger{}, &stubAlerter{}, now)

	if err := sweep.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	found := false
	for _, message := range pending {
		var envelope struct {
			EventType string `json:"event_type"`
			Data      struct {
				State  string `json:"state"`
				Source string `json:"source"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message.Payload, &envelope); err != nil {
			t.Fatalf("decode outbox envelope failed: %v", err)
		}
		if envelope.EventType == "entity_state_changed" {
			found = true
			if envelope.Data.State != string(entities.MarketStateApproved) {
				t.Fatalf("expected approved state in event, got %s", envelope.Data.State)
			}
			if envelope.Data.Source != "aggregator" {
				t.Fatalf("expected aggregator source, got %s", envelope.Data.Source)
			}
		}
	}
	if !found {
		t.Fatalf("expected entity_state_changed event in outbox")
	}
}
