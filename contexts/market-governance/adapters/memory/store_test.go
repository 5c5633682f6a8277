package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"zmart/contexts/market-governance/adapters/memory"
	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
)

func TestStoreRejectsDuplicateVoteIdentity(t *testing.T) {
	store := memory.NewStore(nil)
	record := entities.VoteRecord{
		MarketID: "market-1",
		VoterID:  "voter-1",
		VoteType: entities.VoteTypeProposal,
		Value:    true,
		Weight:   1,
		VotedAt:  time.Now().UTC(),
	}
	if err := store.InsertVoteRecord(context.Background(), record); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := store.InsertVoteRecord(context.Background(), record); !errors.Is(err, domainerrors.ErrDuplicateVote) {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}

	// The same voter may still vote in the other round.
	record.VoteType = entities.VoteTypeDispute
	record.Weight = 10
	if err := store.InsertVoteRecord(context.Background(), record); err != nil {
		t.Fatalf("dispute vote from same voter failed: %v", err)
	}
}

func TestStoreCountVotesSumsWeights(t *testing.T) {
	store := memory.NewStore(nil)
	votes := []entities.VoteRecord{
		{MarketID: "market-1", VoterID: "a", VoteType: entities.VoteTypeDispute, Value: true, Weight: 30},
		{MarketID: "market-1", VoterID: "b", VoteType: entities.VoteTypeDispute, Value: true, Weight: 20},
		{MarketID: "market-1", VoterID: "c", VoteType: entities.VoteTypeDispute, Value: false, Weight: 25},
		{MarketID: "market-2", VoterID: "a", VoteType: entities.VoteTypeDispute, Value: false, Weight: 99},
	}
	for _, vote := range votes {
		if err := store.InsertVoteRecord(context.Background(), vote); err != nil {
			t.Fatalf("seed vote failed: %v", err)
		}
	}
	tally, err := store.CountVotes(context.Background(), "market-1", entities.VoteTypeDispute)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if tally.Yes != 50 || tally.No != 25 {
		t.Fatalf("expected 50/25, got %d/%d", tally.Yes, tally.No)
	}
}

func TestStoreLeaseContentionAndReentry(t *testing.T) {
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore(nil)
	store.SetNow(func() time.Time { return now })

	acquired, err := store.AcquireLease(context.Background(), "market:market-1", "worker-a", 30*time.Second)
	if err != nil || !acquired {
		t.Fatalf("initial acquire failed: acquired=%v err=%v", acquired, err)
	}

	acquired, err = store.AcquireLease(context.Background(), "market:market-1", "worker-b", 30*time.Second)
	if err != nil {
		t.Fatalf("contended acquire errored: %v", err)
	}
	if acquired {
		t.Fatalf("live lease must not be stolen by another holder")
	}

	// Reentrant for the same holder.
	acquired, err = store.AcquireLease(context.Background(), "market:market-1", "worker-a", 30*time.Second)
	if err != nil || !acquired {
		t.Fatalf("reentrant acquire failed: acquired=%v err=%v", acquired, err)
	}
}

func TestStoreLeaseExpiryReclaim(t *testing.T) {
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore(nil)
	store.SetNow(func() time.Time { return now })

	if acquired, _ := store.AcquireLease(context.Background(), "market:market-1", "worker-a", 30*time.Second); !acquired {
		t.Fatalf("initial acquire failed")
	}

	now = now.Add(31 * time.Second)
	acquired, err := store.AcquireLease(context.Background(), "market:market-1", "worker-b", 30*time.Second)
	if err != nil || !acquired {
		t.Fatalf("expired lease must be reclaimable: acquired=%v err=%v", acquired, err)
	}
}

func TestStoreReleaseLeaseOnlyByHolder(t *testing.T) {
	store := memory.NewStore(nil)
	if acquired, _ := store.AcquireLease(context.Background(), "market:market-1", "worker-a", time.Minute); !acquired {
		t.Fatalf("acquire failed")
	}
	if err := store.ReleaseLease(context.Background(), "market:market-1", "worker-b"); err != nil {
		t.Fatalf("foreign release errored: %v", err)
	}
	if acquired, _ := store.AcquireLease(context.Background(), "market:market-1", "worker-c", time.Minute); acquired {
		t.Fatalf("foreign release must not free the lease")
	}

	if err := store.ReleaseLease(context.Background(), "market:market-1", "worker-a"); err != nil {
		t.Fatalf("holder release errored: %v", err)
	}
	if acquired, _ := store.AcquireLease(context.Background(), "market:market-1", "worker-c", time.Minute); !acquired {
		t.Fatalf("released lease must be acquirable")
	}
}

func TestStoreTallyDedupAndIncrement(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()

	added, err := store.AddVoter(ctx, "market-1", entities.VoteTypeProposal, "voter-1", time.Hour)
	if err != nil || !added {
		t.Fatalf("first add failed: added=%v err=%v", added, err)
	}
	added, err = store.AddVoter(ctx, "market-1", entities.VoteTypeProposal, "voter-1", time.Hour)
	if err != nil {
		t.Fatalf("second add errored: %v", err)
	}
	if added {
		t.Fatalf("duplicate voter must not be added twice")
	}

	tally, err := store.IncrTally(ctx, "market-1", entities.VoteTypeProposal, true, 1, time.Hour)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if tally.Yes != 1 || tally.No != 0 {
		t.Fatalf("expected 1/0 after yes increment, got %d/%d", tally.Yes, tally.No)
	}
	tally, err = store.IncrTally(ctx, "market-1", entities.VoteTypeProposal, false, 40, time.Hour)
	if err != nil {
		t.Fatalf("weighted increment failed: %v", err)
	}
	if tally.Yes != 1 || tally.No != 40 {
		t.Fatalf("expected 1/40 after weighted no increment, got %d/%d", tally.Yes, tally.No)
	}
	tally, err = store.ReadTally(ctx, "market-1", entities.VoteTypeProposal)
	if err != nil || tally.Yes != 1 || tally.No != 40 {
		t.Fatalf("read after increment: %+v err=%v", tally, err)
	}
}

func TestStoreLedgerEventIdempotence(t *testing.T) {
	store := memory.NewStore(nil)
	event := entities.LedgerEvent{
		TxSignature: "sig-1",
		Slot:        10,
		EventType:   entities.EventMarketCreated,
		MarketID:    "market-1",
	}
	inserted, err := store.InsertLedgerEvent(context.Background(), event)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = store.InsertLedgerEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}
	if inserted {
		t.Fatalf("redelivered signature must report not inserted")
	}
}

func TestStoreListMarketsByStateFilters(t *testing.T) {
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now.Add(-3 * time.Hour)},
		{MarketID: "market-2", State: entities.MarketStateActive, CreatedAt: now.Add(-2 * time.Hour)},
		{MarketID: "market-3", State: entities.MarketStateProposed, CreatedAt: now.Add(-1 * time.Hour)},
	})
	markets, err := store.ListMarketsByState(context.Background(), entities.MarketStateProposed)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected two proposed markets, got %d", len(markets))
	}
	if markets[0].MarketID != "market-1" || markets[1].MarketID != "market-3" {
		t.Fatalf("expected creation order, got %+v", markets)
	}
}
