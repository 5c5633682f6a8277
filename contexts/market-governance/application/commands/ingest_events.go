package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "zmart/contexts/market-governance/application"
	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"
)

// RawNotification is one push-delivered transaction payload from the webhook
// provider.
type RawNotification struct {
	TxSignature string          `json:"tx_signature"`
	Slot        uint64          `json:"slot"`
	BlockTime   time.Time       `json:"block_time"`
	EventType   string          `json:"event_type"`
	MarketID    string          `json:"market_id"`
	Payload     json.RawMessage `json:"payload"`
}

// IngestReport summarizes one batch so the webhook response can acknowledge
// quickly with counts.
type IngestReport struct {
	Accepted   int
	Duplicates int
	Unknown    int
	Stale      int
	Applied    int
}

// IngestUseCase consumes ledger transaction notifications idempotently.
// Duplicates are detected by transaction signature; out-of-order delivery is
// tolerated by only applying events whose slot is at least the market's
// recorded slot. The ledger is authoritative, so application overwrites local
// state instead of merging.
type IngestUseCase struct {
	Events    ports.EventRepository
	Markets   ports.MarketRepository
	Positions ports.PositionRepository
	Outbox    ports.OutboxWriter
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    *slog.Logger
}

// IngestBatch persists and applies a batch of notifications. Storage failures
// abort the batch so the delivery provider retries; redelivery is safe because
// every persisted signature short-circuits as a no-op.
func (uc IngestUseCase) IngestBatch(ctx context.Context, batch []RawNotification) (IngestReport, error) {
	logger := application.ResolveLogger(uc.Logger)
	report := IngestReport{}

	for _, raw := range batch {
		signature := strings.TrimSpace(raw.TxSignature)
		if signature == "" {
			logger.Warn("notification without transaction signature dropped",
				"event", "governance_ingest_missing_signature",
				"module", "market-governance",
				"layer", "application",
				"market_id", strings.TrimSpace(raw.MarketID),
			)
			continue
		}

		eventType := entities.LedgerEventType(strings.TrimSpace(raw.EventType))
		if !entities.KnownEventType(eventType) {
			eventType = entities.EventUnknown
		}

		event := entities.LedgerEvent{
			TxSignature: signature,
			Slot:        raw.Slot,
			BlockTime:   raw.BlockTime.UTC(),
			EventType:   eventType,
			MarketID:    strings.TrimSpace(raw.MarketID),
			Payload:     raw.Payload,
			ProcessedAt: uc.now(),
		}
		inserted, err := uc.Events.InsertLedgerEvent(ctx, event)
		if err != nil {
			logger.Error("ledger event persist failed",
				"event", "governance_ingest_persist_failed",
				"module", "market-governance",
				"layer", "application",
				"tx_signature", signature,
				"error", err.Error(),
			)
			return report, err
		}
		if !inserted {
			report.Duplicates++
			logger.Debug("duplicate notification skipped",
				"event", "governance_ingest_duplicate",
				"module", "market-governance",
				"layer", "application",
				"tx_signature", signature,
			)
			continue
		}
		report.Accepted++

		if eventType == entities.EventUnknown {
			report.Unknown++
			logger.Warn("unknown event type persisted and skipped",
				"event", "governance_ingest_unknown_event",
				"module", "market-governance",
				"layer", "application",
				"tx_signature", signature,
				"event_type", strings.TrimSpace(raw.EventType),
			)
			continue
		}

		applied, stale, err := uc.applyEvent(ctx, event)
		if err != nil {
			return report, err
		}
		if stale {
			report.Stale++
			continue
		}
		if applied {
			report.Applied++
		}
	}

	logger.Info("notification batch ingested",
		"event", "governance_ingest_batch_completed",
		"module", "market-governance",
		"layer", "application",
		"batch_size", len(batch),
		"accepted", report.Accepted,
		"duplicates", report.Duplicates,
		"unknown", report.Unknown,
		"stale", report.Stale,
		"applied", report.Applied,
	)
	return report, nil
}

func (uc IngestUseCase) applyEvent(ctx context.Context, event entities.LedgerEvent) (bool, bool, error) {
	logger := application.ResolveLogger(uc.Logger)

	if event.EventType == entities.EventPositionChanged {
		return uc.applyPositionChanged(ctx, event)
	}

	if event.EventType == entities.EventMarketCreated {
		return uc.applyMarketCreated(ctx, event)
	}

	market, err := uc.Markets.GetMarket(ctx, event.MarketID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrMarketNotFound) {
			// The creation event may be delayed or dropped; the
			// reconciliation sweep backfills from ledger truth.
			logger.Warn("event for untracked market skipped",
				"event", "governance_ingest_untracked_market",
				"module", "market-governance",
				"layer", "application",
				"tx_signature", event.TxSignature,
				"market_id", event.MarketID,
			)
			return false, false, nil
		}
		return false, false, err
	}
	if event.Slot < market.Slot {
		logger.Debug("stale event ignored",
			"event", "governance_ingest_stale_event",
			"module", "market-governance",
			"layer", "application",
			"tx_signature", event.TxSignature,
			"market_id", event.MarketID,
			"event_slot", event.Slot,
			"market_slot", market.Slot,
		)
		return false, true, nil
	}

	previous := market.State
	now := uc.now()
	if err := mutateMarketFromEvent(&market, event); err != nil {
		// Malformed payload for a known type: persisted for audit, skipped
		// like an unknown event rather than failing the batch.
		logger.Warn("event payload decode failed, skipped",
			"event", "governance_ingest_decode_failed",
			"module", "market-governance",
			"layer", "application",
			"tx_signature", event.TxSignature,
			"event_type", string(event.EventType),
			"error", err.Error(),
		)
		return false, false, nil
	}
	market.Slot = event.Slot
	market.UpdatedAt = now
	if err := uc.Markets.SaveMarket(ctx, market); err != nil {
		return false, false, err
	}

	if market.State != previous {
		if err := uc.appendStateEvent(ctx, market, previous, event.TxSignature, now); err != nil {
			return false, false, err
		}
	}
	return true, false, nil
}

func (uc IngestUseCase) applyMarketCreated(ctx context.Context, event entities.LedgerEvent) (bool, bool, error) {
	var payload entities.MarketCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return false, false, nil
	}

	if existing, err := uc.Markets.GetMarket(ctx, event.MarketID); err == nil {
		// The row already exists, so only a strictly newer creation may
		// replace it. A redelivery at the same slot under a fresh
		// signature must not reset an advanced market.
		if event.Slot <= existing.Slot {
			return false, true, nil
		}
	} else if !errors.Is(err, domainerrors.ErrMarketNotFound) {
		return false, false, err
	}

	now := uc.now()
	market := entities.Market{
		MarketID:  event.MarketID,
		Creator:   strings.TrimSpace(payload.Creator),
		State:     entities.MarketStateProposed,
		Slot:      event.Slot,
		CreatedAt: event.BlockTime,
		UpdatedAt: now,
	}
	if err := uc.Markets.SaveMarket(ctx, market); err != nil {
		return false, false, err
	}
	return true, false, nil
}

func (uc IngestUseCase) applyPositionChanged(ctx context.Context, event entities.LedgerEvent) (bool, bool, error) {
	var payload entities.PositionChangedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return false, false, nil
	}
	if strings.TrimSpace(payload.Owner) == "" {
		return false, false, nil
	}
	if err := uc.Positions.SavePosition(ctx, entities.Position{
		MarketID:  event.MarketID,
		OwnerID:   strings.TrimSpace(payload.Owner),
		SharesYes: payload.SharesYes,
		SharesNo:  payload.SharesNo,
		UpdatedAt: uc.now(),
	}); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// mutateMarketFromEvent overwrites market fields from the event payload.
// Ledger truth wins; no merging with local optimistic writes.
func mutateMarketFromEvent(market *entities.Market, event entities.LedgerEvent) error {
	blockTime := event.BlockTime
	switch event.EventType {
	case entities.EventProposalAggregated:
		var payload entities.ProposalAggregatedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		market.ProposalYes = payload.Likes
		market.ProposalNo = payload.Dislikes
		if payload.Approved {
			market.State = entities.MarketStateApproved
			market.ApprovedAt = &blockTime
		}
	case entities.EventMarketApproved:
		market.State = entities.MarketStateApproved
		market.ApprovedAt = &blockTime
	case entities.EventMarketActivated:
		market.State = entities.MarketStateActive
		market.ActivatedAt = &blockTime
	case entities.EventResolutionProposed:
		var payload entities.ResolutionProposedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		outcome := payload.Outcome
		market.State = entities.MarketStateResolving
		market.Resolver = strings.TrimSpace(payload.Resolver)
		market.ProposedOutcome = &outcome
		market.ResolutionProposedAt = &blockTime
	case entities.EventDisputeInitiated:
		market.State = entities.MarketStateDisputed
		market.DisputeInitiatedAt = &blockTime
	case entities.EventDisputeAggregated:
		var payload entities.DisputeAggregatedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		market.DisputeYes = payload.Agrees
		market.DisputeNo = payload.Disagrees
		// A successful on-chain dispute finalizes the market with the
		// proposed outcome flipped; a failed one leaves it Disputed.
		if payload.DisputeSucceeded {
			market.State = entities.MarketStateFinalized
			market.FinalizedAt = &blockTime
			if market.ProposedOutcome != nil {
				flipped := !*market.ProposedOutcome
				market.FinalOutcome = &flipped
			}
		}
	case entities.EventMarketFinalized:
		var payload entities.MarketFinalizedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		outcome := payload.Outcome
		market.State = entities.MarketStateFinalized
		market.FinalOutcome = &outcome
		market.FinalizedAt = &blockTime
	case entities.EventMarketCancelled:
		market.State = entities.MarketStateCancelled
		market.CancelledAt = &blockTime
	}
	return nil
}

func (uc IngestUseCase) appendStateEvent(
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
		"source":         "indexer",
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc IngestUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}
