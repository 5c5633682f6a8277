package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"zmart/contexts/market-governance/application/commands"
	"zmart/contexts/market-governance/application/queries"
	"zmart/contexts/market-governance/domain/entities"
	httptransport "zmart/contexts/market-governance/transport/http"
)

type Handler struct {
	Votes     commands.VoteUseCase
	Lifecycle commands.LifecycleUseCase
	Ingest    commands.IngestUseCase
	Markets   queries.MarketUseCase
	Logger    *slog.Logger
}

func (h Handler) SubmitVoteHandler(
	ctx context.Context,
	marketID string,
	voterID string,
	req httptransport.SubmitVoteRequest,
) (httptransport.VoteResponse, error) {
	result, err := h.Votes.SubmitVote(ctx, commands.SubmitVoteCommand{
		MarketID: marketID,
		VoterID:  voterID,
		VoteType: entities.VoteType(req.VoteType),
		Value:    req.Value,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return httptransport.VoteResponse{
		MarketID: result.Record.MarketID,
		VoterID:  result.Record.VoterID,
		VoteType: string(result.Record.VoteType),
		Value:    result.Record.Value,
		Weight:   result.Record.Weight,
		VotedAt:  result.Record.VotedAt.UTC().Format(time.RFC3339),
		Yes:      result.Tally.Yes,
		No:       result.Tally.No,
	}, nil
}

func (h Handler) GetMarketHandler(ctx context.Context, marketID string) (httptransport.MarketResponse, error) {
	market, err := h.Markets.GetMarket(ctx, marketID)
	if err != nil {
		return httptransport.MarketResponse{}, err
	}
	return mapMarket(market), nil
}

func (h Handler) ListMarketsHandler(ctx context.Context) (httptransport.MarketListResponse, error) {
	markets, err := h.Markets.ListMarkets(ctx)
	if err != nil {
		return httptransport.MarketListResponse{}, err
	}
	items := make([]httptransport.MarketResponse, 0, len(markets))
	for _, market := range markets {
		items = append(items, mapMarket(market))
	}
	return httptransport.MarketListResponse{Items: items}, nil
}

func (h Handler) MarketTallyHandler(
	ctx context.Context,
	marketID string,
	voteType string,
) (httptransport.TallyResponse, error) {
	tally, err := h.Markets.MarketTally(ctx, marketID, entities.VoteType(voteType))
	if err != nil {
		return httptransport.TallyResponse{}, err
	}
	return httptransport.TallyResponse{
		MarketID:      marketID,
		VoteType:      voteType,
		Yes:           tally.Yes,
		No:            tally.No,
		PercentageBps: tally.PercentageBps(),
	}, nil
}

// MarketVotesHandler exposes the durable vote records so operators can audit
// the weights behind a tally.
func (h Handler) MarketVotesHandler(
	ctx context.Context,
	marketID string,
	voteType string,
) (httptransport.VoteListResponse, error) {
	votes, err := h.Markets.MarketVotes(ctx, marketID, entities.VoteType(voteType))
	if err != nil {
		return httptransport.VoteListResponse{}, err
	}
	items := make([]httptransport.VoteListItem, 0, len(votes))
	for _, vote := range votes {
		items = append(items, httptransport.VoteListItem{
			VoterID:  vote.VoterID,
			VoteType: string(vote.VoteType),
			Value:    vote.Value,
			Weight:   vote.Weight,
			VotedAt:  vote.VotedAt.UTC().Format(time.RFC3339),
		})
	}
	return httptransport.VoteListResponse{MarketID: marketID, Items: items}, nil
}

func (h Handler) AggregationResultsHandler(
	ctx context.Context,
	marketID string,
) (httptransport.AggregationResultsResponse, error) {
	results, err := h.Markets.AggregationHistory(ctx, marketID)
	if err != nil {
		return httptransport.AggregationResultsResponse{}, err
	}
	items := make([]httptransport.AggregationResultItem, 0, len(results))
	for _, result := range results {
		items = append(items, httptransport.AggregationResultItem{
			ResultID:      result.ResultID,
			MarketID:      result.MarketID,
			VoteType:      string(result.VoteType),
			YesCount:      result.YesCount,
			NoCount:       result.NoCount,
			PercentageBps: result.PercentageBps,
			ThresholdBps:  result.ThresholdBps,
			ThresholdMet:  result.ThresholdMet,
			TxSignature:   result.TxSignature,
			CreatedAt:     result.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return httptransport.AggregationResultsResponse{Items: items}, nil
}

func (h Handler) ActivateMarketHandler(ctx context.Context, marketID string, actorID string) (httptransport.TransitionResponse, error) {
	if err := h.Lifecycle.ActivateMarket(ctx, marketID, actorID); err != nil {
		return httptransport.TransitionResponse{}, err
	}
	return httptransport.TransitionResponse{
		MarketID: marketID,
		State:    string(entities.MarketStateActive),
	}, nil
}

func (h Handler) CancelMarketHandler(ctx context.Context, marketID string, actorID string) (httptransport.TransitionResponse, error) {
	if err := h.Lifecycle.CancelMarket(ctx, marketID, actorID); err != nil {
		return httptransport.TransitionResponse{}, err
	}
	return httptransport.TransitionResponse{
		MarketID: marketID,
		State:    string(entities.MarketStateCancelled),
	}, nil
}

func (h Handler) ProposeResolutionHandler(
	ctx context.Context,
	marketID string,
	resolverID string,
	req httptransport.ProposeResolutionRequest,
) (httptransport.TransitionResponse, error) {
	if err := h.Lifecycle.ProposeResolution(ctx, marketID, resolverID, req.Outcome); err != nil {
		return httptransport.TransitionResponse{}, err
	}
	return httptransport.TransitionResponse{
		MarketID: marketID,
		State:    string(entities.MarketStateResolving),
	}, nil
}

func (h Handler) WebhookHandler(
	ctx context.Context,
	req httptransport.WebhookRequest,
) (httptransport.WebhookResponse, error) {
	batch := make([]commands.RawNotification, 0, len(req.Events))
	for _, event := range req.Events {
		batch = append(batch, commands.RawNotification{
			TxSignature: event.TxSignature,
			Slot:        event.Slot,
			BlockTime:   event.BlockTime,
			EventType:   event.EventType,
			MarketID:    event.MarketID,
			Payload:     event.Payload,
		})
	}
	report, err := h.Ingest.IngestBatch(ctx, batch)
	if err != nil {
		return httptransport.WebhookResponse{}, err
	}
	return httptransport.WebhookResponse{
		Accepted:   report.Accepted,
		Duplicates: report.Duplicates,
		Unknown:    report.Unknown,
		Stale:      report.Stale,
		Applied:    report.Applied,
	}, nil
}

func mapMarket(market entities.Market) httptransport.MarketResponse {
	resp := httptransport.MarketResponse{
		MarketID:        market.MarketID,
		Creator:         market.Creator,
		State:           string(market.State),
		Slot:            market.Slot,
		Resolver:        market.Resolver,
		ProposedOutcome: market.ProposedOutcome,
		FinalOutcome:    market.FinalOutcome,
		ProposalYes:     market.ProposalYes,
		ProposalNo:      market.ProposalNo,
		DisputeYes:      market.DisputeYes,
		DisputeNo:       market.DisputeNo,
		CreatedAt:       market.CreatedAt.UTC().Format(time.RFC3339),
	}
	if market.FinalizedAt != nil {
		finalized := market.FinalizedAt.UTC().Format(time.RFC3339)
		resp.FinalizedAt = &finalized
	}
	return resp
}
