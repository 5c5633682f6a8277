package queries

import (
	"context"
	"strings"

	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"
)

// MarketUseCase serves the read side: market snapshots, live tallies and the
// aggregation audit trail.
type MarketUseCase struct {
	Markets ports.MarketRepository
	Votes   ports.VoteRepository
	Results ports.ResultRepository
	Tallies ports.TallyStore
}

func (uc MarketUseCase) GetMarket(ctx context.Context, marketID string) (entities.Market, error) {
	return uc.Markets.GetMarket(ctx, strings.TrimSpace(marketID))
}

func (uc MarketUseCase) ListMarkets(ctx context.Context) ([]entities.Market, error) {
	return uc.Markets.ListMarkets(ctx)
}

// MarketTally reads the cached tally, falling back to durable vote counts
// when the cache entry expired.
func (uc MarketUseCase) MarketTally(
	ctx context.Context,
	marketID string,
	voteType entities.VoteType,
) (entities.Tally, error) {
	if !voteType.Valid() {
		return entities.Tally{}, domainerrors.ErrInvalidVoteInput
	}
	marketID = strings.TrimSpace(marketID)
	if _, err := uc.Markets.GetMarket(ctx, marketID); err != nil {
		return entities.Tally{}, err
	}
	tally, err := uc.Tallies.ReadTally(ctx, marketID, voteType)
	if err == nil && tally.Total() > 0 {
		return tally, nil
	}
	return uc.Votes.CountVotes(ctx, marketID, voteType)
}

// MarketVotes lists the durable vote records for one round, for auditing the
// weighted counts behind an aggregation decision.
func (uc MarketUseCase) MarketVotes(
	ctx context.Context,
	marketID string,
	voteType entities.VoteType,
) ([]entities.VoteRecord, error) {
	if !voteType.Valid() {
		return nil, domainerrors.ErrInvalidVoteInput
	}
	marketID = strings.TrimSpace(marketID)
	if _, err := uc.Markets.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return uc.Votes.ListVotesByMarket(ctx, marketID, voteType)
}

func (uc MarketUseCase) AggregationHistory(ctx context.Context, marketID string) ([]entities.AggregationResult, error) {
	marketID = strings.TrimSpace(marketID)
	if _, err := uc.Markets.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return uc.Results.ListResultsByMarket(ctx, marketID)
}
