package redisadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"zmart/contexts/market-governance/domain/entities"
	"zmart/contexts/market-governance/ports"
)

// TallyStore keeps live yes/no counters and a voter dedup set per
// (market, vote type) in Redis. Counters expire with the voting window and
// the durable vote records remain the source of truth.
type TallyStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewTallyStore(client *redis.Client, logger *slog.Logger) *TallyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TallyStore{
		client: client,
		logger: logger,
	}
}

func (s *TallyStore) AddVoter(
	ctx context.Context,
	marketID string,
	voteType entities.VoteType,
	voterID string,
	ttl time.Duration,
) (bool, error) {
	key := voterSetKey(marketID, voteType)
	added, err := s.client.SAdd(ctx, key, voterID).Result()
	if err != nil {
		return false, s.logError("governance_tally_add_voter_failed", err, key)
	}
	if ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return false, s.logError("governance_tally_expire_failed", err, key)
		}
	}
	return added > 0, nil
}

func (s *TallyStore) IncrTally(
	ctx context.Context,
	marketID string,
	voteType entities.VoteType,
	value bool,
	weight uint64,
	ttl time.Duration,
) (entities.Tally, error) {
	key := counterKey(marketID, voteType, value)
	if err := s.client.IncrBy(ctx, key, int64(weight)).Err(); err != nil {
		return entities.Tally{}, s.logError("governance_tally_incr_failed", err, key)
	}
	if ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return entities.Tally{}, s.logError("governance_tally_expire_failed", err, key)
		}
	}
	return s.ReadTally(ctx, marketID, voteType)
}

// ReadTally returns zero counts for keys that were never written or have
// expired. Callers needing authoritative counts fall back to the database.
func (s *TallyStore) ReadTally(
	ctx context.Context,
	marketID string,
	voteType entities.VoteType,
) (entities.Tally, error) {
	yesKey := counterKey(marketID, voteType, true)
	noKey := counterKey(marketID, voteType, false)
	values, err := s.client.MGet(ctx, yesKey, noKey).Result()
	if err != nil {
		return entities.Tally{}, s.logError("governance_tally_read_failed", err, yesKey)
	}
	tally := entities.Tally{}
	if len(values) == 2 {
		tally.Yes = parseCounter(values[0])
		tally.No = parseCounter(values[1])
	}
	return tally, nil
}

func (s *TallyStore) logError(event string, err error, key string) error {
	s.logger.Error("governance tally store operation failed",
		"event", event,
		"module", "market-governance",
		"layer", "adapter",
		"key", key,
		"error", err.Error(),
	)
	return err
}

func counterKey(marketID string, voteType entities.VoteType, value bool) string {
	side := "no"
	if value {
		side = "yes"
	}
	return fmt.Sprintf("tally:%s:%s:%s", marketID, voteType, side)
}

func voterSetKey(marketID string, voteType entities.VoteType) string {
	return fmt.Sprintf("voters:%s:%s", marketID, voteType)
}

func parseCounter(value any) uint64 {
	raw, ok := value.(string)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

var _ ports.TallyStore = (*TallyStore)(nil)
