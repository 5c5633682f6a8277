package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type leaseRecord struct {
	holder    string
	expiresAt time.Time
}

type tallyBucket struct {
	yes    uint64
	no     uint64
	voters map[string]struct{}
}

// Store is the in-memory implementation of every repository and cache port.
// It backs unit tests and local development without Postgres or Redis.
type Store struct {
	mu sync.RWMutex

	markets       map[string]entities.Market
	votes         map[string]entities.VoteRecord
	results       []entities.AggregationResult
	events        map[string]entities.LedgerEvent
	discrepancies []entities.ReconciliationDiscrepancy
	positions     map[string]entities.Position
	leases        map[string]leaseRecord
	tallies       map[string]*tallyBucket
	outbox        map[string]outboxRecord

	now func() time.Time
}

func NewStore(seed []entities.Market) *Store {
	markets := make(map[string]entities.Market, len(seed))
	for _, market := range seed {
		markets[market.MarketID] = market
	}
	return &Store{
		markets:   markets,
		votes:     make(map[string]entities.VoteRecord),
		events:    make(map[string]entities.LedgerEvent),
		positions: make(map[string]entities.Position),
		leases:    make(map[string]leaseRecord),
		tallies:   make(map[string]*tallyBucket),
		outbox:    make(map[string]outboxRecord),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the store clock used for lease expiry checks.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) SetPosition(position entities.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey(position.MarketID, position.OwnerID)] = position
}

func (s *Store) SaveMarket(_ context.Context, market entities.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[strings.TrimSpace(market.MarketID)] = market
	return nil
}

func (s *Store) GetMarket(_ context.Context, marketID string) (entities.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	market, ok := s.markets[strings.TrimSpace(marketID)]
	if !ok {
		return entities.Market{}, domainerrors.ErrMarketNotFound
	}
	return market, nil
}

func (s *Store) ListMarketsByState(_ context.Context, states ...entities.MarketState) ([]entities.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[entities.MarketState]struct{}, len(states))
	for _, state := range states {
		wanted[state] = struct{}{}
	}
	items := make([]entities.Market, 0)
	for _, market := range s.markets {
		if _, ok := wanted[market.State]; ok {
			items = append(items, market)
		}
	}
	sortMarkets(items)
	return items, nil
}

func (s *Store) ListMarkets(_ context.Context) ([]entities.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Market, 0, len(s.markets))
	for _, market := range s.markets {
		items = append(items, market)
	}
	sortMarkets(items)
	return items, nil
}

func (s *Store) InsertVoteRecord(_ context.Context, record entities.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := voteKey(record.MarketID, record.VoterID, record.VoteType)
	if _, exists := s.votes[key]; exists {
		return domainerrors.ErrDuplicateVote
	}
	s.votes[key] = record
	return nil
}

func (s *Store) CountVotes(_ context.Context, marketID string, voteType entities.VoteType) (entities.Tally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	marketID = strings.TrimSpace(marketID)
	tally := entities.Tally{}
	for _, record := range s.votes {
		if record.MarketID != marketID || record.VoteType != voteType {
			continue
		}
		if record.Value {
			tally.Yes += record.Weight
		} else {
			tally.No += record.Weight
		}
	}
	return tally, nil
}

func (s *Store) ListVotesByMarket(
	_ context.Context,
	marketID string,
	voteType entities.VoteType,
) ([]entities.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	marketID = strings.TrimSpace(marketID)
	items := make([]entities.VoteRecord, 0)
	for _, record := range s.votes {
		if record.MarketID == marketID && record.VoteType == voteType {
			items = append(items, record)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].VotedAt.Before(items[j].VotedAt)
	})
	return items, nil
}

func (s *Store) AppendAggregationResult(_ context.Context, result entities.AggregationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.ResultID == "" {
		result.ResultID = uuid.NewString()
	}
	s.results = append(s.results, result)
	return nil
}

func (s *Store) ListResultsByMarket(_ context.Context, marketID string) ([]entities.AggregationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	marketID = strings.TrimSpace(marketID)
	items := make([]entities.AggregationResult, 0)
	for _, result := range s.results {
		if result.MarketID == marketID {
			items = append(items, result)
		}
	}
	return items, nil
}

func (s *Store) InsertLedgerEvent(_ context.Context, event entities.LedgerEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(event.TxSignature)
	if _, exists := s.events[key]; exists {
		return false, nil
	}
	s.events[key] = event
	return true, nil
}

func (s *Store) GetLedgerEvent(_ context.Context, txSignature string) (entities.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[strings.TrimSpace(txSignature)]
	if !ok {
		return entities.LedgerEvent{}, domainerrors.ErrEventNotFound
	}
	return event, nil
}

func (s *Store) AppendDiscrepancy(_ context.Context, discrepancy entities.ReconciliationDiscrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if discrepancy.DiscrepancyID == "" {
		discrepancy.DiscrepancyID = uuid.NewString()
	}
	s.discrepancies = append(s.discrepancies, discrepancy)
	return nil
}

// ListDiscrepancies exposes recorded drift rows to tests.
func (s *Store) ListDiscrepancies() []entities.ReconciliationDiscrepancy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.ReconciliationDiscrepancy(nil), s.discrepancies...)
}

func (s *Store) SavePosition(_ context.Context, position entities.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey(position.MarketID, position.OwnerID)] = position
	return nil
}

func (s *Store) GetPosition(_ context.Context, marketID string, ownerID string) (entities.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.positions[positionKey(marketID, ownerID)]
	return position, ok, nil
}

func (s *Store) AcquireLease(
	_ context.Context,
	resourceKey string,
	holder string,
	ttl time.Duration,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resourceKey = strings.TrimSpace(resourceKey)
	holder = strings.TrimSpace(holder)
	now := s.now()
	existing, ok := s.leases[resourceKey]
	if ok && existing.holder != holder && now.Before(existing.expiresAt) {
		return false, nil
	}
	s.leases[resourceKey] = leaseRecord{
		holder:    holder,
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

func (s *Store) ReleaseLease(_ context.Context, resourceKey string, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	resourceKey = strings.TrimSpace(resourceKey)
	existing, ok := s.leases[resourceKey]
	if ok && existing.holder == strings.TrimSpace(holder) {
		delete(s.leases, resourceKey)
	}
	return nil
}

func (s *Store) AddVoter(
	_ context.Context,
	marketID string,
	voteType entities.VoteType,
	voterID string,
	_ time.Duration,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.bucket(marketID, voteType)
	voterID = strings.TrimSpace(voterID)
	if _, present := bucket.voters[voterID]; present {
		return false, nil
	}
	bucket.voters[voterID] = struct{}{}
	return true, nil
}

func (s *Store) IncrTally(
	_ context.Context,
	marketID string,
	voteType entities.VoteType,
	value bool,
	weight uint64,
	_ time.Duration,
) (entities.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.bucket(marketID, voteType)
	if value {
		bucket.yes += weight
	} else {
		bucket.no += weight
	}
	return entities.Tally{Yes: bucket.yes, No: bucket.no}, nil
}

func (s *Store) ReadTally(
	_ context.Context,
	marketID string,
	voteType entities.VoteType,
) (entities.Tally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.tallies[tallyKey(marketID, voteType)]
	if !ok {
		return entities.Tally{}, nil
	}
	return entities.Tally{Yes: bucket.yes, No: bucket.no}, nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if _, exists := s.outbox[outboxID]; exists {
		return nil
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAt.UTC(),
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0)
	for _, record := range s.outbox {
		if record.published {
			continue
		}
		items = append(items, record.message)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	record.published = true
	s.outbox[strings.TrimSpace(outboxID)] = record
	return nil
}

func (s *Store) bucket(marketID string, voteType entities.VoteType) *tallyBucket {
	key := tallyKey(marketID, voteType)
	bucket, ok := s.tallies[key]
	if !ok {
		bucket = &tallyBucket{voters: make(map[string]struct{})}
		s.tallies[key] = bucket
	}
	return bucket
}

func sortMarkets(items []entities.Market) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].MarketID < items[j].MarketID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func voteKey(marketID string, voterID string, voteType entities.VoteType) string {
	return strings.TrimSpace(marketID) + "|" + strings.TrimSpace(voterID) + "|" + string(voteType)
}

func tallyKey(marketID string, voteType entities.VoteType) string {
	return strings.TrimSpace(marketID) + "|" + string(voteType)
}

func positionKey(marketID string, ownerID string) string {
	return strings.TrimSpace(marketID) + "|" + strings.TrimSpace(ownerID)
}

// Clock is a fixed-function clock for composition in tests.
type Clock struct {
	NowFunc func() time.Time
}

func (c Clock) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// IDGenerator yields UUIDv4 identifiers.
type IDGenerator struct{}

func (IDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.MarketRepository = (*Store)(nil)
var _ ports.VoteRepository = (*Store)(nil)
var _ ports.ResultRepository = (*Store)(nil)
var _ ports.EventRepository = (*Store)(nil)
var _ ports.DiscrepancyRepository = (*Store)(nil)
var _ ports.PositionRepository = (*Store)(nil)
var _ ports.LeaseStore = (*Store)(nil)
var _ ports.TallyStore = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = Clock{}
var _ ports.IDGenerator = IDGenerator{}
