package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) SaveMarket(ctx context.Context, market entities.Market) error {
	row := marketModelFromEntity(market)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"creator":                row.Creator,
			"state":                  row.State,
			"slot":                   row.Slot,
			"proposed_outcome":       row.ProposedOutcome,
			"final_outcome":          row.FinalOutcome,
			"resolver":               row.Resolver,
			"proposal_yes":           row.ProposalYes,
			"proposal_no":            row.ProposalNo,
			"dispute_yes":            row.DisputeYes,
			"dispute_no":             row.DisputeNo,
			"approved_at":            row.ApprovedAt,
			"activated_at":           row.ActivatedAt,
			"resolution_proposed_at": row.ResolutionProposedAt,
			"dispute_initiated_at":   row.DisputeInitiatedAt,
			"finalized_at":           row.FinalizedAt,
			"cancelled_at":           row.CancelledAt,
			"updated_at":             row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("governance_repo_save_market_failed", create.Error,
			"market_id", strings.TrimSpace(market.MarketID),
		)
	}
	return nil
}

func (r *Repository) GetMarket(ctx context.Context, marketID string) (entities.Market, error) {
	var row marketModel
	err := r.db.WithContext(ctx).
		Where("market_id = ?", strings.TrimSpace(marketID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Market{}, domainerrors.ErrMarketNotFound
		}
		return entities.Market{}, r.logError("governance_repo_get_market_failed", err,
			"market_id", strings.TrimSpace(marketID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListMarketsByState(ctx context.Context, states ...entities.MarketState) ([]entities.Market, error) {
	values := make([]string, 0, len(states))
	for _, state := range states {
		values = append(values, string(state))
	}
	var rows []marketModel
	if err := r.db.WithContext(ctx).
		Where("state IN ?", values).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_markets_by_state_failed", err,
			"states", strings.Join(values, ","),
		)
	}
	return toMarketEntities(rows), nil
}

func (r *Repository) ListMarkets(ctx context.Context) ([]entities.Market, error) {
	var rows []marketModel
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_markets_failed", err)
	}
	return toMarketEntities(rows), nil
}

func (r *Repository) InsertVoteRecord(ctx context.Context, record entities.VoteRecord) error {
	row := voteRecordModelFromEntity(record)
	create := r.db.WithContext(ctx).Create(&row)
	if create.Error != nil {
		if isUniqueViolation(create.Error) {
			return domainerrors.ErrDuplicateVote
		}
		return r.logError("governance_repo_insert_vote_failed", create.Error,
			"market_id", strings.TrimSpace(record.MarketID),
			"voter_id", strings.TrimSpace(record.VoterID),
			"vote_type", string(record.VoteType),
		)
	}
	return nil
}

func (r *Repository) CountVotes(ctx context.Context, marketID string, voteType entities.VoteType) (entities.Tally, error) {
	var counts struct {
		Yes uint64
		No  uint64
	}
	err := r.db.WithContext(ctx).
		Model(&voteRecordModel{}).
		Select(
			"COALESCE(SUM(CASE WHEN value THEN weight ELSE 0 END), 0) AS yes, " +
				"COALESCE(SUM(CASE WHEN value THEN 0 ELSE weight END), 0) AS no",
		).
		Where("market_id = ?", strings.TrimSpace(marketID)).
		Where("vote_type = ?", string(voteType)).
		Scan(&counts).
		Error
	if err != nil {
		return entities.Tally{}, r.logError("governance_repo_count_votes_failed", err,
			"market_id", strings.TrimSpace(marketID),
			"vote_type", string(voteType),
		)
	}
	return entities.Tally{Yes: counts.Yes, No: counts.No}, nil
}

func (r *Repository) ListVotesByMarket(
	ctx context.Context,
	marketID string,
	voteType entities.VoteType,
) ([]entities.VoteRecord, error) {
	var rows []voteRecordModel
	if err := r.db.WithContext(ctx).
		Where("market_id = ?", strings.TrimSpace(marketID)).
		Where("vote_type = ?", string(voteType)).
		Order("voted_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_votes_failed", err,
			"market_id", strings.TrimSpace(marketID),
			"vote_type", string(voteType),
		)
	}
	items := make([]entities.VoteRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) AppendAggregationResult(ctx context.Context, result entities.AggregationResult) error {
	row := aggregationResultModelFromEntity(result)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("governance_repo_append_result_failed", create.Error,
			"result_id", row.ID,
			"market_id", strings.TrimSpace(result.MarketID),
		)
	}
	return nil
}

func (r *Repository) ListResultsByMarket(ctx context.Context, marketID string) ([]entities.AggregationResult, error) {
	var rows []aggregationResultModel
	if err := r.db.WithContext(ctx).
		Where("market_id = ?", strings.TrimSpace(marketID)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_results_failed", err,
			"market_id", strings.TrimSpace(marketID),
		)
	}
	items := make([]entities.AggregationResult, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// InsertLedgerEvent relies on the tx_signature primary key: the conflicting
// insert is a silent no-op and the caller sees inserted=false.
func (r *Repository) InsertLedgerEvent(ctx context.Context, event entities.LedgerEvent) (bool, error) {
	row := ledgerEventModelFromEntity(event)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_signature"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("governance_repo_insert_event_failed", create.Error,
			"tx_signature", strings.TrimSpace(event.TxSignature),
		)
	}
	return create.RowsAffected > 0, nil
}

func (r *Repository) GetLedgerEvent(ctx context.Context, txSignature string) (entities.LedgerEvent, error) {
	var row ledgerEventModel
	err := r.db.WithContext(ctx).
		Where("tx_signature = ?", strings.TrimSpace(txSignature)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.LedgerEvent{}, domainerrors.ErrEventNotFound
		}
		return entities.LedgerEvent{}, r.logError("governance_repo_get_event_failed", err,
			"tx_signature", strings.TrimSpace(txSignature),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) AppendDiscrepancy(ctx context.Context, discrepancy entities.ReconciliationDiscrepancy) error {
	row := discrepancyModel{
		ID:          strings.TrimSpace(discrepancy.DiscrepancyID),
		MarketID:    strings.TrimSpace(discrepancy.MarketID),
		LocalState:  string(discrepancy.LocalState),
		LedgerState: string(discrepancy.LedgerState),
		DetectedAt:  discrepancy.DetectedAt.UTC(),
		ResolvedAt:  normalizeOptionalTime(discrepancy.ResolvedAt),
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("governance_repo_append_discrepancy_failed", err,
			"market_id", row.MarketID,
		)
	}
	return nil
}

func (r *Repository) SavePosition(ctx context.Context, position entities.Position) error {
	row := positionModel{
		MarketID:  strings.TrimSpace(position.MarketID),
		OwnerID:   strings.TrimSpace(position.OwnerID),
		SharesYes: position.SharesYes,
		SharesNo:  position.SharesNo,
		UpdatedAt: position.UpdatedAt.UTC(),
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}, {Name: "owner_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"shares_yes": row.SharesYes,
			"shares_no":  row.SharesNo,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("governance_repo_save_position_failed", create.Error,
			"market_id", row.MarketID,
			"owner_id", row.OwnerID,
		)
	}
	return nil
}

func (r *Repository) GetPosition(ctx context.Context, marketID string, ownerID string) (entities.Position, bool, error) {
	var row positionModel
	err := r.db.WithContext(ctx).
		Where("market_id = ?", strings.TrimSpace(marketID)).
		Where("owner_id = ?", strings.TrimSpace(ownerID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Position{}, false, nil
		}
		return entities.Position{}, false, r.logError("governance_repo_get_position_failed", err,
			"market_id", strings.TrimSpace(marketID),
			"owner_id", strings.TrimSpace(ownerID),
		)
	}
	return entities.Position{
		MarketID:  row.MarketID,
		OwnerID:   row.OwnerID,
		SharesYes: row.SharesYes,
		SharesNo:  row.SharesNo,
		UpdatedAt: row.UpdatedAt.UTC(),
	}, true, nil
}

// AcquireLease is insert-or-steal: a fresh row wins outright, otherwise a
// conditional update takes over rows that expired or already belong to the
// same holder.
func (r *Repository) AcquireLease(
	ctx context.Context,
	resourceKey string,
	holder string,
	ttl time.Duration,
) (bool, error) {
	now := time.Now().UTC()
	row := leaseModel{
		ResourceKey: strings.TrimSpace(resourceKey),
		Holder:      strings.TrimSpace(holder),
		ExpiresAt:   now.Add(ttl),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("governance_repo_acquire_lease_failed", create.Error,
			"resource_key", row.ResourceKey,
			"holder", row.Holder,
		)
	}
	if create.RowsAffected > 0 {
		return true, nil
	}

	steal := r.db.WithContext(ctx).
		Model(&leaseModel{}).
		Where("resource_key = ?", row.ResourceKey).
		Where("expires_at <= ? OR holder = ?", now, row.Holder).
		Updates(map[string]any{
			"holder":     row.Holder,
			"expires_at": row.ExpiresAt,
		})
	if steal.Error != nil {
		return false, r.logError("governance_repo_steal_lease_failed", steal.Error,
			"resource_key", row.ResourceKey,
			"holder", row.Holder,
		)
	}
	return steal.RowsAffected > 0, nil
}

func (r *Repository) ReleaseLease(ctx context.Context, resourceKey string, holder string) error {
	result := r.db.WithContext(ctx).
		Where("resource_key = ?", strings.TrimSpace(resourceKey)).
		Where("holder = ?", strings.TrimSpace(holder)).
		Delete(&leaseModel{})
	if result.Error != nil {
		return r.logError("governance_repo_release_lease_failed", result.Error,
			"resource_key", strings.TrimSpace(resourceKey),
			"holder", strings.TrimSpace(holder),
		)
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("governance_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("governance_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("governance_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("governance_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "market-governance",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("governance repository operation failed", fields...)
	return err
}

type marketModel struct {
	MarketID             string     `gorm:"column:market_id;primaryKey"`
	Creator              string     `gorm:"column:creator"`
	State                string     `gorm:"column:state"`
	Slot                 uint64     `gorm:"column:slot"`
	ProposedOutcome      *bool      `gorm:"column:proposed_outcome"`
	FinalOutcome         *bool      `gorm:"column:final_outcome"`
	Resolver             string     `gorm:"column:resolver"`
	ProposalYes          uint64     `gorm:"column:proposal_yes"`
	ProposalNo           uint64     `gorm:"column:proposal_no"`
	DisputeYes           uint64     `gorm:"column:dispute_yes"`
	DisputeNo            uint64     `gorm:"column:dispute_no"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	ApprovedAt           *time.Time `gorm:"column:approved_at"`
	ActivatedAt          *time.Time `gorm:"column:activated_at"`
	ResolutionProposedAt *time.Time `gorm:"column:resolution_proposed_at"`
	DisputeInitiatedAt   *time.Time `gorm:"column:dispute_initiated_at"`
	FinalizedAt          *time.Time `gorm:"column:finalized_at"`
	CancelledAt          *time.Time `gorm:"column:cancelled_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (marketModel) TableName() string {
	return "markets"
}

func marketModelFromEntity(market entities.Market) marketModel {
	row := marketModel{
		MarketID:             strings.TrimSpace(market.MarketID),
		Creator:              strings.TrimSpace(market.Creator),
		State:                string(market.State),
		Slot:                 market.Slot,
		ProposedOutcome:      market.ProposedOutcome,
		FinalOutcome:         market.FinalOutcome,
		Resolver:             strings.TrimSpace(market.Resolver),
		ProposalYes:          market.ProposalYes,
		ProposalNo:           market.ProposalNo,
		DisputeYes:           market.DisputeYes,
		DisputeNo:            market.DisputeNo,
		CreatedAt:            market.CreatedAt.UTC(),
		ApprovedAt:           normalizeOptionalTime(market.ApprovedAt),
		ActivatedAt:          normalizeOptionalTime(market.ActivatedAt),
		ResolutionProposedAt: normalizeOptionalTime(market.ResolutionProposedAt),
		DisputeInitiatedAt:   normalizeOptionalTime(market.DisputeInitiatedAt),
		FinalizedAt:          normalizeOptionalTime(market.FinalizedAt),
		CancelledAt:          normalizeOptionalTime(market.CancelledAt),
		UpdatedAt:            market.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m marketModel) toEntity() entities.Market {
	return entities.Market{
		MarketID:             m.MarketID,
		Creator:              m.Creator,
		State:                entities.MarketState(m.State),
		Slot:                 m.Slot,
		ProposedOutcome:      m.ProposedOutcome,
		FinalOutcome:         m.FinalOutcome,
		Resolver:             m.Resolver,
		ProposalYes:          m.ProposalYes,
		ProposalNo:           m.ProposalNo,
		DisputeYes:           m.DisputeYes,
		DisputeNo:            m.DisputeNo,
		CreatedAt:            m.CreatedAt.UTC(),
		ApprovedAt:           normalizeOptionalTime(m.ApprovedAt),
		ActivatedAt:          normalizeOptionalTime(m.ActivatedAt),
		ResolutionProposedAt: normalizeOptionalTime(m.ResolutionProposedAt),
		DisputeInitiatedAt:   normalizeOptionalTime(m.DisputeInitiatedAt),
		FinalizedAt:          normalizeOptionalTime(m.FinalizedAt),
		CancelledAt:          normalizeOptionalTime(m.CancelledAt),
		UpdatedAt:            m.UpdatedAt.UTC(),
	}
}

type voteRecordModel struct {
	MarketID string    `gorm:"column:market_id;uniqueIndex:idx_vote_identity"`
	VoterID  string    `gorm:"column:voter_id;uniqueIndex:idx_vote_identity"`
	VoteType string    `gorm:"column:vote_type;uniqueIndex:idx_vote_identity"`
	Value    bool      `gorm:"column:value"`
	Weight   uint64    `gorm:"column:weight"`
	VotedAt  time.Time `gorm:"column:voted_at"`
}

func (voteRecordModel) TableName() string {
	return "vote_records"
}

func voteRecordModelFromEntity(record entities.VoteRecord) voteRecordModel {
	row := voteRecordModel{
		MarketID: strings.TrimSpace(record.MarketID),
		VoterID:  strings.TrimSpace(record.VoterID),
		VoteType: string(record.VoteType),
		Value:    record.Value,
		Weight:   record.Weight,
		VotedAt:  record.VotedAt.UTC(),
	}
	if row.VotedAt.IsZero() {
		row.VotedAt = time.Now().UTC()
	}
	return row
}

func (m voteRecordModel) toEntity() entities.VoteRecord {
	return entities.VoteRecord{
		MarketID: m.MarketID,
		VoterID:  m.VoterID,
		VoteType: entities.VoteType(m.VoteType),
		Value:    m.Value,
		Weight:   m.Weight,
		VotedAt:  m.VotedAt.UTC(),
	}
}

type aggregationResultModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	MarketID      string    `gorm:"column:market_id"`
	VoteType      string    `gorm:"column:vote_type"`
	YesCount      uint64    `gorm:"column:yes_count"`
	NoCount       uint64    `gorm:"column:no_count"`
	PercentageBps uint64    `gorm:"column:percentage_bps"`
	ThresholdBps  uint64    `gorm:"column:threshold_bps"`
	ThresholdMet  bool      `gorm:"column:threshold_met"`
	TxSignature   string    `gorm:"column:tx_signature"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (aggregationResultModel) TableName() string {
	return "aggregation_results"
}

func aggregationResultModelFromEntity(result entities.AggregationResult) aggregationResultModel {
	row := aggregationResultModel{
		ID:            strings.TrimSpace(result.ResultID),
		MarketID:      strings.TrimSpace(result.MarketID),
		VoteType:      string(result.VoteType),
		YesCount:      result.YesCount,
		NoCount:       result.NoCount,
		PercentageBps: result.PercentageBps,
		ThresholdBps:  result.ThresholdBps,
		ThresholdMet:  result.ThresholdMet,
		TxSignature:   strings.TrimSpace(result.TxSignature),
		CreatedAt:     result.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func (m aggregationResultModel) toEntity() entities.AggregationResult {
	return entities.AggregationResult{
		ResultID:      m.ID,
		MarketID:      m.MarketID,
		VoteType:      entities.VoteType(m.VoteType),
		YesCount:      m.YesCount,
		NoCount:       m.NoCount,
		PercentageBps: m.PercentageBps,
		ThresholdBps:  m.ThresholdBps,
		ThresholdMet:  m.ThresholdMet,
		TxSignature:   m.TxSignature,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

type ledgerEventModel struct {
	TxSignature string    `gorm:"column:tx_signature;primaryKey"`
	Slot        uint64    `gorm:"column:slot"`
	BlockTime   time.Time `gorm:"column:block_time"`
	EventType   string    `gorm:"column:event_type"`
	MarketID    string    `gorm:"column:market_id"`
	Payload     []byte    `gorm:"column:payload"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (ledgerEventModel) TableName() string {
	return "ledger_events"
}

func ledgerEventModelFromEntity(event entities.LedgerEvent) ledgerEventModel {
	row := ledgerEventModel{
		TxSignature: strings.TrimSpace(event.TxSignature),
		Slot:        event.Slot,
		BlockTime:   event.BlockTime.UTC(),
		EventType:   string(event.EventType),
		MarketID:    strings.TrimSpace(event.MarketID),
		Payload:     append([]byte(nil), event.Payload...),
		ProcessedAt: event.ProcessedAt.UTC(),
	}
	if row.ProcessedAt.IsZero() {
		row.ProcessedAt = time.Now().UTC()
	}
	return row
}

func (m ledgerEventModel) toEntity() entities.LedgerEvent {
	return entities.LedgerEvent{
		TxSignature: m.TxSignature,
		Slot:        m.Slot,
		BlockTime:   m.BlockTime.UTC(),
		EventType:   entities.LedgerEventType(m.EventType),
		MarketID:    m.MarketID,
		Payload:     append([]byte(nil), m.Payload...),
		ProcessedAt: m.ProcessedAt.UTC(),
	}
}

type discrepancyModel struct {
	ID          string     `gorm:"column:id;primaryKey"`
	MarketID    string     `gorm:"column:market_id"`
	LocalState  string     `gorm:"column:local_state"`
	LedgerState string     `gorm:"column:ledger_state"`
	DetectedAt  time.Time  `gorm:"column:detected_at"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at"`
}

func (discrepancyModel) TableName() string {
	return "reconciliation_discrepancies"
}

type positionModel struct {
	MarketID  string    `gorm:"column:market_id;primaryKey"`
	OwnerID   string    `gorm:"column:owner_id;primaryKey"`
	SharesYes uint64    `gorm:"column:shares_yes"`
	SharesNo  uint64    `gorm:"column:shares_no"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (positionModel) TableName() string {
	return "positions"
}

type leaseModel struct {
	ResourceKey string    `gorm:"column:resource_key;primaryKey"`
	Holder      string    `gorm:"column:holder"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (leaseModel) TableName() string {
	return "governance_leases"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "governance_outbox"
}

func toMarketEntities(rows []marketModel) []entities.Market {
	items := make([]entities.Market, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.MarketRepository = (*Repository)(nil)
var _ ports.VoteRepository = (*Repository)(nil)
var _ ports.ResultRepository = (*Repository)(nil)
var _ ports.EventRepository = (*Repository)(nil)
var _ ports.DiscrepancyRepository = (*Repository)(nil)
var _ ports.PositionRepository = (*Repository)(nil)
var _ ports.LeaseStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
