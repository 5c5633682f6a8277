package marketgovernance

import (
	"context"
	"log/slog"
	"time"

	httpadapter "zmart/contexts/market-governance/adapters/http"
	"zmart/contexts/market-governance/adapters/memory"
	"zmart/contexts/market-governance/application/commands"
	"zmart/contexts/market-governance/application/queries"
	"zmart/contexts/market-governance/application/workers"
	"zmart/contexts/market-governance/domain/entities"
	"zmart/contexts/market-governance/ports"
)

// Module bundles the wired handler and background workers for composition by
// the bootstrap layer.
type Module struct {
	Handler httpadapter.Handler

	ProposalSweep  *workers.AggregationSweep
	DisputeSweep   *workers.AggregationSweep
	Lifecycle      *workers.LifecycleSweep
	Reconciliation *workers.ReconciliationSweep
	OutboxRelay    workers.OutboxRelay

	Store *memory.Store
}

type Dependencies struct {
	Markets       ports.MarketRepository
	Votes         ports.VoteRepository
	Results       ports.ResultRepository
	Events        ports.EventRepository
	Discrepancies ports.DiscrepancyRepository
	Positions     ports.PositionRepository
	Leases        ports.LeaseStore
	Tallies       ports.TallyStore
	Outbox        ports.OutboxWriter
	OutboxRepo    ports.OutboxRepository
	Publisher     ports.EventPublisher
	Ledger        ports.LedgerClient
	Alerts        ports.Alerter
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	Logger        *slog.Logger

	ProposalThresholdBps uint64
	DisputeThresholdBps  uint64
	VotingWindow         time.Duration
	ResolutionDelay      time.Duration
	DisputeWindow        time.Duration
	StuckWindow          time.Duration
	LeaseTTL             time.Duration
	MaxAttempts          int
	BackoffBase          time.Duration
	BreakerFailures      int
	BreakerCoolDown      time.Duration
	OutboxBatchSize      int
	Program              string
	Authority            string
}

func NewModule(deps Dependencies) Module {
	voteUseCase := commands.VoteUseCase{
		Markets:      deps.Markets,
		Votes:        deps.Votes,
		Positions:    deps.Positions,
		Tallies:      deps.Tallies,
		Outbox:       deps.Outbox,
		Clock:        deps.Clock,
		IDGen:        deps.IDGen,
		VotingWindow: deps.VotingWindow,
		Logger:       deps.Logger,
	}
	lifecycleUseCase := commands.LifecycleUseCase{
		Markets:   deps.Markets,
		Leases:    deps.Leases,
		Ledger:    deps.Ledger,
		Outbox:    deps.Outbox,
		Clock:     deps.Clock,
		IDGen:     deps.IDGen,
		LeaseTTL:  deps.LeaseTTL,
		Program:   deps.Program,
		Authority: deps.Authority,
		Logger:    deps.Logger,
	}
	ingestUseCase := commands.IngestUseCase{
		Events:    deps.Events,
		Markets:   deps.Markets,
		Positions: deps.Positions,
		Outbox:    deps.Outbox,
		Clock:     deps.Clock,
		IDGen:     deps.IDGen,
		Logger:    deps.Logger,
	}
	marketUseCase := queries.MarketUseCase{
		Markets: deps.Markets,
		Votes:   deps.Votes,
		Results: deps.Results,
		Tallies: deps.Tallies,
	}

	breaker := &workers.CircuitBreaker{
		FailureThreshold: deps.BreakerFailures,
		CoolDown:         deps.BreakerCoolDown,
		Clock:            deps.Clock,
		Logger:           deps.Logger,
	}

	proposalSweep := &workers.AggregationSweep{
		VoteType:     entities.VoteTypeProposal,
		Markets:      deps.Markets,
		Votes:        deps.Votes,
		Tallies:      deps.Tallies,
		Leases:       deps.Leases,
		Ledger:       deps.Ledger,
		Results:      deps.Results,
		Outbox:       deps.Outbox,
		Alerts:       deps.Alerts,
		Clock:        deps.Clock,
		IDGen:        deps.IDGen,
		ThresholdBps: deps.ProposalThresholdBps,
		LeaseTTL:     deps.LeaseTTL,
		MaxAttempts:  deps.MaxAttempts,
		BackoffBase:  deps.BackoffBase,
		Program:      deps.Program,
		Authority:    deps.Authority,
		Logger:       deps.Logger,
	}
	disputeSweep := &workers.AggregationSweep{
		VoteType:     entities.VoteTypeDispute,
		Markets:      deps.Markets,
		Votes:        deps.Votes,
		Tallies:      deps.Tallies,
		Leases:       deps.Leases,
		Ledger:       deps.Ledger,
		Results:      deps.Results,
		Outbox:       deps.Outbox,
		Alerts:       deps.Alerts,
		Clock:        deps.Clock,
		IDGen:        deps.IDGen,
		ThresholdBps: deps.DisputeThresholdBps,
		LeaseTTL:     deps.LeaseTTL,
		MaxAttempts:  deps.MaxAttempts,
		BackoffBase:  deps.BackoffBase,
		Program:      deps.Program,
		Authority:    deps.Authority,
		Logger:       deps.Logger,
	}
	lifecycleSweep := &workers.LifecycleSweep{
		Markets:         deps.Markets,
		Votes:           deps.Votes,
		Leases:          deps.Leases,
		Ledger:          deps.Ledger,
		Breaker:         breaker,
		Outbox:          deps.Outbox,
		Alerts:          deps.Alerts,
		Clock:           deps.Clock,
		IDGen:           deps.IDGen,
		ResolutionDelay: deps.ResolutionDelay,
		DisputeWindow:   deps.DisputeWindow,
		StuckWindow:     deps.StuckWindow,
		LeaseTTL:        deps.LeaseTTL,
		Program:         deps.Program,
		Authority:       deps.Authority,
		Logger:          deps.Logger,
	}
	reconciliationSweep := &workers.ReconciliationSweep{
		Markets:       deps.Markets,
		Discrepancies: deps.Discrepancies,
		Ledger:        deps.Ledger,
		Alerts:        deps.Alerts,
		Clock:         deps.Clock,
		IDGen:         deps.IDGen,
		Logger:        deps.Logger,
	}
	outboxRelay := workers.OutboxRelay{
		Outbox:    deps.OutboxRepo,
		Publisher: deps.Publisher,
		Clock:     deps.Clock,
		BatchSize: deps.OutboxBatchSize,
		Logger:    deps.Logger,
	}

	return Module{
		Handler: httpadapter.Handler{
			Votes:     voteUseCase,
			Lifecycle: lifecycleUseCase,
			Ingest:    ingestUseCase,
			Markets:   marketUseCase,
			Logger:    deps.Logger,
		},
		ProposalSweep:  proposalSweep,
		DisputeSweep:   disputeSweep,
		Lifecycle:      lifecycleSweep,
		Reconciliation: reconciliationSweep,
		OutboxRelay:    outboxRelay,
	}
}

// NewInMemoryModule wires the module against the in-memory store with the
// default governance thresholds. Used in tests and local development.
func NewInMemoryModule(seed []entities.Market, ledger ports.LedgerClient, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Markets:       store,
		Votes:         store,
		Results:       store,
		Events:        store,
		Discrepancies: store,
		Positions:     store,
		Leases:        store,
		Tallies:       store,
		Outbox:        store,
		OutboxRepo:    store,
		Publisher:     noopPublisher{},
		Ledger:        ledger,
		Alerts:        nil,
		Clock:         memory.Clock{},
		IDGen:         memory.IDGenerator{},
		Logger:        logger,

		ProposalThresholdBps: 7000,
		DisputeThresholdBps:  6000,
		VotingWindow:         7 * 24 * time.Hour,
		ResolutionDelay:      48 * time.Hour,
		DisputeWindow:        24 * time.Hour,
		StuckWindow:          72 * time.Hour,
		LeaseTTL:             30 * time.Second,
		MaxAttempts:          3,
		BackoffBase:          500 * time.Millisecond,
		BreakerFailures:      3,
		BreakerCoolDown:      5 * time.Minute,
		OutboxBatchSize:      100,
		Program:              "zmart_governance",
		Authority:            "backend-authority",
	})
	module.Store = store
	return module
}

type noopPublisher struct{}

func (noopPublisher) Publish(_ context.Context, _ string, _ ports.EventEnvelope) error {
	return nil
}
