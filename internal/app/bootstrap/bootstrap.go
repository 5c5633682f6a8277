package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	marketgovernance "zmart/contexts/market-governance"
	memoryadapter "zmart/contexts/market-governance/adapters/memory"
	postgresadapter "zmart/contexts/market-governance/adapters/postgres"
	redisadapter "zmart/contexts/market-governance/adapters/redis"
	rpcadapter "zmart/contexts/market-governance/adapters/rpc"
	"zmart/contexts/market-governance/ports"
	"zmart/internal/platform/alerting"
	"zmart/internal/platform/config"
	"zmart/internal/platform/db"
	"zmart/internal/platform/httpserver"
	"zmart/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres   *db.Postgres
	governance marketgovernance.Module
	cfg        config.Config
	logger     *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	module, pg, err := buildModule(cfg, logger)
	if err != nil {
		return nil, err
	}

	server := httpserver.New(module, cfg.WebhookSecret, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	module, pg, err := buildModule(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &WorkerApp{
		postgres:   pg,
		governance: module,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

func buildModule(cfg config.Config, logger *slog.Logger) (marketgovernance.Module, *db.Postgres, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return marketgovernance.Module{}, nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(context.Background(), db.Options{
		DSN:          cfg.PostgresDSN,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
		MaxIdleConns: cfg.PostgresMaxIdleConns,
		ConnLifetime: cfg.PostgresConnLifetime,
	}, logger)
	if err != nil {
		return marketgovernance.Module{}, nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)

	// The tally cache is capacity relief, not a requirement; with no Redis
	// configured the in-memory store keeps single-process deployments working.
	var tallies ports.TallyStore
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		tallies = redisadapter.NewTallyStore(client, logger)
	} else {
		tallies = memoryadapter.NewStore(nil)
	}

	bus := messaging.NewProducer(nil, logger)

	ledger := rpcadapter.NewLedgerClient(cfg.LedgerRPCEndpoint, cfg.LedgerRPCTimeout, logger)
	alerts := alerting.NewWebhookAlerter(cfg.AlertWebhookURL, logger)

	module := marketgovernance.NewModule(marketgovernance.Dependencies{
		Markets:       repo,
		Votes:         repo,
		Results:       repo,
		Events:        repo,
		Discrepancies: repo,
		Positions:     repo,
		Leases:        repo,
		Tallies:       tallies,
		Outbox:        repo,
		OutboxRepo:    repo,
		Publisher:     bus,
		Ledger:        ledger,
		Alerts:        alerts,
		Clock:         postgresadapter.SystemClock{},
		IDGen:         postgresadapter.UUIDGenerator{},
		Logger:        logger,

		ProposalThresholdBps: cfg.ProposalThresholdBps,
		DisputeThresholdBps:  cfg.DisputeThresholdBps,
		VotingWindow:         cfg.VotingWindow,
		ResolutionDelay:      cfg.ResolutionDelay,
		DisputeWindow:        cfg.DisputeWindow,
		StuckWindow:          cfg.StuckWindow,
		LeaseTTL:             cfg.LeaseTTL,
		MaxAttempts:          cfg.MaxSubmitAttempts,
		BackoffBase:          cfg.BackoffBase,
		BreakerFailures:      cfg.BreakerFailures,
		BreakerCoolDown:      cfg.BreakerCoolDown,
		OutboxBatchSize:      cfg.OutboxBatchSize,
		Program:              cfg.LedgerProgram,
		Authority:            cfg.BackendAuthority,
	})
	return module, pg, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

// Run schedules every sweep on its own ticker. The dispute sweep starts after
// a fixed offset so the two aggregation sweeps stay staggered, and sweep
// errors are logged rather than fatal so one bad cycle never stops the worker.
func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"proposal_interval", w.cfg.ProposalSweepInterval.String(),
		"lifecycle_interval", w.cfg.LifecycleInterval.String(),
		"reconcile_interval", w.cfg.ReconcileInterval.String(),
	)

	go w.loop(ctx, "proposal_sweep", w.cfg.ProposalSweepInterval, 0, w.governance.ProposalSweep.RunOnce)
	go w.loop(ctx, "dispute_sweep", w.cfg.ProposalSweepInterval, w.cfg.DisputeSweepOffset, w.governance.DisputeSweep.RunOnce)
	go w.loop(ctx, "lifecycle_sweep", w.cfg.LifecycleInterval, 0, w.governance.Lifecycle.RunOnce)
	go w.loop(ctx, "reconciliation_sweep", w.cfg.ReconcileInterval, 0, w.governance.Reconciliation.RunOnce)
	go w.loop(ctx, "outbox_relay", w.cfg.OutboxInterval, 0, w.governance.OutboxRelay.RunOnce)

	<-ctx.Done()
	return nil
}

func (w *WorkerApp) loop(
	ctx context.Context,
	name string,
	interval time.Duration,
	offset time.Duration,
	run func(context.Context) error,
) {
	if interval <= 0 {
		interval = time.Minute
	}
	if offset > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(offset):
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := run(ctx); err != nil {
			w.logger.Error("worker cycle failed",
				"event", "bootstrap_worker_cycle_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"worker", name,
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
