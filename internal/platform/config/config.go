package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	HTTPPort    string
	PostgresDSN string
	RedisAddr   string

	PostgresMaxOpenConns int
	PostgresMaxIdleConns int
	PostgresConnLifetime time.Duration

	LedgerRPCEndpoint string
	LedgerRPCTimeout  time.Duration
	LedgerProgram     string
	BackendAuthority  string

	WebhookSecret   string
	AlertWebhookURL string

	ProposalThresholdBps uint64
	DisputeThresholdBps  uint64
	VotingWindow         time.Duration
	ResolutionDelay      time.Duration
	DisputeWindow        time.Duration
	StuckWindow          time.Duration
	LeaseTTL             time.Duration

	ProposalSweepInterval time.Duration
	DisputeSweepOffset    time.Duration
	LifecycleInterval     time.Duration
	ReconcileInterval     time.Duration
	OutboxInterval        time.Duration
	OutboxBatchSize       int

	MaxSubmitAttempts int
	BackoffBase       time.Duration
	BreakerFailures   int
	BreakerCoolDown   time.Duration
}

func Load() (Config, error) {
	// A missing .env file is fine; real deployments inject the environment.
	_ = godotenv.Load()

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "zmart-governance"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		ServiceName: service,
		HTTPPort:    port,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   envString("REDIS_ADDR", "localhost:6379"),

		PostgresMaxOpenConns: envInt("POSTGRES_MAX_OPEN_CONNS", 25),
		PostgresMaxIdleConns: envInt("POSTGRES_MAX_IDLE_CONNS", 5),
		PostgresConnLifetime: envDuration("POSTGRES_CONN_LIFETIME", 30*time.Minute),

		LedgerRPCEndpoint: envString("LEDGER_RPC_ENDPOINT", "http://localhost:8899"),
		LedgerRPCTimeout:  envDuration("LEDGER_RPC_TIMEOUT", 10*time.Second),
		LedgerProgram:     envString("LEDGER_PROGRAM", "zmart_governance"),
		BackendAuthority:  os.Getenv("BACKEND_AUTHORITY"),

		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		AlertWebhookURL: os.Getenv("ALERT_WEBHOOK_URL"),

		ProposalThresholdBps: envUint("PROPOSAL_THRESHOLD_BPS", 7000),
		DisputeThresholdBps:  envUint("DISPUTE_THRESHOLD_BPS", 6000),
		VotingWindow:         envDuration("VOTING_WINDOW", 7*24*time.Hour),
		ResolutionDelay:      envDuration("RESOLUTION_DELAY", 48*time.Hour),
		DisputeWindow:        envDuration("DISPUTE_WINDOW", 24*time.Hour),
		StuckWindow:          envDuration("STUCK_WINDOW", 72*time.Hour),
		LeaseTTL:             envDuration("LEASE_TTL", 30*time.Second),

		ProposalSweepInterval: envDuration("PROPOSAL_SWEEP_INTERVAL", time.Minute),
		DisputeSweepOffset:    envDuration("DISPUTE_SWEEP_OFFSET", 30*time.Second),
		LifecycleInterval:     envDuration("LIFECYCLE_INTERVAL", time.Minute),
		ReconcileInterval:     envDuration("RECONCILE_INTERVAL", 10*time.Minute),
		OutboxInterval:        envDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatchSize:       envInt("OUTBOX_BATCH_SIZE", 100),

		MaxSubmitAttempts: envInt("MAX_SUBMIT_ATTEMPTS", 3),
		BackoffBase:       envDuration("BACKOFF_BASE", 500*time.Millisecond),
		BreakerFailures:   envInt("BREAKER_FAILURES", 3),
		BreakerCoolDown:   envDuration("BREAKER_COOLDOWN", 5*time.Minute),
	}, nil
}

func envString(name string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envUint(name string, fallback uint64) uint64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
