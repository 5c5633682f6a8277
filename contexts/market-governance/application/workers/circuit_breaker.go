package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	application "zmart/contexts/market-governance/application"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker wraps the ledger-call path used by the lifecycle sweep.
// It opens after FailureThreshold consecutive failures, short-circuits calls
// for the cool-down window, then admits exactly one trial call: success
// closes the breaker, failure reopens it with the cool-down reset.
type CircuitBreaker struct {
	FailureThreshold int
	CoolDown         time.Duration
	Clock            ports.Clock
	Logger           *slog.Logger

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	trial    bool
}

// Execute runs op unless the breaker is open. Timeouts count as failures like
// any other error.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.coolDown() {
			return domainerrors.ErrBreakerOpen
		}
		b.state = breakerHalfOpen
		b.trial = true
		application.ResolveLogger(b.Logger).Info("circuit breaker half-open, admitting trial call",
			"event", "governance_breaker_half_open",
			"module", "market-governance",
			"layer", "worker",
		)
		return nil
	default: // half-open
		if b.trial {
			return domainerrors.ErrBreakerOpen
		}
		b.trial = true
		return nil
	}
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	logger := application.ResolveLogger(b.Logger)

	if err == nil {
		if b.state != breakerClosed {
			logger.Info("circuit breaker closed after successful trial",
				"event", "governance_breaker_closed",
				"module", "market-governance",
				"layer", "worker",
			)
		}
		b.state = breakerClosed
		b.failures = 0
		b.trial = false
		return
	}

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = b.now()
		b.trial = false
		logger.Warn("circuit breaker reopened after failed trial",
			"event", "governance_breaker_reopened",
			"module", "market-governance",
			"layer", "worker",
			"cool_down", b.coolDown().String(),
		)
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold() {
		b.state = breakerOpen
		b.openedAt = b.now()
		logger.Warn("circuit breaker opened",
			"event", "governance_breaker_opened",
			"module", "market-governance",
			"layer", "worker",
			"consecutive_failures", b.failures,
			"cool_down", b.coolDown().String(),
		)
	}
}

func (b *CircuitBreaker) failureThreshold() int {
	if b.FailureThreshold <= 0 {
		return 3
	}
	return b.FailureThreshold
}

func (b *CircuitBreaker) coolDown() time.Duration {
	if b.CoolDown <= 0 {
		return 5 * time.Minute
	}
	return b.CoolDown
}

func (b *CircuitBreaker) now() time.Time {
	if b.Clock != nil {
		return b.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
