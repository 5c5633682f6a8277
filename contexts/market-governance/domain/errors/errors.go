package errors

import "errors"

// Validation failures. Rejected synchronously, never retried.
var (
	ErrInvalidVoteInput   = errors.New("invalid vote input")
	ErrMarketNotFound     = errors.New("market not found")
	ErrInvalidMarketState = errors.New("market is not in an eligible state")
	ErrDuplicateVote      = errors.New("voter already voted on this market")
	ErrVoterNotEligible   = errors.New("voter holds no qualifying position")
	ErrInvalidTransition  = errors.New("lifecycle transition not allowed")
)

// Ledger failures. Transient errors are retried with bounded backoff;
// persistent errors are escalated immediately.
var (
	ErrTransientLedger  = errors.New("transient ledger failure")
	ErrPersistentLedger = errors.New("persistent ledger failure")
	ErrBreakerOpen      = errors.New("ledger circuit breaker is open")
)

// Coordination. Lease contention is benign and silently skipped.
var (
	ErrLeaseHeld = errors.New("resource lease held by another worker")
)

var (
	ErrEventNotFound = errors.New("ledger event not found")
	ErrConflict      = errors.New("conflicting write")
)
