// Package marketgovernance implements the off-chain governance layer for
// prediction markets: off-chain vote collection and threshold aggregation,
// time-triggered lifecycle monitoring of the market state machine, and
// idempotent indexing of ledger transaction events with periodic
// reconciliation against the canonical on-chain accounts.
//
// The ledger is authoritative for market state. Everything this module writes
// locally is an optimistic mirror that the event indexer and reconciliation
// sweep keep converged.
package marketgovernance
