package http

import (
	"encoding/json"
	"time"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SubmitVoteRequest struct {
	VoteType string `json:"vote_type"`
	Value    bool   `json:"value"`
}

type VoteResponse struct {
	MarketID string `json:"market_id"`
	VoterID  string `json:"voter_id"`
	VoteType string `json:"vote_type"`
	Value    bool   `json:"value"`
	Weight   uint64 `json:"weight"`
	VotedAt  string `json:"voted_at"`
	Yes      uint64 `json:"yes"`
	No       uint64 `json:"no"`
}

type MarketResponse struct {
	MarketID        string  `json:"market_id"`
	Creator         string  `json:"creator"`
	State           string  `json:"state"`
	Slot            uint64  `json:"slot"`
	Resolver        string  `json:"resolver,omitempty"`
	ProposedOutcome *bool   `json:"proposed_outcome,omitempty"`
	FinalOutcome    *bool   `json:"final_outcome,omitempty"`
	ProposalYes     uint64  `json:"proposal_yes"`
	ProposalNo      uint64  `json:"proposal_no"`
	DisputeYes      uint64  `json:"dispute_yes"`
	DisputeNo       uint64  `json:"dispute_no"`
	CreatedAt       string  `json:"created_at"`
	FinalizedAt     *string `json:"finalized_at,omitempty"`
}

type MarketListResponse struct {
	Items []MarketResponse `json:"items"`
}

type TallyResponse struct {
	MarketID      string `json:"market_id"`
	VoteType      string `json:"vote_type"`
	Yes           uint64 `json:"yes"`
	No            uint64 `json:"no"`
	PercentageBps uint64 `json:"percentage_bps"`
}

type VoteListItem struct {
	VoterID  string `json:"voter_id"`
	VoteType string `json:"vote_type"`
	Value    bool   `json:"value"`
	Weight   uint64 `json:"weight"`
	VotedAt  string `json:"voted_at"`
}

type VoteListResponse struct {
	MarketID string         `json:"market_id"`
	Items    []VoteListItem `json:"items"`
}

type AggregationResultItem struct {
	ResultID      string `json:"result_id"`
	MarketID      string `json:"market_id"`
	VoteType      string `json:"vote_type"`
	YesCount      uint64 `json:"yes_count"`
	NoCount       uint64 `json:"no_count"`
	PercentageBps uint64 `json:"percentage_bps"`
	ThresholdBps  uint64 `json:"threshold_bps"`
	ThresholdMet  bool   `json:"threshold_met"`
	TxSignature   string `json:"tx_signature,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type AggregationResultsResponse struct {
	Items []AggregationResultItem `json:"items"`
}

type ProposeResolutionRequest struct {
	Outcome bool `json:"outcome"`
}

type TransitionResponse struct {
	MarketID string `json:"market_id"`
	State    string `json:"state"`
}

type WebhookEvent struct {
	TxSignature string          `json:"tx_signature"`
	Slot        uint64          `json:"slot"`
	BlockTime   time.Time       `json:"block_time"`
	EventType   string          `json:"event_type"`
	MarketID    string          `json:"market_id"`
	Payload     json.RawMessage `json:"payload"`
}

type WebhookRequest struct {
	Events []WebhookEvent `json:"events"`
}

type WebhookResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Unknown    int `json:"unknown"`
	Stale      int `json:"stale"`
	Applied    int `json:"applied"`
}
