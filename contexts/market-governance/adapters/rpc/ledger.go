package rpcadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"zmart/contexts/market-governance/domain/entities"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	"zmart/contexts/market-governance/ports"
)

// LedgerClient talks JSON-RPC to the chain gateway that signs and submits
// governance instructions with the backend authority key. Errors are split
// into transient (network faults, timeouts, 5xx, rate limits) and persistent
// (instruction rejected by the program) so callers can retry the right ones.
type LedgerClient struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
	seq      atomic.Uint64
}

func NewLedgerClient(endpoint string, timeout time.Duration, logger *slog.Logger) *LedgerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type submitInstructionParams struct {
	Program     string         `json:"program"`
	Instruction string         `json:"instruction"`
	MarketID    string         `json:"market_id"`
	Authority   string         `json:"authority"`
	Args        map[string]any `json:"args,omitempty"`
}

type submitInstructionResult struct {
	TxSignature string `json:"tx_signature"`
}

type marketAccountResult struct {
	MarketID             string     `json:"market_id"`
	State                string     `json:"state"`
	Slot                 uint64     `json:"slot"`
	Creator              string     `json:"creator"`
	Resolver             string     `json:"resolver"`
	ProposedOutcome      *bool      `json:"proposed_outcome"`
	FinalOutcome         *bool      `json:"final_outcome"`
	ProposalYes          uint64     `json:"proposal_yes"`
	ProposalNo           uint64     `json:"proposal_no"`
	DisputeYes           uint64     `json:"dispute_yes"`
	DisputeNo            uint64     `json:"dispute_no"`
	ResolutionProposedAt *time.Time `json:"resolution_proposed_at"`
	DisputeInitiatedAt   *time.Time `json:"dispute_initiated_at"`
	FinalizedAt          *time.Time `json:"finalized_at"`
}

func (c *LedgerClient) SubmitInstruction(ctx context.Context, ix ports.LedgerInstruction) (string, error) {
	var result submitInstructionResult
	err := c.call(ctx, "submitInstruction", submitInstructionParams{
		Program:     ix.Program,
		Instruction: ix.Instruction,
		MarketID:    ix.MarketID,
		Authority:   ix.Authority,
		Args:        ix.Args,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.TxSignature, nil
}

func (c *LedgerClient) ReadMarketState(ctx context.Context, marketID string) (ports.MarketSnapshot, error) {
	var result marketAccountResult
	err := c.call(ctx, "getMarketAccount", map[string]any{"market_id": marketID}, &result)
	if err != nil {
		return ports.MarketSnapshot{}, err
	}
	return ports.MarketSnapshot{
		MarketID:             result.MarketID,
		State:                entities.MarketState(result.State),
		Slot:                 result.Slot,
		Creator:              result.Creator,
		Resolver:             result.Resolver,
		ProposedOutcome:      result.ProposedOutcome,
		FinalOutcome:         result.FinalOutcome,
		ProposalYes:          result.ProposalYes,
		ProposalNo:           result.ProposalNo,
		DisputeYes:           result.DisputeYes,
		DisputeNo:            result.DisputeNo,
		ResolutionProposedAt: result.ResolutionProposedAt,
		DisputeInitiatedAt:   result.DisputeInitiatedAt,
		FinalizedAt:          result.FinalizedAt,
	}, nil
}

func (c *LedgerClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%w: encode %s request: %v", domainerrors.ErrPersistentLedger, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", domainerrors.ErrPersistentLedger, method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logFailure(method, err)
		return fmt.Errorf("%w: %s: %v", domainerrors.ErrTransientLedger, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		c.logFailure(method, fmt.Errorf("status %d", resp.StatusCode))
		return fmt.Errorf("%w: %s: status %d", domainerrors.ErrTransientLedger, method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", domainerrors.ErrPersistentLedger, method, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", domainerrors.ErrTransientLedger, method, err)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", domainerrors.ErrTransientLedger, method, err)
	}
	if envelope.Error != nil {
		// Program-level rejections come back as RPC errors and will not
		// succeed on retry with the same arguments.
		return fmt.Errorf("%w: %s: rpc error %d: %s",
			domainerrors.ErrPersistentLedger, method, envelope.Error.Code, envelope.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%w: %s: decode result: %v", domainerrors.ErrTransientLedger, method, err)
	}
	return nil
}

func (c *LedgerClient) logFailure(method string, err error) {
	c.logger.Warn("ledger rpc call failed",
		"event", "governance_ledger_rpc_failed",
		"module", "market-governance",
		"layer", "adapter",
		"method", method,
		"error", err.Error(),
	)
}

var _ ports.LedgerClient = (*LedgerClient)(nil)
