package httpserver_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	marketgovernance "zmart/contexts/market-governance"
	"zmart/contexts/market-governance/domain/entities"
	"zmart/contexts/market-governance/ports"
	transporthttp "zmart/contexts/market-governance/transport/http"
	"zmart/internal/platform/httpserver"
)

type stubLedger struct {
	calls []ports.LedgerInstruction
}

func (l *stubLedger) SubmitInstruction(_ context.Context, ix ports.LedgerInstruction) (string, error) {
	l.calls = append(l.calls, ix)
	return "sig-http-test", nil
}

func (l *stubLedger) ReadMarketState(_ context.Context, marketID string) (ports.MarketSnapshot, error) {
	return ports.MarketSnapshot{MarketID: marketID}, nil
}

func newTestServer(t *testing.T, seed []entities.Market, secret string) (*httptest.Server, *stubLedger) {
	t.Helper()
	ledger := &stubLedger{}
	module := marketgovernance.NewInMemoryModule(seed, ledger, nil)
	server := httptest.NewServer(httpserver.New(module, secret, nil, ":0").Handler())
	t.Cleanup(server.Close)
	return server, ledger
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestServerWarnsWhenWebhookAuthDisabled(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	module := marketgovernance.NewInMemoryModule(nil, &stubLedger{}, nil)

	httpserver.New(module, "", logger, ":0")
	if !bytes.Contains(logs.Bytes(), []byte("http_webhook_auth_disabled")) {
		t.Fatalf("expected a warning for the missing webhook secret, got %q", logs.String())
	}

	logs.Reset()
	httpserver.New(module, "webhook-secret", logger, ":0")
	if bytes.Contains(logs.Bytes(), []byte("http_webhook_auth_disabled")) {
		t.Fatalf("configured secret must not warn, got %q", logs.String())
	}
}

func TestWebhookAcceptsSignedBatch(t *testing.T) {
	now := time.Date(2026, 3, 21, 11, 0, 0, 0, time.UTC)
	server, _ := newTestServer(t, nil, "webhook-secret")

	payload, _ := json.Marshal(map[string]any{"creator": "creator-1"})
	body, _ := json.Marshal(transporthttp.WebhookRequest{
		Events: []transporthttp.WebhookEvent{
			{
				TxSignature: "sig-web-1",
				Slot:        10,
				BlockTime:   now,
				EventType:   "market_created",
				MarketID:    "market-1",
				Payload:     payload,
			},
		},
	})

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/webhooks/ledger", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signBody("webhook-secret", body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result transporthttp.WebhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if result.Accepted != 1 || result.Applied != 1 {
		t.Fatalf("expected accepted=1 applied=1, got %+v", result)
	}

	marketResp, err := http.Get(server.URL + "/v1/markets/market-1")
	if err != nil {
		t.Fatalf("market lookup failed: %v", err)
	}
	defer marketResp.Body.Close()
	if marketResp.StatusCode != http.StatusOK {
		t.Fatalf("expected created market visible, got %d", marketResp.StatusCode)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	server, _ := newTestServer(t, nil, "webhook-secret")

	body, _ := json.Marshal(transporthttp.WebhookRequest{
		Events: []transporthttp.WebhookEvent{
			{TxSignature: "sig-web-1", Slot: 10, EventType: "market_created", MarketID: "market-1"},
		},
	})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/webhooks/ledger", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody("wrong-secret", body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.StatusCode)
	}
}

func TestWebhookSkipsVerificationWithoutSecret(t *testing.T) {
	server, _ := newTestServer(t, nil, "")

	body, _ := json.Marshal(transporthttp.WebhookRequest{})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/webhooks/ledger", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with verification disabled, got %d", resp.StatusCode)
	}
}

func TestSubmitVoteEndpoint(t *testing.T) {
	now := time.Date(2026, 3, 21, 11, 0, 0, 0, time.UTC)
	server, _ := newTestServer(t, []entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	}, "")

	body, _ := json.Marshal(transporthttp.SubmitVoteRequest{VoteType: "proposal", Value: true})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/markets/market-1/votes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "voter-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("vote request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var vote transporthttp.VoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&vote); err != nil {
		t.Fatalf("decode vote response failed: %v", err)
	}
	if vote.Weight != 1 || vote.Yes != 1 {
		t.Fatalf("unexpected vote response: %+v", vote)
	}

	// Same voter again conflicts.
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/markets/market-1/votes", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "voter-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("duplicate vote request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate vote, got %d", resp.StatusCode)
	}
}

func TestListVotesEndpointReturnsRecordedVotes(t *testing.T) {
	now := time.Date(2026, 3, 21, 11, 0, 0, 0, time.UTC)
	server, _ := newTestServer(t, []entities.Market{
		{MarketID: "market-1", State: entities.MarketStateProposed, CreatedAt: now, UpdatedAt: now},
	}, "")

	body, _ := json.Marshal(transporthttp.SubmitVoteRequest{VoteType: "proposal", Value: true})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/markets/market-1/votes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "voter-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("vote request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/v1/markets/market-1/votes?vote_type=proposal")
	if err != nil {
		t.Fatalf("vote list request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var list transporthttp.VoteListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode vote list failed: %v", err)
	}
	if list.MarketID != "market-1" || len(list.Items) != 1 {
		t.Fatalf("unexpected vote list: %+v", list)
	}
	if list.Items[0].VoterID != "voter-1" || list.Items[0].Weight != 1 || !list.Items[0].Value {
		t.Fatalf("unexpected vote item: %+v", list.Items[0])
	}
}

func TestSubmitVoteRequiresUserHeader(t *testing.T) {
	server, _ := newTestServer(t, nil, "")
	body, _ := json.Marshal(transporthttp.SubmitVoteRequest{VoteType: "proposal", Value: true})
	resp, err := http.Post(server.URL+"/v1/markets/market-1/votes", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("vote request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user header, got %d", resp.StatusCode)
	}
}

func TestGetUnknownMarketReturnsNotFound(t *testing.T) {
	server, _ := newTestServer(t, nil, "")
	resp, err := http.Get(server.URL + "/v1/markets/missing")
	if err != nil {
		t.Fatalf("market lookup failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActivateEndpointDrivesTransition(t *testing.T) {
	now := time.Date(2026, 3, 21, 11, 0, 0, 0, time.UTC)
	server, ledger := newTestServer(t, []entities.Market{
		{MarketID: "market-1", State: entities.MarketStateApproved, CreatedAt: now, UpdatedAt: now},
	}, "")

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/markets/market-1/activate", nil)
	req.Header.Set("X-User-Id", "admin-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("activate request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(ledger.calls) != 1 || ledger.calls[0].Instruction != "activate_market" {
		t.Fatalf("expected activate_market instruction, got %+v", ledger.calls)
	}

	var transition transporthttp.TransitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&transition); err != nil {
		t.Fatalf("decode transition response failed: %v", err)
	}
	if transition.State != string(entities.MarketStateActive) {
		t.Fatalf("expected active state in response, got %s", transition.State)
	}

	// Active markets cannot be activated twice.
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/markets/market-1/activate", nil)
	req.Header.Set("X-User-Id", "admin-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second activate request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for repeated activation, got %d", resp.StatusCode)
	}
}
