package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	marketgovernance "zmart/contexts/market-governance"
	domainerrors "zmart/contexts/market-governance/domain/errors"
	governancehttp "zmart/contexts/market-governance/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "zmart/internal/platform/httpserver/docs"
)

type Server struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	addr          string
	governance    marketgovernance.Module
	webhookSecret string
}

func New(
	governance marketgovernance.Module,
	webhookSecret string,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	if webhookSecret == "" {
		logger.Warn("webhook signature verification disabled, ledger webhook accepts unauthenticated batches",
			"event", "http_webhook_auth_disabled",
			"module", "internal/platform/httpserver",
			"layer", "platform",
		)
	}

	s := &Server{
		mux:           http.NewServeMux(),
		logger:        logger,
		addr:          addr,
		governance:    governance,
		webhookSecret: webhookSecret,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the routing table for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("GET /v1/markets", s.handleListMarkets)
	s.mux.HandleFunc("GET /v1/markets/{market_id}", s.handleGetMarket)
	s.mux.HandleFunc("GET /v1/markets/{market_id}/tally", s.handleMarketTally)
	s.mux.HandleFunc("GET /v1/markets/{market_id}/results", s.handleAggregationResults)
	s.mux.HandleFunc("GET /v1/markets/{market_id}/votes", s.handleListVotes)
	s.mux.HandleFunc("POST /v1/markets/{market_id}/votes", s.handleSubmitVote)
	s.mux.HandleFunc("POST /v1/markets/{market_id}/activate", s.handleActivateMarket)
	s.mux.HandleFunc("POST /v1/markets/{market_id}/cancel", s.handleCancelMarket)
	s.mux.HandleFunc("POST /v1/markets/{market_id}/resolve", s.handleProposeResolution)

	s.mux.HandleFunc("POST /v1/webhooks/ledger", s.handleLedgerWebhook)
}

func (s *Server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	voterID := r.Header.Get("X-User-Id")
	if voterID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req governancehttp.SubmitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.governance.Handler.SubmitVoteHandler(r.Context(), r.PathValue("market_id"), voterID, req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.ListMarketsHandler(r.Context())
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.GetMarketHandler(r.Context(), r.PathValue("market_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarketTally(w http.ResponseWriter, r *http.Request) {
	voteType := r.URL.Query().Get("vote_type")
	if voteType == "" {
		voteType = "proposal"
	}
	resp, err := s.governance.Handler.MarketTallyHandler(r.Context(), r.PathValue("market_id"), voteType)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListVotes(w http.ResponseWriter, r *http.Request) {
	voteType := r.URL.Query().Get("vote_type")
	if voteType == "" {
		voteType = "proposal"
	}
	resp, err := s.governance.Handler.MarketVotesHandler(r.Context(), r.PathValue("market_id"), voteType)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAggregationResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.AggregationResultsHandler(r.Context(), r.PathValue("market_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActivateMarket(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-User-Id")
	if actorID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	resp, err := s.governance.Handler.ActivateMarketHandler(r.Context(), r.PathValue("market_id"), actorID)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelMarket(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-User-Id")
	if actorID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	resp, err := s.governance.Handler.CancelMarketHandler(r.Context(), r.PathValue("market_id"), actorID)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProposeResolution(w http.ResponseWriter, r *http.Request) {
	resolverID := r.Header.Get("X-User-Id")
	if resolverID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req governancehttp.ProposeResolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.governance.Handler.ProposeResolutionHandler(r.Context(), r.PathValue("market_id"), resolverID, req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLedgerWebhook authenticates the delivery provider by HMAC-SHA256 of
// the raw body before any decoding happens. A 5xx response tells the provider
// to redeliver; redelivery is safe because ingestion is idempotent.
func (s *Server) handleLedgerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_body", "request body could not be read")
		return
	}
	if !s.verifyWebhookSignature(body, r.Header.Get("X-Webhook-Signature")) {
		s.logger.Warn("webhook signature rejected",
			"event", "http_webhook_signature_rejected",
			"module", "internal/platform/httpserver",
			"layer", "platform",
		)
		writeGovernanceError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature mismatch")
		return
	}

	var req governancehttp.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.governance.Handler.WebhookHandler(r.Context(), req)
	if err != nil {
		writeGovernanceError(w, http.StatusInternalServerError, "ingest_failed", "event batch could not be persisted")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verifyWebhookSignature(body []byte, signature string) bool {
	if s.webhookSecret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeGovernanceDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrInvalidVoteInput):
		writeGovernanceError(w, http.StatusBadRequest, "invalid_vote_input", err.Error())
	case errors.Is(err, domainerrors.ErrMarketNotFound):
		writeGovernanceError(w, http.StatusNotFound, "market_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrEventNotFound):
		writeGovernanceError(w, http.StatusNotFound, "event_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrDuplicateVote):
		writeGovernanceError(w, http.StatusConflict, "duplicate_vote", err.Error())
	case errors.Is(err, domainerrors.ErrVoterNotEligible):
		writeGovernanceError(w, http.StatusForbidden, "voter_not_eligible", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidMarketState),
		errors.Is(err, domainerrors.ErrInvalidTransition):
		writeGovernanceError(w, http.StatusConflict, "invalid_market_state", err.Error())
	case errors.Is(err, domainerrors.ErrLeaseHeld),
		errors.Is(err, domainerrors.ErrConflict):
		writeGovernanceError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domainerrors.ErrBreakerOpen):
		writeGovernanceError(w, http.StatusServiceUnavailable, "ledger_unavailable", err.Error())
	case errors.Is(err, domainerrors.ErrTransientLedger),
		errors.Is(err, domainerrors.ErrPersistentLedger):
		writeGovernanceError(w, http.StatusBadGateway, "ledger_error", err.Error())
	default:
		writeGovernanceError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeGovernanceError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, governancehttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
