package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"zmart/contexts/market-governance/ports"
)

// WebhookAlerter posts alerts to the on-call notification endpoint. With no
// endpoint configured it degrades to structured log lines so alert-raising
// code paths never need a nil check.
type WebhookAlerter struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

func NewWebhookAlerter(endpoint string, logger *slog.Logger) *WebhookAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookAlerter{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

func (a *WebhookAlerter) RaiseAlert(ctx context.Context, alert ports.Alert) error {
	a.logger.Warn("governance alert raised",
		"event", "governance_alert_raised",
		"module", "internal/platform/alerting",
		"layer", "platform",
		"alert_type", alert.Type,
		"severity", alert.Severity,
	)
	if a.endpoint == "" {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"type":     alert.Type,
		"severity": alert.Severity,
		"payload":  alert.Payload,
		"raised_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver alert: status %d", resp.StatusCode)
	}
	return nil
}

var _ ports.Alerter = (*WebhookAlerter)(nil)
