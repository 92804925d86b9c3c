package soar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guardian/config"
	"guardian/core"
	"guardian/metrics"

	"go.uber.org/zap"
)

// webhookTimeout bounds one enforcement webhook call, retries excluded.
const webhookTimeout = 15 * time.Second

// enforcementRequest is the body POSTed to firewall, blocklist and EDR webhooks.
type enforcementRequest struct {
	Action      string    `json:"action"`
	Target      string    `json:"target"`
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// WebhookEnforcer forwards enforcement requests to an HTTP endpoint such as a
// firewall manager or EDR console. It implements Firewall, Blocklist and
// Isolator; which of them is wired depends on the configured endpoint.
//
// A 2xx answer or 409 Conflict (already enforced upstream) counts as success.
type WebhookEnforcer struct {
	name           string
	url            string
	headers        map[string]string
	policy         WebhookPolicy
	retry          RetryConfig
	circuitBreaker *core.CircuitBreaker
	logger         *zap.SugaredLogger
}

// NewWebhookEnforcer creates an enforcer for one configured endpoint.
func NewWebhookEnforcer(name string, target config.WebhookTarget, policy WebhookPolicy, logger *zap.SugaredLogger) *WebhookEnforcer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	retry := DefaultRetryConfig()
	retry.Logger = logger
	return &WebhookEnforcer{
		name:           name,
		url:            strings.TrimSpace(target.URL),
		headers:        target.Headers,
		policy:         policy,
		retry:          retry,
		circuitBreaker: metrics.NewBreaker(name),
		logger:         logger,
	}
}

// Name returns the endpoint name used for breaker metrics and logs
func (w *WebhookEnforcer) Name() string {
	return w.name
}

// BlockIP asks the endpoint to deny traffic from ip.
func (w *WebhookEnforcer) BlockIP(ctx context.Context, ip, reason string) error {
	return w.send(ctx, core.ActionBlockIP, ip, reason)
}

// BlockHash asks the endpoint to block execution of a file hash.
func (w *WebhookEnforcer) BlockHash(ctx context.Context, hash, reason string) error {
	return w.send(ctx, core.ActionBlockHash, hash, reason)
}

// IsolateHost asks the endpoint to quarantine host.
func (w *WebhookEnforcer) IsolateHost(ctx context.Context, host, reason string) error {
	return w.send(ctx, core.ActionIsolateHost, host, reason)
}

func (w *WebhookEnforcer) send(ctx context.Context, action core.ActionType, target, reason string) error {
	resolvedIP, err := ValidateWebhookURL(ctx, w.url, w.policy)
	if err != nil {
		return fmt.Errorf("%s endpoint rejected: %w", w.name, err)
	}
	client, err := NewPinnedClient(w.url, resolvedIP, webhookTimeout)
	if err != nil {
		return err
	}

	body, err := json.Marshal(enforcementRequest{
		Action:      string(action),
		Target:      target,
		Reason:      reason,
		RequestedBy: "guardian",
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", w.name, err)
	}

	start := time.Now()
	err = ExecuteWithRetry(ctx, func() error {
		return w.circuitBreaker.Execute(func() error {
			return w.post(ctx, client, body)
		})
	}, w.retry)
	if err != nil {
		w.logger.Warnw("Enforcement webhook failed",
			"endpoint", w.name,
			"action", action,
			"target", target,
			"duration", time.Since(start),
			"error", err)
		return err
	}

	w.logger.Infow("Enforcement webhook accepted",
		"endpoint", w.name,
		"action", action,
		"target", target,
		"duration", time.Since(start))
	return nil
}

func (w *WebhookEnforcer) post(ctx context.Context, client *http.Client, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "guardian-soar")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &HTTPStatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
}
