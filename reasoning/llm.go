package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"guardian/config"
	"guardian/core"
	"guardian/metrics"

	"go.uber.org/zap"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// LLMGateway asks an OpenAI-compatible chat model for analyses and plans.
type LLMGateway struct {
	baseURL        string
	model          string
	apiKey         string
	maxTokens      int
	timeout        time.Duration
	client         *http.Client
	circuitBreaker *core.CircuitBreaker
	logger         *zap.SugaredLogger
}

// NewLLMGateway creates a gateway for the configured endpoint and model.
func NewLLMGateway(cfg config.ReasoningConfig, logger *zap.SugaredLogger) *LLMGateway {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = core.ReasoningTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &LLMGateway{
		baseURL:   baseURL,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		maxTokens: cfg.MaxTokens,
		timeout:   timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		circuitBreaker: metrics.NewBreaker("reasoning"),
		logger:         logger,
	}
}

// Name returns the gateway name
func (g *LLMGateway) Name() string {
	return "llm"
}

// Analyze sends the raw log to the analyzer prompt.
func (g *LLMGateway) Analyze(ctx context.Context, rawLog string) (core.Analysis, error) {
	content, err := g.chat(ctx, "analyze", analyzerPrompt, "Analyze this security log:\n\n"+rawLog)
	if err != nil {
		return core.Analysis{}, err
	}
	analysis, err := ParseAnalysis(content)
	if err != nil {
		metrics.ReasoningCalls.WithLabelValues(g.Name(), "analyze", "invalid").Inc()
		g.logger.Warnw("Unusable analysis response", "error", err, "response_length", len(content))
		return core.Analysis{}, err
	}
	return analysis, nil
}

// Plan sends the assessment and intel results to the mitigator prompt.
func (g *LLMGateway) Plan(ctx context.Context, req core.PlanRequest) (core.Plan, error) {
	intel, err := json.MarshalIndent(req.Investigations, "", "  ")
	if err != nil {
		return core.Plan{}, fmt.Errorf("failed to encode investigations: %w", err)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Risk: %d/10\n", req.RiskScore)
	fmt.Fprintf(&user, "Attack type: %s\n", req.AttackType)
	fmt.Fprintf(&user, "Indicators: %s\n", strings.Join(req.Indicators, ", "))
	fmt.Fprintf(&user, "Threat intelligence:\n%s\n", intel)
	fmt.Fprintf(&user, "Log:\n%s", req.RawLog)

	content, err := g.chat(ctx, "plan", mitigatorPrompt, user.String())
	if err != nil {
		return core.Plan{}, err
	}
	plan, err := ParsePlan(content)
	if err != nil {
		metrics.ReasoningCalls.WithLabelValues(g.Name(), "plan", "invalid").Inc()
		g.logger.Warnw("Unusable plan response", "incident_id", req.IncidentID, "error", err)
		return core.Plan{}, err
	}
	return plan, nil
}

func (g *LLMGateway) chat(ctx context.Context, operation, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	var content string
	err = g.circuitBreaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("reasoning request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("reasoning endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
		}

		var decoded chatCompletionResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if len(decoded.Choices) == 0 {
			return fmt.Errorf("response missing choices")
		}
		content = decoded.Choices[0].Message.Content
		if strings.TrimSpace(content) == "" {
			return ErrEmptyResponse
		}
		return nil
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ReasoningCalls.WithLabelValues(g.Name(), operation, outcome).Inc()
	if err != nil {
		g.logger.Warnw("Reasoning call failed",
			"operation", operation,
			"model", g.model,
			"duration", time.Since(start),
			"error", err)
		return "", err
	}
	g.logger.Debugw("Reasoning call complete",
		"operation", operation,
		"model", g.model,
		"duration", time.Since(start))
	return content, nil
}
