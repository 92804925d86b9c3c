package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guardian/config"
	"guardian/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newChatServer(t *testing.T, reply func(req chatRequest) (int, string)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, content := reply(req)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(content))
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func testReasoningConfig(baseURL string) config.ReasoningConfig {
	return config.ReasoningConfig{
		Provider:  "llm",
		BaseURL:   baseURL,
		Model:     "test-model",
		APIKey:    "test-key",
		Timeout:   5 * time.Second,
		MaxTokens: 512,
	}
}

func TestLLMGateway_Analyze(t *testing.T) {
	server := newChatServer(t, func(req chatRequest) (int, string) {
		assert.Equal(t, "test-model", req.Model)
		assert.Zero(t, req.Temperature)
		if !assert.Len(t, req.Messages, 2) {
			return http.StatusBadRequest, "bad request"
		}
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "Failed password")
		return http.StatusOK, "```json\n{\"risk_score\": 9, \"attack_type\": \"brute_force\", \"found_indicators\": [\"185.220.101.47\"], \"threat_summary\": \"brute force from tor\"}\n```"
	})

	g := NewLLMGateway(testReasoningConfig(server.URL), zaptest.NewLogger(t).Sugar())
	a, err := g.Analyze(context.Background(), "Failed password for root from 185.220.101.47")
	require.NoError(t, err)
	assert.Equal(t, 9, a.RiskScore)
	assert.Equal(t, []string{"185.220.101.47"}, a.Indicators)
}

func TestLLMGateway_Plan(t *testing.T) {
	server := newChatServer(t, func(req chatRequest) (int, string) {
		user := req.Messages[1].Content
		assert.Contains(t, user, "Risk: 9/10")
		assert.Contains(t, user, `"verdict": "malicious"`)
		return http.StatusOK, `Plan follows. {"mitigation_plan": "Block it", "actions": [{"action_type": "block_ip", "target": "185.220.101.47", "urgency": "IMMEDIATE", "justification": "tor"}]}`
	})

	g := NewLLMGateway(testReasoningConfig(server.URL), nil)
	p, err := g.Plan(context.Background(), core.PlanRequest{
		IncidentID: "inc-1",
		RiskScore:  9,
		AttackType: "brute_force",
		Indicators: []string{"185.220.101.47"},
		Investigations: []core.InvestigationResult{
			{Indicator: "185.220.101.47", Type: core.IndicatorIP, Verdict: core.VerdictMalicious},
		},
	})
	require.NoError(t, err)
	require.Len(t, p.Actions, 1)
	assert.Equal(t, core.ActionBlockIP, p.Actions[0].Type)
}

func TestLLMGateway_Failures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := newChatServer(t, func(chatRequest) (int, string) {
			return http.StatusInternalServerError, "upstream exploded"
		})
		g := NewLLMGateway(testReasoningConfig(server.URL), nil)
		_, err := g.Analyze(context.Background(), "log")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upstream exploded")
	})

	t.Run("prose only", func(t *testing.T) {
		server := newChatServer(t, func(chatRequest) (int, string) {
			return http.StatusOK, "I am unable to help with that."
		})
		g := NewLLMGateway(testReasoningConfig(server.URL), nil)
		_, err := g.Analyze(context.Background(), "log")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		cfg := testReasoningConfig(server.URL)
		cfg.Timeout = 50 * time.Millisecond
		g := NewLLMGateway(cfg, nil)
		_, err := g.Analyze(context.Background(), "log")
		require.Error(t, err)
	})
}

func TestFromConfig(t *testing.T) {
	g, err := FromConfig(config.ReasoningConfig{Provider: "auto"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", g.Name())

	g, err = FromConfig(config.ReasoningConfig{Provider: "auto", APIKey: "k", BaseURL: "http://localhost:1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "llm", g.Name())

	_, err = FromConfig(config.ReasoningConfig{Provider: "llm"}, nil)
	assert.Error(t, err)

	_, err = FromConfig(config.ReasoningConfig{Provider: "oracle"}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "oracle"))
}
