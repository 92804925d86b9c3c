package soar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"guardian/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEnforcer(t *testing.T, name, url string) *WebhookEnforcer {
	t.Helper()
	enf := NewWebhookEnforcer(name, config.WebhookTarget{
		URL:     url,
		Headers: map[string]string{"X-Api-Key": "fw-secret"},
	}, WebhookPolicy{AllowPrivate: true}, zaptest.NewLogger(t).Sugar())
	enf.retry = fastRetryConfig(t)
	return enf
}

func TestWebhookEnforcer_SendsRequest(t *testing.T) {
	var got enforcementRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "fw-secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	enf := newTestEnforcer(t, "firewall", server.URL+"/rules")
	require.NoError(t, enf.BlockIP(context.Background(), "185.220.101.47", "tor exit"))

	assert.Equal(t, "block_ip", got.Action)
	assert.Equal(t, "185.220.101.47", got.Target)
	assert.Equal(t, "tor exit", got.Reason)
	assert.Equal(t, "guardian", got.RequestedBy)
	assert.False(t, got.RequestedAt.IsZero())
}

func TestWebhookEnforcer_ConflictMeansAlreadyEnforced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	enf := newTestEnforcer(t, "edr", server.URL)
	assert.NoError(t, enf.IsolateHost(context.Background(), "web-01", "ransomware"))
}

func TestWebhookEnforcer_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	enf := newTestEnforcer(t, "blocklist", server.URL)
	require.NoError(t, enf.BlockHash(context.Background(), "44d88612fea8a8f36de82e1278abb02f", "eicar"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookEnforcer_ClientErrorIsFinal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "rule limit reached", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	enf := newTestEnforcer(t, "firewall", server.URL)
	err := enf.BlockIP(context.Background(), "185.220.101.47", "tor exit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule limit reached")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookEnforcer_RejectsPrivateEndpointByPolicy(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	enf := NewWebhookEnforcer("firewall", config.WebhookTarget{URL: server.URL}, WebhookPolicy{}, nil)
	err := enf.BlockIP(context.Background(), "185.220.101.47", "tor exit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSRF")
	assert.Zero(t, atomic.LoadInt32(&calls))
}
