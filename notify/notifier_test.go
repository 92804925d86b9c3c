package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"guardian/config"
	"guardian/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureChannel struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Notification
}

func (c *captureChannel) Name() string { return c.name }

func (c *captureChannel) Send(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return c.err
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func scoredIncident(risk int) *core.Incident {
	inc := core.NewIncident("Failed password for root from 185.220.101.47", "auth.log")
	_ = inc.SetRiskScore(risk)
	inc.AttackType = "brute_force"
	inc.AddIndicators("185.220.101.47")
	inc.MitigationPlan = "Block the source address."
	inc.PlannedActions = []core.Action{{Type: core.ActionBlockIP, Target: "185.220.101.47"}}
	return inc
}

func TestNotifier_MinRiskFilter(t *testing.T) {
	ch := &captureChannel{name: "capture"}
	n := NewNotifierWithChannels(5, zaptest.NewLogger(t).Sugar(), ch)

	n.Notify(FromIncident(KindIncidentCreated, scoredIncident(3)))
	n.Notify(FromIncident(KindIncidentCreated, scoredIncident(8)))
	n.Wait()

	require.Equal(t, 1, ch.count())
	assert.Equal(t, 8, ch.got[0].RiskScore)
	assert.Equal(t, []string{"185.220.101.47"}, ch.got[0].Indicators)
}

func TestNotifier_AlertIgnoresRiskFilter(t *testing.T) {
	ch := &captureChannel{name: "capture"}
	n := NewNotifierWithChannels(9, nil, ch)

	err := n.Alert(context.Background(), "inc-1", core.Action{
		Type:          core.ActionAlertOnly,
		Target:        "10.0.0.5",
		Urgency:       core.UrgencyMonitor,
		Justification: "internal scanner",
	})
	require.NoError(t, err)
	require.Equal(t, 1, ch.count())
	assert.Equal(t, KindAlert, ch.got[0].Kind)
	assert.Equal(t, []string{"alert_only:10.0.0.5"}, ch.got[0].Actions)
	assert.Contains(t, ch.got[0].Summary, "internal scanner")
}

func TestNotifier_AlertFailsOnlyWhenEveryChannelFails(t *testing.T) {
	broken := &captureChannel{name: "broken", err: errors.New("connection refused")}
	working := &captureChannel{name: "working"}

	partial := NewNotifierWithChannels(0, nil, broken, working)
	assert.NoError(t, partial.Alert(context.Background(), "inc-1", core.Action{Type: core.ActionAlertOnly, Target: "x"}))

	allBroken := NewNotifierWithChannels(0, nil, &captureChannel{name: "broken-2", err: errors.New("timeout")})
	err := allBroken.Alert(context.Background(), "inc-1", core.Action{Type: core.ActionAlertOnly, Target: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken-2: timeout")

	assert.NoError(t, NewNotifierWithChannels(0, nil).Alert(context.Background(), "inc-1", core.Action{}), "no channels is not an error")
}

func TestNotifier_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	broken := &captureChannel{name: "flaky", err: errors.New("503")}
	n := NewNotifierWithChannels(0, nil, broken)

	for i := 0; i < 10; i++ {
		_ = n.Send(context.Background(), Notification{Kind: KindAlert, IncidentID: "inc-1"})
	}
	assert.Less(t, broken.count(), 10, "open breaker short-circuits delivery")
	err := n.Send(context.Background(), Notification{Kind: KindAlert, IncidentID: "inc-1"})
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
}

func TestFromIncident(t *testing.T) {
	inc := scoredIncident(9)
	approval := FromIncident(KindApprovalNeeded, inc)
	assert.Equal(t, "Block the source address.", approval.Plan)
	assert.Equal(t, []string{"block_ip:185.220.101.47"}, approval.Actions)
	assert.Contains(t, approval.Title(), "risk 9/10")

	inc.AppendActionResult(core.ActionResult{Action: inc.PlannedActions[0], Status: core.ActionStatusSuccess})
	done := FromIncident(KindIncidentComplete, inc)
	assert.Equal(t, []string{"block_ip:185.220.101.47 -> success"}, done.Actions)
	assert.Contains(t, done.Title(), "1 actions taken")
}

func TestFromIncident_RedactsEchoedSecrets(t *testing.T) {
	inc := scoredIncident(8)
	inc.ThreatSummary = "Attacker reused password=Winter2024! from the leaked dump"
	n := FromIncident(KindIncidentCreated, inc)
	assert.NotContains(t, n.Summary, "Winter2024!")
	assert.Contains(t, n.Summary, "password=REDACTED")
}

func TestRiskLabelAndShortID(t *testing.T) {
	assert.Equal(t, "CRITICAL", RiskLabel(9))
	assert.Equal(t, "HIGH", RiskLabel(7))
	assert.Equal(t, "MEDIUM", RiskLabel(4))
	assert.Equal(t, "LOW", RiskLabel(0))
	assert.Equal(t, "3F2A9C1B", ShortID("3f2a9c1b-0000-4000-8000-000000000000"))
	assert.Equal(t, "ABC", ShortID("abc"))
}

func TestSlackChannel(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := NewSlackChannel(server.URL).Send(context.Background(), FromIncident(KindApprovalNeeded, scoredIncident(9)))
	require.NoError(t, err)
	assert.Contains(t, payload["text"], "Approval required")
	blocks, ok := payload["blocks"].([]interface{})
	require.True(t, ok)
	assert.Len(t, blocks, 4)
}

func TestSlackChannel_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewSlackChannel(server.URL).Send(context.Background(), Notification{Kind: KindAlert})
	assert.EqualError(t, err, "slack returned non-OK status: 400")
}

func TestWebhookChannel(t *testing.T) {
	var calls int32
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "soc-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, map[string]string{"X-Api-Key": "soc-key"})
	require.NoError(t, ch.Send(context.Background(), FromIncident(KindIncidentCreated, scoredIncident(8))))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "incident_created", got["kind"])
	assert.Equal(t, "HIGH", got["risk_label"])
	assert.EqualValues(t, 8, got["risk_score"])
}

func TestEmailChannel(t *testing.T) {
	smtpServer := newMockSMTPServer(t)
	ch := NewEmailChannel(EmailSettings{
		Host: smtpServer.host(),
		Port: smtpServer.port(),
		From: "guardian@example.com",
		To:   []string{"soc@example.com", "oncall@example.com"},
	})

	require.NoError(t, ch.Send(context.Background(), FromIncident(KindIncidentCreated, scoredIncident(9))))

	msgs := smtpServer.captured()
	require.Len(t, msgs, 1)
	assert.Equal(t, "guardian@example.com", msgs[0].From)
	assert.Equal(t, []string{"soc@example.com", "oncall@example.com"}, msgs[0].To)
	assert.Contains(t, msgs[0].Subject, "risk 9/10 (CRITICAL)")
	assert.Contains(t, msgs[0].Body, "185.220.101.47")
}

func TestEmailChannel_Failures(t *testing.T) {
	smtpServer := newMockSMTPServer(t)
	smtpServer.setFail(true)
	ch := NewEmailChannel(EmailSettings{Host: smtpServer.host(), Port: smtpServer.port(), From: "g@example.com", To: []string{"soc@example.com"}})
	assert.Error(t, ch.Send(context.Background(), Notification{Kind: KindAlert}))

	noRecipients := NewEmailChannel(EmailSettings{Host: "127.0.0.1"})
	assert.EqualError(t, noRecipients.Send(context.Background(), Notification{}), "no recipients specified for email notification")
}

func TestNewNotifier_FromConfig(t *testing.T) {
	var cfg config.NotificationsConfig
	assert.False(t, NewNotifier(cfg, nil).Enabled())

	cfg.Slack.Enabled = true
	cfg.Slack.WebhookURL = "https://hooks.slack.com/services/T/B/X"
	cfg.Webhook.Enabled = true
	cfg.Webhook.URL = ""
	n := NewNotifier(cfg, nil)
	require.True(t, n.Enabled())
	assert.Len(t, n.channels, 1, "webhook without a URL is skipped")
}
