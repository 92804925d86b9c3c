package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"guardian/core"
)

// slackPlanLimit caps the plan excerpt shown in approval messages.
const slackPlanLimit = 300

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: core.HTTPClientTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}

// SlackChannel posts Block Kit messages to an incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel for webhookURL.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL, client: newHTTPClient()}
}

// Name implements Channel.
func (s *SlackChannel) Name() string { return "slack" }

// Send implements Channel.
func (s *SlackChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(slackMessage(n))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-OK status: %d", resp.StatusCode)
	}
	return nil
}

func mrkdwn(text string) map[string]interface{} {
	return map[string]interface{}{"type": "mrkdwn", "text": text}
}

func slackMessage(n Notification) map[string]interface{} {
	fields := []interface{}{
		mrkdwn(fmt.Sprintf("*Incident ID:*\n`%s`", ShortID(n.IncidentID))),
		mrkdwn(fmt.Sprintf("*Risk Score:*\n%s (%d/10)", RiskLabel(n.RiskScore), n.RiskScore)),
	}
	if n.Source != "" {
		fields = append(fields, mrkdwn("*Source:*\n"+n.Source))
	}
	if n.AttackType != "" {
		fields = append(fields, mrkdwn("*Attack Type:*\n"+n.AttackType))
	}

	blocks := []interface{}{
		map[string]interface{}{
			"type": "header",
			"text": map[string]interface{}{"type": "plain_text", "text": n.Title()},
		},
		map[string]interface{}{"type": "section", "fields": fields},
	}

	switch n.Kind {
	case KindIncidentCreated:
		indicators := "None"
		if len(n.Indicators) > 0 {
			indicators = strings.Join(n.Indicators, ", ")
		}
		blocks = append(blocks, map[string]interface{}{"type": "section", "text": mrkdwn("*Indicators:*\n" + indicators)})
	case KindApprovalNeeded:
		plan := n.Plan
		if len(plan) > slackPlanLimit {
			plan = plan[:slackPlanLimit] + "..."
		}
		blocks = append(blocks, map[string]interface{}{"type": "section", "text": mrkdwn("*Proposed Plan:*\n" + plan)})
		blocks = append(blocks, map[string]interface{}{"type": "section", "text": mrkdwn("*Planned Actions:*\n" + bullets(n.Actions, "None"))})
	case KindIncidentComplete, KindDenied:
		blocks = append(blocks, map[string]interface{}{"type": "section", "text": mrkdwn("*Actions Executed:*\n" + bullets(n.Actions, "No actions taken"))})
	case KindAlert:
		blocks = append(blocks, map[string]interface{}{"type": "section", "text": mrkdwn(n.Summary)})
	}

	return map[string]interface{}{
		"text":   n.Title(),
		"blocks": blocks,
	}
}

func bullets(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		b.WriteString(item)
	}
	return b.String()
}
