// Package notify delivers incident notifications to Slack, generic webhooks
// and email. Every channel sits behind its own circuit breaker so a dead
// endpoint cannot slow down the pipeline.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"guardian/config"
	"guardian/core"
	"guardian/metrics"
	"guardian/util"
	"guardian/util/goroutine"

	"go.uber.org/zap"
)

// Kind classifies a notification.
type Kind string

const (
	KindIncidentCreated  Kind = "incident_created"
	KindApprovalNeeded   Kind = "approval_needed"
	KindIncidentComplete Kind = "incident_complete"
	KindDenied           Kind = "incident_denied"
	// KindAlert is raised by alert_only actions and by actions of a type
	// the executor does not know.
	KindAlert Kind = "alert"
)

// Notification is the channel-independent message.
type Notification struct {
	Kind       Kind      `json:"kind"`
	IncidentID string    `json:"incident_id"`
	Source     string    `json:"source,omitempty"`
	RiskScore  int       `json:"risk_score"`
	AttackType string    `json:"attack_type,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Indicators []string  `json:"indicators,omitempty"`
	Plan       string    `json:"plan,omitempty"`
	Actions    []string  `json:"actions,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// FromIncident fills a notification from an incident record. Free text
// produced by the reasoning gateway is redacted since it can echo secrets
// from the raw log.
func FromIncident(kind Kind, inc *core.Incident) Notification {
	n := Notification{
		Kind:       kind,
		IncidentID: inc.ID,
		Source:     inc.Source,
		AttackType: inc.AttackType,
		Summary:    util.Redact(inc.ThreatSummary),
		Indicators: append([]string(nil), inc.Indicators...),
		Timestamp:  time.Now().UTC(),
	}
	if inc.RiskScore != nil {
		n.RiskScore = *inc.RiskScore
	}
	switch kind {
	case KindApprovalNeeded:
		n.Plan = util.Redact(inc.MitigationPlan)
		for _, a := range inc.PlannedActions {
			n.Actions = append(n.Actions, a.String())
		}
	case KindIncidentComplete, KindDenied:
		n.Actions = inc.ExecutedActionStrings()
	}
	return n
}

// Title is a one-line headline used by every channel.
func (n Notification) Title() string {
	switch n.Kind {
	case KindIncidentCreated:
		return fmt.Sprintf("New Guardian incident, risk %d/10 (%s)", n.RiskScore, RiskLabel(n.RiskScore))
	case KindApprovalNeeded:
		return fmt.Sprintf("Approval required for incident %s, risk %d/10", ShortID(n.IncidentID), n.RiskScore)
	case KindIncidentComplete:
		return fmt.Sprintf("Incident %s resolved, %d actions taken", ShortID(n.IncidentID), len(n.Actions))
	case KindDenied:
		return fmt.Sprintf("Mitigation denied for incident %s, risk %d/10", ShortID(n.IncidentID), n.RiskScore)
	case KindAlert:
		return fmt.Sprintf("Guardian alert for incident %s", ShortID(n.IncidentID))
	default:
		return fmt.Sprintf("Guardian notification for incident %s", ShortID(n.IncidentID))
	}
}

// RiskLabel buckets a 0..10 score.
func RiskLabel(score int) string {
	switch {
	case score >= 9:
		return "CRITICAL"
	case score >= 7:
		return "HIGH"
	case score >= 4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ShortID is the 8-character upper-case prefix analysts quote.
func ShortID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

// Channel is one delivery mechanism.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type guardedChannel struct {
	Channel
	breaker *core.CircuitBreaker
}

// Notifier fans notifications out to the configured channels.
type Notifier struct {
	channels []guardedChannel
	minRisk  int
	timeout  time.Duration
	logger   *zap.SugaredLogger
	wg       sync.WaitGroup
}

// NewNotifier builds a notifier for the enabled channels in cfg.
func NewNotifier(cfg config.NotificationsConfig, logger *zap.SugaredLogger) *Notifier {
	var channels []Channel
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		channels = append(channels, NewSlackChannel(cfg.Slack.WebhookURL))
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		channels = append(channels, NewWebhookChannel(cfg.Webhook.URL, cfg.Webhook.Headers))
	}
	if cfg.Email.Enabled && cfg.Email.SMTPServer != "" {
		channels = append(channels, NewEmailChannel(EmailSettings{
			Host:     cfg.Email.SMTPServer,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}))
	}
	return NewNotifierWithChannels(cfg.MinRisk, logger, channels...)
}

// NewNotifierWithChannels builds a notifier from explicit channels.
func NewNotifierWithChannels(minRisk int, logger *zap.SugaredLogger, channels ...Channel) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	n := &Notifier{
		minRisk: minRisk,
		timeout: core.HTTPClientTimeout,
		logger:  logger,
	}
	for _, ch := range channels {
		n.channels = append(n.channels, guardedChannel{
			Channel: ch,
			breaker: metrics.NewBreaker("notify_" + ch.Name()),
		})
		logger.Infow("Notification channel enabled", "channel", ch.Name())
	}
	return n
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return len(n.channels) > 0
}

// Notify sends in the background. Notifications below the minimum risk are
// dropped; alerts always go out.
func (n *Notifier) Notify(notification Notification) {
	if !n.Enabled() || !n.passes(notification) {
		return
	}
	n.wg.Add(1)
	goroutine.Go("notify-"+string(notification.Kind), n.logger, func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.Send(ctx, notification); err != nil {
			n.logger.Warnw("Notification delivery failed",
				"incident_id", notification.IncidentID,
				"kind", notification.Kind,
				"error", err)
		}
	})
}

// Send delivers to every channel and returns the joined channel errors.
func (n *Notifier) Send(ctx context.Context, notification Notification) error {
	var errs []error
	for _, ch := range n.channels {
		err := ch.breaker.Execute(func() error {
			return ch.Send(ctx, notification)
		})
		if err != nil {
			metrics.NotificationsSent.WithLabelValues(ch.Name(), "failure").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		metrics.NotificationsSent.WithLabelValues(ch.Name(), "success").Inc()
		n.logger.Infow("Notification sent",
			"channel", ch.Name(),
			"incident_id", notification.IncidentID,
			"kind", notification.Kind)
	}
	return errors.Join(errs...)
}

// Alert notifies about an action that has no enforcement collaborator. It
// succeeds when at least one channel accepted the alert, or when no channel
// is configured.
func (n *Notifier) Alert(ctx context.Context, incidentID string, action core.Action) error {
	notification := Notification{
		Kind:       KindAlert,
		IncidentID: incidentID,
		Summary:    fmt.Sprintf("%s (%s): %s", action.String(), action.Urgency, action.Justification),
		Actions:    []string{action.String()},
		Timestamp:  time.Now().UTC(),
	}
	if !n.Enabled() {
		n.logger.Warnw("Alert raised with no notification channel configured",
			"incident_id", incidentID,
			"action", action.String())
		return nil
	}
	err := n.Send(ctx, notification)
	if err == nil {
		return nil
	}
	if failed := countJoined(err); failed < len(n.channels) {
		n.logger.Warnw("Alert partially delivered", "incident_id", incidentID, "error", err)
		return nil
	}
	return err
}

// Wait blocks until background notifications have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) passes(notification Notification) bool {
	if notification.Kind == KindAlert {
		return true
	}
	return notification.RiskScore >= n.minRisk
}

func countJoined(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
