package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailSettings configures SMTP delivery.
type EmailSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel sends HTML mail through an SMTP relay. STARTTLS is used when
// the server offers it; credentials are only sent when a username is set.
type EmailChannel struct {
	settings EmailSettings
}

// NewEmailChannel creates an email channel. Port defaults to 587.
func NewEmailChannel(settings EmailSettings) *EmailChannel {
	if settings.Port == 0 {
		settings.Port = 587
	}
	if settings.From == "" {
		settings.From = settings.Username
	}
	return &EmailChannel{settings: settings}
}

// Name implements Channel.
func (e *EmailChannel) Name() string { return "email" }

// Send implements Channel. net/smtp has no context support, so ctx only
// bounds the connection attempt.
func (e *EmailChannel) Send(ctx context.Context, n Notification) error {
	if len(e.settings.To) == 0 {
		return fmt.Errorf("no recipients specified for email notification")
	}
	body, err := renderEmail(n)
	if err != nil {
		return err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.settings.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.settings.To, ", "))
	fmt.Fprintf(&msg, "Subject: [Guardian] %s\r\n", n.Title())
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := net.JoinHostPort(e.settings.Host, strconv.Itoa(e.settings.Port))
	var auth smtp.Auth
	if e.settings.Username != "" {
		auth = smtp.PlainAuth("", e.settings.Username, e.settings.Password, e.settings.Host)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(addr, auth, e.settings.From, e.settings.To, msg.Bytes())
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to send email via %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email to %s: %w", addr, ctx.Err())
	}
}

var emailTemplate = template.Must(template.New("email").Parse(`<html>
<body style="font-family: Arial, sans-serif;">
  <h2>{{.Title}}</h2>
  <table>
    <tr><td><b>Incident ID</b></td><td><code>{{.ShortID}}</code> ({{.IncidentID}})</td></tr>
    <tr><td><b>Risk Score</b></td><td>{{.RiskScore}}/10 ({{.RiskLabel}})</td></tr>
    {{if .Source}}<tr><td><b>Source</b></td><td>{{.Source}}</td></tr>{{end}}
    {{if .AttackType}}<tr><td><b>Attack Type</b></td><td>{{.AttackType}}</td></tr>{{end}}
    <tr><td><b>Time</b></td><td>{{.Time}}</td></tr>
  </table>
  {{if .Summary}}<p>{{.Summary}}</p>{{end}}
  {{if .Indicators}}<h3>Indicators</h3><ul>{{range .Indicators}}<li><code>{{.}}</code></li>{{end}}</ul>{{end}}
  {{if .Plan}}<h3>Proposed Plan</h3><pre>{{.Plan}}</pre>{{end}}
  {{if .Actions}}<h3>Actions</h3><ul>{{range .Actions}}<li>{{.}}</li>{{end}}</ul>{{end}}
</body>
</html>
`))

func renderEmail(n Notification) (string, error) {
	data := struct {
		Notification
		Title     string
		ShortID   string
		RiskLabel string
		Time      string
	}{
		Notification: n,
		Title:        n.Title(),
		ShortID:      ShortID(n.IncidentID),
		RiskLabel:    RiskLabel(n.RiskScore),
		Time:         n.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"),
	}
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email: %w", err)
	}
	return buf.String(), nil
}
