package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSyslog(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		host     string
		app      string
		text     string
		line     string
		severity int
		facility int
	}{
		{
			name:     "rfc3164 with pid",
			raw:      "<38>Jan 12 03:14:01 web-01 sshd[2211]: Failed password for root from 185.220.101.47 port 52113 ssh2",
			host:     "web-01",
			app:      "sshd",
			text:     "Failed password for root from 185.220.101.47 port 52113 ssh2",
			line:     "Jan 12 03:14:01 web-01 sshd[2211]: Failed password for root from 185.220.101.47 port 52113 ssh2",
			severity: 6,
			facility: 4,
		},
		{
			name:     "rfc3164 without tag",
			raw:      "<13>Feb  3 10:00:00 fw01 DROP IN=eth0 SRC=10.0.0.5",
			host:     "fw01",
			text:     "DROP IN=eth0 SRC=10.0.0.5",
			line:     "Feb  3 10:00:00 fw01 DROP IN=eth0 SRC=10.0.0.5",
			severity: 5,
			facility: 1,
		},
		{
			name:     "rfc5424",
			raw:      `<165>1 2026-10-11T22:14:15.003Z edr-7 falcon 4242 ID47 [meta sev="high"] Process injection detected on host FINANCE-PC-12`,
			host:     "edr-7",
			app:      "falcon",
			text:     "Process injection detected on host FINANCE-PC-12",
			line:     "2026-10-11T22:14:15.003Z edr-7 falcon[4242]: Process injection detected on host FINANCE-PC-12",
			severity: 5,
			facility: 20,
		},
		{
			name:     "plain text",
			raw:      "user admin logged in from 10.1.2.3",
			text:     "user admin logged in from 10.1.2.3",
			line:     "user admin logged in from 10.1.2.3",
			severity: 6,
			facility: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseSyslog(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.host, msg.Hostname)
			assert.Equal(t, tt.app, msg.AppName)
			assert.Equal(t, tt.text, msg.Text)
			assert.Equal(t, tt.line, msg.Line)
			assert.Equal(t, tt.severity, msg.Severity)
			assert.Equal(t, tt.facility, msg.Facility)
		})
	}
}

func TestParseSyslog_Rejects(t *testing.T) {
	_, err := ParseSyslog("   \r\n")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = ParseSyslog("<999>Jan 12 03:14:01 web-01 sshd: x")
	assert.Error(t, err)

	_, err = ParseSyslog(strings.Repeat("a", MaxLineLength+1))
	assert.Error(t, err)
}

func TestMessageSource(t *testing.T) {
	assert.Equal(t, "sshd", Message{Hostname: "web-01", AppName: "sshd"}.Source())
	assert.Equal(t, "web-01", Message{Hostname: "web-01", AppName: "-"}.Source())
	assert.Equal(t, "syslog", Message{}.Source())
}
