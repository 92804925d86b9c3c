// Package ingest receives syslog over UDP and TCP and submits it to the
// pipeline. Lines from the same host and program are batched so a burst of
// related log lines (a brute force, a scan) becomes one incident.
package ingest

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxLineLength bounds a single syslog line.
const MaxLineLength = 64 * 1024

var (
	// <pri>1 timestamp host app procid msgid [sd] msg
	rfc5424 = regexp.MustCompile(`^<(\d{1,3})>1 (\S+) (\S+) (\S+) (\S+) (\S+) (-|\[.*?\]) ?(.*)$`)
	// <pri>Mmm dd hh:mm:ss host tag[pid]: msg
	rfc3164 = regexp.MustCompile(`^<(\d{1,3})>(\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+(.+)$`)
	tagRe   = regexp.MustCompile(`^([\w./-]+)(?:\[\d+\])?:\s*`)

	// ErrEmptyMessage is returned for blank lines
	ErrEmptyMessage = errors.New("empty syslog message")
)

// Message is one parsed syslog line.
type Message struct {
	Facility  int
	Severity  int
	Timestamp string
	Hostname  string
	AppName   string
	Text      string
	// Line is the message without its priority prefix, the form written to log files
	Line string
}

// Source labels the incident a message ends up in.
func (m Message) Source() string {
	switch {
	case m.AppName != "" && m.AppName != "-":
		return m.AppName
	case m.Hostname != "" && m.Hostname != "-":
		return m.Hostname
	default:
		return "syslog"
	}
}

// ParseSyslog parses an RFC 5424 or RFC 3164 line. Lines without a
// priority prefix are accepted as plain text so that tools piping raw log
// files over TCP still work.
func ParseSyslog(raw string) (Message, error) {
	raw = strings.TrimRight(raw, "\r\n\x00")
	if strings.TrimSpace(raw) == "" {
		return Message{}, ErrEmptyMessage
	}
	if len(raw) > MaxLineLength {
		return Message{}, fmt.Errorf("syslog line is %d bytes, limit %d", len(raw), MaxLineLength)
	}

	if m := rfc5424.FindStringSubmatch(raw); m != nil {
		msg, err := withPriority(m[1])
		if err != nil {
			return Message{}, err
		}
		msg.Timestamp = m[2]
		msg.Hostname = m[3]
		msg.AppName = m[4]
		msg.Text = strings.TrimPrefix(m[8], "\ufeff")
		msg.Line = fmt.Sprintf("%s %s %s[%s]: %s", m[2], m[3], m[4], m[5], msg.Text)
		return msg, nil
	}

	if m := rfc3164.FindStringSubmatch(raw); m != nil {
		msg, err := withPriority(m[1])
		if err != nil {
			return Message{}, err
		}
		msg.Timestamp = m[2]
		msg.Hostname = m[3]
		msg.Text = m[4]
		if tag := tagRe.FindStringSubmatch(m[4]); tag != nil {
			msg.AppName = tag[1]
			msg.Text = m[4][len(tag[0]):]
		}
		msg.Line = raw[strings.Index(raw, ">")+1:]
		return msg, nil
	}

	// priority without a recognised header, or no priority at all
	line := raw
	msg := Message{Severity: 6, Facility: 1}
	if strings.HasPrefix(raw, "<") {
		if end := strings.Index(raw, ">"); end > 1 && end <= 4 {
			parsed, err := withPriority(raw[1:end])
			if err == nil {
				msg = parsed
				line = raw[end+1:]
			}
		}
	}
	msg.Text = line
	msg.Line = line
	return msg, nil
}

func withPriority(value string) (Message, error) {
	pri, err := strconv.Atoi(value)
	if err != nil || pri > 191 {
		return Message{}, fmt.Errorf("invalid syslog priority %q", value)
	}
	return Message{Facility: pri / 8, Severity: pri % 8}, nil
}
