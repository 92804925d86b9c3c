// Package util holds small helpers shared by the CLI, the notifier and the
// bootstrap code.
package util

import (
	"regexp"
)

// MaxRedactLength bounds the input Redact will scan; longer input is truncated.
const MaxRedactLength = 64 * 1024

var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*[^\s,;&"']+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|x-apikey|token|secret|client[_-]?secret)\s*[:=]\s*[^\s,;&"']+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer REDACTED"},
	{regexp.MustCompile(`(?i)(ssws)\s+[a-zA-Z0-9_\-]+`), "$1 REDACTED"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "REDACTED_AWS_KEY"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), "REDACTED_JWT"},
	{regexp.MustCompile(`(?i)([a-z][a-z0-9+.\-]*://)[^/\s:@]+:[^/\s@]+@`), "${1}REDACTED@"},
	{regexp.MustCompile(`(?s)-----BEGIN ([A-Z ]+ )?PRIVATE KEY-----.*?-----END ([A-Z ]+ )?PRIVATE KEY-----`), "REDACTED_PRIVATE_KEY"},
}

// Redact masks credentials, tokens, keys and URL userinfo in s. Text that
// leaves the process (chat messages, email, webhook payloads) goes through it.
func Redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxRedactLength {
		s = s[:MaxRedactLength] + "... [truncated]"
	}
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// RedactError is Redact applied to err's message.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
