package api

import (
	"net"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const maxErrorMessageLength = 512

var (
	connStringPattern = regexp.MustCompile(`(?:mongodb|mongodb\+srv|sqlite|redis|clickhouse|https?)://[^\s"']+`)
	secretPattern     = regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key)[:=]\s*["']?[^"'\s]+["']?`)
	controlPattern    = regexp.MustCompile(`[\x00-\x1F\x7F]`)
)

// sanitizeErrorMessage strips connection strings and credentials before a
// message reaches a client.
func sanitizeErrorMessage(message string) string {
	message = connStringPattern.ReplaceAllString(message, "[CONNECTION]")
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")
	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

// sanitizeLogMessage prevents log injection through user-supplied values.
func sanitizeLogMessage(message string) string {
	message = strings.ReplaceAll(message, "\n", "\\n")
	message = strings.ReplaceAll(message, "\r", "\\r")
	message = controlPattern.ReplaceAllString(message, "")
	return secretPattern.ReplaceAllString(message, "$1=[REDACTED]")
}

// writeError writes a sanitized error response. The unsanitized error is
// logged when a logger is given.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}
	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

// getRealIP returns the direct peer address. Forwarding headers are not
// trusted.
func getRealIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
