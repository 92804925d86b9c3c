package core

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// IndicatorType is the routing class of an indicator value.
type IndicatorType string

const (
	IndicatorIP      IndicatorType = "ip"
	IndicatorHash    IndicatorType = "hash"
	IndicatorURL     IndicatorType = "url"
	IndicatorUnknown IndicatorType = "unknown"
)

// MD5, SHA1, SHA256
var hexDigestPattern = regexp.MustCompile(`^[a-fA-F0-9]{32}$|^[a-fA-F0-9]{40}$|^[a-fA-F0-9]{64}$`)

// ClassifyIndicator determines whether value is an IP address, a file hash or a URL.
func ClassifyIndicator(value string) IndicatorType {
	value = strings.TrimSpace(value)
	if value == "" {
		return IndicatorUnknown
	}
	if hexDigestPattern.MatchString(value) {
		return IndicatorHash
	}
	if ip := net.ParseIP(value); ip != nil {
		return IndicatorIP
	}
	if strings.Contains(value, "://") {
		if parsed, err := url.Parse(value); err == nil && parsed.Host != "" {
			return IndicatorURL
		}
		return IndicatorUnknown
	}
	// scheme-less URLs such as evil.example.com/payload.sh
	if slash := strings.Index(value, "/"); slash > 0 {
		host := value[:slash]
		if strings.Contains(host, ".") && net.ParseIP(host) == nil && !strings.ContainsAny(host, " \t") {
			return IndicatorURL
		}
	}
	return IndicatorUnknown
}

// NormalizeIndicator trims decoration and canonicalises case so that two
// spellings of the same artifact compare equal.
func NormalizeIndicator(value string) string {
	normalized := strings.Trim(strings.TrimSpace(value), `"'<>()[],;`)

	switch ClassifyIndicator(normalized) {
	case IndicatorHash:
		return strings.ToLower(normalized)
	case IndicatorIP:
		if ip := net.ParseIP(normalized); ip != nil {
			return ip.String()
		}
		return normalized
	case IndicatorURL:
		if strings.Contains(normalized, "://") {
			if parsed, err := url.Parse(normalized); err == nil {
				parsed.Scheme = strings.ToLower(parsed.Scheme)
				parsed.Host = strings.ToLower(parsed.Host)
				return parsed.String()
			}
		}
		return normalized
	default:
		return normalized
	}
}

// DedupeIndicators normalizes values and drops repeats and values that are
// not an IP, hash or URL. Order of first appearance is kept.
func DedupeIndicators(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := NormalizeIndicator(v)
		if n == "" || ClassifyIndicator(n) == IndicatorUnknown {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
