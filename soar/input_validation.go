package soar

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"guardian/core"
)

// Action targets are checked against a strict per-kind allowlist before any
// collaborator sees them. Invalid values are rejected, never escaped.

const maxTargetLength = 256

var shellMetacharacters = ";|&$`\\\"'<>(){}[]*?~!#\n\r\t\x00 "

var (
	hashTargetPattern    = regexp.MustCompile(`^(?:[a-f0-9]{32}|[a-f0-9]{40}|[a-f0-9]{64})$`)
	accountTargetPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+-]{0,255}$`)
	hostTargetPattern    = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,62})(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,62}))*$`)
)

// ValidateTarget checks that target is a well-formed value for kind.
func ValidateTarget(kind core.EnforcementKind, target string) error {
	if target == "" {
		return fmt.Errorf("target cannot be empty")
	}
	if len(target) > maxTargetLength {
		return fmt.Errorf("target exceeds %d characters", maxTargetLength)
	}
	if i := strings.IndexAny(target, shellMetacharacters); i >= 0 {
		return fmt.Errorf("target contains prohibited character %q", target[i])
	}

	switch kind {
	case core.EnforcementIP:
		if net.ParseIP(target) == nil {
			return fmt.Errorf("%q is not an IP address", target)
		}
	case core.EnforcementHash:
		if !hashTargetPattern.MatchString(strings.ToLower(target)) {
			return fmt.Errorf("%q is not an MD5, SHA-1 or SHA-256 hash", target)
		}
	case core.EnforcementAccount:
		if !accountTargetPattern.MatchString(target) {
			return fmt.Errorf("%q is not a valid account name", target)
		}
	case core.EnforcementHost:
		if !hostTargetPattern.MatchString(target) {
			return fmt.Errorf("%q is not a valid hostname", target)
		}
	default:
		return fmt.Errorf("unknown enforcement kind %q", kind)
	}
	return nil
}
