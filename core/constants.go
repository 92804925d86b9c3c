package core

import "time"

// Timeouts shared by the outbound HTTP adapters.
const (
	// HTTPClientTimeout bounds intel, enforcement and notification calls
	HTTPClientTimeout = 15 * time.Second
	// ReasoningTimeout bounds a single reasoning gateway call
	ReasoningTimeout = 90 * time.Second
	// IdentityProviderTimeout bounds identity provider calls
	IdentityProviderTimeout = 10 * time.Second
)

// Risk scores are integers in [MinRiskScore, MaxRiskScore].
const (
	MinRiskScore = 0
	MaxRiskScore = 10
)

// DefaultApprovalThreshold is the risk score above which a human must approve.
const DefaultApprovalThreshold = 7
