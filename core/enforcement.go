package core

import (
	"strings"
	"time"
)

// EnforcementKind names one of the four enforcement sets.
type EnforcementKind string

const (
	EnforcementIP      EnforcementKind = "ip"
	EnforcementHash    EnforcementKind = "hash"
	EnforcementAccount EnforcementKind = "account"
	EnforcementHost    EnforcementKind = "host"
)

// AllEnforcementKinds lists the enforcement sets.
var AllEnforcementKinds = []EnforcementKind{EnforcementIP, EnforcementHash, EnforcementAccount, EnforcementHost}

// IsValid checks if the kind is one of the four sets
func (k EnforcementKind) IsValid() bool {
	for _, valid := range AllEnforcementKinds {
		if k == valid {
			return true
		}
	}
	return false
}

// NormalizeTarget canonicalizes a target so that spellings of the same
// artifact share one enforcement entry: hashes and hosts are lowercased and
// IPs are rendered in canonical form.
func (k EnforcementKind) NormalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	switch k {
	case EnforcementHash, EnforcementHost:
		return strings.ToLower(target)
	case EnforcementIP:
		return NormalizeIndicator(target)
	}
	return target
}

// EnforcementEntry is a currently active block, disable or isolation.
type EnforcementEntry struct {
	Kind       EnforcementKind `json:"kind" bson:"kind" yaml:"kind"`
	Target     string          `json:"target" bson:"target" yaml:"target"`
	Reason     string          `json:"reason" bson:"reason" yaml:"reason"`
	IncidentID string          `json:"incident_id" bson:"incident_id" yaml:"incident_id"`
	AppliedAt  time.Time       `json:"applied_at" bson:"applied_at" yaml:"applied_at"`
}

// EnforcementSnapshot is a point-in-time copy of every enforcement set.
type EnforcementSnapshot struct {
	BlockedIPs       []EnforcementEntry `json:"blocked_ips" yaml:"blocked_ips"`
	BlockedHashes    []EnforcementEntry `json:"blocked_hashes" yaml:"blocked_hashes"`
	DisabledAccounts []EnforcementEntry `json:"disabled_accounts" yaml:"disabled_accounts"`
	IsolatedHosts    []EnforcementEntry `json:"isolated_hosts" yaml:"isolated_hosts"`
	TakenAt          time.Time          `json:"taken_at" yaml:"taken_at"`
}

// Add files an entry into the set matching its kind.
func (s *EnforcementSnapshot) Add(entry EnforcementEntry) {
	switch entry.Kind {
	case EnforcementIP:
		s.BlockedIPs = append(s.BlockedIPs, entry)
	case EnforcementHash:
		s.BlockedHashes = append(s.BlockedHashes, entry)
	case EnforcementAccount:
		s.DisabledAccounts = append(s.DisabledAccounts, entry)
	case EnforcementHost:
		s.IsolatedHosts = append(s.IsolatedHosts, entry)
	}
}

// Total counts entries across all sets.
func (s EnforcementSnapshot) Total() int {
	return len(s.BlockedIPs) + len(s.BlockedHashes) + len(s.DisabledAccounts) + len(s.IsolatedHosts)
}

// NewEnforcementSnapshot returns a snapshot with empty, non-nil sets.
func NewEnforcementSnapshot() EnforcementSnapshot {
	return EnforcementSnapshot{
		BlockedIPs:       []EnforcementEntry{},
		BlockedHashes:    []EnforcementEntry{},
		DisabledAccounts: []EnforcementEntry{},
		IsolatedHosts:    []EnforcementEntry{},
		TakenAt:          time.Now().UTC(),
	}
}
