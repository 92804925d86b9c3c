package soar

import (
	"context"

	"guardian/core"
)

// EnforcementState is the durable record of every block, disable and
// isolation currently in effect. Insert reports false when the entry was
// already present so callers can tell a fresh application from a repeat.
type EnforcementState interface {
	Contains(ctx context.Context, kind core.EnforcementKind, target string) (bool, error)
	Insert(ctx context.Context, entry core.EnforcementEntry) (bool, error)
	Snapshot(ctx context.Context) (core.EnforcementSnapshot, error)
}

// Firewall blocks network addresses.
type Firewall interface {
	BlockIP(ctx context.Context, ip, reason string) error
}

// Blocklist blocks file hashes on endpoints.
type Blocklist interface {
	BlockHash(ctx context.Context, hash, reason string) error
}

// Directory disables user accounts in an identity provider.
type Directory interface {
	DisableAccount(ctx context.Context, account, reason string) error
}

// Isolator cuts a host off the network.
type Isolator interface {
	IsolateHost(ctx context.Context, host, reason string) error
}

// AlertSink receives actions that are reported to humans instead of enforced.
type AlertSink interface {
	Alert(ctx context.Context, incidentID string, action core.Action) error
}

// Enforcers bundles the executor's collaborators. Nil members fall back to
// local simulators.
type Enforcers struct {
	Firewall  Firewall
	Blocklist Blocklist
	Directory Directory
	Isolator  Isolator
	Alerts    AlertSink
}
