// Package pipeline drives incidents through the analysis, investigation,
// planning, approval, execution and reporting stages.
//
// Every incident is owned by exactly one runner goroutine, which is the only
// writer of its record. Other goroutines read persisted copies through the
// IncidentStore and talk to a runner only through the approval gate.
package pipeline

import (
	"context"

	"guardian/core"
	"guardian/notify"
	"guardian/soar"
	"guardian/threat"
)

// IncidentStore persists incident records.
// Defined here (consumer package) so storage backends stay interchangeable.
type IncidentStore interface {
	Create(ctx context.Context, inc *core.Incident) error
	Save(ctx context.Context, inc *core.Incident) error
	// Get returns *core.NotFoundError for an unknown ID.
	Get(ctx context.Context, id string) (*core.Incident, error)
	// List returns matching summaries, most recent first, and the total match count.
	List(ctx context.Context, filter core.IncidentFilter) ([]core.IncidentSummary, int, error)
	// ListActive returns every incident in a non-terminal stage.
	ListActive(ctx context.Context) ([]*core.Incident, error)
	Stats(ctx context.Context) (core.IncidentStats, error)
}

// Reasoner scores logs and proposes plans.
type Reasoner interface {
	Name() string
	Analyze(ctx context.Context, rawLog string) (core.Analysis, error)
	Plan(ctx context.Context, req core.PlanRequest) (core.Plan, error)
}

// Investigator enriches indicators against threat intelligence.
type Investigator interface {
	Investigate(ctx context.Context, indicators []string, onResult threat.ResultFunc) []core.InvestigationResult
}

// ActionExecutor applies planned actions.
type ActionExecutor interface {
	Execute(ctx context.Context, incidentID string, actions []core.Action, onResult soar.ResultFunc) []core.ActionResult
}

// Notifier sends fire-and-forget notifications.
type Notifier interface {
	Notify(n notify.Notification)
}

// TechniqueMapper names the ATT&CK techniques behind an attack type.
type TechniqueMapper interface {
	MapTechniques(attackType string) []core.TechniqueRef
}

// Dedup claims raw-log fingerprints so duplicate submissions within a window
// map to the first incident.
type Dedup interface {
	// Claim returns the owning incident ID and whether incidentID became the owner.
	Claim(ctx context.Context, fingerprint, incidentID string) (string, bool, error)
	// Release drops a claim, e.g. when the claiming incident failed to persist.
	Release(ctx context.Context, fingerprint string) error
}
