package soar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardian/core"
	"guardian/metrics"

	"go.uber.org/zap"
)

// ResultFunc observes each action result as soon as it is known.
type ResultFunc func(index int, result core.ActionResult)

// Executor applies planned actions one at a time, in plan order.
//
// Idempotency rests entirely on the enforcement state: a target already in
// its set is reported as already_applied and no collaborator is called.
// Check, call and insert run under a per-target lock so two incidents
// naming the same target cannot both reach the collaborator.
type Executor struct {
	state       EnforcementState
	firewall    Firewall
	blocklist   Blocklist
	directory   Directory
	isolator    Isolator
	alerts      AlertSink
	auditLogger AuditLogger
	destructive bool
	locks       *keyedMutex
	logger      *zap.SugaredLogger
}

// NewExecutor wires the executor to its collaborators. Missing enforcers
// are replaced by a shared Simulator. With destructiveEnabled false the
// enforcers are never called and every action is logged as a dry run.
func NewExecutor(state EnforcementState, enforcers Enforcers, auditLogger AuditLogger, destructiveEnabled bool, logger *zap.SugaredLogger) *Executor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if auditLogger == nil {
		auditLogger = &NoOpAuditLogger{}
	}

	sim := NewSimulator(logger)
	e := &Executor{
		state:       state,
		firewall:    enforcers.Firewall,
		blocklist:   enforcers.Blocklist,
		directory:   enforcers.Directory,
		isolator:    enforcers.Isolator,
		alerts:      enforcers.Alerts,
		auditLogger: auditLogger,
		destructive: destructiveEnabled,
		locks:       newKeyedMutex(),
		logger:      logger,
	}
	if e.firewall == nil {
		e.firewall = sim
	}
	if e.blocklist == nil {
		e.blocklist = sim
	}
	if e.directory == nil {
		e.directory = sim
	}
	if e.isolator == nil {
		e.isolator = sim
	}
	if e.alerts == nil {
		e.alerts = sim
	}
	if !destructiveEnabled {
		logger.Warn("Destructive actions are disabled; enforcement runs as a dry run")
	}
	return e
}

// Execute applies actions in order. A failed action never stops the ones
// after it. onResult, when set, is called after each action.
//
// Cancelling ctx stops execution between actions; the returned slice then
// holds only the actions that ran.
func (e *Executor) Execute(ctx context.Context, incidentID string, actions []core.Action, onResult ResultFunc) []core.ActionResult {
	results := make([]core.ActionResult, 0, len(actions))
	for i, action := range actions {
		if ctx.Err() != nil {
			e.logger.Warnw("Action execution interrupted",
				"incident_id", incidentID,
				"completed", len(results),
				"remaining", len(actions)-len(results))
			break
		}
		result := e.Apply(ctx, incidentID, action)
		results = append(results, result)
		if onResult != nil {
			onResult(i, result)
		}
	}
	return results
}

// Apply runs a single action and returns its result. It never panics on
// collaborator errors; they become failed results.
func (e *Executor) Apply(ctx context.Context, incidentID string, action core.Action) core.ActionResult {
	start := time.Now()
	result := core.ActionResult{Action: action}
	eventType := AuditActionExecuted

	kind, enforceable := action.Type.EnforcementKind()
	switch {
	case action.Type == core.ActionAlertOnly:
		if err := e.alerts.Alert(ctx, incidentID, action); err != nil {
			result.Status, result.Reason = core.ActionStatusFailed, err.Error()
		} else {
			result.Status = core.ActionStatusSuccess
		}

	case !enforceable:
		result.Status = core.ActionStatusFailed
		result.Reason = fmt.Sprintf("unknown action type %q", action.Type)
		if err := e.alerts.Alert(ctx, incidentID, action); err != nil {
			e.logger.Warnw("Alert for unknown action type failed", "incident_id", incidentID, "action", action.String(), "error", err)
		}

	default:
		result.Status, result.Reason = e.enforce(ctx, incidentID, kind, action)
		if !e.destructive {
			eventType = AuditActionDryRun
		}
	}

	result.ExecutedAt = time.Now().UTC()
	duration := time.Since(start)
	metrics.ActionsExecuted.WithLabelValues(string(action.Type), string(result.Status)).Inc()

	if result.Status == core.ActionStatusFailed {
		e.logger.Warnw("Action failed",
			"incident_id", incidentID,
			"action", action.String(),
			"reason", result.Reason,
			"duration", duration)
	} else {
		e.logger.Infow("Action applied",
			"incident_id", incidentID,
			"action", action.String(),
			"status", result.Status,
			"duration", duration)
	}

	if err := e.auditLogger.Log(ctx, &AuditEvent{
		EventType:  eventType,
		IncidentID: incidentID,
		ActionType: string(action.Type),
		Target:     action.Target,
		Result:     string(result.Status),
		Reason:     result.Reason,
		Actor:      "guardian",
		Parameters: map[string]interface{}{
			"urgency":       string(action.Urgency),
			"justification": action.Justification,
		},
		DurationMs: uint32(duration.Milliseconds()),
		Timestamp:  result.ExecutedAt,
	}); err != nil {
		e.logger.Warnw("Failed to write audit event", "incident_id", incidentID, "error", err)
	}
	return result
}

func (e *Executor) enforce(ctx context.Context, incidentID string, kind core.EnforcementKind, action core.Action) (core.ActionStatus, string) {
	target := kind.NormalizeTarget(action.Target)
	if err := ValidateTarget(kind, target); err != nil {
		return core.ActionStatusFailed, "invalid target: " + err.Error()
	}

	// lock on the canonical target so spellings of one artifact serialize
	unlock := e.locks.Lock(string(kind) + ":" + target)
	defer unlock()

	present, err := e.state.Contains(ctx, kind, target)
	if err != nil {
		return core.ActionStatusFailed, fmt.Sprintf("enforcement state unavailable: %v", err)
	}
	if present {
		return core.ActionStatusAlreadyApplied, ""
	}

	reason := action.Justification
	if reason == "" {
		reason = "guardian incident " + incidentID
	}

	if e.destructive {
		if err := e.dispatch(ctx, action.Type, target, reason); err != nil {
			return core.ActionStatusFailed, err.Error()
		}
	} else {
		e.logger.Warnw("SIMULATION: would apply action", "incident_id", incidentID, "action", action.String())
	}

	inserted, err := e.state.Insert(ctx, core.EnforcementEntry{
		Kind:       kind,
		Target:     target,
		Reason:     reason,
		IncidentID: incidentID,
		AppliedAt:  time.Now().UTC(),
	})
	if err != nil {
		return core.ActionStatusFailed, fmt.Sprintf("applied but not recorded: %v", err)
	}
	if !inserted {
		// another process recorded it between our check and insert
		return core.ActionStatusAlreadyApplied, ""
	}
	return core.ActionStatusSuccess, ""
}

func (e *Executor) dispatch(ctx context.Context, t core.ActionType, target, reason string) error {
	switch t {
	case core.ActionBlockIP:
		return e.firewall.BlockIP(ctx, target, reason)
	case core.ActionBlockHash:
		return e.blocklist.BlockHash(ctx, target, reason)
	case core.ActionDisableAccount:
		return e.directory.DisableAccount(ctx, target, reason)
	case core.ActionIsolateHost:
		return e.isolator.IsolateHost(ctx, target, reason)
	}
	return fmt.Errorf("no enforcer for action type %q", t)
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
