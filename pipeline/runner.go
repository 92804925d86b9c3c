package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guardian/core"
	"guardian/metrics"
	"guardian/notify"
	"guardian/soar"
	"guardian/util/goroutine"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// persistTimeout bounds a single store write. Writes detach from the runner
// context so a transition that has begun is recorded even during shutdown.
const persistTimeout = 10 * time.Second

// runner drives one incident to a terminal stage. It is the only writer of
// inc while it runs.
type runner struct {
	o   *Orchestrator
	inc *core.Incident

	// request is the gate registration made while planning, consumed by the
	// awaiting_approval step.
	request *soar.ApprovalRequest
}

func newRunner(o *Orchestrator, inc *core.Incident) *runner {
	return &runner{o: o, inc: inc}
}

func (r *runner) run(ctx context.Context) {
	defer goroutine.RecoverWith("pipeline-runner-"+r.inc.ID, r.o.logger, func(v interface{}) {
		r.fail(ctx, fmt.Errorf("internal error: %v", v))
	})

	for !r.inc.Stage.IsTerminal() {
		stage := r.inc.Stage
		if err := r.step(ctx, stage); err != nil {
			if ctx.Err() != nil {
				r.o.logger.Infow("Runner interrupted, incident left for recovery",
					"incident_id", r.inc.ID,
					"stage", r.inc.Stage)
				return
			}
			r.fail(ctx, err)
			return
		}
	}
}

// step performs the work of one stage inside a span and records its duration.
func (r *runner) step(ctx context.Context, stage core.Stage) error {
	ctx, span := r.o.tracer.Start(ctx, "stage."+string(stage),
		trace.WithAttributes(
			attribute.String("incident.id", r.inc.ID),
			attribute.String("incident.stage", string(stage)),
		))
	defer span.End()

	start := time.Now()
	var err error
	switch stage {
	case core.StagePending:
		err = r.commit(ctx, core.StageAnalyzing)
	case core.StageAnalyzing:
		err = r.analyze(ctx)
	case core.StageInvestigating:
		err = r.investigate(ctx)
	case core.StagePlanning:
		err = r.plan(ctx)
	case core.StageAwaitingApproval:
		err = r.awaitApproval(ctx)
	case core.StageExecuting:
		err = r.execute(ctx)
	case core.StageReporting:
		err = r.report(ctx)
	default:
		err = &core.InvalidStateError{IncidentID: r.inc.ID, Stage: stage, Op: "run"}
	}
	// parked time is operator latency, not stage work
	if stage != core.StageAwaitingApproval {
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &core.StageFailure{Stage: stage, Err: err}
	}
	span.SetAttributes(attribute.String("incident.next_stage", string(r.inc.Stage)))
	return nil
}

func (r *runner) analyze(ctx context.Context) error {
	analysis, err := r.o.reasoner.Analyze(ctx, r.inc.RawLog)
	if err != nil {
		return err
	}
	if err := r.inc.SetRiskScore(analysis.RiskScore); err != nil && !errors.Is(err, core.ErrRiskScoreSet) {
		return err
	}
	r.inc.AttackType = analysis.AttackType
	r.inc.ThreatSummary = analysis.Summary
	r.inc.AddIndicators(analysis.Indicators...)
	if r.o.techniques != nil {
		r.inc.Techniques = r.o.techniques.MapTechniques(r.inc.AttackType)
	}
	techniques := make([]string, 0, len(r.inc.Techniques))
	for _, t := range r.inc.Techniques {
		techniques = append(techniques, t.ID)
	}

	if err := r.commit(ctx, core.StageInvestigating,
		core.NewEvent(core.EventAnalysisComplete, r.inc.ID, core.StageAnalyzing, map[string]interface{}{
			"risk_score":     r.inc.Risk(),
			"attack_type":    r.inc.AttackType,
			"threat_summary": r.inc.ThreatSummary,
			"indicators":     append([]string(nil), r.inc.Indicators...),
			"techniques":     techniques,
		})); err != nil {
		return err
	}
	r.notify(notify.KindIncidentCreated)
	return nil
}

func (r *runner) investigate(ctx context.Context) error {
	results := r.o.investigator.Investigate(ctx, r.inc.Indicators, func(_ int, res core.InvestigationResult) {
		r.o.events.Publish(core.NewEvent(core.EventIndicatorInvestigated, r.inc.ID, core.StageInvestigating, map[string]interface{}{
			"indicator":  res.Indicator,
			"type":       string(res.Type),
			"verdict":    string(res.Verdict),
			"confidence": res.Confidence,
			"source":     res.Source,
		}))
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	malicious := 0
	for _, res := range results {
		if res.IsMalicious() {
			malicious++
		}
	}
	r.inc.Investigations = results
	return r.commit(ctx, core.StagePlanning,
		core.NewEvent(core.EventInvestigationComplete, r.inc.ID, core.StageInvestigating, map[string]interface{}{
			"investigated": len(results),
			"malicious":    malicious,
		}))
}

func (r *runner) plan(ctx context.Context) error {
	plan, err := r.o.reasoner.Plan(ctx, core.PlanRequest{
		IncidentID:     r.inc.ID,
		RawLog:         r.inc.RawLog,
		RiskScore:      r.inc.Risk(),
		AttackType:     r.inc.AttackType,
		Indicators:     r.inc.Indicators,
		Investigations: r.inc.Investigations,
	})
	if err != nil {
		return err
	}
	r.inc.MitigationPlan = plan.Text
	r.inc.PlannedActions = plan.Actions
	r.inc.RequiresApproval = r.inc.Risk() > r.o.threshold

	actions := make([]string, len(plan.Actions))
	for i, a := range plan.Actions {
		actions[i] = a.String()
	}
	ready := core.NewEvent(core.EventPlanReady, r.inc.ID, core.StagePlanning, map[string]interface{}{
		"mitigation_plan":   plan.Text,
		"actions":           actions,
		"requires_approval": r.inc.RequiresApproval,
	})

	if !r.inc.RequiresApproval {
		return r.commit(ctx, core.StageExecuting, ready)
	}

	// reserve now, open once awaiting_approval is persisted and before the
	// approval_required event goes out: decisions are accepted only in that stage
	req, err := r.o.gate.Reserve(r.inc.ID, r.inc.Risk(), r.inc.PlannedActions)
	if err != nil {
		return err
	}
	r.request = req

	if err := r.transition(ctx, core.StageAwaitingApproval, req.Open, ready,
		core.NewEvent(core.EventApprovalRequired, r.inc.ID, core.StageAwaitingApproval, map[string]interface{}{
			"risk_score": r.inc.Risk(),
			"actions":    actions,
		})); err != nil {
		return err
	}
	r.notify(notify.KindApprovalNeeded)
	return nil
}

func (r *runner) awaitApproval(ctx context.Context) error {
	req := r.request
	r.request = nil
	if req == nil {
		// recovered after restart
		var err error
		req, err = r.o.gate.Park(r.inc.ID, r.inc.Risk(), r.inc.PlannedActions)
		if err != nil {
			return err
		}
	}

	decision, err := req.Wait(ctx)
	if err != nil {
		return err
	}
	if err := r.inc.RecordDecision(decision); err != nil {
		return err
	}

	next := core.StageExecuting
	if decision == core.DecisionDenied {
		next = core.StageReporting
	}
	if err := r.commit(ctx, next,
		core.NewEvent(core.EventApprovalDecision, r.inc.ID, core.StageAwaitingApproval, map[string]interface{}{
			"decision": string(decision),
		})); err != nil {
		return err
	}
	r.o.logger.Infow("Approval decision recorded", "incident_id", r.inc.ID, "decision", decision)
	if decision == core.DecisionDenied {
		r.notify(notify.KindDenied)
	}
	return nil
}

func (r *runner) execute(ctx context.Context) error {
	// resume after the actions that already have results
	done := len(r.inc.ExecutedActions)
	if done > len(r.inc.PlannedActions) {
		done = len(r.inc.PlannedActions)
	}
	remaining := r.inc.PlannedActions[done:]

	var saveErr error
	r.o.executor.Execute(ctx, r.inc.ID, remaining, func(i int, res core.ActionResult) {
		r.inc.AppendActionResult(res)
		if err := r.save(ctx); err != nil && saveErr == nil {
			saveErr = err
		}
		r.o.events.Publish(core.NewEvent(core.EventActionExecuted, r.inc.ID, core.StageExecuting, map[string]interface{}{
			"index":  done + i,
			"action": res.Action.String(),
			"status": string(res.Status),
			"reason": res.Reason,
			"result": res.String(),
		}))
	})
	if saveErr != nil {
		return saveErr
	}
	if len(r.inc.ExecutedActions) < len(r.inc.PlannedActions) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if r.inc.PartialFailure {
		failed := 0
		for _, res := range r.inc.ExecutedActions {
			if res.Status == core.ActionStatusFailed {
				failed++
			}
		}
		r.o.logger.Warnw("Incident mitigation partially failed",
			"incident_id", r.inc.ID,
			"error", &core.PartialActionFailure{Failed: failed, Total: len(r.inc.ExecutedActions)})
	}
	return r.commit(ctx, core.StageReporting)
}

func (r *runner) report(ctx context.Context) error {
	r.inc.Report = BuildReport(r.inc)
	if err := r.commit(ctx, core.StageComplete,
		core.NewEvent(core.EventIncidentComplete, r.inc.ID, core.StageComplete, map[string]interface{}{
			"risk_score":       r.inc.Risk(),
			"decision":         string(r.inc.Decision),
			"executed_actions": r.inc.ExecutedActionStrings(),
			"partial_failure":  r.inc.PartialFailure,
		})); err != nil {
		return err
	}
	r.o.logger.Infow("Incident complete",
		"incident_id", r.inc.ID,
		"risk_score", r.inc.Risk(),
		"actions", len(r.inc.ExecutedActions),
		"partial_failure", r.inc.PartialFailure)
	if r.inc.Decision != core.DecisionDenied {
		r.notify(notify.KindIncidentComplete)
	}
	return nil
}

// commit advances the stage, persists the record and only then publishes
// the stage's events followed by stage_changed.
func (r *runner) commit(ctx context.Context, next core.Stage, events ...core.Event) error {
	return r.transition(ctx, next, nil, events...)
}

// transition persists next, runs onSaved, then publishes events.
func (r *runner) transition(ctx context.Context, next core.Stage, onSaved func(), events ...core.Event) error {
	from := r.inc.Stage
	if err := r.inc.Advance(next); err != nil {
		return err
	}
	if err := r.save(ctx); err != nil {
		return err
	}
	if onSaved != nil {
		onSaved()
	}
	metrics.StageTransitions.WithLabelValues(string(next)).Inc()
	r.o.logger.Debugw("Stage transition", "incident_id", r.inc.ID, "from", from, "to", next)

	for _, ev := range events {
		r.o.events.Publish(ev)
	}
	r.o.events.Publish(core.NewEvent(core.EventStageChanged, r.inc.ID, next, map[string]interface{}{
		"from": string(from),
		"to":   string(next),
	}))
	return nil
}

func (r *runner) save(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.o.store.Save(ctx, r.inc); err != nil {
		return fmt.Errorf("failed to persist incident: %w", err)
	}
	return nil
}

// fail moves the incident to the error stage. The reason is the raw
// collaborator error text.
func (r *runner) fail(ctx context.Context, err error) {
	if r.inc.Stage.IsTerminal() {
		return
	}
	failed := r.inc.Stage
	reason := err.Error()
	var sf *core.StageFailure
	if errors.As(err, &sf) {
		failed = sf.Stage
		reason = sf.Err.Error()
	}

	r.o.gate.Cancel(r.inc.ID)
	r.o.logger.Errorw("Incident failed",
		"incident_id", r.inc.ID,
		"stage", failed,
		"error", err)

	if ferr := r.inc.Fail(reason); ferr != nil {
		r.o.logger.Errorw("Cannot move incident to error", "incident_id", r.inc.ID, "error", ferr)
		return
	}
	if serr := r.save(ctx); serr != nil {
		r.o.logger.Errorw("Failed to persist incident error", "incident_id", r.inc.ID, "error", serr)
	}
	metrics.StageTransitions.WithLabelValues(string(core.StageError)).Inc()
	r.o.events.Publish(core.NewEvent(core.EventIncidentError, r.inc.ID, core.StageError, map[string]interface{}{
		"error":        reason,
		"failed_stage": string(failed),
	}))
}

func (r *runner) notify(kind notify.Kind) {
	if r.o.notifier == nil {
		return
	}
	r.o.notifier.Notify(notify.FromIncident(kind, r.inc))
}
