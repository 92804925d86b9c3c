package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"guardian/broadcast"
	"guardian/core"
	"guardian/metrics"
	"guardian/soar"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrEmptyLog is returned by Submit for a blank raw log
	ErrEmptyLog = errors.New("raw log must not be empty")
	// ErrShuttingDown is returned by Submit after Shutdown has begun
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

// Deps are the orchestrator's collaborators. Notifier, Dedup and Techniques
// are optional.
type Deps struct {
	Store        IncidentStore
	Reasoner     Reasoner
	Investigator Investigator
	Executor     ActionExecutor
	Enforcement  soar.EnforcementState
	Gate         *soar.ApprovalGate
	Events       *broadcast.Broadcaster
	Notifier     Notifier
	Dedup        Dedup
	Techniques   TechniqueMapper
}

// Options tune the orchestrator.
type Options struct {
	// ApprovalThreshold defaults to core.DefaultApprovalThreshold when nil.
	// Zero parks every incident with a positive risk score.
	ApprovalThreshold *int
	// Tracer defaults to the global OpenTelemetry tracer.
	Tracer trace.Tracer
}

// Orchestrator owns the incident lifecycle.
type Orchestrator struct {
	store        IncidentStore
	reasoner     Reasoner
	investigator Investigator
	executor     ActionExecutor
	enforcement  soar.EnforcementState
	gate         *soar.ApprovalGate
	events       *broadcast.Broadcaster
	notifier     Notifier
	dedup        Dedup
	techniques   TechniqueMapper

	threshold int
	tracer    trace.Tracer
	logger    *zap.SugaredLogger

	// runCtx outlives the request that submitted an incident; Shutdown cancels it.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu      sync.Mutex
	running map[string]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewOrchestrator validates deps and builds an orchestrator. Runners start
// with Submit and Recover.
func NewOrchestrator(deps Deps, opts Options, logger *zap.SugaredLogger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline: incident store is required")
	case deps.Reasoner == nil:
		return nil, fmt.Errorf("pipeline: reasoner is required")
	case deps.Investigator == nil:
		return nil, fmt.Errorf("pipeline: investigator is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("pipeline: action executor is required")
	case deps.Enforcement == nil:
		return nil, fmt.Errorf("pipeline: enforcement state is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if deps.Gate == nil {
		deps.Gate = soar.NewApprovalGate(logger)
	}
	if deps.Events == nil {
		deps.Events = broadcast.NewBroadcaster(broadcast.DefaultBuffer, logger)
	}
	threshold := core.DefaultApprovalThreshold
	if opts.ApprovalThreshold != nil {
		threshold = *opts.ApprovalThreshold
	}
	if threshold < core.MinRiskScore || threshold > core.MaxRiskScore {
		return nil, fmt.Errorf("pipeline: approval threshold must be between %d and %d, got %d",
			core.MinRiskScore, core.MaxRiskScore, threshold)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("guardian/pipeline")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:        deps.Store,
		reasoner:     deps.Reasoner,
		investigator: deps.Investigator,
		executor:     deps.Executor,
		enforcement:  deps.Enforcement,
		gate:         deps.Gate,
		events:       deps.Events,
		notifier:     deps.Notifier,
		dedup:        deps.Dedup,
		techniques:   deps.Techniques,
		threshold:    threshold,
		tracer:       opts.Tracer,
		logger:       logger,
		runCtx:       runCtx,
		cancelRun:    cancel,
		running:      make(map[string]struct{}),
	}, nil
}

// Submit records a new incident and starts its runner. It returns as soon
// as the incident is persisted. With dedup enabled, a raw log already
// submitted within the window returns the existing incident's ID.
func (o *Orchestrator) Submit(ctx context.Context, rawLog, source string) (string, error) {
	if strings.TrimSpace(rawLog) == "" {
		return "", ErrEmptyLog
	}
	if o.isClosed() {
		return "", ErrShuttingDown
	}

	inc := core.NewIncident(rawLog, source)

	var fingerprint string
	if o.dedup != nil {
		fingerprint = Fingerprint(rawLog)
		owner, claimed, err := o.dedup.Claim(ctx, fingerprint, inc.ID)
		switch {
		case err != nil:
			o.logger.Warnw("Dedup unavailable, accepting submission", "error", err)
			fingerprint = ""
		case !claimed:
			metrics.IncidentsDeduplicated.Inc()
			o.logger.Infow("Duplicate submission mapped to existing incident",
				"incident_id", owner,
				"source", inc.Source)
			return owner, nil
		}
	}

	if err := o.store.Create(ctx, inc); err != nil {
		if fingerprint != "" {
			_ = o.dedup.Release(ctx, fingerprint)
		}
		return "", fmt.Errorf("failed to persist incident: %w", err)
	}

	metrics.IncidentsSubmitted.WithLabelValues(inc.Source).Inc()
	metrics.StageTransitions.WithLabelValues(string(core.StagePending)).Inc()
	o.logger.Infow("Incident submitted",
		"incident_id", inc.ID,
		"source", inc.Source,
		"log_bytes", len(rawLog))

	o.events.Publish(core.NewEvent(core.EventIncidentCreated, inc.ID, inc.Stage, map[string]interface{}{
		"source": inc.Source,
	}))
	o.start(inc)
	return inc.ID, nil
}

// Get returns the persisted incident or a *core.NotFoundError.
func (o *Orchestrator) Get(ctx context.Context, id string) (*core.Incident, error) {
	return o.store.Get(ctx, id)
}

// List returns incident summaries, most recent first, and the total count.
func (o *Orchestrator) List(ctx context.Context, filter core.IncidentFilter) ([]core.IncidentSummary, int, error) {
	return o.store.List(ctx, filter.Normalize())
}

// Resume delivers the approval decision for a parked incident. It succeeds
// at most once per incident; any later call gets an InvalidStateError.
func (o *Orchestrator) Resume(ctx context.Context, id string, decision core.Decision) error {
	if decision != core.DecisionApproved && decision != core.DecisionDenied {
		return fmt.Errorf("invalid decision %q: must be approved or denied", decision)
	}

	err := o.gate.Resolve(id, decision)
	if err == nil {
		o.logger.Infow("Approval decision accepted", "incident_id", id, "decision", decision)
		return nil
	}
	if !errors.Is(err, soar.ErrNotParked) {
		return err
	}

	inc, getErr := o.store.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return &core.InvalidStateError{IncidentID: id, Stage: inc.Stage, Op: "resume"}
}

// Subscribe opens an event stream for one incident or broadcast.AllIncidents.
// For a single incident the current persisted record is returned alongside
// so observers can render state before the first live event.
func (o *Orchestrator) Subscribe(ctx context.Context, id string) (*broadcast.Subscription, *core.Incident, error) {
	if id == "" || id == broadcast.AllIncidents {
		return o.events.Subscribe(broadcast.AllIncidents), nil, nil
	}
	// subscribe first so no event between the read and the subscription is lost
	sub := o.events.Subscribe(id)
	inc, err := o.store.Get(ctx, id)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	return sub, inc, nil
}

// EnforcementSnapshot returns every enforcement currently in effect.
func (o *Orchestrator) EnforcementSnapshot(ctx context.Context) (core.EnforcementSnapshot, error) {
	return o.enforcement.Snapshot(ctx)
}

// Stats returns dashboard aggregates.
func (o *Orchestrator) Stats(ctx context.Context) (core.IncidentStats, error) {
	return o.store.Stats(ctx)
}

// PendingApprovals lists parked incidents, oldest first.
func (o *Orchestrator) PendingApprovals() []soar.ApprovalRequest {
	return o.gate.Pending()
}

// Recover restarts a runner for every persisted non-terminal incident,
// continuing from its recorded stage. Parked incidents re-register at the
// approval gate. It returns the number of runners started.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active incidents: %w", err)
	}
	started := 0
	for _, inc := range active {
		if o.start(inc) {
			started++
			o.logger.Infow("Recovered incident", "incident_id", inc.ID, "stage", inc.Stage)
		}
	}
	return started, nil
}

// Shutdown stops accepting submissions, interrupts runners and waits for
// them to exit. Interrupted incidents keep their persisted stage for Recover.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancelRun()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("Pipeline runners stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
	}
}

// Wait blocks until every runner has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// start launches the runner for inc unless one is already running.
func (o *Orchestrator) start(inc *core.Incident) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if _, ok := o.running[inc.ID]; ok {
		o.mu.Unlock()
		return false
	}
	o.running[inc.ID] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	metrics.ActiveRunners.Inc()
	r := newRunner(o, inc)
	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.running, inc.ID)
			o.mu.Unlock()
			metrics.ActiveRunners.Dec()
			o.wg.Done()
		}()
		r.run(o.runCtx)
	}()
	return true
}
