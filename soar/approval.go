package soar

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"guardian/core"
	"guardian/metrics"

	"go.uber.org/zap"
)

var (
	// ErrNotParked is returned when no incident waits for the decision
	ErrNotParked = errors.New("incident is not awaiting approval")
	// ErrAlreadyParked is returned when an incident parks twice
	ErrAlreadyParked = errors.New("incident is already awaiting approval")
	// ErrApprovalCancelled is returned by Wait after Cancel
	ErrApprovalCancelled = errors.New("approval request cancelled")
)

// ApprovalRequest is the waiter held for one parked incident.
type ApprovalRequest struct {
	IncidentID  string        `json:"incident_id"`
	RiskScore   int           `json:"risk_score"`
	Actions     []core.Action `json:"actions"`
	RequestedAt time.Time     `json:"requested_at"`

	gate     *ApprovalGate
	decision chan core.Decision
	done     chan struct{}
	open     bool // guarded by gate.mu
}

// Open makes a reserved request resolvable and visible in Pending. It is a
// no-op for requests that are already open or were withdrawn.
func (r *ApprovalRequest) Open() {
	g := r.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.waiting[r.IncidentID]; !ok || cur != r || r.open {
		return
	}
	r.open = true
	g.publishPendingLocked()
	g.logger.Infow("Incident parked for approval",
		"incident_id", r.IncidentID,
		"risk_score", r.RiskScore,
		"actions", len(r.Actions))
}

// Wait blocks until a decision arrives, the request is cancelled or ctx ends.
// When ctx ends the request is withdrawn from the gate, unless a decision won
// the race, in which case that decision is returned.
func (r *ApprovalRequest) Wait(ctx context.Context) (core.Decision, error) {
	select {
	case d := <-r.decision:
		return d, nil
	case <-r.done:
		return "", ErrApprovalCancelled
	case <-ctx.Done():
		if r.gate.withdraw(r) {
			return "", ctx.Err()
		}
		select {
		case d := <-r.decision:
			return d, nil
		default:
			return "", ErrApprovalCancelled
		}
	}
}

// ApprovalGate is the rendezvous between parked runners and human decisions.
// A parked runner holds no worker and polls nothing; it sleeps on a channel
// until Resolve hands it a decision.
type ApprovalGate struct {
	mu      sync.Mutex
	waiting map[string]*ApprovalRequest
	logger  *zap.SugaredLogger
}

// NewApprovalGate creates an empty gate.
func NewApprovalGate(logger *zap.SugaredLogger) *ApprovalGate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ApprovalGate{
		waiting: make(map[string]*ApprovalRequest),
		logger:  logger,
	}
}

// Park registers an incident as awaiting a decision and opens it at once.
func (g *ApprovalGate) Park(incidentID string, riskScore int, actions []core.Action) (*ApprovalRequest, error) {
	req, err := g.Reserve(incidentID, riskScore, actions)
	if err != nil {
		return nil, err
	}
	req.Open()
	return req, nil
}

// Reserve registers the waiter for an incident without accepting decisions.
// Resolve reports ErrNotParked until Open is called, so a runner can reserve
// before persisting awaiting_approval and open once the stage is durable.
func (g *ApprovalGate) Reserve(incidentID string, riskScore int, actions []core.Action) (*ApprovalRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.waiting[incidentID]; exists {
		return nil, ErrAlreadyParked
	}
	req := &ApprovalRequest{
		IncidentID:  incidentID,
		RiskScore:   riskScore,
		Actions:     append([]core.Action(nil), actions...),
		RequestedAt: time.Now().UTC(),
		gate:        g,
		decision:    make(chan core.Decision, 1),
		done:        make(chan struct{}),
	}
	g.waiting[incidentID] = req
	return req, nil
}

// Resolve delivers a decision to the parked incident. The waiter is removed
// under the lock, so a second Resolve for the same park fails with ErrNotParked.
func (g *ApprovalGate) Resolve(incidentID string, decision core.Decision) error {
	if decision != core.DecisionApproved && decision != core.DecisionDenied {
		return errors.New("decision must be approved or denied")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.waiting[incidentID]
	if !ok || !req.open {
		return ErrNotParked
	}
	delete(g.waiting, incidentID)
	g.publishPendingLocked()
	req.decision <- decision

	g.logger.Infow("Approval decision delivered",
		"incident_id", incidentID,
		"decision", decision,
		"waited", time.Since(req.RequestedAt))
	return nil
}

// Cancel withdraws a parked incident without a decision. Its waiter returns
// ErrApprovalCancelled.
func (g *ApprovalGate) Cancel(incidentID string) bool {
	g.mu.Lock()
	req, ok := g.waiting[incidentID]
	if ok {
		delete(g.waiting, incidentID)
		g.publishPendingLocked()
	}
	g.mu.Unlock()

	if ok {
		close(req.done)
	}
	return ok
}

// IsParked reports whether the incident currently waits at the gate.
func (g *ApprovalGate) IsParked(incidentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.waiting[incidentID]
	return ok && req.open
}

// Pending lists every parked request, oldest first.
func (g *ApprovalGate) Pending() []ApprovalRequest {
	g.mu.Lock()
	out := make([]ApprovalRequest, 0, len(g.waiting))
	for _, req := range g.waiting {
		if !req.open {
			continue
		}
		out = append(out, ApprovalRequest{
			IncidentID:  req.IncidentID,
			RiskScore:   req.RiskScore,
			Actions:     append([]core.Action(nil), req.Actions...),
			RequestedAt: req.RequestedAt,
		})
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// withdraw removes r if it is still the registered waiter.
func (g *ApprovalGate) withdraw(r *ApprovalRequest) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.waiting[r.IncidentID]; ok && cur == r {
		delete(g.waiting, r.IncidentID)
		g.publishPendingLocked()
		return true
	}
	return false
}

func (g *ApprovalGate) publishPendingLocked() {
	open := 0
	for _, req := range g.waiting {
		if req.open {
			open++
		}
	}
	metrics.PendingApprovals.Set(float64(open))
}
