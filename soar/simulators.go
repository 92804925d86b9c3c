package soar

import (
	"context"
	"sync"
	"time"

	"guardian/core"

	"go.uber.org/zap"
)

// SimulatedCall is one request received by a Simulator.
type SimulatedCall struct {
	Type       core.ActionType `json:"type"`
	Target     string          `json:"target"`
	Reason     string          `json:"reason"`
	IncidentID string          `json:"incident_id,omitempty"`
	At         time.Time       `json:"at"`
}

// Simulator stands in for every enforcement collaborator when no real
// endpoint is configured. It records calls and always succeeds.
type Simulator struct {
	mu     sync.Mutex
	calls  []SimulatedCall
	logger *zap.SugaredLogger
}

// NewSimulator creates an empty recording simulator.
func NewSimulator(logger *zap.SugaredLogger) *Simulator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Simulator{logger: logger}
}

func (s *Simulator) record(call SimulatedCall) error {
	call.At = time.Now().UTC()
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	s.logger.Infow("SIMULATION: enforcement recorded", "type", call.Type, "target", call.Target, "incident_id", call.IncidentID)
	return nil
}

// BlockIP records a firewall block.
func (s *Simulator) BlockIP(ctx context.Context, ip, reason string) error {
	return s.record(SimulatedCall{Type: core.ActionBlockIP, Target: ip, Reason: reason})
}

// BlockHash records a hash block.
func (s *Simulator) BlockHash(ctx context.Context, hash, reason string) error {
	return s.record(SimulatedCall{Type: core.ActionBlockHash, Target: hash, Reason: reason})
}

// DisableAccount records an account disable.
func (s *Simulator) DisableAccount(ctx context.Context, account, reason string) error {
	return s.record(SimulatedCall{Type: core.ActionDisableAccount, Target: account, Reason: reason})
}

// IsolateHost records a host isolation.
func (s *Simulator) IsolateHost(ctx context.Context, host, reason string) error {
	return s.record(SimulatedCall{Type: core.ActionIsolateHost, Target: host, Reason: reason})
}

// Alert records an alert_only action.
func (s *Simulator) Alert(ctx context.Context, incidentID string, action core.Action) error {
	return s.record(SimulatedCall{Type: action.Type, Target: action.Target, Reason: action.Justification, IncidentID: incidentID})
}

// Calls returns a copy of everything recorded so far.
func (s *Simulator) Calls() []SimulatedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimulatedCall(nil), s.calls...)
}

// CallCount returns how many calls were recorded for one action type.
func (s *Simulator) CallCount(t core.ActionType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Type == t {
			n++
		}
	}
	return n
}
