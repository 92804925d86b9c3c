package soar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guardian/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memoryState is an in-memory EnforcementState for executor tests.
type memoryState struct {
	mu        sync.Mutex
	entries   map[string]core.EnforcementEntry
	failReads bool
}

func newMemoryState() *memoryState {
	return &memoryState{entries: make(map[string]core.EnforcementEntry)}
}

func (m *memoryState) key(kind core.EnforcementKind, target string) string {
	return string(kind) + ":" + target
}

func (m *memoryState) Contains(ctx context.Context, kind core.EnforcementKind, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return false, errors.New("database is locked")
	}
	_, ok := m.entries[m.key(kind, target)]
	return ok, nil
}

func (m *memoryState) Insert(ctx context.Context, entry core.EnforcementEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(entry.Kind, entry.Target)
	if _, ok := m.entries[k]; ok {
		return false, nil
	}
	m.entries[k] = entry
	return true, nil
}

func (m *memoryState) Snapshot(ctx context.Context) (core.EnforcementSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := core.NewEnforcementSnapshot()
	for _, e := range m.entries {
		snap.Add(e)
	}
	return snap, nil
}

// failingFirewall fails for the listed addresses and counts calls.
type failingFirewall struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
	delay time.Duration
}

func (f *failingFirewall) BlockIP(ctx context.Context, ip, reason string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[ip] {
		return errors.New("firewall rejected rule")
	}
	return nil
}

// recordingAudit keeps every audit event.
type recordingAudit struct {
	NoOpAuditLogger
	mu     sync.Mutex
	events []*AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func resultStrings(results []core.ActionResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.String())
	}
	return out
}

func TestExecutor_PlanOrderAndIdempotence(t *testing.T) {
	state := newMemoryState()
	sim := NewSimulator(nil)
	exec := NewExecutor(state, Enforcers{Firewall: sim, Blocklist: sim, Directory: sim, Isolator: sim, Alerts: sim}, nil, true, zaptest.NewLogger(t).Sugar())

	plan := []core.Action{
		{Type: core.ActionBlockIP, Target: "185.220.101.47"},
		{Type: core.ActionBlockHash, Target: "44d88612fea8a8f36de82e1278abb02f"},
		{Type: core.ActionDisableAccount, Target: "root"},
		{Type: core.ActionIsolateHost, Target: "web-01"},
	}

	var seen []int
	first := exec.Execute(context.Background(), "inc-1", plan, func(i int, r core.ActionResult) { seen = append(seen, i) })
	assert.Equal(t, []string{
		"block_ip:185.220.101.47 -> success",
		"block_hash:44d88612fea8a8f36de82e1278abb02f -> success",
		"disable_account:root -> success",
		"isolate_host:web-01 -> success",
	}, resultStrings(first))
	assert.Equal(t, []int{0, 1, 2, 3}, seen)
	assert.Len(t, sim.Calls(), 4)

	second := exec.Execute(context.Background(), "inc-2", plan, nil)
	for _, r := range second {
		assert.Equal(t, core.ActionStatusAlreadyApplied, r.Status, r.String())
	}
	assert.Len(t, sim.Calls(), 4, "already applied actions make no external call")

	snap, err := state.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Total())
	require.Len(t, snap.BlockedIPs, 1)
	assert.Equal(t, "inc-1", snap.BlockedIPs[0].IncidentID)
}

func TestExecutor_FailureDoesNotStopLaterActions(t *testing.T) {
	state := newMemoryState()
	fw := &failingFirewall{fail: map[string]bool{"45.142.212.100": true}}
	exec := NewExecutor(state, Enforcers{Firewall: fw}, nil, true, nil)

	results := exec.Execute(context.Background(), "inc-1", []core.Action{
		{Type: core.ActionBlockIP, Target: "185.220.101.47"},
		{Type: core.ActionBlockIP, Target: "45.142.212.100"},
		{Type: core.ActionBlockIP, Target: "194.165.16.11"},
	}, nil)

	require.Len(t, results, 3)
	assert.Equal(t, core.ActionStatusSuccess, results[0].Status)
	assert.Equal(t, core.ActionStatusFailed, results[1].Status)
	assert.Equal(t, "block_ip:45.142.212.100 -> failed: firewall rejected rule", results[1].String())
	assert.Equal(t, core.ActionStatusSuccess, results[2].Status)

	present, err := state.Contains(context.Background(), core.EnforcementIP, "45.142.212.100")
	require.NoError(t, err)
	assert.False(t, present, "failed actions are not recorded")
}

func TestExecutor_AlertOnlyAndUnknownTypes(t *testing.T) {
	sim := NewSimulator(nil)
	audit := &recordingAudit{}
	exec := NewExecutor(newMemoryState(), Enforcers{Alerts: sim}, audit, true, nil)

	results := exec.Execute(context.Background(), "inc-1", []core.Action{
		{Type: core.ActionAlertOnly, Target: "10.0.0.5", Urgency: core.UrgencyMonitor},
		{Type: core.ActionType("reboot_server"), Target: "web-01"},
	}, nil)

	require.Len(t, results, 2)
	assert.Equal(t, core.ActionStatusSuccess, results[0].Status)
	assert.Equal(t, core.ActionStatusFailed, results[1].Status)
	assert.Contains(t, results[1].Reason, "unknown action type")

	assert.Equal(t, 1, sim.CallCount(core.ActionAlertOnly))
	assert.Equal(t, 1, sim.CallCount(core.ActionType("reboot_server")), "unknown types are still reported")

	require.Len(t, audit.events, 2)
	assert.Equal(t, AuditActionExecuted, audit.events[0].EventType)
	assert.Equal(t, "inc-1", audit.events[1].IncidentID)
	assert.Equal(t, "failed", audit.events[1].Result)
}

func TestExecutor_DryRun(t *testing.T) {
	state := newMemoryState()
	fw := &failingFirewall{}
	audit := &recordingAudit{}
	exec := NewExecutor(state, Enforcers{Firewall: fw}, audit, false, nil)

	results := exec.Execute(context.Background(), "inc-1", []core.Action{
		{Type: core.ActionBlockIP, Target: "185.220.101.47"},
	}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, core.ActionStatusSuccess, results[0].Status)
	assert.Zero(t, fw.calls, "dry run never calls the enforcer")
	present, _ := state.Contains(context.Background(), core.EnforcementIP, "185.220.101.47")
	assert.True(t, present)
	require.Len(t, audit.events, 1)
	assert.Equal(t, AuditActionDryRun, audit.events[0].EventType)
}

func TestExecutor_InvalidTargetAndStateErrors(t *testing.T) {
	state := newMemoryState()
	sim := NewSimulator(nil)
	exec := NewExecutor(state, Enforcers{Firewall: sim}, nil, true, nil)

	r := exec.Apply(context.Background(), "inc-1", core.Action{Type: core.ActionBlockIP, Target: "1.2.3.4; rm -rf /"})
	assert.Equal(t, core.ActionStatusFailed, r.Status)
	assert.Contains(t, r.Reason, "invalid target")

	state.failReads = true
	r = exec.Apply(context.Background(), "inc-1", core.Action{Type: core.ActionBlockIP, Target: "1.2.3.4"})
	assert.Equal(t, core.ActionStatusFailed, r.Status)
	assert.Contains(t, r.Reason, "database is locked")
	assert.Empty(t, sim.Calls())
}

func TestExecutor_SameTargetAcrossIncidentsCallsOnce(t *testing.T) {
	state := newMemoryState()
	fw := &failingFirewall{delay: 5 * time.Millisecond}
	exec := NewExecutor(state, Enforcers{Firewall: fw}, nil, true, nil)

	var wg sync.WaitGroup
	statuses := make([]core.ActionStatus, 8)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := exec.Apply(context.Background(), "inc", core.Action{Type: core.ActionBlockIP, Target: "185.220.101.47"})
			statuses[i] = r.Status
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, fw.calls)
	successes := 0
	for _, s := range statuses {
		if s == core.ActionStatusSuccess {
			successes++
		} else {
			assert.Equal(t, core.ActionStatusAlreadyApplied, s)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Empty(t, exec.locks.locks, "per-target locks are released")
}

func TestExecutor_CanonicalTargetSharesLockAndEntry(t *testing.T) {
	state := newMemoryState()
	fw := &failingFirewall{delay: 5 * time.Millisecond}
	sim := NewSimulator(nil)
	exec := NewExecutor(state, Enforcers{Firewall: fw, Blocklist: sim}, nil, true, nil)

	actions := []core.Action{
		{Type: core.ActionBlockHash, Target: "44D88612FEA8A8F36DE82E1278ABB02F"},
		{Type: core.ActionBlockHash, Target: "44d88612fea8a8f36de82e1278abb02f"},
		{Type: core.ActionBlockIP, Target: " 185.220.101.47 "},
		{Type: core.ActionBlockIP, Target: "185.220.101.47"},
	}
	var wg sync.WaitGroup
	statuses := make([]core.ActionStatus, len(actions))
	for i, a := range actions {
		wg.Add(1)
		go func(i int, a core.Action) {
			defer wg.Done()
			statuses[i] = exec.Apply(context.Background(), "inc", a).Status
		}(i, a)
	}
	wg.Wait()

	assert.Equal(t, 1, sim.CallCount(core.ActionBlockHash))
	assert.Equal(t, 1, fw.calls)
	assert.ElementsMatch(t, []core.ActionStatus{core.ActionStatusSuccess, core.ActionStatusAlreadyApplied}, statuses[:2])
	assert.ElementsMatch(t, []core.ActionStatus{core.ActionStatusSuccess, core.ActionStatusAlreadyApplied}, statuses[2:])

	snap, err := state.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.BlockedHashes, 1)
	assert.Equal(t, "44d88612fea8a8f36de82e1278abb02f", snap.BlockedHashes[0].Target)
	require.Len(t, snap.BlockedIPs, 1)
	assert.Equal(t, "185.220.101.47", snap.BlockedIPs[0].Target)
}

func TestExecutor_StopsBetweenActionsWhenCancelled(t *testing.T) {
	sim := NewSimulator(nil)
	exec := NewExecutor(newMemoryState(), Enforcers{Firewall: sim}, nil, true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	results := exec.Execute(ctx, "inc-1", []core.Action{
		{Type: core.ActionBlockIP, Target: "185.220.101.47"},
		{Type: core.ActionBlockIP, Target: "45.142.212.100"},
	}, func(i int, r core.ActionResult) { cancel() })

	require.Len(t, results, 1)
	assert.Equal(t, core.ActionStatusSuccess, results[0].Status)
	assert.Len(t, sim.Calls(), 1)
}
