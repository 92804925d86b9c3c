package soar

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guardian/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestApprovalGate_ParkAndResolve(t *testing.T) {
	gate := NewApprovalGate(zaptest.NewLogger(t).Sugar())
	actions := []core.Action{{Type: core.ActionBlockIP, Target: "185.220.101.47"}}

	req, err := gate.Park("inc-1", 9, actions)
	require.NoError(t, err)
	assert.True(t, gate.IsParked("inc-1"))

	done := make(chan core.Decision, 1)
	go func() {
		d, err := req.Wait(context.Background())
		assert.NoError(t, err)
		done <- d
	}()

	require.NoError(t, gate.Resolve("inc-1", core.DecisionApproved))
	select {
	case d := <-done:
		assert.Equal(t, core.DecisionApproved, d)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released")
	}
	assert.False(t, gate.IsParked("inc-1"))
}

func TestApprovalGate_ResolveExactlyOnce(t *testing.T) {
	gate := NewApprovalGate(nil)
	_, err := gate.Park("inc-1", 8, nil)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := core.DecisionApproved
			if i%2 == 1 {
				d = core.DecisionDenied
			}
			if gate.Resolve("inc-1", d) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.ErrorIs(t, gate.Resolve("inc-1", core.DecisionApproved), ErrNotParked)
}

func TestApprovalGate_Errors(t *testing.T) {
	gate := NewApprovalGate(nil)
	assert.ErrorIs(t, gate.Resolve("missing", core.DecisionApproved), ErrNotParked)

	_, err := gate.Park("inc-1", 8, nil)
	require.NoError(t, err)
	_, err = gate.Park("inc-1", 8, nil)
	assert.ErrorIs(t, err, ErrAlreadyParked)

	assert.Error(t, gate.Resolve("inc-1", core.DecisionNone))
	assert.True(t, gate.IsParked("inc-1"), "an invalid decision leaves the incident parked")
}

func TestApprovalGate_Cancel(t *testing.T) {
	gate := NewApprovalGate(nil)
	req, err := gate.Park("inc-1", 8, nil)
	require.NoError(t, err)

	assert.True(t, gate.Cancel("inc-1"))
	assert.False(t, gate.Cancel("inc-1"))
	_, err = req.Wait(context.Background())
	assert.ErrorIs(t, err, ErrApprovalCancelled)
}

func TestApprovalGate_WaitContextWithdraws(t *testing.T) {
	gate := NewApprovalGate(nil)
	req, err := gate.Park("inc-1", 8, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = req.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, gate.IsParked("inc-1"))

	// the incident can park again, e.g. after a restart
	_, err = gate.Park("inc-1", 8, nil)
	assert.NoError(t, err)
}

func TestApprovalGate_ReservedRequestAcceptsDecisionOnlyOnceOpen(t *testing.T) {
	gate := NewApprovalGate(nil)
	req, err := gate.Reserve("inc-1", 8, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, gate.Resolve("inc-1", core.DecisionApproved), ErrNotParked)
	assert.False(t, gate.IsParked("inc-1"))
	assert.Empty(t, gate.Pending())
	_, err = gate.Park("inc-1", 8, nil)
	assert.ErrorIs(t, err, ErrAlreadyParked)

	req.Open()
	req.Open()
	assert.True(t, gate.IsParked("inc-1"))
	assert.Len(t, gate.Pending(), 1)
	require.NoError(t, gate.Resolve("inc-1", core.DecisionApproved))

	d, err := req.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.DecisionApproved, d)
}

func TestApprovalGate_CancelReservedRequest(t *testing.T) {
	gate := NewApprovalGate(nil)
	req, err := gate.Reserve("inc-1", 8, nil)
	require.NoError(t, err)

	gate.Cancel("inc-1")
	req.Open()
	assert.False(t, gate.IsParked("inc-1"), "opening a cancelled reservation is a no-op")
	assert.Empty(t, gate.Pending())

	_, err = gate.Reserve("inc-1", 8, nil)
	assert.NoError(t, err)
}

func TestApprovalGate_DecisionBeforeWait(t *testing.T) {
	gate := NewApprovalGate(nil)
	req, err := gate.Park("inc-1", 8, nil)
	require.NoError(t, err)
	require.NoError(t, gate.Resolve("inc-1", core.DecisionDenied))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := req.Wait(ctx)
	require.NoError(t, err, "a delivered decision wins over a cancelled context")
	assert.Equal(t, core.DecisionDenied, d)
}

func TestApprovalGate_PendingIsIndependentPerIncident(t *testing.T) {
	gate := NewApprovalGate(nil)
	_, err := gate.Park("inc-a", 8, []core.Action{{Type: core.ActionBlockIP, Target: "1.2.3.4"}})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = gate.Park("inc-b", 9, nil)
	require.NoError(t, err)

	pending := gate.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "inc-a", pending[0].IncidentID)
	assert.Equal(t, "inc-b", pending[1].IncidentID)
	assert.Len(t, pending[0].Actions, 1)

	require.NoError(t, gate.Resolve("inc-b", core.DecisionApproved))
	assert.True(t, gate.IsParked("inc-a"))
	assert.Len(t, gate.Pending(), 1)
}
