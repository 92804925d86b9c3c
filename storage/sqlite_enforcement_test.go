package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guardian/core"
	"guardian/metrics"
	"guardian/soar"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSQLiteEnforcementState_InsertContains(t *testing.T) {
	state := NewSQLiteEnforcementState(newTestSQLite(t), nil)
	ctx := context.Background()

	ok, err := state.Contains(ctx, core.EnforcementIP, "185.220.101.47")
	require.NoError(t, err)
	assert.False(t, ok)

	inserted, err := state.Insert(ctx, core.EnforcementEntry{
		Kind: core.EnforcementIP, Target: "185.220.101.47", Reason: "tor exit", IncidentID: "inc-1",
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	ok, err = state.Contains(ctx, core.EnforcementIP, "185.220.101.47")
	require.NoError(t, err)
	assert.True(t, ok)

	// the same target in another set is independent
	ok, err = state.Contains(ctx, core.EnforcementHost, "185.220.101.47")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteEnforcementState_InsertIsIdempotent(t *testing.T) {
	state := NewSQLiteEnforcementState(newTestSQLite(t), nil)
	ctx := context.Background()

	entry := core.EnforcementEntry{Kind: core.EnforcementHash, Target: "44D88612FEA8A8F36DE82E1278ABB02F", IncidentID: "inc-1"}
	inserted, err := state.Insert(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	entry.Target = "44d88612fea8a8f36de82e1278abb02f"
	entry.IncidentID = "inc-2"
	inserted, err = state.Insert(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted)

	snap, err := state.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.BlockedHashes, 1)
	assert.Equal(t, "inc-1", snap.BlockedHashes[0].IncidentID)
}

func TestSQLiteEnforcementState_ConcurrentInsertSingleWinner(t *testing.T) {
	state := NewSQLiteEnforcementState(newTestSQLite(t), nil)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := state.Insert(ctx, core.EnforcementEntry{Kind: core.EnforcementAccount, Target: "jdoe"})
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestSQLiteEnforcementState_Snapshot(t *testing.T) {
	state := NewSQLiteEnforcementState(newTestSQLite(t), nil)
	ctx := context.Background()

	empty, err := state.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty.BlockedIPs)
	assert.Zero(t, empty.Total())

	for _, e := range []core.EnforcementEntry{
		{Kind: core.EnforcementIP, Target: "1.2.3.4"},
		{Kind: core.EnforcementIP, Target: "5.6.7.8"},
		{Kind: core.EnforcementAccount, Target: "jdoe"},
		{Kind: core.EnforcementHost, Target: "WS-042"},
	} {
		_, err := state.Insert(ctx, e)
		require.NoError(t, err)
	}

	snap, err := state.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Total())
	assert.Len(t, snap.BlockedIPs, 2)
	assert.Len(t, snap.DisabledAccounts, 1)
	require.Len(t, snap.IsolatedHosts, 1)
	assert.Equal(t, "ws-042", snap.IsolatedHosts[0].Target)
	assert.Empty(t, snap.BlockedHashes)
}

func TestSQLiteEnforcementState_InvalidKind(t *testing.T) {
	state := NewSQLiteEnforcementState(newTestSQLite(t), nil)

	_, err := state.Insert(context.Background(), core.EnforcementEntry{Kind: "dns", Target: "x"})
	assert.ErrorIs(t, err, ErrInvalidEnforcementKind)
}

// slowBlocklist widens the window between the state check and the insert.
type slowBlocklist struct {
	calls atomic.Int32
}

func (b *slowBlocklist) BlockHash(ctx context.Context, hash, reason string) error {
	time.Sleep(20 * time.Millisecond)
	b.calls.Add(1)
	return nil
}

func TestSQLiteEnforcementState_ExecutorTreatsHashCaseAsOneTarget(t *testing.T) {
	state := NewSQLiteEnforcementState(newTestSQLite(t), nil)
	blocklist := &slowBlocklist{}
	exec := soar.NewExecutor(state, soar.Enforcers{Blocklist: blocklist}, nil, true, zaptest.NewLogger(t).Sugar())
	gauge := metrics.EnforcementEntries.WithLabelValues(string(core.EnforcementHash))
	before := testutil.ToFloat64(gauge)

	targets := []string{"44d88612fea8a8f36de82e1278abb02f", "44D88612FEA8A8F36DE82E1278ABB02F"}
	statuses := make([]core.ActionStatus, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			statuses[i] = exec.Apply(context.Background(), "inc-"+target[:4], core.Action{Type: core.ActionBlockHash, Target: target}).Status
		}(i, target)
	}
	wg.Wait()

	assert.EqualValues(t, 1, blocklist.calls.Load())
	assert.ElementsMatch(t, []core.ActionStatus{core.ActionStatusSuccess, core.ActionStatusAlreadyApplied}, statuses)

	snap, err := state.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.BlockedHashes, 1)
	assert.Equal(t, targets[0], snap.BlockedHashes[0].Target)
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge)-before, "each entry is counted once")
}
