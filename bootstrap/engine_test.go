package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"guardian/config"
	"guardian/core"
	"guardian/soar"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const bruteForceLog = `Jan 12 03:14:01 web-01 sshd[2211]: Failed password for root from 185.220.101.47 port 52113 ssh2
Jan 12 03:14:02 web-01 sshd[2211]: Failed password for root from 185.220.101.47 port 52114 ssh2
Jan 12 03:14:03 web-01 sshd[2211]: Failed password for root from 185.220.101.47 port 52115 ssh2
Jan 12 03:14:04 web-01 sshd[2211]: Failed password for root from 185.220.101.47 port 52116 ssh2
Jan 12 03:14:09 web-01 sshd[2211]: Accepted password for root from 185.220.101.47 port 52120 ssh2`

func loadTestConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "data_dir: " + dir + "\n" +
		"reasoning:\n  provider: heuristic\n" +
		"intel:\n  offline: true\n" +
		extra
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Orchestrator.Shutdown(ctx)
		e.Close(ctx)
	})
	return e
}

func waitForStage(t *testing.T, e *Engine, id string, stage core.Stage) *core.Incident {
	t.Helper()
	var inc *core.Incident
	require.Eventually(t, func() bool {
		got, err := e.Orchestrator.Get(context.Background(), id)
		if err != nil {
			return false
		}
		inc = got
		return got.Stage == stage
	}, 10*time.Second, 20*time.Millisecond, "incident never reached %s", stage)
	return inc
}

func TestNewEngine_LowRiskIncidentCompletes(t *testing.T) {
	cfg := loadTestConfig(t, "")
	e := newTestEngine(t, cfg)
	require.NotNil(t, e.Storage.SQLite)

	id, err := e.Orchestrator.Submit(context.Background(), "user logged in successfully", "auth.log")
	require.NoError(t, err)

	inc := waitForStage(t, e, id, core.StageComplete)
	assert.Equal(t, 1, inc.Risk())
	assert.False(t, inc.RequiresApproval)
	assert.NotEmpty(t, inc.Report)
}

func TestNewEngine_ApprovalThenExecution(t *testing.T) {
	cfg := loadTestConfig(t, "pipeline:\n  approval_threshold: 1\n")
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	id, err := e.Orchestrator.Submit(ctx, bruteForceLog, "sshd")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(e.Orchestrator.PendingApprovals()) == 1
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, e.Orchestrator.Resume(ctx, id, core.DecisionApproved))
	inc := waitForStage(t, e, id, core.StageComplete)
	assert.Equal(t, core.DecisionApproved, inc.Decision)
	assert.NotEmpty(t, inc.ExecutedActions)
	require.NotEmpty(t, inc.Techniques)
	assert.Equal(t, "T1110", inc.Techniques[0].ID)

	events, total, err := e.Storage.Audit.QueryAuditLogs(ctx, soar.AuditLogFilters{IncidentID: id})
	require.NoError(t, err)
	assert.EqualValues(t, len(events), total)
	assert.NotEmpty(t, events, "executed actions are audited")
}

func TestNewEngine_RedisRelayAndDedup(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadTestConfig(t, "redis:\n  enabled: true\n  addr: "+mr.Addr()+"\n"+
		"pipeline:\n  dedup_window: 1m\n")
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	first, err := e.Orchestrator.Submit(ctx, "user logged in successfully", "auth.log")
	require.NoError(t, err)
	second, err := e.Orchestrator.Submit(ctx, "user logged in successfully", "auth.log")
	require.NoError(t, err)
	assert.Equal(t, first, second, "duplicate within the window maps to the first incident")

	waitForStage(t, e, first, core.StageComplete)
}

func TestBuildInvestigator_FallsBackToOffline(t *testing.T) {
	inv := BuildInvestigator(config.IntelConfig{MaxInFlight: 2, LookupTimeout: time.Second}, zap.NewNop().Sugar())
	results := inv.Investigate(context.Background(), []string{"185.220.101.47"}, nil)
	require.Len(t, results, 1)
	assert.Equal(t, core.VerdictMalicious, results[0].Verdict)
	assert.Equal(t, "offline", results[0].Source)
}

func TestBuildEnforcers(t *testing.T) {
	sugar := zap.NewNop().Sugar()

	empty := BuildEnforcers(config.EnforcementConfig{}, nil, sugar)
	assert.Nil(t, empty.Firewall)
	assert.Nil(t, empty.Directory)

	var cfg config.EnforcementConfig
	cfg.Firewall.URL = "http://firewall.internal/api/block"
	cfg.EDR.URL = "http://edr.internal/api/isolate"
	cfg.Okta.Domain = "example.okta.com"
	cfg.Okta.APIToken = "token"
	got := BuildEnforcers(cfg, nil, sugar)
	assert.NotNil(t, got.Firewall)
	assert.Nil(t, got.Blocklist)
	assert.NotNil(t, got.Isolator)
	assert.NotNil(t, got.Directory)
}
