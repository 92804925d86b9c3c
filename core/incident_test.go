package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncident(t *testing.T) {
	inc := NewIncident("Failed password for root from 1.2.3.4", "")
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, "unknown", inc.Source)
	assert.Equal(t, StagePending, inc.Stage)
	assert.Equal(t, DecisionNone, inc.Decision)
	assert.Nil(t, inc.RiskScore)
	assert.Zero(t, inc.Risk())
}

func TestIncident_RiskScoreImmutable(t *testing.T) {
	inc := NewIncident("log", "test")
	require.NoError(t, inc.SetRiskScore(9))
	assert.ErrorIs(t, inc.SetRiskScore(3), ErrRiskScoreSet)
	assert.Equal(t, 9, inc.Risk())

	other := NewIncident("log", "test")
	assert.Error(t, other.SetRiskScore(11))
	assert.Nil(t, other.RiskScore)
}

func TestIncident_AddIndicatorsAppendOnly(t *testing.T) {
	inc := NewIncident("log", "test")
	added := inc.AddIndicators("185.220.101.47", "185.220.101.47", "44d88612fea8a8f36de82e1278abb02f")
	assert.Len(t, added, 2)

	added = inc.AddIndicators("44D88612FEA8A8F36DE82E1278ABB02F", "45.142.212.100")
	assert.Equal(t, []string{"45.142.212.100"}, added)
	assert.Equal(t, []string{"185.220.101.47", "44d88612fea8a8f36de82e1278abb02f", "45.142.212.100"}, inc.Indicators)
}

func TestIncident_RecordDecisionOnce(t *testing.T) {
	inc := NewIncident("log", "test")
	require.NoError(t, inc.RecordDecision(DecisionApproved))
	assert.ErrorIs(t, inc.RecordDecision(DecisionDenied), ErrDecisionRecorded)
	assert.Equal(t, DecisionApproved, inc.Decision)
}

func TestIncident_AdvanceAndFail(t *testing.T) {
	inc := NewIncident("log", "test")
	require.NoError(t, inc.Advance(StageAnalyzing))

	err := inc.Advance(StagePlanning)
	var stateErr *InvalidStateError
	require.True(t, errors.As(err, &stateErr))
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, StageAnalyzing, inc.Stage)

	require.NoError(t, inc.Fail("reasoning gateway unreachable"))
	assert.Equal(t, StageError, inc.Stage)
	assert.Equal(t, "reasoning gateway unreachable", inc.Error)
	assert.NotNil(t, inc.CompletedAt)
	assert.Error(t, inc.Fail("again"))
}

func TestIncident_AppendActionResultMarksPartialFailure(t *testing.T) {
	inc := NewIncident("log", "test")
	inc.AppendActionResult(ActionResult{Action: Action{Type: ActionBlockIP, Target: "1.2.3.4"}, Status: ActionStatusSuccess})
	assert.False(t, inc.PartialFailure)
	inc.AppendActionResult(ActionResult{Action: Action{Type: ActionIsolateHost, Target: "web-01"}, Status: ActionStatusFailed, Reason: "edr timeout"})
	assert.True(t, inc.PartialFailure)
	assert.Equal(t, []string{
		"block_ip:1.2.3.4 -> success",
		"isolate_host:web-01 -> failed: edr timeout",
	}, inc.ExecutedActionStrings())
}

func TestIncident_CloneIsDeep(t *testing.T) {
	inc := NewIncident("log", "test")
	require.NoError(t, inc.SetRiskScore(5))
	inc.AddIndicators("1.2.3.4")

	c := inc.Clone()
	c.Indicators[0] = "changed"
	*c.RiskScore = 1
	assert.Equal(t, "1.2.3.4", inc.Indicators[0])
	assert.Equal(t, 5, inc.Risk())
}

func TestIncidentFilter_Normalize(t *testing.T) {
	f := IncidentFilter{}.Normalize()
	assert.Equal(t, DefaultListLimit, f.Limit)
	f = IncidentFilter{Limit: 10000, Offset: -3}.Normalize()
	assert.Equal(t, MaxListLimit, f.Limit)
	assert.Zero(t, f.Offset)
}

func TestNormalizeActionType(t *testing.T) {
	assert.Equal(t, ActionDisableAccount, NormalizeActionType("disable_user"))
	assert.Equal(t, ActionBlockIP, NormalizeActionType(" BLOCK_IP "))
	kind, ok := ActionBlockHash.EnforcementKind()
	assert.True(t, ok)
	assert.Equal(t, EnforcementHash, kind)
	_, ok = ActionAlertOnly.EnforcementKind()
	assert.False(t, ok)
}
