package soar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpAuditLogger(t *testing.T) {
	logger := &NoOpAuditLogger{}
	ctx := context.Background()

	require.NoError(t, logger.Log(ctx, &AuditEvent{EventType: AuditActionExecuted, IncidentID: "inc-1"}))

	logs, total, err := logger.QueryAuditLogs(ctx, AuditLogFilters{IncidentID: "inc-1"})
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
	assert.Equal(t, int64(0), total)
}

func TestAuditLogFilters_Normalize(t *testing.T) {
	f := AuditLogFilters{Limit: 0, Offset: -3}.Normalize()
	assert.Equal(t, 100, f.Limit)
	assert.Equal(t, 0, f.Offset)

	assert.Equal(t, 1000, AuditLogFilters{Limit: 5000}.Normalize().Limit)
	assert.Equal(t, 25, AuditLogFilters{Limit: 25}.Normalize().Limit)
}

func TestRedactSecrets(t *testing.T) {
	params := map[string]interface{}{
		"urgency":       "IMMEDIATE",
		"api_key":       "sk-live-123",
		"Authorization": "SSWS abc",
		"okta": map[string]interface{}{
			"domain":    "acme.okta.com",
			"api_token": "00abc",
		},
	}
	out := RedactSecrets(params)

	assert.Equal(t, "IMMEDIATE", out["urgency"])
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	nested := out["okta"].(map[string]interface{})
	assert.Equal(t, "acme.okta.com", nested["domain"])
	assert.Equal(t, "[REDACTED]", nested["api_token"])
	assert.Equal(t, "sk-live-123", params["api_key"], "input is not modified")
	assert.Nil(t, RedactSecrets(nil))
}
