package storage

import (
	"context"
	"testing"
	"time"

	"guardian/soar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteAuditLogger_LogAndQuery(t *testing.T) {
	logger := NewSQLiteAuditLogger(newTestSQLite(t), nil)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, logger.Log(ctx, &soar.AuditEvent{
		EventType: soar.AuditActionExecuted, IncidentID: "inc-1", ActionType: "block_ip",
		Target: "1.2.3.4", Result: "success", Timestamp: base,
		Parameters: map[string]interface{}{"url": "https://fw.local", "api_key": "abc"},
	}))
	require.NoError(t, logger.Log(ctx, &soar.AuditEvent{
		EventType: soar.AuditActionExecuted, IncidentID: "inc-2", ActionType: "block_hash",
		Target: "deadbeef", Result: "failed", Reason: "timeout", Timestamp: base.Add(time.Second),
	}))

	events, total, err := logger.QueryAuditLogs(ctx, soar.AuditLogFilters{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, "inc-2", events[0].IncidentID)

	events, total, err = logger.QueryAuditLogs(ctx, soar.AuditLogFilters{IncidentID: "inc-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, "[REDACTED]", events[0].Parameters["api_key"])
	assert.Equal(t, "https://fw.local", events[0].Parameters["url"])
}

func TestSQLiteAuditLogger_NilEvent(t *testing.T) {
	logger := NewSQLiteAuditLogger(newTestSQLite(t), nil)
	assert.Error(t, logger.Log(context.Background(), nil))
}
