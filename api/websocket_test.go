package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guardian/core"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) core.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev core.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestStreamIncident_SendsCurrentStateFirst(t *testing.T) {
	a, fake := newTestAPI(t, testConfig())
	inc := core.NewIncident("Failed password for root from 185.220.101.45", "sshd")
	inc.Stage = core.StageInvestigating
	fake.add(inc)

	server := httptest.NewServer(a.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/ws/incidents/"+inc.ID), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	assert.Equal(t, core.EventCurrentState, first.Type)
	assert.Equal(t, inc.ID, first.IncidentID)
	assert.Equal(t, core.StageInvestigating, first.Stage)
	snapshot, ok := first.Data["incident"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, inc.ID, snapshot["id"])

	// events for other incidents are not forwarded
	fake.events.Publish(core.NewEvent(core.EventStageChanged, "someone-else", core.StagePlanning, nil))
	fake.events.Publish(core.NewEvent(core.EventInvestigationComplete, inc.ID, core.StageInvestigating, map[string]interface{}{
		"investigated": 1,
		"malicious":    1,
	}))

	next := readEvent(t, conn)
	assert.Equal(t, core.EventInvestigationComplete, next.Type)
	assert.Equal(t, inc.ID, next.IncidentID)
	assert.EqualValues(t, 1, next.Data["malicious"])
}

func TestStreamAll_ForwardsEveryIncident(t *testing.T) {
	a, fake := newTestAPI(t, testConfig())
	server := httptest.NewServer(a.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/ws/incidents"), nil)
	require.NoError(t, err)
	defer conn.Close()

	fake.events.Publish(core.NewEvent(core.EventIncidentCreated, "inc-a", core.StagePending, nil))
	fake.events.Publish(core.NewEvent(core.EventIncidentCreated, "inc-b", core.StagePending, nil))

	assert.Equal(t, "inc-a", readEvent(t, conn).IncidentID)
	assert.Equal(t, "inc-b", readEvent(t, conn).IncidentID)
}

func TestStreamIncident_UnknownIncident(t *testing.T) {
	a, _ := newTestAPI(t, testConfig())
	server := httptest.NewServer(a.Handler())
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/ws/incidents/missing"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream_RequiresTokenWhenAuthEnabled(t *testing.T) {
	a, _ := newTestAPI(t, authConfig())
	server := httptest.NewServer(a.Handler())
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/ws/incidents"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, _, err := a.auth.IssueToken("admin")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/ws/incidents?token="+token), nil)
	require.NoError(t, err)
	conn.Close()
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	a, _ := newTestAPI(t, testConfig())
	server := httptest.NewServer(a.Handler())
	defer server.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/ws/incidents"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStop_ClosesStreams(t *testing.T) {
	a, fake := newTestAPI(t, testConfig())
	server := httptest.NewServer(a.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/ws/incidents"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return fake.events.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, fake.events.SubscriberCount())
}
