package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"guardian/api"
	"guardian/core"
	"guardian/util"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func findCommand(root *cobra.Command, path ...string) *cobra.Command {
	cmd, _, err := root.Find(path)
	if err != nil || cmd == root {
		return nil
	}
	return cmd
}

// runCLI executes the root command with args and returns its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		outputJSON, outputYAML, quiet = false, false, false
		apiToken = ""
	})

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--no-color"))
	err := root.Execute()
	return out.String(), err
}

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "guardian", root.Use)
	assert.NotNil(t, root.RunE, "bare guardian runs the server")

	for _, path := range [][]string{
		{"serve"},
		{"analyze"},
		{"incidents", "list"},
		{"incidents", "show"},
		{"incidents", "submit"},
		{"incidents", "pending"},
		{"incidents", "approve"},
		{"incidents", "deny"},
		{"enforcement"},
		{"stats"},
	} {
		assert.NotNil(t, findCommand(root, path...), "missing command %v", path)
	}
}

func TestRootCmdFlags(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"config", "server", "token", "json", "yaml", "no-color", "quiet"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "missing flag %s", name)
	}
	assert.Equal(t, "http://localhost:8000", root.PersistentFlags().Lookup("server").DefValue)

	analyze := findCommand(root, "analyze")
	require.NotNil(t, analyze)
	for _, name := range []string{"file", "auto-approve", "source", "timeout"} {
		assert.NotNil(t, analyze.Flags().Lookup(name), "missing analyze flag %s", name)
	}

	list := findCommand(root, "incidents", "list")
	require.NotNil(t, list)
	for _, name := range []string{"stage", "min-risk", "limit", "offset"} {
		assert.NotNil(t, list.Flags().Lookup(name), "missing list flag %s", name)
	}
}

func TestAnalyzeRequiresFile(t *testing.T) {
	_, err := runCLI(t, "analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestReadLogInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.log")
	require.NoError(t, os.WriteFile(path, []byte("Failed password for root"), 0o600))

	got, err := readLogInput(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "Failed password for root", got)

	got, err = readLogInput(strings.NewReader("from stdin"), "-")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	_, err = readLogInput(strings.NewReader(strings.Repeat("a", maxLogFileSize+1)), "-")
	assert.ErrorIs(t, err, util.ErrFileTooLarge)

	_, err = readLogInput(nil, dir)
	assert.ErrorIs(t, err, util.ErrNotRegularFile)
}

func TestPromptDecision(t *testing.T) {
	tests := []struct {
		input string
		want  core.Decision
	}{
		{"y\n", core.DecisionApproved},
		{"YES\n", core.DecisionApproved},
		{"n\n", core.DecisionDenied},
		{"\n", core.DecisionDenied},
		{"maybe\ny\n", core.DecisionApproved},
		{"", core.DecisionDenied},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := promptDecision(bufio.NewReader(strings.NewReader(tt.input)), &out)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

// fakeServer serves canned API responses and records requests.
type fakeServer struct {
	*httptest.Server
	lastAuth  string
	lastQuery string
	decisions map[string]string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	risk := 9
	inc := &core.Incident{
		ID:            "3f2a9c1e-0000-4000-8000-000000000001",
		Source:        "sshd",
		Stage:         core.StageComplete,
		RiskScore:     &risk,
		AttackType:    "brute_force",
		ThreatSummary: "SSH brute force from a Tor exit node",
		PlannedActions: []core.Action{
			{Type: core.ActionBlockIP, Target: "185.220.101.47", Urgency: core.UrgencyImmediate},
		},
		ExecutedActions: []core.ActionResult{
			{Action: core.Action{Type: core.ActionBlockIP, Target: "185.220.101.47"}, Status: core.ActionStatusSuccess},
		},
		Report:    "# Incident report",
		CreatedAt: time.Now().Add(-time.Hour),
	}

	fs := &fakeServer{decisions: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/incidents", func(w http.ResponseWriter, r *http.Request) {
		fs.lastAuth = r.Header.Get("Authorization")
		fs.lastQuery = r.URL.RawQuery
		if r.Method == http.MethodPost {
			var req api.SubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(api.SubmitResponse{IncidentID: "new-id", Stage: core.StagePending})
			return
		}
		_ = json.NewEncoder(w).Encode(api.IncidentList{
			Incidents: []core.IncidentSummary{inc.Summary()},
			Total:     1,
			Limit:     50,
		})
	})
	mux.HandleFunc("/api/incidents/"+inc.ID, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(inc)
	})
	mux.HandleFunc("/api/incidents/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Incident not found", http.StatusNotFound)
	})
	mux.HandleFunc("/api/incidents/parked/decision", func(w http.ResponseWriter, r *http.Request) {
		var req api.DecisionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fs.decisions["parked"] = req.Decision
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(core.EnforcementSnapshot{
			BlockedIPs: []core.EnforcementEntry{{Kind: core.EnforcementIP, Target: "185.220.101.47", IncidentID: inc.ID}},
			TakenAt:    time.Now(),
		})
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(core.IncidentStats{
			Total:    1,
			ByStage:  map[core.Stage]int{core.StageComplete: 1},
			HighRisk: 1,
		})
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func TestIncidentsList(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "incidents", "list", "--server", srv.URL, "--token", "tok", "--stage", "complete", "--min-risk", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "3f2a9c1e")
	assert.Contains(t, out, "brute_force")
	assert.Equal(t, "Bearer tok", srv.lastAuth)
	assert.Contains(t, srv.lastQuery, "status=complete")
	assert.Contains(t, srv.lastQuery, "min_risk=5")

	_, err = runCLI(t, "incidents", "list", "--server", srv.URL, "--stage", "bogus")
	assert.Error(t, err)
}

func TestIncidentsShow(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "incidents", "show", "3f2a9c1e-0000-4000-8000-000000000001", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "SSH brute force")
	assert.Contains(t, out, "block_ip:185.220.101.47 -> success")

	out, err = runCLI(t, "incidents", "show", "3f2a9c1e-0000-4000-8000-000000000001", "--server", srv.URL, "--yaml")
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "brute_force", decoded["attack_type"])

	_, err = runCLI(t, "incidents", "show", "missing", "--server", srv.URL)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestIncidentsSubmitAndDecide(t *testing.T) {
	srv := newFakeServer(t)
	path := filepath.Join(t.TempDir(), "auth.log")
	require.NoError(t, os.WriteFile(path, []byte("Failed password for root from 185.220.101.47"), 0o600))

	out, err := runCLI(t, "incidents", "submit", "--file", path, "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "new-id")

	_, err = runCLI(t, "incidents", "deny", "parked", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "denied", srv.decisions["parked"])
}

func TestEnforcementAndStats(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "enforcement", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Blocked IPs (1)")
	assert.Contains(t, out, "185.220.101.47")

	out, err = runCLI(t, "stats", "--server", srv.URL, "--json")
	require.NoError(t, err)
	var stats core.IncidentStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStage[core.StageComplete])
}

func TestNewAPIClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8000", "ftp://host", "http://"} {
		_, err := newAPIClient(raw, "")
		assert.Error(t, err, raw)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "3f2a9c1e", shortID("3f2a9c1e-0000"))
}
