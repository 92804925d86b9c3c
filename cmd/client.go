package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"guardian/api"
	"guardian/core"
	"guardian/soar"
)

// maxResponseBytes caps what the client reads from the server.
const maxResponseBytes = 8 << 20

// apiClient talks to a running guardian server.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func newAPIClient(baseURL, token string) (*apiClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	if token == "" {
		token = os.Getenv("GUARDIAN_TOKEN")
	}
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach guardian at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) ListIncidents(ctx context.Context, filter core.IncidentFilter) (*api.IncidentList, error) {
	q := url.Values{}
	if filter.Stage != "" {
		q.Set("status", string(filter.Stage))
	}
	if filter.MinRisk > 0 {
		q.Set("min_risk", fmt.Sprint(filter.MinRisk))
	}
	if filter.Limit > 0 {
		q.Set("limit", fmt.Sprint(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", fmt.Sprint(filter.Offset))
	}
	path := "/api/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list api.IncidentList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *apiClient) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	var inc core.Incident
	if err := c.do(ctx, http.MethodGet, "/api/incidents/"+url.PathEscape(id), nil, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

func (c *apiClient) Submit(ctx context.Context, rawLog, source string) (*api.SubmitResponse, error) {
	var resp api.SubmitResponse
	req := api.SubmitRequest{RawLog: rawLog, LogSource: source}
	if err := c.do(ctx, http.MethodPost, "/api/incidents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Decide(ctx context.Context, id string, decision core.Decision) error {
	req := api.DecisionRequest{Decision: string(decision)}
	return c.do(ctx, http.MethodPost, "/api/incidents/"+url.PathEscape(id)+"/decision", req, nil)
}

func (c *apiClient) PendingApprovals(ctx context.Context) ([]soar.ApprovalRequest, error) {
	var resp struct {
		Incidents []soar.ApprovalRequest `json:"incidents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/incidents/pending-approval", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Incidents, nil
}

func (c *apiClient) Enforcement(ctx context.Context) (*core.EnforcementSnapshot, error) {
	var snap core.EnforcementSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *apiClient) Stats(ctx context.Context) (*core.IncidentStats, error) {
	var stats core.IncidentStats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
