package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"guardian/core"
	"guardian/pipeline"

	"github.com/gorilla/mux"
)

// maxSubmitBodyBytes bounds POST /api/incidents.
const maxSubmitBodyBytes = 1 << 20

// SubmitRequest is the body of POST /api/incidents.
type SubmitRequest struct {
	RawLog    string `json:"raw_log" validate:"required,max=524288"`
	LogSource string `json:"log_source" validate:"omitempty,max=128"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	IncidentID string     `json:"incident_id"`
	Stage      core.Stage `json:"status"`
}

// DecisionRequest is the body of POST /api/incidents/{id}/decision.
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required"`
}

// IncidentList is the body of GET /api/incidents.
type IncidentList struct {
	Incidents []core.IncidentSummary `json:"incidents"`
	Total     int                    `json:"total"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
}

func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// respondPipelineError maps orchestrator errors onto HTTP statuses.
func (a *API) respondPipelineError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "Incident not found", nil, nil)
	case errors.Is(err, core.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error(), nil, nil)
	case errors.Is(err, pipeline.ErrEmptyLog):
		writeError(w, http.StatusBadRequest, err.Error(), nil, nil)
	case errors.Is(err, pipeline.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down", nil, nil)
	default:
		writeError(w, http.StatusInternalServerError, message, err, a.logger)
	}
}

// submitIncident godoc
//
//	@Summary		Submit a raw log
//	@Description	Creates an incident and starts its pipeline. Returns before any stage work is done.
//	@Tags			incidents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SubmitRequest	true	"Raw log"
//	@Success		202		{object}	SubmitResponse
//	@Failure		400		{string}	string	"Bad Request"
//	@Failure		503		{string}	string	"Shutting down"
//	@Security		BearerAuth
//	@Router			/api/incidents [post]
func (a *API) submitIncident(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !a.decodeAndValidate(w, r, &req, maxSubmitBodyBytes) {
		return
	}

	id, err := a.pipeline.Submit(r.Context(), req.RawLog, req.LogSource)
	if err != nil {
		a.respondPipelineError(w, "Failed to submit incident", err)
		return
	}
	a.respondJSON(w, SubmitResponse{IncidentID: id, Stage: core.StagePending}, http.StatusAccepted)
}

// listIncidents godoc
//
//	@Summary	List incidents
//	@Tags		incidents
//	@Produce	json
//	@Param		limit		query		int		false	"Page size (1-500)"	default(50)
//	@Param		offset		query		int		false	"Offset"			default(0)
//	@Param		status		query		string	false	"Stage filter"
//	@Param		min_risk	query		int		false	"Minimum risk score"
//	@Success	200			{object}	IncidentList
//	@Failure	400			{string}	string	"Bad Request"
//	@Security	BearerAuth
//	@Router		/api/incidents [get]
func (a *API) listIncidents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseIncidentFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, nil)
		return
	}
	filter = filter.Normalize()

	incidents, total, err := a.pipeline.List(r.Context(), filter)
	if err != nil {
		a.respondPipelineError(w, "Failed to list incidents", err)
		return
	}
	if incidents == nil {
		incidents = []core.IncidentSummary{}
	}
	a.respondJSON(w, IncidentList{
		Incidents: incidents,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	}, http.StatusOK)
}

func parseIncidentFilter(r *http.Request) (core.IncidentFilter, error) {
	q := r.URL.Query()
	var filter core.IncidentFilter

	ints := []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
		{"min_risk", &filter.MinRisk},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return filter, fmt.Errorf("invalid %s parameter: must be a non-negative integer", p.name)
		}
		*p.dst = v
	}

	if status := q.Get("status"); status != "" {
		stage, err := core.ParseStage(status)
		if err != nil {
			return filter, err
		}
		filter.Stage = stage
	}
	return filter, nil
}

// getIncident godoc
//
//	@Summary	Get an incident
//	@Tags		incidents
//	@Produce	json
//	@Param		id	path		string	true	"Incident ID"
//	@Success	200	{object}	core.Incident
//	@Failure	404	{string}	string	"Incident not found"
//	@Security	BearerAuth
//	@Router		/api/incidents/{id} [get]
func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := a.pipeline.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.respondPipelineError(w, "Failed to get incident", err)
		return
	}
	a.respondJSON(w, inc, http.StatusOK)
}

// getReport godoc
//
//	@Summary		Get the incident report
//	@Description	Plain-text report, available once the incident reaches complete.
//	@Tags			incidents
//	@Produce		plain
//	@Param			id	path		string	true	"Incident ID"
//	@Success		200	{string}	string
//	@Failure		404	{string}	string	"Incident not found"
//	@Failure		409	{string}	string	"Report not ready"
//	@Security		BearerAuth
//	@Router			/api/incidents/{id}/report [get]
func (a *API) getReport(w http.ResponseWriter, r *http.Request) {
	inc, err := a.pipeline.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.respondPipelineError(w, "Failed to get incident", err)
		return
	}
	if inc.Report == "" {
		writeError(w, http.StatusConflict, fmt.Sprintf("Report not ready (stage: %s)", inc.Stage), nil, nil)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"guardian-%s.txt\"", inc.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(inc.Report))
}

// approveIncident godoc
//
//	@Summary	Approve the mitigation plan
//	@Tags		incidents
//	@Produce	json
//	@Param		id	path		string	true	"Incident ID"
//	@Success	200	{object}	map[string]string
//	@Failure	404	{string}	string	"Incident not found"
//	@Failure	409	{string}	string	"Incident is not awaiting approval"
//	@Security	BearerAuth
//	@Router		/api/incidents/{id}/approve [post]
func (a *API) approveIncident(w http.ResponseWriter, r *http.Request) {
	a.resume(w, r, core.DecisionApproved)
}

// denyIncident godoc
//
//	@Summary	Deny the mitigation plan
//	@Tags		incidents
//	@Produce	json
//	@Param		id	path		string	true	"Incident ID"
//	@Success	200	{object}	map[string]string
//	@Failure	404	{string}	string	"Incident not found"
//	@Failure	409	{string}	string	"Incident is not awaiting approval"
//	@Security	BearerAuth
//	@Router		/api/incidents/{id}/deny [post]
func (a *API) denyIncident(w http.ResponseWriter, r *http.Request) {
	a.resume(w, r, core.DecisionDenied)
}

// decideIncident godoc
//
//	@Summary	Record an approval decision
//	@Tags		incidents
//	@Accept		json
//	@Produce	json
//	@Param		id			path		string			true	"Incident ID"
//	@Param		request		body		DecisionRequest	true	"approve or deny"
//	@Success	200			{object}	map[string]string
//	@Failure	400			{string}	string	"Bad Request"
//	@Failure	404			{string}	string	"Incident not found"
//	@Failure	409			{string}	string	"Incident is not awaiting approval"
//	@Security	BearerAuth
//	@Router		/api/incidents/{id}/decision [post]
func (a *API) decideIncident(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !a.decodeAndValidate(w, r, &req, 4096) {
		return
	}
	decision, err := core.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, nil)
		return
	}
	a.resume(w, r, decision)
}

func (a *API) resume(w http.ResponseWriter, r *http.Request, decision core.Decision) {
	id := mux.Vars(r)["id"]
	if err := a.pipeline.Resume(r.Context(), id, decision); err != nil {
		a.respondPipelineError(w, "Failed to record decision", err)
		return
	}

	username, _ := GetUsername(r.Context())
	a.logger.Infow("AUDIT: approval decision",
		"incident_id", id,
		"decision", decision,
		"username", username,
		"source_ip", getRealIP(r))

	message := "Approved. Executing mitigation actions."
	if decision == core.DecisionDenied {
		message = "Denied. No mitigation actions will run."
	}
	a.respondJSON(w, map[string]string{
		"incident_id": id,
		"decision":    string(decision),
		"message":     message,
	}, http.StatusOK)
}

// pendingApprovals godoc
//
//	@Summary	Incidents awaiting approval
//	@Tags		incidents
//	@Produce	json
//	@Success	200	{object}	map[string]interface{}
//	@Security	BearerAuth
//	@Router		/api/incidents/pending-approval [get]
func (a *API) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, map[string]interface{}{"incidents": a.pipeline.PendingApprovals()}, http.StatusOK)
}

// getStats godoc
//
//	@Summary	Dashboard statistics
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	core.IncidentStats
//	@Security	BearerAuth
//	@Router		/api/stats [get]
func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.pipeline.Stats(r.Context())
	if err != nil {
		a.respondPipelineError(w, "Failed to compute stats", err)
		return
	}
	a.respondJSON(w, stats, http.StatusOK)
}

// getEnforcementState godoc
//
//	@Summary	Current enforcement state
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	core.EnforcementSnapshot
//	@Security	BearerAuth
//	@Router		/api/state [get]
func (a *API) getEnforcementState(w http.ResponseWriter, r *http.Request) {
	snap, err := a.pipeline.EnforcementSnapshot(r.Context())
	if err != nil {
		a.respondPipelineError(w, "Failed to read enforcement state", err)
		return
	}
	a.respondJSON(w, snap, http.StatusOK)
}
