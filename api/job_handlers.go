package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yujitounai/fuzzer-api/core"
	"github.com/yujitounai/fuzzer-api/jobs"
)

// executeRequestsRequest is the body of POST /execute-requests. HTTPConfig
// is optional; when present, unknown keys are rejected with 422 per spec §6.
type executeRequestsRequest struct {
	RequestID  int64            `json:"request_id"`
	Name       string           `json:"name"`
	HTTPConfig *json.RawMessage `json:"http_config"`
}

// decodeHTTPConfig decodes a partial http_config object onto the defaults,
// rejecting unknown keys. It decodes into the seconds-based
// core.HTTPConfigJSON wire shape (spec §6 table: timeout/request_delay are
// seconds, not nanosecond Durations) rather than core.HTTPConfig directly,
// since HTTPConfig's custom UnmarshalJSON would otherwise swallow the
// unknown-field check along with the rest of json.Decoder's struct
// validation.
func decodeHTTPConfig(raw *json.RawMessage) (core.HTTPConfig, error) {
	wire := core.DefaultHTTPConfig().ToWire()
	if raw == nil {
		return wire.ToConfig(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(*raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return core.HTTPConfig{}, err
	}
	return wire.ToConfig(), nil
}

// handleExecuteRequests implements POST /execute-requests (spec §6): creates
// a Job for a previously generated CorpusRun and hands it to the Job
// Manager's scheduler; returns immediately with status "pending".
//
// Method: POST
// Responses: 200 core.Job, 400 invalid_input, 404 not_found, 422 invalid_input (unknown http_config key)
func (h *Handler) handleExecuteRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	var req executeRequestsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	cfg, err := decodeHTTPConfig(req.HTTPConfig)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_input", "unknown or malformed http_config field: "+err.Error())
		return
	}

	job, err := h.jobManager.Create(r.Context(), req.Name, req.RequestID, cfg)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// handleExecuteSingleRequest implements POST /execute-single-request (spec
// §6): executes exactly one ordinal of a corpus run synchronously, bypassing
// the Job Manager entirely (no Job or JobResult is persisted).
//
// Method: POST
// Responses: 200 core.HTTPResponse, 400 invalid_input, 404 not_found
func (h *Handler) handleExecuteSingleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	var req struct {
		RequestID  int64            `json:"request_id"`
		Ordinal    int              `json:"ordinal"`
		HTTPConfig *json.RawMessage `json:"http_config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	cfg, err := decodeHTTPConfig(req.HTTPConfig)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_input", "unknown or malformed http_config field: "+err.Error())
		return
	}

	rows, err := h.corpusStore.Rows(r.Context(), req.RequestID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	var target *core.GeneratedRequest
	for i := range rows {
		if rows[i].Ordinal == req.Ordinal {
			target = &rows[i]
			break
		}
	}
	if target == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "no row with that ordinal in this corpus run")
		return
	}

	var result core.JobResult
	err = h.executor.Run(r.Context(), []core.GeneratedRequest{*target}, cfg, func(r core.JobResult) {
		result = r
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result.Response)
}

// handleJobsList implements GET /jobs?limit&offset (spec §6).
//
// Method: GET
// Responses: 200 []core.Job
func (h *Handler) handleJobsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	offset, limit := pageParams(r, 20)
	jobList, err := h.jobManager.List(r.Context(), offset, limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, jobList)
}

// handleJobsCleanup implements POST /jobs/cleanup?max_age_hours (spec §6):
// deletes every terminal (completed/failed/cancelled) job created more than
// max_age_hours ago. max_age_hours defaults to
// jobs.DefaultCleanupMaxAge (24h, matching cleanup_old_jobs's default in
// the original implementation) when omitted.
//
// Method: POST
// Responses: 200 {"deleted": N}, 400 invalid_input (unparseable max_age_hours)
func (h *Handler) handleJobsCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	maxAge := jobs.DefaultCleanupMaxAge
	if v := r.URL.Query().Get("max_age_hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_input", "max_age_hours must be numeric")
			return
		}
		maxAge = time.Duration(hours * float64(time.Hour))
	}
	n, err := h.jobManager.Cleanup(r.Context(), maxAge)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleJobsPrefix dispatches every /jobs/{id}... route: the bare job, its
// stop/resume/delete actions, and its results sub-resource. A single prefix
// handler mirrors the teacher's RegisterRoutes convention of parsing the
// trailing path segment inside the handler body rather than using a router.
func (h *Handler) handleJobsPrefix(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		h.writeError(w, http.StatusNotFound, "not_found", "missing job id")
		return
	}
	id := segments[0]

	switch {
	case len(segments) == 1:
		h.handleJobItem(w, r, id)
	case len(segments) == 2 && segments[1] == "stop":
		h.requireAuth(w, r, func() { h.handleJobAction(w, r, id, h.jobManager.CancelJob) })
	case len(segments) == 2 && segments[1] == "resume":
		h.requireAuth(w, r, func() { h.handleJobAction(w, r, id, h.jobManager.Resume) })
	case len(segments) == 2 && segments[1] == "delete":
		h.requireAuth(w, r, func() { h.handleJobAction(w, r, id, h.jobManager.Delete) })
	case len(segments) == 2 && segments[1] == "results":
		h.handleJobResultsList(w, r, id)
	case len(segments) == 3 && segments[1] == "results":
		h.handleJobResultItem(w, r, id, segments[2])
	case len(segments) == 3 && segments[1] == "analyze":
		h.handleAnalyze(w, r, id, segments[2])
	default:
		h.writeError(w, http.StatusNotFound, "not_found", "unknown job route")
	}
}

// requireAuth applies the bearer-credential check (spec §6) to a route
// reached through the shared /jobs/ prefix dispatcher, then runs next.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request, next func()) {
	h.auth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { next() })).ServeHTTP(w, r)
}

// handleJobItem implements GET /jobs/{id}.
//
// Method: GET
// Responses: 200 core.Job, 404 not_found
func (h *Handler) handleJobItem(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	job, err := h.jobManager.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// handleJobAction implements POST /jobs/{id}/stop, /resume, and DELETE
// /jobs/{id}/delete (spec §5's state-machine transitions).
//
// Method: POST (stop, resume) / DELETE (delete)
// Responses: 200 core.Job (stop, resume) / 204 (delete), 404 not_found, 409 forbidden_transition
func (h *Handler) handleJobAction(w http.ResponseWriter, r *http.Request, id string, action func(context.Context, string) error) {
	if err := action(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	job, err := h.jobManager.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// handleJobResultsList implements GET /jobs/{id}/results?limit&offset.
//
// Method: GET
// Responses: 200 []core.JobResult, 404 not_found
func (h *Handler) handleJobResultsList(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	offset, limit := pageParams(r, 50)
	results, err := h.jobResults.Page(r.Context(), jobID, int(offset), int(limit))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

// handleJobResultItem implements GET /jobs/{id}/results/{ordinal}.
//
// Method: GET
// Responses: 200 core.JobResult, 400 invalid_input, 404 not_found
func (h *Handler) handleJobResultItem(w http.ResponseWriter, r *http.Request, jobID, ordinalStr string) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	ordinal, err := strconv.Atoi(ordinalStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "invalid ordinal")
		return
	}
	result, err := h.jobResults.Get(r.Context(), jobID, ordinal)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

