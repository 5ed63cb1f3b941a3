// Package api implements the JSON HTTP surface of spec §6 over a plain
// http.ServeMux, grounded on the teacher's orchestration.HITLHandler /
// TaskAPIHandler convention: one Handler struct per resource group, a
// RegisterRoutes(mux) method, writeJSON/writeError helpers, and
// functional-option construction.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/yujitounai/fuzzer-api/core"
	"github.com/yujitounai/fuzzer-api/executor"
	"github.com/yujitounai/fuzzer-api/jobs"
	"github.com/yujitounai/fuzzer-api/store"
)

// ErrorResponse is the structured error payload spec §7 requires: {kind, detail}.
type ErrorResponse struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Handler groups every HTTP endpoint of spec §6 over the store/jobs/executor
// layers. Exported so cmd/fuzzerapi can construct and register it.
type Handler struct {
	corpusStore *store.CorpusStore
	jobManager  *jobs.Manager
	jobResults  *store.ResultStore
	executor    *executor.HTTPExecutor
	logger      core.Logger
	telemetry   core.Telemetry
	authToken   string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTelemetry sets the handler's telemetry provider.
func WithTelemetry(t core.Telemetry) Option {
	return func(h *Handler) {
		if t != nil {
			h.telemetry = t
		}
	}
}

// WithAuthToken requires this bearer token on every write operation (spec
// §6: "every write operation requires a bearer credential"). An empty
// token disables the check, for local/dev use.
func WithAuthToken(token string) Option {
	return func(h *Handler) { h.authToken = token }
}

// NewHandler builds a Handler. Returns a concrete type per the teacher's
// "accept interfaces, return structs" convention.
func NewHandler(corpusStore *store.CorpusStore, jobManager *jobs.Manager, jobResults *store.ResultStore, exec *executor.HTTPExecutor, opts ...Option) *Handler {
	h := &Handler{
		corpusStore: corpusStore,
		jobManager:  jobManager,
		jobResults:  jobResults,
		executor:    exec,
		logger:      core.NoOpLogger{},
		telemetry:   core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers every endpoint of spec §6 on mux.
//
// Registered routes:
//   - POST /replace-placeholders, /mutations, /intuitive
//   - GET /history, GET+DELETE /history/{id}
//   - GET /statistics
//   - POST /execute-requests, /execute-single-request
//   - GET /jobs, GET /jobs/{id}
//   - POST /jobs/{id}/stop, /jobs/{id}/resume, /jobs/cleanup
//   - DELETE /jobs/{id}/delete
//   - GET /jobs/{id}/results, /jobs/{id}/results/{ordinal}
//   - GET+POST /jobs/{id}/analyze/{error-patterns,payload-reflection,time-delay}
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/replace-placeholders", h.auth(http.HandlerFunc(h.handleReplacePlaceholders)))
	mux.Handle("/mutations", h.auth(http.HandlerFunc(h.handleMutations)))
	mux.Handle("/intuitive", h.auth(http.HandlerFunc(h.handleIntuitive)))

	mux.HandleFunc("/history", h.handleHistoryList)
	mux.Handle("/history/", h.authFor(http.MethodDelete, http.HandlerFunc(h.handleHistoryItem)))

	mux.HandleFunc("/statistics", h.handleStatistics)

	mux.Handle("/execute-requests", h.auth(http.HandlerFunc(h.handleExecuteRequests)))
	mux.Handle("/execute-single-request", h.auth(http.HandlerFunc(h.handleExecuteSingleRequest)))

	mux.HandleFunc("/jobs", h.handleJobsList)
	mux.HandleFunc("/jobs/cleanup", h.wrapAuth(h.handleJobsCleanup))
	mux.HandleFunc("/jobs/", h.handleJobsPrefix)
}

func (h *Handler) wrapAuth(next http.HandlerFunc) http.HandlerFunc {
	return h.auth(next).ServeHTTP
}

// auth enforces spec §6's bearer-credential requirement on write
// operations; a zero-value authToken disables the check (dev mode).
func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+h.authToken {
			h.writeError(w, http.StatusUnauthorized, "invalid_input", "missing or invalid bearer credential")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authFor only enforces auth when the request method matches method,
// letting unauthenticated reads share a pattern with an authenticated
// write (e.g. GET vs DELETE on /history/{id}).
func (h *Handler) authFor(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			next.ServeHTTP(w, r)
			return
		}
		h.auth(next).ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.ErrorWithContext(context.Background(), "failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, detail string) {
	h.writeJSON(w, status, ErrorResponse{Kind: kind, Detail: detail})
}

// writeStoreError maps a core.FrameworkError to the status codes of spec §6/§7.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case core.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case core.IsInvalidInput(err):
		h.writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case core.IsForbiddenTransition(err):
		h.writeError(w, http.StatusConflict, "forbidden_transition", err.Error())
	case core.IsStorageFailure(err):
		h.writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
