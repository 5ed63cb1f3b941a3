package api

import (
	"net/http"
	"strconv"

	"github.com/yujitounai/fuzzer-api/analysis"
)

// handleAnalyze dispatches GET/POST /jobs/{id}/analyze/{kind}, one of
// error-patterns, payload-reflection, or time-delay (spec §4.7). GET reads
// configuration from query parameters; POST is accepted too and reads the
// same query parameters (the request body is not read). Both load every
// persisted JobResult for the job and run the
// corresponding pure analysis function over them.
//
// Method: GET, POST
// Responses: 200 report, 400 invalid_input, 404 not_found
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request, jobID, kind string) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	results, err := h.jobResults.Page(r.Context(), jobID, 0, -1)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	switch kind {
	case "error-patterns":
		cfg := analysis.DefaultErrorPatternConfig()
		if v := r.URL.Query().Get("case_sensitive"); v != "" {
			cfg.CaseSensitive, _ = strconv.ParseBool(v)
		}
		h.writeJSON(w, http.StatusOK, analysis.MatchErrorPatterns(results, cfg))
	case "payload-reflection":
		cfg := analysis.DefaultReflectionConfig()
		if v := r.URL.Query().Get("min_payload_length"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.MinPayloadLength = n
			}
		}
		h.writeJSON(w, http.StatusOK, analysis.DetectReflections(results, cfg))
	case "time-delay":
		cfg := analysis.DefaultTimingConfig()
		if v := r.URL.Query().Get("time_threshold"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.TimeThreshold = f
			}
		}
		if v := r.URL.Query().Get("baseline"); v != "" {
			cfg.Baseline = analysis.BaselineMethod(v)
		}
		if v := r.URL.Query().Get("partition_by_payload_type"); v != "" {
			cfg.PartitionByPayloadType, _ = strconv.ParseBool(v)
		}
		if v := r.URL.Query().Get("top_n"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.TopN = n
			}
		}
		h.writeJSON(w, http.StatusOK, analysis.DetectTimingAnomalies(results, cfg))
	default:
		h.writeError(w, http.StatusNotFound, "not_found", "unknown analysis kind: "+kind)
	}
}
