package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/yujitounai/fuzzer-api/core"
	"github.com/yujitounai/fuzzer-api/expansion"
)

// payloadSetRequest mirrors core.PayloadSet over the wire.
type payloadSetRequest struct {
	Name     string   `json:"name"`
	Payloads []string `json:"payloads"`
}

// expansionResponse is the shared return shape of every corpus-generation
// endpoint (spec §6): the strategy used, the total row count, the generated
// requests, and the persisted run's id for later execution.
type expansionResponse struct {
	Strategy      core.Strategy           `json:"strategy"`
	TotalRequests int                     `json:"total_requests"`
	Requests      []core.GeneratedRequest `json:"requests"`
	RequestID     int64                   `json:"request_id"`
}

func toPayloadSets(in []payloadSetRequest) []core.PayloadSet {
	out := make([]core.PayloadSet, len(in))
	for i, p := range in {
		out[i] = core.PayloadSet{Name: p.Name, Payloads: p.Payloads}
	}
	return out
}

// handleReplacePlaceholders implements POST /replace-placeholders (spec §6):
// runs the Sniper/Battering Ram/Pitchfork/Cluster Bomb expansion engine over
// a template and persists the resulting CorpusRun.
//
// Method: POST
// Responses: 200 expansionResponse, 400 invalid_input, 422 invalid_expansion
func (h *Handler) handleReplacePlaceholders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	var req struct {
		Template     string              `json:"template"`
		Placeholders []string            `json:"placeholders"`
		Strategy     core.Strategy       `json:"strategy"`
		PayloadSets  []payloadSetRequest `json:"payload_sets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	if req.Template == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "template is required")
		return
	}

	rows, err := expansion.Expand(req.Template, req.Placeholders, req.Strategy, toPayloadSets(req.PayloadSets))
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_expansion", err.Error())
		return
	}
	h.saveAndRespond(w, r, req.Template, req.Placeholders, req.Strategy, toPayloadSets(req.PayloadSets), rows)
}

// handleMutations implements POST /mutations (spec §6): the Mutation
// strategy, which iterates fixed values rather than a payload set. Each
// entry of `values` is taken as a literal string; repeat constructions are
// not accepted by this endpoint.
//
// Method: POST
// Responses: 200 expansionResponse, 400 invalid_input, 422 invalid_expansion
func (h *Handler) handleMutations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	var req struct {
		Template  string `json:"template"`
		Mutations []struct {
			Token  string   `json:"token"`
			Label  string   `json:"label"`
			Values []string `json:"values"`
		} `json:"mutations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	mutations := make([]expansion.Mutation, len(req.Mutations))
	for i, m := range req.Mutations {
		values := make([]expansion.MutationValue, len(m.Values))
		for j, v := range m.Values {
			values[j] = expansion.Literal(v)
		}
		mutations[i] = expansion.Mutation{Token: m.Token, Label: m.Label, Values: values}
	}

	rows, err := expansion.ExpandMutations(req.Template, mutations)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_expansion", err.Error())
		return
	}
	h.saveAndRespond(w, r, req.Template, expansion.ExtractTokens(mutations), core.StrategyMutation, nil, rows)
}

// handleIntuitive implements POST /intuitive (spec §6): a convenience
// wrapper accepting {token, strategy, values} payload sets keyed by
// placeholder name, rather than requiring the caller to pre-tokenize the
// template and declare placeholders separately.
//
// Method: POST
// Responses: 200 expansionResponse, 400 invalid_input, 422 invalid_expansion
func (h *Handler) handleIntuitive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	var req struct {
		Template    string        `json:"template"`
		Strategy    core.Strategy `json:"strategy"`
		PayloadSets []struct {
			Token    string   `json:"token"`
			Payloads []string `json:"values"`
		} `json:"payload_sets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	placeholders := make([]string, len(req.PayloadSets))
	sets := make([]core.PayloadSet, len(req.PayloadSets))
	for i, p := range req.PayloadSets {
		placeholders[i] = p.Token
		sets[i] = core.PayloadSet{Name: p.Token, Payloads: p.Payloads}
	}

	rows, err := expansion.Expand(req.Template, placeholders, req.Strategy, sets)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_expansion", err.Error())
		return
	}
	h.saveAndRespond(w, r, req.Template, placeholders, req.Strategy, sets, rows)
}

func (h *Handler) saveAndRespond(w http.ResponseWriter, r *http.Request, template string, placeholders []string, strategy core.Strategy, sets []core.PayloadSet, rows []core.GeneratedRequest) {
	run := core.CorpusRun{
		Template:       template,
		Placeholders:   placeholders,
		Strategy:       strategy,
		PayloadSets:    sets,
		GeneratedCount: len(rows),
	}
	saved, err := h.corpusStore.Save(r.Context(), run, rows)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, expansionResponse{
		Strategy:      strategy,
		TotalRequests: len(rows),
		Requests:      rows,
		RequestID:     saved.ID,
	})
}

// handleHistoryList implements GET /history?limit&offset (spec §6): lists
// previously generated corpus runs newest-first.
//
// Method: GET
// Query Parameters: limit (default 20), offset (default 0)
// Responses: 200 []core.CorpusRun
func (h *Handler) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	offset, limit := pageParams(r, 20)
	runs, err := h.corpusStore.List(r.Context(), offset, limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

// handleStatistics implements GET /statistics (spec §6): aggregate counts of
// every persisted corpus run, grouped by strategy.
//
// Method: GET
// Responses: 200 core.CorpusStatistics
func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	stats, err := h.corpusStore.Statistics(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// handleHistoryItem implements GET+DELETE /history/{id} (spec §6). DELETE
// is forbidden while any non-terminal Job still references this run (the
// cross-entity invariant lives here, in api, rather than in store.CorpusStore,
// since store must not depend on jobs).
//
// Method: GET, DELETE
// Responses: 200 core.CorpusRun (GET) / 204 (DELETE), 404 not_found, 409 forbidden_transition
func (h *Handler) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/history/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || idStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "invalid run id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		run, err := h.corpusStore.Get(r.Context(), id)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, run)
	case http.MethodDelete:
		if h.jobManager.HasNonTerminalJobForRun(id) {
			h.writeError(w, http.StatusConflict, "forbidden_transition", "a pending or running job still references this corpus run")
			return
		}
		if err := h.corpusStore.Delete(r.Context(), id); err != nil {
			h.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
	}
}

// pageParams reads "offset" and "limit" query parameters, defaulting offset
// to 0 and limit to defaultLimit when absent or malformed.
func pageParams(r *http.Request, defaultLimit int) (int64, int64) {
	offset := int64(0)
	limit := int64(defaultLimit)
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			offset = parsed
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			limit = parsed
		}
	}
	return offset, limit
}
