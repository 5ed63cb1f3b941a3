package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujitounai/fuzzer-api/core"
	"github.com/yujitounai/fuzzer-api/executor"
	"github.com/yujitounai/fuzzer-api/jobs"
	"github.com/yujitounai/fuzzer-api/store"
)

type instantExecutor struct{}

func (instantExecutor) Run(_ context.Context, rows []core.GeneratedRequest, _ core.HTTPConfig, onResult func(core.JobResult)) error {
	for _, row := range rows {
		onResult(core.JobResult{Ordinal: row.Ordinal, Blob: row.Blob, Success: true, Response: core.HTTPResponse{Status: 200}})
	}
	return nil
}

func newTestHandler(t *testing.T, authToken string) (*http.ServeMux, *jobs.Manager) {
	t.Helper()
	provider := store.NewMemoryProvider()
	corpusStore := store.NewCorpusStore(provider, nil)
	jobStore := store.NewJobStore(provider)
	resultStore := store.NewResultStore(provider)
	mgr := jobs.NewManager(jobStore, resultStore, corpusStore, instantExecutor{}, 5, nil, nil)
	mgr.Start(context.Background())
	t.Cleanup(mgr.Stop)

	var opts []Option
	if authToken != "" {
		opts = append(opts, WithAuthToken(authToken))
	}
	h := NewHandler(corpusStore, mgr, resultStore, executor.New(nil, nil), opts...)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, mgr
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestReplacePlaceholdersCreatesCorpusRun(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	rr := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\nHost: x\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1", "2"}}},
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp expansionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalRequests) // seed + 2 payloads
	assert.NotZero(t, resp.RequestID)
}

func TestReplacePlaceholdersInvalidStrategyReturns422(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	rr := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template": "GET / HTTP/1.1\r\n\r\n",
		"strategy": "not-a-real-strategy",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestAuthRequiredOnWriteEndpoint(t *testing.T) {
	mux, _ := newTestHandler(t, "secret-token")
	rr := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template": "GET / HTTP/1.1\r\n\r\n",
		"strategy": "sniper",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1"}}},
	}, map[string]string{"Authorization": "Bearer secret-token"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHistoryListAndGet(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	createRR := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1"}}},
	}, nil)
	var created expansionResponse
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))

	listRR := httptest.NewRecorder()
	mux.ServeHTTP(listRR, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusOK, listRR.Code)

	getRR := httptest.NewRecorder()
	mux.ServeHTTP(getRR, httptest.NewRequest(http.MethodGet, "/history/"+itoa(created.RequestID), nil))
	assert.Equal(t, http.StatusOK, getRR.Code)
}

func TestHistoryGetUnknownReturns404(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/history/999", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExecuteRequestsRejectsUnknownHTTPConfigKey(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	createRR := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1"}}},
	}, nil)
	var created expansionResponse
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))

	rr := doJSON(t, mux, http.MethodPost, "/execute-requests", map[string]interface{}{
		"request_id": created.RequestID,
		"http_config": map[string]interface{}{
			"not_a_real_field": true,
		},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestExecuteRequestsHTTPConfigTimeoutIsSeconds(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	createRR := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1"}}},
	}, nil)
	var created expansionResponse
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))

	execRR := doJSON(t, mux, http.MethodPost, "/execute-requests", map[string]interface{}{
		"request_id": created.RequestID,
		"http_config": map[string]interface{}{
			"timeout":       60,
			"request_delay": 0.5,
		},
	}, nil)
	require.Equal(t, http.StatusOK, execRR.Code)

	var job core.Job
	require.NoError(t, json.Unmarshal(execRR.Body.Bytes(), &job))
	assert.Equal(t, 60*time.Second, job.HTTPConfig.Timeout)
	assert.Equal(t, 500*time.Millisecond, job.HTTPConfig.RequestDelay)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(execRR.Body.Bytes(), &raw))
	httpConfig := raw["http_config"].(map[string]interface{})
	assert.Equal(t, float64(60), httpConfig["timeout"])
	assert.Equal(t, 0.5, httpConfig["request_delay"])
}

func TestExecuteRequestsRunsJobToCompletion(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	createRR := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1", "2"}}},
	}, nil)
	var created expansionResponse
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))

	execRR := doJSON(t, mux, http.MethodPost, "/execute-requests", map[string]interface{}{
		"request_id": created.RequestID,
		"name":       "test-job",
	}, nil)
	require.Equal(t, http.StatusOK, execRR.Code)

	var job core.Job
	require.NoError(t, json.Unmarshal(execRR.Body.Bytes(), &job))
	assert.Equal(t, core.JobPending, job.Status)

	require.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))
		if rr.Code != http.StatusOK {
			return false
		}
		var got core.Job
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		return got.Status == core.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	resultsRR := httptest.NewRecorder()
	mux.ServeHTTP(resultsRR, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/results", nil))
	assert.Equal(t, http.StatusOK, resultsRR.Code)
	var results []core.JobResult
	require.NoError(t, json.Unmarshal(resultsRR.Body.Bytes(), &results))
	assert.Len(t, results, 3) // seed + 2 payloads
}

func TestDeleteHistoryForbiddenWhileJobNonTerminal(t *testing.T) {
	mux, mgr := newTestHandler(t, "secret-token")
	createRR := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1"}}},
	}, map[string]string{"Authorization": "Bearer secret-token"})
	var created expansionResponse
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))

	_, err := mgr.Create(context.Background(), "blocker", created.RequestID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	deleteReq := httptest.NewRequest(http.MethodDelete, "/history/"+itoa(created.RequestID), nil)
	deleteReq.Header.Set("Authorization", "Bearer secret-token")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, deleteReq)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestJobStopAndResume(t *testing.T) {
	mux, mgr := newTestHandler(t, "")
	createRR := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1"}}},
	}, nil)
	var created expansionResponse
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))

	job, err := mgr.Create(context.Background(), "manual", created.RequestID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	stopRR := httptest.NewRecorder()
	mux.ServeHTTP(stopRR, httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/stop", nil))
	assert.Equal(t, http.StatusOK, stopRR.Code)

	resumeRR := httptest.NewRecorder()
	mux.ServeHTTP(resumeRR, httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/resume", nil))
	assert.Equal(t, http.StatusOK, resumeRR.Code)
}

func TestJobsCleanupRespectsMaxAgeHours(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	createRR := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1"}}},
	}, nil)
	var created expansionResponse
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))

	execRR := doJSON(t, mux, http.MethodPost, "/execute-requests", map[string]interface{}{
		"request_id": created.RequestID,
	}, nil)
	var job core.Job
	require.NoError(t, json.Unmarshal(execRR.Body.Bytes(), &job))

	require.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))
		var got core.Job
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		return got.Status == core.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// The default (24h) max age should not touch a job created moments ago.
	cleanupRR := httptest.NewRecorder()
	mux.ServeHTTP(cleanupRR, httptest.NewRequest(http.MethodPost, "/jobs/cleanup", nil))
	require.Equal(t, http.StatusOK, cleanupRR.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(cleanupRR.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp["deleted"])

	// max_age_hours=0 makes every terminal job old enough to delete.
	cleanupRR = httptest.NewRecorder()
	mux.ServeHTTP(cleanupRR, httptest.NewRequest(http.MethodPost, "/jobs/cleanup?max_age_hours=0", nil))
	require.Equal(t, http.StatusOK, cleanupRR.Code)
	require.NoError(t, json.Unmarshal(cleanupRR.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["deleted"])

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobsCleanupRejectsNonNumericMaxAgeHours(t *testing.T) {
	mux, _ := newTestHandler(t, "")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/cleanup?max_age_hours=notanumber", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAnalyzeErrorPatterns(t *testing.T) {
	mux, mgr := newTestHandler(t, "")
	createRR := doJSON(t, mux, http.MethodPost, "/replace-placeholders", map[string]interface{}{
		"template":     "GET /?id=<<>> HTTP/1.1\r\n\r\n",
		"strategy":     "sniper",
		"payload_sets": []map[string]interface{}{{"name": "s", "payloads": []string{"1"}}},
	}, nil)
	var created expansionResponse
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))

	job, err := mgr.Create(context.Background(), "manual", created.RequestID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := mgr.Get(context.Background(), job.ID)
		return got.Status == core.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/analyze/error-patterns", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
