// Package executor implements the HTTP Executor of spec §4.2: it turns one
// GeneratedRequest blob plus an HTTPConfig into exactly one HTTP exchange,
// and batches many of them in parallel or sequential mode for the Job
// Manager. Grounded on the teacher's CircuitBreaker-wrapped transport
// pattern in core/circuit_breaker.go — a pooled *http.Client shared across a
// batch, with TLS/timeout/redirect policy configured per dispatch.
package executor

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yujitounai/fuzzer-api/core"
	"github.com/yujitounai/fuzzer-api/request"
)

// HTTPExecutor implements jobs.Executor.
type HTTPExecutor struct {
	logger    core.Logger
	telemetry core.Telemetry
}

// New builds an HTTPExecutor.
func New(logger core.Logger, telemetry core.Telemetry) *HTTPExecutor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = core.NoOpTelemetry{}
	}
	return &HTTPExecutor{logger: logger, telemetry: telemetry}
}

// Run executes rows against cfg in the configured mode, invoking onResult
// once per row, in ordinal order, exactly as spec §4.2/§5 require. ctx
// cancellation aborts parallel operations immediately and, in sequential
// mode, is checked between requests and at each ≤1s delay slice — the
// in-flight request itself is always awaited to completion rather than
// aborted mid-socket.
func (e *HTTPExecutor) Run(ctx context.Context, rows []core.GeneratedRequest, cfg core.HTTPConfig, onResult func(core.JobResult)) error {
	client := newClient(cfg)
	if cfg.SequentialExecution {
		return e.runSequential(ctx, client, rows, cfg, onResult)
	}
	return e.runParallel(ctx, client, rows, cfg, onResult)
}

func newClient(cfg core.HTTPConfig) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

func (e *HTTPExecutor) runSequential(ctx context.Context, client *http.Client, rows []core.GeneratedRequest, cfg core.HTTPConfig, onResult func(core.JobResult)) error {
	for i, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The in-flight request runs on a cancellation-detached context
		// (spec §4.5/§5: sequential cancellation must not leave a
		// half-written socket) — it still carries ctx's values (e.g. the
		// trace span), but a cancel only takes effect at the next loop
		// check, between requests.
		onResult(e.execute(context.WithoutCancel(ctx), client, row, cfg))

		if i == len(rows)-1 {
			break
		}
		if err := sleepInSlices(ctx, cfg.RequestDelay); err != nil {
			return err
		}
	}
	return nil
}

// sleepInSlices sleeps for d, subdivided into ≤1-second slices so a
// cancelled ctx is observed promptly (spec §5).
func sleepInSlices(ctx context.Context, d time.Duration) error {
	const slice = time.Second
	for d > 0 {
		step := d
		if step > slice {
			step = slice
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d -= step
	}
	return nil
}

func (e *HTTPExecutor) runParallel(ctx context.Context, client *http.Client, rows []core.GeneratedRequest, cfg core.HTTPConfig, onResult func(core.JobResult)) error {
	results := make([]core.JobResult, len(rows))
	var wg sync.WaitGroup
	for i, row := range rows {
		wg.Add(1)
		go func(i int, row core.GeneratedRequest) {
			defer wg.Done()
			results[i] = e.execute(ctx, client, row, cfg)
		}(i, row)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Result sequence preserves input order via positional join (spec §4.2),
	// even though completion order was arbitrary.
	sort.SliceStable(results, func(a, b int) bool { return results[a].Ordinal < results[b].Ordinal })
	for _, r := range results {
		onResult(r)
	}
	return nil
}

// execute runs one GeneratedRequest and always returns a JobResult, never
// an error: transport failures are recorded in HTTPResponse.Error rather
// than aborting the batch (spec §4.2, §4.8).
func (e *HTTPExecutor) execute(ctx context.Context, client *http.Client, row core.GeneratedRequest, cfg core.HTTPConfig) core.JobResult {
	spanCtx, span := e.telemetry.StartSpan(ctx, "executor.execute")
	defer span.End()

	parsed, err := request.Parse([]byte(row.Blob))
	if err != nil {
		return failedResult(row, err)
	}

	httpReq, host, err := buildHTTPRequest(spanCtx, parsed, cfg)
	if err != nil {
		return failedResult(row, err)
	}

	actual := request.Build(parsed)

	start := time.Now()
	resp, err := client.Do(httpReq)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		span.RecordError(err)
		return core.JobResult{
			JobID:      "",
			Ordinal:    row.Ordinal,
			Blob:       row.Blob,
			Provenance: row.Provenance,
			Response: core.HTTPResponse{
				Status:         0,
				Headers:        map[string]string{},
				FinalURL:       "",
				ElapsedSeconds: elapsed,
				Error:          err.Error(),
				ActualRequest:  actual,
			},
			Success:       false,
			ElapsedMillis: int64(elapsed * 1000),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	headers := map[string]string{}
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}

	finalURL := host
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return core.JobResult{
		Ordinal:    row.Ordinal,
		Blob:       row.Blob,
		Provenance: row.Provenance,
		Response: core.HTTPResponse{
			Status:         resp.StatusCode,
			Headers:        headers,
			Body:           string(body),
			FinalURL:       finalURL,
			ElapsedSeconds: elapsed,
			ActualRequest:  actual,
		},
		Success:       true,
		ElapsedMillis: int64(elapsed * 1000),
	}
}

func failedResult(row core.GeneratedRequest, err error) core.JobResult {
	return core.JobResult{
		Ordinal:    row.Ordinal,
		Blob:       row.Blob,
		Provenance: row.Provenance,
		Response:   core.HTTPResponse{Error: err.Error()},
		Success:    false,
	}
}

// buildHTTPRequest applies spec §4.2's URL resolution, header policy, and
// body policy to turn a ParsedRequest into a *http.Request.
func buildHTTPRequest(ctx context.Context, parsed *request.ParsedRequest, cfg core.HTTPConfig) (*http.Request, string, error) {
	target := parsed.Target
	var resolvedHost, resolvedPath string
	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		resolvedHost = u.Host
		resolvedPath = u.RequestURI()
	} else {
		path := target
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		resolvedPath = path
		if h, ok := parsed.Headers.Get("Host"); ok && h != "" {
			resolvedHost = h
		} else {
			resolvedHost = cfg.BaseURL
		}
	}

	fullURL := fmt.Sprintf("%s://%s%s", cfg.Scheme, resolvedHost, resolvedPath)

	method := parsed.Method
	body := bodyForRequest(parsed, method)

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, "", core.NewError("executor.buildHTTPRequest", "invalid_input", core.ErrInvalidInput, err.Error())
	}

	// additional_headers are merged in first, then the template's own
	// headers are layered on top so a same-named template header wins on
	// conflict (spec §6 table; matches http_client.py's headers.update(cfg)
	// followed by a per-key overwrite from the parsed template).
	for k, v := range cfg.AdditionalHeaders {
		httpReq.Header.Set(k, v)
	}
	seenTemplateKey := map[string]bool{}
	for _, h := range parsed.Headers.Without("host", "connection", "content-length") {
		key := http.CanonicalHeaderKey(h.Key)
		if seenTemplateKey[key] {
			httpReq.Header.Add(key, h.Value)
		} else {
			httpReq.Header.Set(key, h.Value)
			seenTemplateKey[key] = true
		}
	}
	httpReq.Header.Set("Host", resolvedHost)
	httpReq.Host = resolvedHost

	return httpReq, resolvedHost, nil
}

// bodyForRequest implements spec §4.2's body policy: GET/HEAD drop the
// body; multipart/form-data is closed if needed but otherwise preserved
// byte-for-byte; application/json is re-serialized when it parses;
// everything else goes out verbatim.
func bodyForRequest(parsed *request.ParsedRequest, method string) []byte {
	if method == "GET" || method == "HEAD" {
		return nil
	}
	if len(parsed.Body) == 0 {
		return nil
	}

	rawCT, _ := parsed.Headers.Get("Content-Type")
	ct := strings.ToLower(strings.TrimSpace(rawCT))

	switch {
	case strings.HasPrefix(ct, "multipart/"):
		return closeMultipartBoundary(parsed.Body, rawCT)
	case strings.HasPrefix(ct, "application/json"):
		var v interface{}
		if json.Unmarshal(parsed.Body, &v) == nil {
			if reEncoded, err := json.Marshal(v); err == nil {
				return reEncoded
			}
		}
		return parsed.Body
	default:
		return parsed.Body
	}
}

// closeMultipartBoundary rewrites a dangling "--<boundary>" trailer into
// the proper "--<boundary>--" closing form (spec §4.2); all other bytes
// are left untouched.
func closeMultipartBoundary(body []byte, contentType string) []byte {
	boundary := multipartBoundary(contentType)
	if boundary == "" {
		return body
	}
	open := "--" + boundary
	closeTok := open + "--"
	trimmed := bytes.TrimRight(body, "\r\n")
	if bytes.HasSuffix(trimmed, []byte(closeTok)) {
		return body
	}
	if bytes.HasSuffix(trimmed, []byte(open)) {
		rewritten := make([]byte, 0, len(body)+2)
		rewritten = append(rewritten, trimmed[:len(trimmed)-len(open)]...)
		rewritten = append(rewritten, []byte(closeTok)...)
		rewritten = append(rewritten, body[len(trimmed):]...)
		return rewritten
	}
	return body
}

func multipartBoundary(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["boundary"]
}
