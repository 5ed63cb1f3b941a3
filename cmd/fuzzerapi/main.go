// Command fuzzerapi is the composition root of the HTTP request fuzzing
// service: it wires core.Config, a StorageProvider (memory or Redis), the
// Corpus/Job/Result stores, the HTTP Executor, the Job Manager scheduler, an
// OpenTelemetry TracerProvider, and the api.Handler onto a single
// http.Server, then runs until an interrupt signal.
//
// Environment Variables:
//
//	FUZZERAPI_PORT                  - listen port (default: 8080)
//	FUZZERAPI_MAX_CONCURRENT_JOBS   - scheduler concurrency budget (default: 5)
//	FUZZERAPI_SCHEDULER_INTERVAL    - stored in core.Config; the job manager's
//	                                  fallback tick stays fixed at 5s
//	FUZZERAPI_HTTP_SCHEME           - core.Config HTTP scheme (default: http)
//	FUZZERAPI_HTTP_BASE_URL         - core.Config HTTP base URL
//	FUZZERAPI_HTTP_TIMEOUT          - core.Config HTTP per-request timeout
//	                                  (the three HTTP settings are validated but
//	                                  not applied to jobs, which start from
//	                                  core.DefaultHTTPConfig)
//	FUZZERAPI_LOG_LEVEL             - debug|info|warn|error (default: info)
//	FUZZERAPI_LOG_FORMAT            - json|text (default: text)
//	FUZZERAPI_REDIS_URL             - enables the Redis-backed StorageProvider
//	FUZZERAPI_AUTH_TOKEN            - bearer credential required on writes
//	FUZZERAPI_CONFIG_FILE           - optional JSON or YAML config file, applied
//	                                  after defaults and the variables above,
//	                                  overriding them
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/yujitounai/fuzzer-api/api"
	"github.com/yujitounai/fuzzer-api/core"
	"github.com/yujitounai/fuzzer-api/executor"
	"github.com/yujitounai/fuzzer-api/jobs"
	"github.com/yujitounai/fuzzer-api/store"
)

func main() {
	var opts []core.Option
	if path := os.Getenv("FUZZERAPI_CONFIG_FILE"); path != "" {
		opts = append(opts, core.WithConfigFile(path))
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	logger := cfg.Logger()

	provider, err := newStorageProvider(cfg)
	if err != nil {
		log.Fatalf("storage provider: %v", err)
	}

	corpusStore := store.NewCorpusStore(provider, logger)
	jobStore := store.NewJobStore(provider)
	resultStore := store.NewResultStore(provider)

	tracerProvider, err := core.NewTracerProvider("fuzzerapi", os.Stderr)
	if err != nil {
		log.Fatalf("tracer provider: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer provider shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	telemetry := core.NewOTelTelemetry()
	exec := executor.New(logger, telemetry)

	manager := jobs.NewManager(jobStore, resultStore, corpusStore, exec, cfg.MaxConcurrentJobs, logger, telemetry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Recover(ctx); err != nil {
		log.Fatalf("job recovery: %v", err)
	}
	manager.Start(ctx)

	handler := api.NewHandler(corpusStore, manager, resultStore, exec,
		api.WithLogger(logger),
		api.WithTelemetry(telemetry),
		api.WithAuthToken(cfg.AuthToken),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: mux,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down gracefully", nil)
		cancel()
		manager.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("fuzzer-api listening", map[string]interface{}{"port": cfg.Port})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// newStorageProvider builds the Redis-backed provider when configured,
// falling back to the in-memory provider otherwise (spec §9: single-process
// deployments need no external dependency).
func newStorageProvider(cfg *core.Config) (store.StorageProvider, error) {
	if cfg.Redis.Enabled {
		return store.NewRedisProvider(cfg.Redis.URL)
	}
	return store.NewMemoryProvider(), nil
}
