package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Logger is the structured logging interface used throughout the repo.
// Implementations must be safe for concurrent use.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentLogger extends Logger with a per-component name, so different
// parts of the system (jobs, executor, analysis, ...) tag their log lines
// without threading a string through every call.
type ComponentLogger interface {
	Logger
	WithComponent(name string) Logger
}

// NoOpLogger discards everything. Safe default for components constructed
// without an explicit logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                                  {}
func (NoOpLogger) Warn(string, map[string]interface{})                                  {}
func (NoOpLogger) Error(string, map[string]interface{})                                 {}
func (NoOpLogger) Debug(string, map[string]interface{})                                 {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})      {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})       {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{})      {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{})      {}

var _ Logger = NoOpLogger{}

// ProductionLogger is the default Logger, writing either single-line JSON
// (for log aggregation) or a human-readable line (for local development)
// to an io.Writer.
type ProductionLogger struct {
	component string
	level     string
	debug     bool
	format    string
	output    io.Writer
}

// NewProductionLogger builds a ProductionLogger from a LoggingConfig.
func NewProductionLogger(cfg LoggingConfig) Logger {
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	return &ProductionLogger{
		level:  strings.ToLower(cfg.Level),
		debug:  strings.ToLower(cfg.Level) == "debug",
		format: cfg.Format,
		output: out,
	}
}

func (p *ProductionLogger) WithComponent(name string) Logger {
	clone := *p
	clone.component = name
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEventWithContext(ctx, "INFO", msg, fields)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEventWithContext(ctx, "WARN", msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEventWithContext(ctx, "ERROR", msg, fields)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEventWithContext(ctx, "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEventWithContext(ctx context.Context, level, msg string, fields map[string]interface{}) {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		merged := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			merged[k] = v
		}
		merged["request_id"] = requestID
		p.logEvent(level, msg, merged)
		return
	}
	p.logEvent(level, msg, fields)
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var b strings.Builder
	if len(fields) > 0 {
		b.WriteString(" ")
		for k, v := range fields {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s%s\n", timestamp, level, p.component, msg, b.String())
}

var _ ComponentLogger = (*ProductionLogger)(nil)

type contextKey string

const requestIDContextKey contextKey = "fuzzerapi.request_id"

// WithRequestID attaches a request id to ctx, surfaced in log lines emitted
// through the *WithContext logger methods.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext returns the request id attached by WithRequestID, or
// the empty string if none was attached.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDContextKey).(string); ok {
		return v
	}
	return ""
}
