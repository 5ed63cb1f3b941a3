// Package analysis implements the three analysis engines of spec §4.7 as
// pure functions over a job's persisted JobResult rows: the error-pattern
// matcher, the payload-reflection detector, and the time-delay anomaly
// detector. Grounded on the teacher's preference for small, independently
// testable pure functions (orchestration's catalog matching helpers) over a
// class hierarchy of analyzers.
package analysis

import (
	"strconv"
	"strings"

	"github.com/yujitounai/fuzzer-api/core"
)

// DefaultErrorPatterns covers common SQL, PHP, .NET, Java, and web-server
// error fragments (spec §4.7.1), grounded on original_source's
// analysis.py default pattern list.
var DefaultErrorPatterns = []string{
	"sql syntax",
	"mysql_fetch",
	"ORA-01756",
	"ORA-00933",
	"PostgreSQL query failed",
	"SQLSTATE",
	"Warning: mysql_",
	"Unclosed quotation mark",
	"valid MySQL result",
	"Fatal error:",
	"Undefined index:",
	"Undefined variable:",
	"Microsoft OLE DB Provider",
	"Unhandled exception",
	"System.Data.SqlClient",
	"at java.lang.",
	"javax.servlet.ServletException",
	"org.apache.catalina",
	"org.springframework",
	"NullPointerException",
	"Internal Server Error",
	"stack trace:",
	"Traceback (most recent call last)",
}

// ErrorPatternConfig configures the error-pattern matcher.
type ErrorPatternConfig struct {
	Patterns      []string
	CaseSensitive bool
}

// DefaultErrorPatternConfig returns the case-insensitive default pattern set.
func DefaultErrorPatternConfig() ErrorPatternConfig {
	return ErrorPatternConfig{Patterns: append([]string(nil), DefaultErrorPatterns...), CaseSensitive: false}
}

// ErrorFinding is one pattern match within one JobResult.
type ErrorFinding struct {
	Ordinal        int      `json:"ordinal"`
	Payload        string   `json:"payload"`
	MatchedPatterns []string `json:"matched_patterns"`
	Snippet        string   `json:"snippet"`
}

// ErrorPatternReport is the result of MatchErrorPatterns.
type ErrorPatternReport struct {
	Findings     []ErrorFinding `json:"findings"`
	CountsByPattern map[string]int `json:"counts_by_pattern"`
}

// MatchErrorPatterns implements spec §4.7.1: for each result, concatenate
// status-line+headers+body and scan for any literal pattern, emitting a
// Finding with an 80-char surrounding snippet per match.
func MatchErrorPatterns(results []core.JobResult, cfg ErrorPatternConfig) ErrorPatternReport {
	report := ErrorPatternReport{CountsByPattern: make(map[string]int)}
	for _, result := range results {
		haystack := responseHaystack(result)
		searchSpace := haystack
		if !cfg.CaseSensitive {
			searchSpace = strings.ToLower(haystack)
		}

		var matched []string
		var snippet string
		for _, pattern := range cfg.Patterns {
			needle := pattern
			if !cfg.CaseSensitive {
				needle = strings.ToLower(pattern)
			}
			idx := strings.Index(searchSpace, needle)
			if idx < 0 {
				continue
			}
			matched = append(matched, pattern)
			report.CountsByPattern[pattern]++
			if snippet == "" {
				snippet = snippetAround(haystack, idx, len(pattern))
			}
		}
		if len(matched) > 0 {
			report.Findings = append(report.Findings, ErrorFinding{
				Ordinal:         result.Ordinal,
				Payload:         result.Blob,
				MatchedPatterns: matched,
				Snippet:         snippet,
			})
		}
	}
	return report
}

func responseHaystack(result core.JobResult) string {
	var b strings.Builder
	b.WriteString(statusLine(result.Response.Status))
	b.WriteString("\n")
	for k, v := range result.Response.Headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	b.WriteString(result.Response.Body)
	return b.String()
}

func statusLine(status int) string {
	if status == 0 {
		return ""
	}
	return "HTTP " + strconv.Itoa(status)
}

// snippetAround returns up to 80 characters of haystack centered on the
// match at [idx, idx+matchLen).
func snippetAround(haystack string, idx, matchLen int) string {
	const window = 80
	pad := (window - matchLen) / 2
	if pad < 0 {
		pad = 0
	}
	start := idx - pad
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + pad
	if end > len(haystack) {
		end = len(haystack)
	}
	return haystack[start:end]
}
