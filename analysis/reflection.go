package analysis

import (
	"html"
	"net/url"
	"strings"

	"github.com/yujitounai/fuzzer-api/core"
)

// ReflectionConfig configures the payload-reflection detector (spec §4.7.2).
type ReflectionConfig struct {
	MatchHTMLEncoded bool
	MatchURLEncoded  bool
	MatchJSEncoded   bool
	MinPayloadLength int
}

// DefaultReflectionConfig enables every encoded variant with a minimum
// payload length of 3, short enough to catch most fuzz payloads but long
// enough to avoid incidental single/double-character matches.
func DefaultReflectionConfig() ReflectionConfig {
	return ReflectionConfig{MatchHTMLEncoded: true, MatchURLEncoded: true, MatchJSEncoded: true, MinPayloadLength: 3}
}

// ReflectionFinding is one reflected-payload hit.
type ReflectionFinding struct {
	Ordinal int    `json:"ordinal"`
	Variant string `json:"variant"` // "raw", "html", "url", "js"
	Offset  int    `json:"offset"`
	Payload string `json:"payload"`
}

// ReflectionReport is the result of DetectReflections.
type ReflectionReport struct {
	Findings      []ReflectionFinding `json:"findings"`
	CountsByVariant map[string]int    `json:"counts_by_variant"`
}

// DetectReflections implements spec §4.7.2: for each result whose payload
// (from Provenance) meets the minimum length, search the body for the raw
// payload and each enabled encoded variant.
func DetectReflections(results []core.JobResult, cfg ReflectionConfig) ReflectionReport {
	report := ReflectionReport{CountsByVariant: make(map[string]int)}
	for _, result := range results {
		payload := reflectedPayload(result.Provenance)
		if len(payload) < cfg.MinPayloadLength {
			continue
		}
		body := result.Response.Body

		if idx := strings.Index(body, payload); idx >= 0 {
			report.Findings = append(report.Findings, ReflectionFinding{Ordinal: result.Ordinal, Variant: "raw", Offset: idx, Payload: payload})
			report.CountsByVariant["raw"]++
		}
		if enc := html.EscapeString(payload); cfg.MatchHTMLEncoded && enc != payload {
			if idx := strings.Index(body, enc); idx >= 0 {
				report.Findings = append(report.Findings, ReflectionFinding{Ordinal: result.Ordinal, Variant: "html", Offset: idx, Payload: payload})
				report.CountsByVariant["html"]++
			}
		}
		if enc := url.QueryEscape(payload); cfg.MatchURLEncoded && enc != payload {
			if idx := strings.Index(body, enc); idx >= 0 {
				report.Findings = append(report.Findings, ReflectionFinding{Ordinal: result.Ordinal, Variant: "url", Offset: idx, Payload: payload})
				report.CountsByVariant["url"]++
			}
		}
		if enc := jsEscape(payload); cfg.MatchJSEncoded && enc != payload {
			if idx := strings.Index(body, enc); idx >= 0 {
				report.Findings = append(report.Findings, ReflectionFinding{Ordinal: result.Ordinal, Variant: "js", Offset: idx, Payload: payload})
				report.CountsByVariant["js"]++
			}
		}
	}
	return report
}

// reflectedPayload extracts the single payload value this row was
// generated from, across every strategy's Provenance shape.
func reflectedPayload(p core.Provenance) string {
	switch {
	case p.SniperPayload != "":
		return p.SniperPayload
	case p.RamPayload != "":
		return p.RamPayload
	case len(p.Assignment) == 1:
		for _, v := range p.Assignment {
			return v
		}
	case len(p.Assignment) > 1:
		var b strings.Builder
		first := true
		for _, v := range p.Assignment {
			if !first {
				b.WriteString(",")
			}
			b.WriteString(v)
			first = false
		}
		return b.String()
	}
	return ""
}

// jsEscape backslash-escapes characters the way payloads commonly appear
// reflected inside a JS string literal (spec §4.7.2's "JavaScript-
// (backslash) encoded" variant).
func jsEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\'', '"', '\\', '/':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
