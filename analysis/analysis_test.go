package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujitounai/fuzzer-api/core"
)

func TestMatchErrorPatternsFindsSQLError(t *testing.T) {
	results := []core.JobResult{
		{Ordinal: 1, Response: core.HTTPResponse{Status: 500, Body: "You have an error in your SQL syntax; check the manual"}, Success: true},
		{Ordinal: 2, Response: core.HTTPResponse{Status: 200, Body: "all good"}, Success: true},
	}
	report := MatchErrorPatterns(results, DefaultErrorPatternConfig())
	require.Len(t, report.Findings, 1)
	assert.Equal(t, 1, report.Findings[0].Ordinal)
	assert.Contains(t, report.Findings[0].MatchedPatterns, "sql syntax")
	assert.Equal(t, 1, report.CountsByPattern["sql syntax"])
}

func TestMatchErrorPatternsCaseSensitive(t *testing.T) {
	results := []core.JobResult{
		{Ordinal: 1, Response: core.HTTPResponse{Body: "SQL SYNTAX ERROR"}, Success: true},
	}
	cfg := ErrorPatternConfig{Patterns: []string{"sql syntax"}, CaseSensitive: true}
	report := MatchErrorPatterns(results, cfg)
	assert.Empty(t, report.Findings)
}

func TestDetectReflectionsRaw(t *testing.T) {
	results := []core.JobResult{
		{Ordinal: 1, Provenance: core.Provenance{SniperPayload: "XSSPROBE"}, Response: core.HTTPResponse{Body: "echo: XSSPROBE"}, Success: true},
	}
	report := DetectReflections(results, DefaultReflectionConfig())
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "raw", report.Findings[0].Variant)
}

func TestDetectReflectionsHTMLEncoded(t *testing.T) {
	results := []core.JobResult{
		{Ordinal: 1, Provenance: core.Provenance{SniperPayload: "<script>"}, Response: core.HTTPResponse{Body: "echo: &lt;script&gt;"}, Success: true},
	}
	report := DetectReflections(results, DefaultReflectionConfig())
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "html", report.Findings[0].Variant)
}

func TestDetectReflectionsSkipsShortPayloads(t *testing.T) {
	results := []core.JobResult{
		{Ordinal: 1, Provenance: core.Provenance{SniperPayload: "ab"}, Response: core.HTTPResponse{Body: "ab reflected"}, Success: true},
	}
	report := DetectReflections(results, DefaultReflectionConfig())
	assert.Empty(t, report.Findings)
}

func TestDetectTimingAnomaliesFlagsSlowRequest(t *testing.T) {
	results := []core.JobResult{
		{Ordinal: 1, Blob: "id=1", Response: core.HTTPResponse{ElapsedSeconds: 0.2}, Success: true},
		{Ordinal: 2, Blob: "id=1' AND SLEEP(5)--", Response: core.HTTPResponse{ElapsedSeconds: 5.3}, Success: true},
	}
	cfg := TimingConfig{TimeThreshold: 3, Baseline: BaselineFirstRequest, PartitionByPayloadType: true, TopN: 10}
	report := DetectTimingAnomalies(results, cfg)
	sleepPartition, ok := report.Partitions["SLEEP"]
	require.True(t, ok)
	assert.Equal(t, 1, sleepPartition.FlaggedCount)
	assert.Equal(t, 2, sleepPartition.SlowestFlagged[0].Ordinal)
}

func TestDetectTimingAnomaliesMedianBaseline(t *testing.T) {
	results := []core.JobResult{
		{Ordinal: 1, Response: core.HTTPResponse{ElapsedSeconds: 0.1}, Success: true},
		{Ordinal: 2, Response: core.HTTPResponse{ElapsedSeconds: 0.2}, Success: true},
		{Ordinal: 3, Response: core.HTTPResponse{ElapsedSeconds: 0.3}, Success: true},
	}
	cfg := TimingConfig{TimeThreshold: 10, Baseline: BaselineMedian, PartitionByPayloadType: false}
	report := DetectTimingAnomalies(results, cfg)
	assert.InDelta(t, 0.2, report.Partitions["all"].Baseline, 0.001)
}

func TestDetectTimingAnomaliesExcludesFailedFromBaselineAndFlags(t *testing.T) {
	results := []core.JobResult{
		{Ordinal: 1, Response: core.HTTPResponse{ElapsedSeconds: 0.1}, Success: true},
		{Ordinal: 2, Response: core.HTTPResponse{ElapsedSeconds: 30}, Success: false},
	}
	cfg := TimingConfig{TimeThreshold: 1, Baseline: BaselineMean, PartitionByPayloadType: false}
	report := DetectTimingAnomalies(results, cfg)
	assert.Equal(t, 0, report.Partitions["all"].FlaggedCount)
}
