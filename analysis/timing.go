package analysis

import (
	"sort"
	"strings"

	"github.com/yujitounai/fuzzer-api/core"
)

// BaselineMethod selects how the timing detector computes its baseline.
type BaselineMethod string

const (
	BaselineFirstRequest BaselineMethod = "first_request"
	BaselineMedian       BaselineMethod = "median"
	BaselineMean         BaselineMethod = "mean"
)

// timeDelayPayloadMarkers are the payload substrings that indicate a
// time-based blind injection attempt, grouped separately when
// PartitionByPayloadType is set (spec §4.7.3).
var timeDelayPayloadMarkers = []string{
	"SLEEP",
	"WAITFOR",
	"BENCHMARK",
	"pg_sleep",
	"dbms_pipe.receive_message",
}

// TimingConfig configures the time-delay anomaly detector.
type TimingConfig struct {
	TimeThreshold          float64
	Baseline               BaselineMethod
	PartitionByPayloadType bool
	TopN                   int
}

// DefaultTimingConfig matches original_source's analysis.py defaults: a
// 5-second threshold, first-request baseline, partitioned, top 10.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{TimeThreshold: 5.0, Baseline: BaselineFirstRequest, PartitionByPayloadType: true, TopN: 10}
}

// TimingFinding is one result flagged as anomalously slow.
type TimingFinding struct {
	Ordinal        int     `json:"ordinal"`
	Payload        string  `json:"payload"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Baseline       float64 `json:"baseline"`
}

// TimingReport is the result of DetectTimingAnomalies, one per partition.
type TimingReport struct {
	Partitions map[string]TimingPartitionReport `json:"partitions"`
}

// TimingPartitionReport is the summary for one payload-type partition (or
// the single "all" partition when PartitionByPayloadType is false).
type TimingPartitionReport struct {
	Baseline     float64         `json:"baseline"`
	FlaggedCount int             `json:"flagged_count"`
	SlowestFlagged []TimingFinding `json:"slowest_flagged"`
}

// DetectTimingAnomalies implements spec §4.7.3: computes a baseline over
// successful results of the chosen partition, then flags any result whose
// elapsed exceeds baseline by at least TimeThreshold.
func DetectTimingAnomalies(results []core.JobResult, cfg TimingConfig) TimingReport {
	partitions := partitionResults(results, cfg.PartitionByPayloadType)
	report := TimingReport{Partitions: make(map[string]TimingPartitionReport)}

	for name, rows := range partitions {
		baseline := computeBaseline(rows, cfg.Baseline)
		var flagged []TimingFinding
		for _, r := range rows {
			if !r.Success {
				continue
			}
			if r.Response.ElapsedSeconds-baseline >= cfg.TimeThreshold {
				flagged = append(flagged, TimingFinding{
					Ordinal:        r.Ordinal,
					Payload:        r.Blob,
					ElapsedSeconds: r.Response.ElapsedSeconds,
					Baseline:       baseline,
				})
			}
		}
		sort.Slice(flagged, func(i, j int) bool { return flagged[i].ElapsedSeconds > flagged[j].ElapsedSeconds })
		topN := cfg.TopN
		if topN <= 0 || topN > len(flagged) {
			topN = len(flagged)
		}
		report.Partitions[name] = TimingPartitionReport{
			Baseline:       baseline,
			FlaggedCount:   len(flagged),
			SlowestFlagged: flagged[:topN],
		}
	}
	return report
}

func partitionResults(results []core.JobResult, byPayloadType bool) map[string][]core.JobResult {
	if !byPayloadType {
		return map[string][]core.JobResult{"all": results}
	}
	partitions := make(map[string][]core.JobResult)
	for _, r := range results {
		key := timeDelayCategory(r.Blob)
		partitions[key] = append(partitions[key], r)
	}
	return partitions
}

func timeDelayCategory(blob string) string {
	upper := strings.ToUpper(blob)
	for _, marker := range timeDelayPayloadMarkers {
		if strings.Contains(upper, strings.ToUpper(marker)) {
			return marker
		}
	}
	return "other"
}

func computeBaseline(rows []core.JobResult, method BaselineMethod) float64 {
	var successful []float64
	for _, r := range rows {
		if r.Success {
			successful = append(successful, r.Response.ElapsedSeconds)
		}
	}
	if len(successful) == 0 {
		return 0
	}
	switch method {
	case BaselineMedian:
		sorted := append([]float64(nil), successful...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	case BaselineMean:
		var sum float64
		for _, v := range successful {
			sum += v
		}
		return sum / float64(len(successful))
	default: // BaselineFirstRequest
		return successful[0]
	}
}
