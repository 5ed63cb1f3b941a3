// Package core holds the data types, errors, logger, and configuration
// shared by every other package in this module — the same role
// github.com/itsneelabh/gomind/core plays for the rest of that framework.
package core

import (
	"encoding/json"
	"time"
)

// Strategy tags one of the five expansion algorithms (spec §4.3).
type Strategy string

const (
	StrategySniper       Strategy = "sniper"
	StrategyBatteringRam Strategy = "battering_ram"
	StrategyPitchfork    Strategy = "pitchfork"
	StrategyClusterBomb  Strategy = "cluster_bomb"
	StrategyMutation     Strategy = "mutation"
)

// JobStatus is a node in the state machine of spec §4.5.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// PayloadSet is an ordered, named list of substitution strings (spec §3, §4.3).
type PayloadSet struct {
	Name     string   `json:"name"`
	Payloads []string `json:"payloads"`
}

// CorpusRun is one immutable expansion (spec §3).
type CorpusRun struct {
	ID              int64        `json:"id"`
	Template        string       `json:"template"`
	Placeholders    []string     `json:"placeholders"`
	Strategy        Strategy     `json:"strategy"`
	PayloadSets     []PayloadSet `json:"payload_sets"`
	GeneratedCount  int          `json:"generated_count"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Provenance records how one GeneratedRequest was produced, tagged by the
// originating strategy (spec §3). Exactly one of the strategy-specific
// fields is populated; Original is set alone for the seed row.
type Provenance struct {
	Original bool `json:"original,omitempty"`

	// Sniper
	SniperToken    string `json:"sniper_token,omitempty"`
	SniperPosition int    `json:"sniper_position,omitempty"`
	SniperPayload  string `json:"sniper_payload,omitempty"`

	// Battering Ram
	RamPayload       string   `json:"ram_payload,omitempty"`
	RamPlaceholders  []string `json:"ram_placeholders,omitempty"`

	// Pitchfork / Cluster Bomb / Mutation: placeholder name -> substituted value
	Assignment map[string]string `json:"assignment,omitempty"`

	// Mutation-specific: which mutation token this row varied
	MutationToken string `json:"mutation_token,omitempty"`
}

// GeneratedRequest is one row of a CorpusRun (spec §3).
type GeneratedRequest struct {
	RunID      int64      `json:"run_id"`
	Ordinal    int        `json:"ordinal"` // 1-based
	Blob       string     `json:"blob"`
	Provenance Provenance `json:"provenance"`
}

// Progress is the live counters and timings for a Job (spec §3, §4.5).
type Progress struct {
	Total               int        `json:"total"`
	Completed           int        `json:"completed"`
	Successful          int        `json:"successful"`
	Failed              int        `json:"failed"`
	CurrentIndex        int        `json:"current_index"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	EstimatedRemaining  float64    `json:"estimated_remaining_seconds"`
}

// HTTPConfig is the execution override of spec §6's table. Unknown JSON
// keys are rejected by the api package before a Config reaches here.
type HTTPConfig struct {
	Scheme              string
	BaseURL             string
	Timeout             time.Duration
	FollowRedirects     bool
	VerifySSL           bool
	AdditionalHeaders   map[string]string
	SequentialExecution bool
	RequestDelay        time.Duration
}

// HTTPConfigJSON is HTTPConfig's wire representation (spec §6 table):
// timeout and request_delay travel as seconds, not Durations ("60" means
// 60s, "0.5" means 500ms) — a bare time.Duration would instead read "60"
// as 60 nanoseconds and reject "0.5" outright. The api package decodes
// directly into this type (with DisallowUnknownFields) so unknown-key
// rejection still sees the wire shape, then calls ToConfig.
type HTTPConfigJSON struct {
	Scheme              string            `json:"scheme"`
	BaseURL             string            `json:"base_url"`
	Timeout             float64           `json:"timeout"`
	FollowRedirects     bool              `json:"follow_redirects"`
	VerifySSL           bool              `json:"verify_ssl"`
	AdditionalHeaders   map[string]string `json:"additional_headers"`
	SequentialExecution bool              `json:"sequential_execution"`
	RequestDelay        float64           `json:"request_delay"`
}

// ToConfig converts wire seconds back to an HTTPConfig's Durations.
func (w HTTPConfigJSON) ToConfig() HTTPConfig {
	return HTTPConfig{
		Scheme:              w.Scheme,
		BaseURL:             w.BaseURL,
		Timeout:             time.Duration(w.Timeout * float64(time.Second)),
		FollowRedirects:     w.FollowRedirects,
		VerifySSL:           w.VerifySSL,
		AdditionalHeaders:   w.AdditionalHeaders,
		SequentialExecution: w.SequentialExecution,
		RequestDelay:        time.Duration(w.RequestDelay * float64(time.Second)),
	}
}

// ToWire converts c's Durations to seconds, the inverse of
// HTTPConfigJSON.ToConfig.
func (c HTTPConfig) ToWire() HTTPConfigJSON {
	return HTTPConfigJSON{
		Scheme:              c.Scheme,
		BaseURL:             c.BaseURL,
		Timeout:             c.Timeout.Seconds(),
		FollowRedirects:     c.FollowRedirects,
		VerifySSL:           c.VerifySSL,
		AdditionalHeaders:   c.AdditionalHeaders,
		SequentialExecution: c.SequentialExecution,
		RequestDelay:        c.RequestDelay.Seconds(),
	}
}

// MarshalJSON serializes c as its seconds-based HTTPConfigJSON wire shape.
func (c HTTPConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToWire())
}

// UnmarshalJSON parses a seconds-based HTTPConfigJSON wire shape into c.
func (c *HTTPConfig) UnmarshalJSON(data []byte) error {
	var wire HTTPConfigJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = wire.ToConfig()
	return nil
}

// DefaultHTTPConfig returns the spec §6 table's defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Scheme:              "http",
		BaseURL:             "localhost:8000",
		Timeout:             30 * time.Second,
		FollowRedirects:     true,
		VerifySSL:           false,
		AdditionalHeaders:   map[string]string{},
		SequentialExecution: false,
		RequestDelay:        0,
	}
}

// HTTPResponse is the structured response record of spec §3/§4.2.
type HTTPResponse struct {
	Status         int               `json:"status"` // 0 if never received
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	FinalURL       string            `json:"final_url"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
	Error          string            `json:"error,omitempty"`
	ActualRequest  string            `json:"actual_request"`
}

// Job is one execution attempt over a CorpusRun (spec §3).
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      JobStatus  `json:"status"`
	RunID       int64      `json:"run_id"`
	HTTPConfig  HTTPConfig `json:"http_config"`
	Progress    Progress   `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobResult is one row per executed request (spec §3).
type JobResult struct {
	JobID         string       `json:"job_id"`
	Ordinal       int          `json:"ordinal"` // 1-based
	Blob          string       `json:"blob"`
	Provenance    Provenance   `json:"provenance"`
	Response      HTTPResponse `json:"response"`
	Success       bool         `json:"success"`
	ElapsedMillis int64        `json:"elapsed_millis"`
}

// CorpusStatistics is the aggregate returned by CorpusStore.Statistics (spec §4.4).
type CorpusStatistics struct {
	TotalRuns      int            `json:"total_runs"`
	TotalGenerated int            `json:"total_generated"`
	ByStrategy     map[string]int `json:"by_strategy"`
}
