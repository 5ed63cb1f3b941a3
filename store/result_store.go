package store

import (
	"context"
	"encoding/json"

	"github.com/yujitounai/fuzzer-api/core"
)

const resultKeyPrefix = "job:results:"

// ResultStore persists the append-only, ordinal-indexed JobResult log of a
// Job (spec §4.6), grounded on orchestration.ExecutionStore's per-run result
// log. Results for one job are stored as a single JSON array under one key:
// batches complete within seconds to low thousands of rows, well inside the
// single-blob regime the teacher's store already uses for CorpusRun rows.
type ResultStore struct {
	provider StorageProvider
}

// NewResultStore builds a ResultStore over the given provider.
func NewResultStore(provider StorageProvider) *ResultStore {
	return &ResultStore{provider: provider}
}

func resultsKey(jobID string) string {
	return resultKeyPrefix + jobID
}

func (s *ResultStore) load(ctx context.Context, jobID string) ([]core.JobResult, error) {
	blob, err := s.provider.Get(ctx, resultsKey(jobID))
	if err != nil {
		return nil, core.NewErrorWithID("store.ResultStore", "storage_failure", jobID, core.ErrStorageFailure, err.Error())
	}
	if blob == "" {
		return nil, nil
	}
	var results []core.JobResult
	if err := json.Unmarshal([]byte(blob), &results); err != nil {
		return nil, core.NewErrorWithID("store.ResultStore", "storage_failure", jobID, core.ErrStorageFailure, err.Error())
	}
	return results, nil
}

func (s *ResultStore) save(ctx context.Context, jobID string, results []core.JobResult) error {
	blob, err := json.Marshal(results)
	if err != nil {
		return core.NewErrorWithID("store.ResultStore", "invalid_input", jobID, core.ErrInvalidInput, err.Error())
	}
	if err := s.provider.Set(ctx, resultsKey(jobID), string(blob), 0); err != nil {
		return core.NewErrorWithID("store.ResultStore", "storage_failure", jobID, core.ErrStorageFailure, err.Error())
	}
	return nil
}

// Append adds one JobResult row to the job's log, in execution order.
func (s *ResultStore) Append(ctx context.Context, result core.JobResult) error {
	results, err := s.load(ctx, result.JobID)
	if err != nil {
		return err
	}
	results = append(results, result)
	return s.save(ctx, result.JobID, results)
}

// TruncateFrom drops every result with Ordinal >= fromOrdinal, used when a
// resumed job (spec §9) re-executes from a given point and must discard the
// stale tail from the interrupted attempt.
func (s *ResultStore) TruncateFrom(ctx context.Context, jobID string, fromOrdinal int) error {
	results, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	kept := results[:0]
	for _, r := range results {
		if r.Ordinal < fromOrdinal {
			kept = append(kept, r)
		}
	}
	return s.save(ctx, jobID, kept)
}

// Page returns up to limit JobResults starting at offset, in execution order.
func (s *ResultStore) Page(ctx context.Context, jobID string, offset, limit int) ([]core.JobResult, error) {
	results, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if offset >= len(results) {
		return nil, nil
	}
	end := len(results)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]core.JobResult(nil), results[offset:end]...), nil
}

// Get returns the single JobResult at the given 1-based ordinal.
func (s *ResultStore) Get(ctx context.Context, jobID string, ordinal int) (core.JobResult, error) {
	results, err := s.load(ctx, jobID)
	if err != nil {
		return core.JobResult{}, err
	}
	for _, r := range results {
		if r.Ordinal == ordinal {
			return r, nil
		}
	}
	return core.JobResult{}, core.NewErrorWithID("store.ResultStore.Get", "not_found", jobID, core.ErrNotFound, "result ordinal not found")
}

// Count returns the number of stored results for a job.
func (s *ResultStore) Count(ctx context.Context, jobID string) (int, error) {
	results, err := s.load(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Delete removes all stored results for a job.
func (s *ResultStore) Delete(ctx context.Context, jobID string) error {
	return s.provider.Del(ctx, resultsKey(jobID))
}
