package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/yujitounai/fuzzer-api/core"
)

const (
	corpusRunKeyPrefix  = "corpus:run:"
	corpusRowKeyPrefix  = "corpus:rows:"
	corpusIndexKey      = "corpus:index"
	corpusRunIDCounter  = "corpus:next_id"
)

// CorpusStore persists CorpusRuns and their GeneratedRequest rows (spec
// §4.4), grounded on orchestration.ExecutionStore's pattern of one JSON
// blob per record plus a sorted-set index for creation-time ordering.
type CorpusStore struct {
	provider StorageProvider
	logger   core.Logger
}

// NewCorpusStore builds a CorpusStore over the given provider.
func NewCorpusStore(provider StorageProvider, logger core.Logger) *CorpusStore {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &CorpusStore{provider: provider, logger: logger}
}

func corpusRunKey(id int64) string {
	return corpusRunKeyPrefix + strconv.FormatInt(id, 10)
}

func corpusRowsKey(id int64) string {
	return corpusRowKeyPrefix + strconv.FormatInt(id, 10)
}

// Save allocates a new CorpusRun id, stores the run and its generated rows
// as a single unit, and indexes it by creation time. The run and its rows
// are written as two keys but the id allocation (Incr) guarantees no other
// caller can observe a partially-numbered run.
func (s *CorpusStore) Save(ctx context.Context, run core.CorpusRun, rows []core.GeneratedRequest) (core.CorpusRun, error) {
	id, err := s.provider.Incr(ctx, corpusRunIDCounter)
	if err != nil {
		return core.CorpusRun{}, core.NewError("store.CorpusStore.Save", "storage_failure", core.ErrStorageFailure, err.Error())
	}
	run.ID = id
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.GeneratedCount = len(rows)
	for i := range rows {
		rows[i].RunID = id
	}

	runBlob, err := json.Marshal(run)
	if err != nil {
		return core.CorpusRun{}, core.NewError("store.CorpusStore.Save", "invalid_input", core.ErrInvalidInput, err.Error())
	}
	rowsBlob, err := json.Marshal(rows)
	if err != nil {
		return core.CorpusRun{}, core.NewError("store.CorpusStore.Save", "invalid_input", core.ErrInvalidInput, err.Error())
	}

	if err := s.provider.Set(ctx, corpusRunKey(id), string(runBlob), 0); err != nil {
		return core.CorpusRun{}, core.NewError("store.CorpusStore.Save", "storage_failure", core.ErrStorageFailure, err.Error())
	}
	if err := s.provider.Set(ctx, corpusRowsKey(id), string(rowsBlob), 0); err != nil {
		return core.CorpusRun{}, core.NewError("store.CorpusStore.Save", "storage_failure", core.ErrStorageFailure, err.Error())
	}
	if err := s.provider.AddToIndex(ctx, corpusIndexKey, float64(run.CreatedAt.UnixNano()), strconv.FormatInt(id, 10)); err != nil {
		return core.CorpusRun{}, core.NewError("store.CorpusStore.Save", "storage_failure", core.ErrStorageFailure, err.Error())
	}

	s.logger.InfoWithContext(ctx, "corpus run saved", map[string]interface{}{
		"run_id":          id,
		"strategy":        run.Strategy,
		"generated_count": run.GeneratedCount,
	})
	return run, nil
}

// Get returns the CorpusRun by id, without its rows.
func (s *CorpusStore) Get(ctx context.Context, id int64) (core.CorpusRun, error) {
	blob, err := s.provider.Get(ctx, corpusRunKey(id))
	if err != nil {
		return core.CorpusRun{}, core.NewErrorWithID("store.CorpusStore.Get", "storage_failure", strconv.FormatInt(id, 10), core.ErrStorageFailure, err.Error())
	}
	if blob == "" {
		return core.CorpusRun{}, core.NewErrorWithID("store.CorpusStore.Get", "not_found", strconv.FormatInt(id, 10), core.ErrNotFound, "corpus run not found")
	}
	var run core.CorpusRun
	if err := json.Unmarshal([]byte(blob), &run); err != nil {
		return core.CorpusRun{}, core.NewErrorWithID("store.CorpusStore.Get", "storage_failure", strconv.FormatInt(id, 10), core.ErrStorageFailure, err.Error())
	}
	return run, nil
}

// Rows returns the GeneratedRequest rows of a CorpusRun.
func (s *CorpusStore) Rows(ctx context.Context, id int64) ([]core.GeneratedRequest, error) {
	blob, err := s.provider.Get(ctx, corpusRowsKey(id))
	if err != nil {
		return nil, core.NewErrorWithID("store.CorpusStore.Rows", "storage_failure", strconv.FormatInt(id, 10), core.ErrStorageFailure, err.Error())
	}
	if blob == "" {
		return nil, core.NewErrorWithID("store.CorpusStore.Rows", "not_found", strconv.FormatInt(id, 10), core.ErrNotFound, "corpus run not found")
	}
	var rows []core.GeneratedRequest
	if err := json.Unmarshal([]byte(blob), &rows); err != nil {
		return nil, core.NewErrorWithID("store.CorpusStore.Rows", "storage_failure", strconv.FormatInt(id, 10), core.ErrStorageFailure, err.Error())
	}
	return rows, nil
}

// List returns CorpusRuns newest-first, paginated.
func (s *CorpusStore) List(ctx context.Context, offset, count int64) ([]core.CorpusRun, error) {
	members, err := s.provider.ListByScoreDesc(ctx, corpusIndexKey, offset, count)
	if err != nil {
		return nil, core.NewError("store.CorpusStore.List", "storage_failure", core.ErrStorageFailure, err.Error())
	}
	runs := make([]core.CorpusRun, 0, len(members))
	for _, m := range members {
		id, perr := strconv.ParseInt(m, 10, 64)
		if perr != nil {
			continue
		}
		run, gerr := s.Get(ctx, id)
		if gerr != nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Delete removes a CorpusRun and its rows. Callers are responsible for
// checking whether any Job still references this run before calling
// Delete (spec §3's "no referencing non-terminal Job" invariant spans the
// CorpusStore/JobManager boundary and is enforced by the api package,
// which is the first layer that can see both).
func (s *CorpusStore) Delete(ctx context.Context, id int64) error {
	if err := s.provider.Del(ctx, corpusRunKey(id), corpusRowsKey(id)); err != nil {
		return core.NewErrorWithID("store.CorpusStore.Delete", "storage_failure", strconv.FormatInt(id, 10), core.ErrStorageFailure, err.Error())
	}
	return s.provider.RemoveFromIndex(ctx, corpusIndexKey, strconv.FormatInt(id, 10))
}

// Statistics aggregates across all stored CorpusRuns (spec §4.4), grounded
// on original_source's database.py recompute-from-rows approach rather
// than maintaining running counters that could drift.
func (s *CorpusStore) Statistics(ctx context.Context) (core.CorpusStatistics, error) {
	members, err := s.provider.ListByScoreDesc(ctx, corpusIndexKey, 0, -1)
	if err != nil {
		return core.CorpusStatistics{}, core.NewError("store.CorpusStore.Statistics", "storage_failure", core.ErrStorageFailure, err.Error())
	}
	stats := core.CorpusStatistics{ByStrategy: make(map[string]int)}
	for _, m := range members {
		id, perr := strconv.ParseInt(m, 10, 64)
		if perr != nil {
			continue
		}
		run, gerr := s.Get(ctx, id)
		if gerr != nil {
			continue
		}
		stats.TotalRuns++
		stats.TotalGenerated += run.GeneratedCount
		stats.ByStrategy[string(run.Strategy)] += run.GeneratedCount
	}
	return stats, nil
}
