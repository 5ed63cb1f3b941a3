package store

import (
	"context"
	"encoding/json"

	"github.com/yujitounai/fuzzer-api/core"
)

const (
	jobKeyPrefix = "job:meta:"
	jobIndexKey  = "job:index"
)

// JobStore persists Job metadata (spec §3, §4.5), separate from
// ResultStore's per-request log. Kept in store/ alongside CorpusStore
// rather than inside the jobs package so both can share one
// StorageProvider wiring and so jobs.Manager depends downward on a plain
// persistence interface instead of owning serialization itself.
type JobStore struct {
	provider StorageProvider
}

// NewJobStore builds a JobStore over the given provider.
func NewJobStore(provider StorageProvider) *JobStore {
	return &JobStore{provider: provider}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// Save creates or overwrites a Job record and keeps the creation-time index
// current.
func (s *JobStore) Save(ctx context.Context, job core.Job) error {
	blob, err := json.Marshal(job)
	if err != nil {
		return core.NewErrorWithID("store.JobStore.Save", "invalid_input", job.ID, core.ErrInvalidInput, err.Error())
	}
	if err := s.provider.Set(ctx, jobKey(job.ID), string(blob), 0); err != nil {
		return core.NewErrorWithID("store.JobStore.Save", "storage_failure", job.ID, core.ErrStorageFailure, err.Error())
	}
	return s.provider.AddToIndex(ctx, jobIndexKey, float64(job.CreatedAt.UnixNano()), job.ID)
}

// Get returns a Job by id.
func (s *JobStore) Get(ctx context.Context, id string) (core.Job, error) {
	blob, err := s.provider.Get(ctx, jobKey(id))
	if err != nil {
		return core.Job{}, core.NewErrorWithID("store.JobStore.Get", "storage_failure", id, core.ErrStorageFailure, err.Error())
	}
	if blob == "" {
		return core.Job{}, core.NewErrorWithID("store.JobStore.Get", "not_found", id, core.ErrNotFound, "job not found")
	}
	var job core.Job
	if err := json.Unmarshal([]byte(blob), &job); err != nil {
		return core.Job{}, core.NewErrorWithID("store.JobStore.Get", "storage_failure", id, core.ErrStorageFailure, err.Error())
	}
	return job, nil
}

// List returns Jobs newest-first, paginated.
func (s *JobStore) List(ctx context.Context, offset, count int64) ([]core.Job, error) {
	members, err := s.provider.ListByScoreDesc(ctx, jobIndexKey, offset, count)
	if err != nil {
		return nil, core.NewError("store.JobStore.List", "storage_failure", core.ErrStorageFailure, err.Error())
	}
	jobs := make([]core.Job, 0, len(members))
	for _, id := range members {
		job, gerr := s.Get(ctx, id)
		if gerr != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// All returns every stored Job regardless of pagination, used at process
// start to scan for jobs left RUNNING by a crash (spec §4.5, §8 scenario 6).
func (s *JobStore) All(ctx context.Context) ([]core.Job, error) {
	return s.List(ctx, 0, -1)
}

// Delete removes a Job record.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	if err := s.provider.Del(ctx, jobKey(id)); err != nil {
		return core.NewErrorWithID("store.JobStore.Delete", "storage_failure", id, core.ErrStorageFailure, err.Error())
	}
	return s.provider.RemoveFromIndex(ctx, jobIndexKey, id)
}
