// Package jobs implements the Job Manager state machine of spec §4.5: job
// creation, a concurrency-budgeted scheduler, cancellable execution,
// progress tracking, crash recovery, and resume. Grounded on the teacher's
// orchestration.HITLController, which drives a similar
// pending/running/terminal lifecycle with an explicit status store and a
// signal-driven dispatch loop instead of a bare poll.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yujitounai/fuzzer-api/core"
	"github.com/yujitounai/fuzzer-api/store"
)

// Executor runs one batch of GeneratedRequests against an HTTPConfig,
// invoking onResult for each completed request in ordinal order. It must
// stop promptly when ctx is cancelled (spec §5's interruptibility
// requirement). Implemented by executor.HTTPExecutor; kept as an interface
// here so jobs does not depend upward on an http client.
type Executor interface {
	Run(ctx context.Context, rows []core.GeneratedRequest, cfg core.HTTPConfig, onResult func(core.JobResult)) error
}

// Manager owns the Job state machine and the background scheduler (spec
// §4.5). All Job table reads/writes outside the stores go through mu, which
// is never held across network I/O (spec §5).
type Manager struct {
	mu      sync.Mutex
	jobs    map[string]*core.Job
	cancels map[string]context.CancelFunc

	jobStore    *store.JobStore
	resultStore *store.ResultStore
	corpusStore *store.CorpusStore
	executor    Executor
	logger      core.Logger
	telemetry   core.Telemetry

	maxConcurrent int
	wake          chan struct{}
	running       int

	stop chan struct{}
	done chan struct{}
}

// NewManager builds a Manager. Call Recover once at startup before Start.
func NewManager(jobStore *store.JobStore, resultStore *store.ResultStore, corpusStore *store.CorpusStore, executor Executor, maxConcurrent int, logger core.Logger, telemetry core.Telemetry) *Manager {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = core.NoOpTelemetry{}
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Manager{
		jobs:          make(map[string]*core.Job),
		cancels:       make(map[string]context.CancelFunc),
		jobStore:      jobStore,
		resultStore:   resultStore,
		corpusStore:   corpusStore,
		executor:      executor,
		logger:        logger,
		telemetry:     telemetry,
		maxConcurrent: maxConcurrent,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Recover performs spec §4.5's crash-recovery scan: every Job RUNNING at
// the last process exit is treated as FAILED with a synthetic "interrupted"
// message and becomes eligible for resume; terminal and PENDING jobs are
// loaded into memory as-is. Call once, before Start.
func (m *Manager) Recover(ctx context.Context) error {
	all, err := m.jobStore.All(ctx)
	if err != nil {
		return err
	}
	for i := range all {
		job := all[i]
		if job.Status == core.JobRunning {
			job.Status = core.JobFailed
			job.Error = "interrupted"
			now := time.Now()
			job.Progress.EndTime = &now
			job.UpdatedAt = now
			if err := m.jobStore.Save(ctx, job); err != nil {
				m.logger.ErrorWithContext(ctx, "failed to persist interrupted job", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
			}
		}
		jobCopy := job
		m.mu.Lock()
		m.jobs[job.ID] = &jobCopy
		m.mu.Unlock()
	}
	return nil
}

// Start launches the background scheduler (spec §4.5/§9): rather than a
// bare 5-second poll, the loop blocks on a buffered signal channel woken by
// job creation, completion, or a periodic safety-net ticker, so newly
// created jobs are picked up immediately instead of waiting out an idle
// interval.
func (m *Manager) Start(ctx context.Context) {
	go m.schedulerLoop(ctx)
}

// Stop halts the scheduler loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Manager) schedulerLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-m.wake:
			m.dispatchPending(ctx)
		case <-ticker.C:
			m.dispatchPending(ctx)
		}
	}
}

func (m *Manager) signalScheduler() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatchPending(ctx context.Context) {
	for {
		job := m.nextPending()
		if job == nil {
			return
		}
		m.launch(ctx, job)
	}
}

func (m *Manager) nextPending() *core.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running >= m.maxConcurrent {
		return nil
	}
	var oldest *core.Job
	for _, j := range m.jobs {
		if j.Status != core.JobPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil
	}
	m.running++
	return oldest
}

// Create builds a PENDING Job over an existing CorpusRun and persists it
// (spec §3, §4.5).
func (m *Manager) Create(ctx context.Context, name string, runID int64, cfg core.HTTPConfig) (core.Job, error) {
	if _, err := m.corpusStore.Get(ctx, runID); err != nil {
		return core.Job{}, err
	}
	now := time.Now()
	job := core.Job{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    core.JobPending,
		RunID:     runID,
		HTTPConfig: cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.jobStore.Save(ctx, job); err != nil {
		return core.Job{}, err
	}
	m.mu.Lock()
	jobCopy := job
	m.jobs[job.ID] = &jobCopy
	m.mu.Unlock()
	m.signalScheduler()
	return job, nil
}

// Get returns a consistent snapshot of a Job's state, never blocking on the
// executor (spec §4.5's progress-query guarantee).
func (m *Manager) Get(ctx context.Context, id string) (core.Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		snapshot := *job
		m.mu.Unlock()
		return snapshot, nil
	}
	m.mu.Unlock()
	return m.jobStore.Get(ctx, id)
}

// List returns Job snapshots newest-first.
func (m *Manager) List(ctx context.Context, offset, count int64) ([]core.Job, error) {
	return m.jobStore.List(ctx, offset, count)
}

// Stop a single running or pending job, per spec §4.5's cancellation
// semantics: a cancel immediately sets status=CANCELLED and signals the
// in-flight executor context; the caller does not block on the executor
// unwinding.
func (m *Manager) CancelJob(ctx context.Context, id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return core.NewErrorWithID("jobs.Manager.CancelJob", "not_found", id, core.ErrNotFound, "job not found")
	}
	if job.Status != core.JobPending && job.Status != core.JobRunning {
		status := job.Status
		m.mu.Unlock()
		return core.NewErrorWithID("jobs.Manager.CancelJob", "forbidden_transition", id, core.ErrForbiddenTransition, "cannot cancel job in status "+string(status))
	}
	job.Status = core.JobCancelled
	now := time.Now()
	job.Progress.EndTime = &now
	job.UpdatedAt = now
	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}
	snapshot := *job
	m.mu.Unlock()
	return m.jobStore.Save(ctx, snapshot)
}

// Resume transitions a CANCELLED or FAILED job back to PENDING, clearing
// the terminal error and truncating prior JobResult rows (spec §9's
// truncate-on-resume resolution): partial results from the interrupted
// attempt are discarded rather than kept.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return core.NewErrorWithID("jobs.Manager.Resume", "not_found", id, core.ErrNotFound, "job not found")
	}
	if job.Status != core.JobCancelled && job.Status != core.JobFailed {
		status := job.Status
		m.mu.Unlock()
		return core.NewErrorWithID("jobs.Manager.Resume", "forbidden_transition", id, core.ErrForbiddenTransition, "cannot resume job in status "+string(status))
	}
	job.Status = core.JobPending
	job.Error = ""
	job.Progress = core.Progress{}
	job.UpdatedAt = time.Now()
	snapshot := *job
	m.mu.Unlock()

	if err := m.resultStore.TruncateFrom(ctx, id, 1); err != nil {
		return err
	}
	if err := m.jobStore.Save(ctx, snapshot); err != nil {
		return err
	}
	m.signalScheduler()
	return nil
}

// Delete removes a terminal job's metadata and results. Non-terminal jobs
// cannot be deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	job, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == core.JobPending || job.Status == core.JobRunning {
		return core.NewErrorWithID("jobs.Manager.Delete", "forbidden_transition", id, core.ErrForbiddenTransition, "cannot delete a non-terminal job")
	}
	m.mu.Lock()
	delete(m.jobs, id)
	delete(m.cancels, id)
	m.mu.Unlock()
	if err := m.resultStore.Delete(ctx, id); err != nil {
		return err
	}
	return m.jobStore.Delete(ctx, id)
}

// DefaultCleanupMaxAge is the /jobs/cleanup?max_age_hours default, matching
// cleanup_old_jobs(max_age_hours=24) in the original implementation.
const DefaultCleanupMaxAge = 24 * time.Hour

// Cleanup deletes every terminal job created more than maxAge ago,
// returning the count removed. Used by the /jobs/cleanup endpoint (spec
// §6). Non-terminal jobs are never deleted regardless of age.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := m.jobStore.All(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, job := range all {
		if job.Status == core.JobPending || job.Status == core.JobRunning {
			continue
		}
		if job.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.Delete(ctx, job.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// HasNonTerminalJobForRun reports whether any known Job referencing runID
// is PENDING or RUNNING, backing the cross-entity invariant that a
// CorpusRun cannot be deleted while a Job still references it (spec §3).
// Lives here, not in store.CorpusStore, because that invariant spans both
// entities and store/ must not depend on jobs/.
func (m *Manager) HasNonTerminalJobForRun(runID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.RunID == runID && (j.Status == core.JobPending || j.Status == core.JobRunning) {
			return true
		}
	}
	return false
}
