package jobs

import (
	"context"
	"time"

	"github.com/yujitounai/fuzzer-api/core"
)

// launch transitions job to RUNNING and drives its execution in a new
// goroutine (spec §4.5 step 2-6). job is the in-memory record already
// counted against the running budget by nextPending.
func (m *Manager) launch(ctx context.Context, job *core.Job) {
	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	job.Status = core.JobRunning
	now := time.Now()
	job.Progress.StartTime = &now
	job.UpdatedAt = now
	m.cancels[job.ID] = cancel
	snapshot := *job
	m.mu.Unlock()

	if err := m.jobStore.Save(ctx, snapshot); err != nil {
		m.logger.ErrorWithContext(ctx, "failed to persist running job", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
	}

	go m.runJob(runCtx, job.ID)
}

// runJob executes one job to a terminal state (spec §4.5). It always
// releases the running-slot and scheduler signal on exit, regardless of
// outcome, so the scheduler can immediately pick up the next PENDING job.
func (m *Manager) runJob(ctx context.Context, jobID string) {
	defer func() {
		m.mu.Lock()
		m.running--
		delete(m.cancels, jobID)
		m.mu.Unlock()
		m.signalScheduler()
	}()

	spanCtx, span := m.telemetry.StartSpan(ctx, "jobs.runJob")
	defer span.End()

	job, err := m.Get(spanCtx, jobID)
	if err != nil {
		m.logger.ErrorWithContext(spanCtx, "job vanished before execution", map[string]interface{}{"job_id": jobID})
		return
	}

	if _, err := m.corpusStore.Get(spanCtx, job.RunID); err != nil {
		m.failJob(spanCtx, jobID, err.Error())
		return
	}
	rows, err := m.corpusStore.Rows(spanCtx, job.RunID)
	if err != nil {
		m.failJob(spanCtx, jobID, err.Error())
		return
	}

	m.mu.Lock()
	if p := m.jobs[jobID]; p != nil {
		p.Progress.Total = len(rows)
	}
	m.mu.Unlock()

	start := time.Now()
	var completed, successful, failed int

	onResult := func(result core.JobResult) {
		result.JobID = jobID
		if err := m.resultStore.Append(spanCtx, result); err != nil {
			m.logger.ErrorWithContext(spanCtx, "failed to append job result", map[string]interface{}{"job_id": jobID, "error": err.Error()})
		}
		completed++
		if result.Success {
			successful++
		} else {
			failed++
		}
		m.updateProgress(spanCtx, jobID, completed, successful, failed, len(rows), start)
	}

	runErr := m.executor.Run(spanCtx, rows, job.HTTPConfig, onResult)

	m.mu.Lock()
	current := m.jobs[jobID]
	cancelled := current != nil && current.Status == core.JobCancelled
	m.mu.Unlock()

	switch {
	case cancelled:
		return
	case runErr != nil:
		span.RecordError(runErr)
		m.failJob(spanCtx, jobID, runErr.Error())
	default:
		m.completeJob(spanCtx, jobID)
	}
}

func (m *Manager) updateProgress(ctx context.Context, jobID string, completed, successful, failed, total int, start time.Time) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	job.Progress.Completed = completed
	job.Progress.Successful = successful
	job.Progress.Failed = failed
	job.Progress.CurrentIndex = completed
	job.Progress.EstimatedRemaining = estimateRemaining(completed, total, start)
	job.UpdatedAt = time.Now()
	snapshot := *job
	m.mu.Unlock()

	if err := m.jobStore.Save(ctx, snapshot); err != nil {
		m.logger.ErrorWithContext(ctx, "failed to persist job progress", map[string]interface{}{"job_id": jobID, "error": err.Error()})
	}
}

// estimateRemaining implements the rolling-rate formula of spec §4.5,
// carried over from original_source's job_manager.py: rate =
// completed/elapsed, remaining = (total-completed)/rate. Returns 0 before
// the first result or once the job is done.
func estimateRemaining(completed, total int, start time.Time) float64 {
	if completed == 0 || completed >= total {
		return 0
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := float64(completed) / elapsed
	if rate <= 0 {
		return 0
	}
	return float64(total-completed) / rate
}

func (m *Manager) failJob(ctx context.Context, jobID, message string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	job.Status = core.JobFailed
	job.Error = message
	now := time.Now()
	job.Progress.EndTime = &now
	job.UpdatedAt = now
	snapshot := *job
	m.mu.Unlock()

	if err := m.jobStore.Save(ctx, snapshot); err != nil {
		m.logger.ErrorWithContext(ctx, "failed to persist failed job", map[string]interface{}{"job_id": jobID, "error": err.Error()})
	}
}

func (m *Manager) completeJob(ctx context.Context, jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	job.Status = core.JobCompleted
	now := time.Now()
	job.Progress.EndTime = &now
	job.Progress.EstimatedRemaining = 0
	job.UpdatedAt = now
	snapshot := *job
	m.mu.Unlock()

	if err := m.jobStore.Save(ctx, snapshot); err != nil {
		m.logger.ErrorWithContext(ctx, "failed to persist completed job", map[string]interface{}{"job_id": jobID, "error": err.Error()})
	}
}
