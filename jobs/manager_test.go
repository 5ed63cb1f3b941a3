package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujitounai/fuzzer-api/core"
	"github.com/yujitounai/fuzzer-api/store"
)

// slowExecutor blocks until told to proceed, so tests can observe a job
// mid-RUNNING and exercise cancellation.
type slowExecutor struct {
	release chan struct{}
	rows    [][]core.GeneratedRequest
}

func (e *slowExecutor) Run(ctx context.Context, rows []core.GeneratedRequest, _ core.HTTPConfig, onResult func(core.JobResult)) error {
	e.rows = append(e.rows, rows)
	for _, row := range rows {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.release:
		}
		onResult(core.JobResult{JobID: "", Ordinal: row.Ordinal, Blob: row.Blob, Success: true})
	}
	return nil
}

type instantExecutor struct{}

func (instantExecutor) Run(_ context.Context, rows []core.GeneratedRequest, _ core.HTTPConfig, onResult func(core.JobResult)) error {
	for _, row := range rows {
		onResult(core.JobResult{Ordinal: row.Ordinal, Blob: row.Blob, Success: true})
	}
	return nil
}

func newTestManager(t *testing.T, exec Executor) (*Manager, *store.CorpusStore, context.Context) {
	t.Helper()
	provider := store.NewMemoryProvider()
	corpusStore := store.NewCorpusStore(provider, nil)
	jobStore := store.NewJobStore(provider)
	resultStore := store.NewResultStore(provider)
	mgr := NewManager(jobStore, resultStore, corpusStore, exec, 5, nil, nil)
	return mgr, corpusStore, context.Background()
}

func seedRun(t *testing.T, ctx context.Context, cs *store.CorpusStore, n int) core.CorpusRun {
	t.Helper()
	rows := make([]core.GeneratedRequest, n)
	for i := range rows {
		rows[i] = core.GeneratedRequest{Ordinal: i + 1, Blob: "GET / HTTP/1.1\r\n\r\n"}
	}
	run, err := cs.Save(ctx, core.CorpusRun{Strategy: core.StrategySniper, CreatedAt: time.Now()}, rows)
	require.NoError(t, err)
	return run
}

func TestCreateJobStartsPending(t *testing.T) {
	mgr, cs, ctx := newTestManager(t, instantExecutor{})
	run := seedRun(t, ctx, cs, 3)
	job, err := mgr.Create(ctx, "test", run.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, job.Status)
}

func TestCreateJobUnknownRunErrors(t *testing.T) {
	mgr, _, ctx := newTestManager(t, instantExecutor{})
	_, err := mgr.Create(ctx, "test", 999, core.DefaultHTTPConfig())
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

// TestJobRunsToCompletion is spec §8's baseline job lifecycle: PENDING ->
// RUNNING -> COMPLETED with every row counted as completed and successful.
func TestJobRunsToCompletion(t *testing.T) {
	mgr, cs, ctx := newTestManager(t, instantExecutor{})
	run := seedRun(t, ctx, cs, 4)
	job, err := mgr.Create(ctx, "test", run.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	mgr.Start(ctx)
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		got, _ := mgr.Get(ctx, job.ID)
		return got.Status == core.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final, err := mgr.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, final.Progress.Completed)
	assert.Equal(t, 4, final.Progress.Successful)
}

// TestCancelDuringSequentialExecution is spec §8 scenario 5: cancelling a
// RUNNING job immediately flips its status to CANCELLED.
func TestCancelDuringSequentialExecution(t *testing.T) {
	exec := &slowExecutor{release: make(chan struct{})}
	mgr, cs, ctx := newTestManager(t, exec)
	run := seedRun(t, ctx, cs, 5)
	job, err := mgr.Create(ctx, "test", run.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	mgr.Start(ctx)
	defer mgr.Stop()

	exec.release <- struct{}{}
	exec.release <- struct{}{}

	require.Eventually(t, func() bool {
		got, _ := mgr.Get(ctx, job.ID)
		return got.Progress.Completed >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.CancelJob(ctx, job.ID))

	got, err := mgr.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, got.Status)
}

// TestRecoverMarksRunningAsFailedInterrupted is spec §8 scenario 6: a Job
// left RUNNING by a crash is reconstituted as FAILED("interrupted") and
// becomes eligible for resume.
func TestRecoverMarksRunningAsFailedInterrupted(t *testing.T) {
	provider := store.NewMemoryProvider()
	jobStore := store.NewJobStore(provider)
	resultStore := store.NewResultStore(provider)
	corpusStore := store.NewCorpusStore(provider, nil)
	ctx := context.Background()

	stuck := core.Job{ID: "stuck-job", Status: core.JobRunning, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, jobStore.Save(ctx, stuck))

	mgr := NewManager(jobStore, resultStore, corpusStore, instantExecutor{}, 5, nil, nil)
	require.NoError(t, mgr.Recover(ctx))

	got, err := mgr.Get(ctx, "stuck-job")
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, got.Status)
	assert.Equal(t, "interrupted", got.Error)

	require.NoError(t, mgr.Resume(ctx, "stuck-job"))
	got, err = mgr.Get(ctx, "stuck-job")
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, got.Status)
}

func TestResumeFromCompletedIsForbidden(t *testing.T) {
	mgr, cs, ctx := newTestManager(t, instantExecutor{})
	run := seedRun(t, ctx, cs, 1)
	job, err := mgr.Create(ctx, "test", run.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	mgr.Start(ctx)
	defer mgr.Stop()
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(ctx, job.ID)
		return got.Status == core.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	err = mgr.Resume(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, core.IsForbiddenTransition(err))
}

func TestDeleteNonTerminalJobForbidden(t *testing.T) {
	exec := &slowExecutor{release: make(chan struct{})}
	mgr, cs, ctx := newTestManager(t, exec)
	run := seedRun(t, ctx, cs, 2)
	job, err := mgr.Create(ctx, "test", run.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	mgr.Start(ctx)
	defer mgr.Stop()
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(ctx, job.ID)
		return got.Status == core.JobRunning
	}, 2*time.Second, 5*time.Millisecond)

	err = mgr.Delete(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, core.IsForbiddenTransition(err))

	close(exec.release)
}

func TestHasNonTerminalJobForRun(t *testing.T) {
	exec := &slowExecutor{release: make(chan struct{})}
	mgr, cs, ctx := newTestManager(t, exec)
	run := seedRun(t, ctx, cs, 2)
	job, err := mgr.Create(ctx, "test", run.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	assert.True(t, mgr.HasNonTerminalJobForRun(run.ID))

	mgr.Start(ctx)
	defer mgr.Stop()
	require.NoError(t, mgr.CancelJob(ctx, job.ID))
	close(exec.release)

	require.Eventually(t, func() bool {
		return !mgr.HasNonTerminalJobForRun(run.ID)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCleanupDeletesOnlyJobsOlderThanMaxAge(t *testing.T) {
	mgr, cs, ctx := newTestManager(t, instantExecutor{})
	mgr.Start(ctx)
	defer mgr.Stop()

	oldRun := seedRun(t, ctx, cs, 1)
	oldJob, err := mgr.Create(ctx, "old", oldRun.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(ctx, oldJob.ID)
		return got.Status == core.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)

	// Backdate the persisted job so it looks older than max_age_hours.
	persisted, err := mgr.jobStore.Get(ctx, oldJob.ID)
	require.NoError(t, err)
	persisted.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, mgr.jobStore.Save(ctx, persisted))

	freshRun := seedRun(t, ctx, cs, 1)
	freshJob, err := mgr.Create(ctx, "fresh", freshRun.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(ctx, freshJob.ID)
		return got.Status == core.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)

	n, err := mgr.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = mgr.Get(ctx, oldJob.ID)
	assert.True(t, core.IsNotFound(err))
	_, err = mgr.Get(ctx, freshJob.ID)
	assert.NoError(t, err)
}

func TestCleanupLeavesNonTerminalJobsRegardlessOfAge(t *testing.T) {
	exec := &slowExecutor{release: make(chan struct{})}
	mgr, cs, ctx := newTestManager(t, exec)
	run := seedRun(t, ctx, cs, 1)
	job, err := mgr.Create(ctx, "running", run.ID, core.DefaultHTTPConfig())
	require.NoError(t, err)

	mgr.Start(ctx)
	defer func() {
		close(exec.release)
		mgr.Stop()
	}()
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(ctx, job.ID)
		return got.Status == core.JobRunning
	}, 2*time.Second, 5*time.Millisecond)

	persisted, err := mgr.jobStore.Get(ctx, job.ID)
	require.NoError(t, err)
	persisted.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, mgr.jobStore.Save(ctx, persisted))

	n, err := mgr.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
