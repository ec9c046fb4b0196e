package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-project/catalogjobs/pkg/batch"
	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
	"github.com/lumina-project/catalogjobs/pkg/store"
)

func newTestController(t *testing.T, maxConcurrent int) (*Controller, *batch.Manager) {
	t.Helper()
	mgr := batch.New(batch.NewMemoryStore())
	gw := store.NewMemoryGateway()
	reg := jobs.NewRegistry()
	return New(mgr, gw, reg, nil, nil, maxConcurrent), mgr
}

func registerEcho(t *testing.T, c *Controller, name string) *sync.Map {
	t.Helper()
	seen := &sync.Map{}
	c.registry.Register(jobs.Job{
		Name:      name,
		BatchSize: 2,
		Discover: func(ctx context.Context, catalogID string) ([]jobs.Item, error) {
			return []jobs.Item{"a", "b", "c"}, nil
		},
		Process: func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
			seen.Store(item, true)
			return jobs.ProcessResult{OK: true}
		},
	})
	return seen
}

func registerBlocking(t *testing.T, c *Controller, name string, started chan struct{}) {
	t.Helper()
	c.registry.Register(jobs.Job{
		Name: name,
		Discover: func(ctx context.Context, catalogID string) ([]jobs.Item, error) {
			return []jobs.Item{"only"}, nil
		},
		Process: func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
			close(started)
			<-ctx.Done()
			return jobs.ProcessResult{OK: false, Err: ctx.Err()}
		},
	})
}

func waitForStatus(t *testing.T, c *Controller, jobID string, want models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := c.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	c, _ := newTestController(t, 2)
	seen := registerEcho(t, c, "echo")

	jobID, err := c.Submit(context.Background(), "echo", "cat1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	waitForStatus(t, c, jobID, models.JobStatusSuccess)
	c.Wait()

	for _, item := range []string{"a", "b", "c"} {
		_, ok := seen.Load(jobs.Item(item))
		assert.True(t, ok, "item %s was never processed", item)
	}
}

func TestSubmitUnknownJobNameFails(t *testing.T) {
	c, _ := newTestController(t, 2)
	_, err := c.Submit(context.Background(), "nope", "cat1", nil)
	assert.Error(t, err)
}

func TestGetAndListReflectSubmittedJobs(t *testing.T) {
	c, _ := newTestController(t, 2)
	registerEcho(t, c, "echo")

	id1, err := c.Submit(context.Background(), "echo", "cat1", nil)
	require.NoError(t, err)
	id2, err := c.Submit(context.Background(), "echo", "cat2", nil)
	require.NoError(t, err)

	waitForStatus(t, c, id1, models.JobStatusSuccess)
	waitForStatus(t, c, id2, models.JobStatusSuccess)
	c.Wait()

	all, err := c.List(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cat1Only, err := c.List(context.Background(), "cat1", "")
	require.NoError(t, err)
	assert.Len(t, cat1Only, 1)
	assert.Equal(t, id1, cat1Only[0].ID)

	success, err := c.List(context.Background(), "", models.JobStatusSuccess)
	require.NoError(t, err)
	assert.Len(t, success, 2)
}

func TestCancelStopsRunningJob(t *testing.T) {
	c, _ := newTestController(t, 2)
	started := make(chan struct{})
	registerBlocking(t, c, "blocker", started)

	jobID, err := c.Submit(context.Background(), "blocker", "cat1", nil)
	require.NoError(t, err)

	<-started
	require.NoError(t, c.Cancel(context.Background(), jobID))

	waitForStatus(t, c, jobID, models.JobStatusCancelled)
	c.Wait()
}

func TestCancelOnTerminalJobIsNoop(t *testing.T) {
	c, _ := newTestController(t, 2)
	registerEcho(t, c, "echo")

	jobID, err := c.Submit(context.Background(), "echo", "cat1", nil)
	require.NoError(t, err)
	waitForStatus(t, c, jobID, models.JobStatusSuccess)
	c.Wait()

	require.NoError(t, c.Cancel(context.Background(), jobID))

	job, err := c.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
}

func TestCancelUnknownJobErrors(t *testing.T) {
	c, _ := newTestController(t, 2)
	err := c.Cancel(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestPoolBoundsConcurrentExecutors(t *testing.T) {
	c, _ := newTestController(t, 1)

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	c.registry.Register(jobs.Job{
		Name: "slow",
		Discover: func(ctx context.Context, catalogID string) ([]jobs.Item, error) {
			return []jobs.Item{"only"}, nil
		},
		Process: func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
			close(firstStarted)
			<-release
			return jobs.ProcessResult{OK: true}
		},
	})
	registerEcho(t, c, "echo")

	slowID, err := c.Submit(context.Background(), "slow", "cat1", nil)
	require.NoError(t, err)
	<-firstStarted

	fastID, err := c.Submit(context.Background(), "echo", "cat1", nil)
	require.NoError(t, err)

	// With pool size 1, the fast job cannot reach success while the slow
	// one still holds the only slot.
	time.Sleep(50 * time.Millisecond)
	fastJob, err := c.Get(context.Background(), fastID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, fastJob.Status)

	close(release)
	waitForStatus(t, c, slowID, models.JobStatusSuccess)
	waitForStatus(t, c, fastID, models.JobStatusSuccess)
	c.Wait()
}

func TestRunPendingPollerDispatchesExternallyCreatedJob(t *testing.T) {
	c, mgr := newTestController(t, 2)
	seen := registerEcho(t, c, "echo")

	// Simulate catalogjobsctl writing a pending job row directly to the
	// shared store, rather than going through this Controller's own Submit.
	jobID := "external-job"
	require.NoError(t, mgr.CreateJob(context.Background(), &models.Job{
		ID:        jobID,
		CatalogID: "cat1",
		JobType:   "echo",
		Status:    models.JobStatusPending,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunPendingPoller(ctx, 5*time.Millisecond)

	waitForStatus(t, c, jobID, models.JobStatusSuccess)
	cancel()
	c.Wait()

	for _, item := range []string{"a", "b", "c"} {
		_, ok := seen.Load(jobs.Item(item))
		assert.True(t, ok, "item %s was never processed", item)
	}
}

func TestPollOnceSkipsJobAlreadyOwnedByThisProcess(t *testing.T) {
	c, mgr := newTestController(t, 2)
	registerEcho(t, c, "echo")

	// A job that is still pending in the store but whose goroutine this
	// Controller has already claimed — the narrow window between dispatch
	// and the executor's own pending->running transition. pollOnce must not
	// dispatch a second goroutine for it.
	jobID := "claimed-but-still-pending"
	require.NoError(t, mgr.CreateJob(context.Background(), &models.Job{
		ID:        jobID,
		CatalogID: "cat1",
		JobType:   "echo",
		Status:    models.JobStatusPending,
	}))
	c.mu.Lock()
	c.running[jobID] = func() {}
	c.mu.Unlock()

	c.pollOnce(context.Background())

	c.mu.Lock()
	_, stillOwned := c.running[jobID]
	c.mu.Unlock()
	assert.True(t, stillOwned, "pollOnce must leave the existing ownership entry untouched, not overwrite it with a second dispatch")

	c.mu.Lock()
	delete(c.running, jobID)
	c.mu.Unlock()
}

func TestRecoverReclaimsOrphanedBatches(t *testing.T) {
	mgr := batch.New(batch.NewMemoryStore()).WithHeartbeatTimeout(10 * time.Millisecond)
	gw := store.NewMemoryGateway()
	reg := jobs.NewRegistry()
	c := New(mgr, gw, reg, nil, nil, 2)

	jobID := "orphan-job"
	require.NoError(t, mgr.CreateJob(context.Background(), &models.Job{ID: jobID, CatalogID: "cat1", JobType: "echo", Status: models.JobStatusRunning}))
	_, err := mgr.CreateBatches(context.Background(), jobID, "cat1", "echo", []string{"a"}, 10)
	require.NoError(t, err)
	b, err := mgr.ClaimNext(context.Background(), jobID, "dead-worker")
	require.NoError(t, err)
	require.NotNil(t, b)

	time.Sleep(20 * time.Millisecond)

	n, err := c.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecoverResumesDispatchForRunningJob(t *testing.T) {
	c, mgr := newTestController(t, 2)
	seen := registerEcho(t, c, "echo")

	// A job left in "running" by a prior process that crashed mid-batch —
	// its batch is reclaimed by ReclaimOrphaned, but nothing before this
	// fix ever gave it a new executor goroutine to pick the reclaimed
	// batch back up.
	jobID := "crashed-job"
	require.NoError(t, mgr.CreateJob(context.Background(), &models.Job{
		ID:        jobID,
		CatalogID: "cat1",
		JobType:   "echo",
		Status:    models.JobStatusRunning,
	}))

	_, err := c.Recover(context.Background())
	require.NoError(t, err)

	waitForStatus(t, c, jobID, models.JobStatusSuccess)
	c.Wait()

	for _, item := range []string{"a", "b", "c"} {
		_, ok := seen.Load(jobs.Item(item))
		assert.True(t, ok, "item %s was never processed", item)
	}
}
