// Package controller exposes job submission, cancellation, and lookup as
// plain Go methods — the same four operations as the teacher's
// api.MasterHandler (CreateJob/CancelJob/GetJob/ListJobs), minus the HTTP
// transport, since this repository has no server surface (spec.md §1
// Non-goals).
//
// A bounded pool of executors (default 2 concurrent job runs) dispatches
// submitted jobs, grounded in the teacher's scheduler bounding the number
// of jobs assigned across its cluster at once — here expressed as a
// buffered-channel semaphore rather than a capacity count per worker node,
// since one process runs every job itself instead of fanning out to
// remote agents.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-project/catalogjobs/internal/logging"
	"github.com/lumina-project/catalogjobs/internal/tracing"
	"github.com/lumina-project/catalogjobs/pkg/batch"
	"github.com/lumina-project/catalogjobs/pkg/executor"
	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
	"github.com/lumina-project/catalogjobs/pkg/store"
)

// DefaultMaxConcurrentJobs is the default executor pool size (SPEC_FULL.md
// §4.9).
const DefaultMaxConcurrentJobs = 2

// DefaultPendingPollInterval is how often RunPendingPoller checks the
// store for jobs submitted by another process.
const DefaultPendingPollInterval = 2 * time.Second

// Controller owns job submission, cancellation, and lookup for one
// catalogjobsd process.
type Controller struct {
	batches  *batch.Manager
	gw       store.Gateway
	registry *jobs.Registry
	tp       *tracing.Provider
	log      *logging.Logger

	sem chan struct{}

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Controller. maxConcurrent <= 0 falls back to
// DefaultMaxConcurrentJobs.
func New(batches *batch.Manager, gw store.Gateway, registry *jobs.Registry, tp *tracing.Provider, log *logging.Logger, maxConcurrent int) *Controller {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if log == nil {
		log = logging.Default
	}
	return &Controller{
		batches:  batches,
		gw:       gw,
		registry: registry,
		tp:       tp,
		log:      log,
		sem:      make(chan struct{}, maxConcurrent),
		running:  make(map[string]context.CancelFunc),
	}
}

// Submit creates a job row in pending status and, once a pool slot is
// free, dispatches it to an Executor in the background. It returns the
// generated job ID immediately — Submit does not block on execution.
func (c *Controller) Submit(ctx context.Context, name, catalogID string, params map[string]interface{}) (string, error) {
	def, ok := c.registry.Get(name)
	if !ok {
		return "", fmt.Errorf("controller: unknown job %q", name)
	}

	job := &models.Job{
		ID:         uuid.NewString(),
		CatalogID:  catalogID,
		JobType:    name,
		Status:     models.JobStatusPending,
		Parameters: params,
	}
	if err := c.batches.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("controller: create job: %w", err)
	}

	c.dispatch(def, job.ID, catalogID, params)
	return job.ID, nil
}

// dispatch registers jobID as running and hands it to run in its own
// goroutine. Shared by Submit (this process created the row) and
// RunPendingPoller (another process's catalogjobsctl created it against
// the same store).
func (c *Controller) dispatch(def jobs.Job, jobID, catalogID string, params map[string]interface{}) {
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.running[jobID] = cancel
	c.mu.Unlock()
	c.wg.Add(1)
	go c.run(runCtx, cancel, def, jobID, catalogID, params)
}

// RunPendingPoller polls for pending jobs not already owned by this
// process — submitted by a catalogjobsctl invocation against the same
// store rather than through this Controller's own Submit — and dispatches
// each one exactly like Submit would, until ctx is cancelled. Intended to
// run as catalogjobsd's single background loop for the whole process
// lifetime.
func (c *Controller) RunPendingPoller(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context) {
	pending, err := c.batches.ListJobs(ctx, "", models.JobStatusPending)
	if err != nil {
		c.log.Warn("controller: poll pending jobs failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, job := range pending {
		c.mu.Lock()
		_, alreadyOwned := c.running[job.ID]
		c.mu.Unlock()
		if alreadyOwned {
			continue
		}

		def, ok := c.registry.Get(job.JobType)
		if !ok {
			c.log.Warn("controller: skipping pending job with unregistered type", map[string]interface{}{"job_id": job.ID, "job_type": job.JobType})
			continue
		}
		c.dispatch(def, job.ID, job.CatalogID, job.Parameters)
	}
}

// run blocks on the pool semaphore, then executes one job run to
// completion. It is always invoked in its own goroutine, from either
// Submit or the pending-job poller.
func (c *Controller) run(runCtx context.Context, cancel context.CancelFunc, def jobs.Job, jobID, catalogID string, params map[string]interface{}) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.running, jobID)
		c.mu.Unlock()
		cancel()
	}()

	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	exec := executor.New(c.batches, c.gw, c.tp, c.log)
	if err := exec.Run(runCtx, def, jobID, catalogID, params); err != nil {
		c.log.Error("job run ended with error", map[string]interface{}{"job_id": jobID, "error": err.Error()})
	}
}

// Cancel requests cooperative cancellation of a running (or still
// pending) job: every non-terminal batch is marked cancelled and the
// job's own context.CancelFunc is invoked, so the executor (which also
// re-reads the job's persisted status before each item) stops claiming
// and dispatching further batches after finishing whatever item is in
// flight. Cancel is a no-op,
// not an error, against a job that has already reached a terminal status.
func (c *Controller) Cancel(ctx context.Context, jobID string) error {
	job, err := c.batches.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("controller: cancel: %w", err)
	}
	if models.IsTerminalJobStatus(job.Status) {
		return nil
	}

	if err := c.batches.CancelJobBatches(ctx, jobID); err != nil {
		return fmt.Errorf("controller: cancel batches: %w", err)
	}
	if err := c.batches.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled, ""); err != nil {
		return fmt.Errorf("controller: cancel job status: %w", err)
	}

	c.mu.Lock()
	cancel, running := c.running[jobID]
	c.mu.Unlock()
	if running {
		cancel()
	}
	return nil
}

// Get returns a job by ID.
func (c *Controller) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return c.batches.GetJob(ctx, jobID)
}

// List returns jobs, optionally filtered by catalog ID and/or status.
// Either filter may be the empty string to mean "no filter on this
// field" (the same convention the underlying store uses).
func (c *Controller) List(ctx context.Context, catalogID string, status models.JobStatus) ([]*models.Job, error) {
	return c.batches.ListJobs(ctx, catalogID, status)
}

// Recover reclaims batches left running by a prior process that exited
// mid-job (crash, kill -9) so a restarted daemon's workers can claim them
// again, then resumes dispatch for every job still marked running: each
// gets its own executor goroutine exactly as Submit would give it, so it
// picks up its remaining pending/reclaimed batches and reaches the same
// result as an uninterrupted run.
func (c *Controller) Recover(ctx context.Context) (int, error) {
	n, err := c.batches.ReclaimOrphaned(ctx)
	if err != nil {
		return 0, fmt.Errorf("controller: recover: %w", err)
	}
	if n > 0 {
		c.log.Info("reclaimed orphaned batches", map[string]interface{}{"count": n})
	}

	running, err := c.batches.ListRunningJobs(ctx)
	if err != nil {
		return n, fmt.Errorf("controller: recover: list running jobs: %w", err)
	}
	for _, job := range running {
		def, ok := c.registry.Get(job.JobType)
		if !ok {
			c.log.Warn("controller: cannot resume running job with unregistered type", map[string]interface{}{"job_id": job.ID, "job_type": job.JobType})
			continue
		}
		c.dispatch(def, job.ID, job.CatalogID, job.Parameters)
	}
	if len(running) > 0 {
		c.log.Info("resumed dispatch for jobs left running by a prior process", map[string]interface{}{"count": len(running)})
	}

	return n, nil
}

// Wait blocks until every in-flight job goroutine, however it was
// dispatched, has returned. Intended for graceful shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}
