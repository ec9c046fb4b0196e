// Package executor implements the C8 job executor: it runs one registered
// job instance end to end — discover, partition into batches, dispatch a
// bounded worker pool against the durable batch manager, aggregate, and
// finalize — per spec.md §4.8.
//
// The worker-pool dispatch loop (claim-until-empty per worker, independent
// workers advancing at their own pace) is grounded in
// shared/pkg/scheduler/production_scheduler.go's ProductionScheduler: that
// scheduler's ticker-driven schedulingLoop/healthLoop/cleanupLoop assign
// jobs to long-lived workers from a central loop; this package inverts the
// relationship (each worker pulls its own next unit of work in a tight
// loop instead of a central loop pushing to idle workers) because a single
// job's batches, unlike the teacher's cluster-wide job queue, are always
// claimed by workers the executor itself owns and stops when the job ends.
// Per-item retry with exponential backoff is grounded in
// shared/pkg/retry/retry.go's Do, reused via internal/retry with this
// repository's own backoff numbers (50ms initial, 5s cap, spec.md §4.8)
// instead of the teacher's HTTP-call defaults.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumina-project/catalogjobs/internal/logging"
	"github.com/lumina-project/catalogjobs/internal/retry"
	"github.com/lumina-project/catalogjobs/internal/tracing"
	"github.com/lumina-project/catalogjobs/pkg/batch"
	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
	"github.com/lumina-project/catalogjobs/pkg/progress"
	"github.com/lumina-project/catalogjobs/pkg/store"
)

// maxCarriedErrors is the cap on per-item errors carried in a batch's
// Errors field and in the job's final result (spec.md §4.8/§7: "errors[:100]").
const maxCarriedErrors = 100

// Executor runs job instances against a shared batch manager and catalog
// gateway. One Executor is reused across many job runs; it holds no
// per-run state itself (that lives in runState, scoped to one Run call).
type Executor struct {
	batches *batch.Manager
	gw      store.Gateway
	tracer  trace.Tracer
	log     *logging.Logger
}

// New builds an Executor. tp may be nil, in which case tracing is a no-op;
// log may be nil, in which case logging.Default is used.
func New(batches *batch.Manager, gw store.Gateway, tp *tracing.Provider, log *logging.Logger) *Executor {
	if log == nil {
		log = logging.Default
	}
	if tp == nil {
		tp, _ = tracing.Init(tracing.Config{ServiceName: "catalogjobs-executor"})
	}
	return &Executor{batches: batches, gw: gw, tracer: tp.Tracer(), log: log}
}

// runState accumulates counters and results across every worker of one
// Run call. All fields are guarded by mu except during the window after
// dispatch's WaitGroup has returned, when no writer remains.
type runState struct {
	mu        sync.Mutex
	results   []map[string]interface{}
	processed int
	success   int
	errCount  int
	errs      []models.ItemError
	fatalErr  error

	// cancel collapses an externally-observed cancellation (the job's
	// persisted status flipping to cancelled from another process) into
	// this run's own context, so every worker's ctx.Err() check — the
	// single source of truth the rest of Run already keys off of — sees
	// it too.
	cancel context.CancelFunc
}

func (s *runState) recordItem(itemID string, res jobs.ProcessResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if res.OK {
		s.success++
	} else {
		s.errCount++
		if len(s.errs) < maxCarriedErrors {
			msg := "process reported failure with no error"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			s.errs = append(s.errs, models.ItemError{ItemID: itemID, Error: msg})
		}
	}
	if res.Result != nil {
		s.results = append(s.results, res.Result)
	}
}

func (s *runState) snapshot() (processed, success, errCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.success, s.errCount
}

func (s *runState) setFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
}

// Run executes job as jobID against catalogID with params, driving it
// through discover/partition/dispatch/aggregate/finalize and persisting
// every status transition via the batch manager. The returned error is
// the same cause recorded as the job's terminal error, if any; a nil
// return covers both job success and job cancellation (cancellation is
// not itself a Run failure).
func (e *Executor) Run(ctx context.Context, job jobs.Job, jobID, catalogID string, params map[string]interface{}) error {
	jctx := jobs.Context{CatalogID: catalogID, JobID: jobID, Params: params}
	pub := progress.New(jobID, e.gw)

	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.type", job.Name),
		attribute.String("catalog.id", catalogID),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.batches.UpdateJobStatus(ctx, jobID, models.JobStatusRunning, ""); err != nil {
		return e.failJob(ctx, jobID, fmt.Errorf("executor: transition to running: %w", err))
	}

	items, err := e.discover(ctx, job, jctx)
	if err != nil {
		return e.failJob(ctx, jobID, err)
	}
	pub.Report(ctx, progress.PhaseDiscover, 0, len(items), 0, 0, true)

	if len(items) == 0 {
		return e.finishEmpty(ctx, jobID, pub)
	}

	if _, err := e.batches.CreateBatches(ctx, jobID, catalogID, job.Name, items, job.BatchSize); err != nil {
		return e.failJob(ctx, jobID, fmt.Errorf("executor: create batches: %w", err))
	}

	total := len(items)
	st := e.dispatch(ctx, cancel, job, jctx, jobID, total, pub)

	agg, aggErr := e.batches.Aggregate(ctx, jobID)
	if aggErr != nil {
		pub.Done(ctx, st.processed, total, st.success, st.errCount)
		return e.failJob(ctx, jobID, fmt.Errorf("executor: aggregate: %w", aggErr))
	}

	// A Cancel from another process that lands after the last item's
	// status check is visible only in the persisted status.
	if ctx.Err() == nil {
		if cancelled, err := e.jobCancelled(ctx, jobID); err == nil && cancelled {
			cancel()
		}
	}

	if ctx.Err() != nil {
		return e.finishCancelled(jobID, pub, agg)
	}

	if st.fatalErr != nil {
		pub.Done(ctx, st.processed, total, st.success, st.errCount)
		return e.failJob(ctx, jobID, st.fatalErr)
	}

	// Batch-fatal classification (spec.md §7): the job still succeeds if at
	// least one batch completed; only total batch failure fails the job.
	if agg.Completed == 0 && agg.Failed > 0 {
		pub.Done(ctx, st.processed, total, st.success, st.errCount)
		return e.failJob(ctx, jobID, fmt.Errorf("executor: all %d batches failed", agg.Failed))
	}

	return e.finalize(ctx, job, jctx, jobID, catalogID, st, pub)
}

// jobCancelled reports whether jobID's persisted status has already
// moved to cancelled — the signal a Cancel issued from another process
// leaves behind, since that process can't reach this one's in-memory
// context directly.
func (e *Executor) jobCancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := e.batches.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == models.JobStatusCancelled, nil
}

func (e *Executor) discover(ctx context.Context, job jobs.Job, jctx jobs.Context) ([]jobs.Item, error) {
	ctx, span := e.tracer.Start(ctx, "executor.discover")
	defer span.End()

	items, err := job.Discover(ctx, jctx.CatalogID)
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, fmt.Errorf("executor: discover: %w", err)
	}
	return items, nil
}

// dispatch spawns up to job.MaxWorkers workers, each claiming and running
// batches until none remain, and waits for all of them to finish.
func (e *Executor) dispatch(ctx context.Context, cancel context.CancelFunc, job jobs.Job, jctx jobs.Context, jobID string, total int, pub *progress.Publisher) *runState {
	st := &runState{cancel: cancel}

	workers := job.MaxWorkers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		workerID := fmt.Sprintf("%s-w%d", jobID, w)
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			e.workerLoop(ctx, job, jctx, jobID, workerID, total, st, pub)
		}(workerID)
	}
	wg.Wait()

	return st
}

// workerLoop is one worker's claim_next loop (spec.md §4.8 step 3).
func (e *Executor) workerLoop(ctx context.Context, job jobs.Job, jctx jobs.Context, jobID, workerID string, total int, st *runState, pub *progress.Publisher) {
	for {
		if ctx.Err() != nil {
			return
		}

		b, err := e.batches.ClaimNext(ctx, jobID, workerID)
		if err != nil {
			if errors.Is(err, batch.ErrNoBatchReady) {
				return
			}
			st.setFatal(fmt.Errorf("executor: claim_next: %w", err))
			return
		}

		e.runBatch(ctx, job, jctx, b, workerID, total, st, pub)
	}
}

// runBatch processes every item of one claimed batch sequentially, then
// reports the batch terminal. A single item's failure never aborts the
// batch; only a gateway failure completing the batch does (batch-fatal).
func (e *Executor) runBatch(ctx context.Context, job jobs.Job, jctx jobs.Context, b *models.JobBatch, workerID string, total int, st *runState, pub *progress.Publisher) {
	ctx, span := e.tracer.Start(ctx, "executor.batch", trace.WithAttributes(
		attribute.String("batch.id", b.ID),
		attribute.Int("batch.items", len(b.WorkItems)),
	))
	defer span.End()

	var batchErrs []models.ItemError
	successCount, errCount := 0, 0

	for _, item := range b.WorkItems {
		if ctx.Err() != nil {
			break
		}
		// A Cancel issued from another process (catalogjobsctl talking to
		// the same durable store) never reaches this goroutine's ctx, so
		// each item also re-checks the job's persisted status — the same
		// round trip Heartbeat already pays per item.
		if cancelled, err := e.jobCancelled(ctx, b.ParentJobID); err != nil {
			e.log.Warn("executor: cancellation check failed", map[string]interface{}{"job_id": b.ParentJobID, "error": err.Error()})
		} else if cancelled {
			st.cancel()
			break
		}

		if err := e.batches.Heartbeat(ctx, b.ID, workerID); err != nil {
			e.log.Warn("executor: heartbeat failed", map[string]interface{}{"batch_id": b.ID, "error": err.Error()})
		}

		res := e.processItem(ctx, job, item, jctx)
		var newErrs []models.ItemError
		if res.OK {
			successCount++
		} else {
			errCount++
			if len(batchErrs) < maxCarriedErrors {
				msg := "process reported failure with no error"
				if res.Err != nil {
					msg = res.Err.Error()
				}
				ie := models.ItemError{ItemID: item, Error: msg}
				batchErrs = append(batchErrs, ie)
				newErrs = []models.ItemError{ie}
			}
		}
		st.recordItem(item, res)

		processed, success, errc := st.snapshot()
		pub.Report(ctx, progress.PhaseRunning, processed, total, success, errc, false)

		// ReportProgress appends errs as a delta onto the batch's stored
		// Errors slice (both durable backends merge rather than replace), so
		// only the error just produced is passed here, not the whole batchErrs.
		if err := e.batches.ReportProgress(ctx, b.ID, successCount+errCount, successCount, errCount, newErrs); err != nil {
			e.log.Warn("executor: report progress failed", map[string]interface{}{"batch_id": b.ID, "error": err.Error()})
		}
	}

	if ctx.Err() != nil {
		// Cancellation owns this batch's terminal transition: the controller's
		// CancelJobBatches already marks every non-terminal batch cancelled.
		return
	}

	if err := e.batches.Complete(ctx, b.ID, map[string]interface{}{"success_count": successCount, "error_count": errCount}); err != nil {
		tracing.SetError(ctx, err)
		st.setFatal(fmt.Errorf("executor: complete batch %s: %w", b.ID, err))
		_ = e.batches.Fail(ctx, b.ID, err.Error())
	}

	processed, success, errc := st.snapshot()
	pub.Report(ctx, progress.PhaseRunning, processed, total, success, errc, true)
}

// processItem runs one item through Job.Process, applying per-item timeout
// and retry-with-backoff per spec.md §4.8.
func (e *Executor) processItem(ctx context.Context, job jobs.Job, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
	var last jobs.ProcessResult

	attempt := func() error {
		itemCtx := ctx
		if job.TimeoutPerItem > 0 {
			var cancel context.CancelFunc
			itemCtx, cancel = context.WithTimeout(ctx, job.TimeoutPerItem)
			defer cancel()
		}
		last = job.Process(itemCtx, item, jctx)
		if last.OK {
			return nil
		}
		if last.Err != nil {
			return last.Err
		}
		return fmt.Errorf("item %s: process reported failure with no error", item)
	}

	if !job.RetryOnFailure {
		_ = attempt()
		return last
	}

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = job.MaxRetries
	_ = retry.Do(ctx, cfg, attempt)
	return last
}

// finalize runs Job.Finalize (skipped if nil) and persists the job's
// terminal success result.
func (e *Executor) finalize(ctx context.Context, job jobs.Job, jctx jobs.Context, jobID, catalogID string, st *runState, pub *progress.Publisher) error {
	ctx, span := e.tracer.Start(ctx, "executor.finalize")
	defer span.End()

	st.mu.Lock()
	results := append([]map[string]interface{}(nil), st.results...)
	errs := append([]models.ItemError(nil), st.errs...)
	processed, success, errCount := st.processed, st.success, st.errCount
	st.mu.Unlock()

	jobResult := map[string]interface{}{
		"success_count": success,
		"error_count":   errCount,
		"total_items":   processed,
		"errors":        errs,
	}

	if job.Finalize != nil {
		extra, err := job.Finalize(ctx, results, catalogID, jctx)
		if err != nil {
			tracing.SetError(ctx, err)
			return e.failJob(ctx, jobID, fmt.Errorf("executor: finalize: %w", err))
		}
		for k, v := range extra {
			jobResult[k] = v
		}
	}

	if err := e.batches.UpdateJobResult(ctx, jobID, jobResult); err != nil {
		return e.failJob(ctx, jobID, fmt.Errorf("executor: persist result: %w", err))
	}
	if err := e.batches.UpdateJobStatus(ctx, jobID, models.JobStatusSuccess, ""); err != nil {
		return fmt.Errorf("executor: transition to success: %w", err)
	}

	pub.Done(ctx, processed, processed, success, errCount)
	return nil
}

// finishEmpty handles spec.md §8's "empty discovery" boundary: zero
// batches, no finalizer call, job success with total_items = 0.
func (e *Executor) finishEmpty(ctx context.Context, jobID string, pub *progress.Publisher) error {
	result := map[string]interface{}{
		"success_count": 0,
		"error_count":   0,
		"total_items":   0,
		"errors":        []models.ItemError{},
	}
	if err := e.batches.UpdateJobResult(ctx, jobID, result); err != nil {
		return e.failJob(ctx, jobID, fmt.Errorf("executor: persist empty result: %w", err))
	}
	if err := e.batches.UpdateJobStatus(ctx, jobID, models.JobStatusSuccess, ""); err != nil {
		return fmt.Errorf("executor: transition to success: %w", err)
	}
	pub.Done(ctx, 0, 0, 0, 0)
	return nil
}

// finishCancelled persists the job's cancelled terminal status. It uses a
// background context for the store writes since ctx is already Done —
// cancellation must not also abort recording that the job was cancelled.
func (e *Executor) finishCancelled(jobID string, pub *progress.Publisher, agg batch.Aggregation) error {
	bg := context.Background()
	if err := e.batches.UpdateJobStatus(bg, jobID, models.JobStatusCancelled, ""); err != nil {
		return fmt.Errorf("executor: transition to cancelled: %w", err)
	}
	pub.Done(bg, agg.Processed, agg.Total, agg.Success, agg.Error)
	return nil
}

// failJob records cause as the job's terminal failure. If ctx is already
// Done, the status write uses a background context so a cancelled run can
// still be marked failed when the failure is unrelated to cancellation.
func (e *Executor) failJob(ctx context.Context, jobID string, cause error) error {
	storeCtx := ctx
	if ctx.Err() != nil {
		storeCtx = context.Background()
	}
	_ = e.batches.UpdateJobStatus(storeCtx, jobID, models.JobStatusFailed, cause.Error())
	tracing.SetError(ctx, cause)
	return cause
}
