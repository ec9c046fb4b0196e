// Package batch is the durable batch manager (C5): it partitions a job's
// work set into persisted batch rows, hands them out to workers one at a
// time under a row lock, and tracks monotonic progress counters through to
// a terminal state. Package executor drives it; package batch owns the
// state machine.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

var (
	ErrJobNotFound   = errors.New("batch: job not found")
	ErrBatchNotFound = errors.New("batch: batch not found")
	ErrNoBatchReady  = errors.New("batch: no pending batch available")
)

// Aggregation is the totals view over all batches of a job (C5 aggregate).
type Aggregation struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Processed int
	Success   int
	Error     int
}

// Terminal reports whether every batch counted in the aggregation has
// reached a terminal state.
func (a Aggregation) Terminal() bool {
	return a.Total > 0 && a.Pending == 0 && a.Running == 0
}

// Store is the durable backend a Manager drives. Implementations must make
// ClaimNext exclusive: at most one caller ever observes a given batch in
// "running".
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error
	UpdateJobResult(ctx context.Context, jobID string, result map[string]interface{}) error
	UpdateJobProgress(ctx context.Context, jobID string, progress models.JobProgress) error
	ListJobs(ctx context.Context, catalogID string, status models.JobStatus) ([]*models.Job, error)
	ListRunningJobs(ctx context.Context) ([]*models.Job, error)

	// CreateBatches persists ceil(len(workItems)/batchSize) pending batches
	// for a job in a single transaction.
	CreateBatches(ctx context.Context, jobID, catalogID, jobType string, workItems []string, batchSize int) ([]*models.JobBatch, error)

	// ClaimNext atomically selects one pending batch, marks it running,
	// stamps workerID and StartedAt, and returns it. Returns ErrNoBatchReady
	// if none are pending.
	ClaimNext(ctx context.Context, parentJobID, workerID string) (*models.JobBatch, error)

	// ReportProgress sets the batch's counters; callers must pass
	// monotonically non-decreasing values.
	ReportProgress(ctx context.Context, batchID string, processed, success, errCount int, errs []models.ItemError) error

	CompleteBatch(ctx context.Context, batchID string, results map[string]interface{}) error
	FailBatch(ctx context.Context, batchID string, errMsg string) error
	CancelJobBatches(ctx context.Context, parentJobID string) error
	Aggregate(ctx context.Context, parentJobID string) (Aggregation, error)

	// Heartbeat refreshes a running batch's liveness stamp.
	Heartbeat(ctx context.Context, batchID, workerID string) error

	// ReclaimStale transitions running batches whose worker heartbeat is
	// older than timeout back to pending, returning how many were reclaimed.
	ReclaimStale(ctx context.Context, timeout time.Duration) (int, error)

	Close() error
}
