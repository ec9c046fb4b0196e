package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

// MemoryStore is an in-memory Store, grounded in the teacher's
// MemoryStore: one mutex, plain maps, linear scans. Good enough for tests
// and for a single-process executor with no restart-recovery requirement.
type MemoryStore struct {
	mu sync.Mutex

	jobs          map[string]*models.Job
	batches       map[string]*models.JobBatch
	batchesByJob  map[string][]string // jobID -> batch IDs, in creation order
	heartbeats    map[string]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:         make(map[string]*models.Job),
		batches:      make(map[string]*models.JobBatch),
		batchesByJob: make(map[string][]string),
		heartbeats:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if err := models.ValidateJobTransition(job.Status, status); err != nil {
		if job.Status == status {
			return nil // idempotent no-op, matches C5's idempotency contract
		}
		return err
	}
	job.Status = status
	job.Error = errMsg
	now := time.Now()
	switch status {
	case models.JobStatusRunning:
		job.StartedAt = &now
	case models.JobStatusSuccess, models.JobStatusFailed, models.JobStatusCancelled:
		job.EndedAt = &now
	}
	return nil
}

func (s *MemoryStore) UpdateJobResult(ctx context.Context, jobID string, result map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Result = result
	return nil
}

func (s *MemoryStore) UpdateJobProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	p := progress
	job.Progress = &p
	return nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, catalogID string, status models.JobStatus) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Job
	for _, job := range s.jobs {
		if catalogID != "" && job.CatalogID != catalogID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListRunningJobs(ctx context.Context) ([]*models.Job, error) {
	return s.ListJobs(ctx, "", models.JobStatusRunning)
}

func (s *MemoryStore) CreateBatches(ctx context.Context, jobID, catalogID, jobType string, workItems []string, batchSize int) ([]*models.JobBatch, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	total := (len(workItems) + batchSize - 1) / batchSize
	if len(workItems) == 0 {
		total = 0
	}

	var created []*models.JobBatch
	for i := 0; i < total; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(workItems) {
			end = len(workItems)
		}
		items := append([]string(nil), workItems[start:end]...)

		b := &models.JobBatch{
			ID:           uuid.NewString(),
			ParentJobID:  jobID,
			CatalogID:    catalogID,
			BatchNumber:  i,
			TotalBatches: total,
			JobType:      jobType,
			Status:       models.BatchStatusPending,
			WorkItems:    items,
			ItemsCount:   len(items),
			CreatedAt:    time.Now(),
		}
		s.batches[b.ID] = b
		s.batchesByJob[jobID] = append(s.batchesByJob[jobID], b.ID)
		cp := *b
		created = append(created, &cp)
	}
	return created, nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context, parentJobID, workerID string) (*models.JobBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.batchesByJob[parentJobID] {
		b := s.batches[id]
		if b.Status == models.BatchStatusPending {
			b.Status = models.BatchStatusRunning
			b.WorkerID = workerID
			now := time.Now()
			b.StartedAt = &now
			s.heartbeats[id] = now
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNoBatchReady
}

func (s *MemoryStore) ReportProgress(ctx context.Context, batchID string, processed, success, errCount int, errs []models.ItemError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	if processed < b.ProcessedCount || success < b.SuccessCount || errCount < b.ErrorCount {
		return fmt.Errorf("batch: progress counters must not decrease (batch %s)", batchID)
	}
	b.ProcessedCount, b.SuccessCount, b.ErrorCount = processed, success, errCount
	if len(errs) > 0 {
		b.Errors = append(b.Errors, errs...)
		if len(b.Errors) > 100 {
			b.Errors = b.Errors[:100]
		}
	}
	s.heartbeats[batchID] = time.Now()
	return nil
}

func (s *MemoryStore) CompleteBatch(ctx context.Context, batchID string, results map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	if models.IsTerminalBatchStatus(b.Status) {
		return nil
	}
	b.Status = models.BatchStatusCompleted
	b.Results = results
	now := time.Now()
	b.CompletedAt = &now
	return nil
}

func (s *MemoryStore) FailBatch(ctx context.Context, batchID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	if models.IsTerminalBatchStatus(b.Status) {
		return nil
	}
	b.Status = models.BatchStatusFailed
	b.ErrorMessage = errMsg
	now := time.Now()
	b.CompletedAt = &now
	return nil
}

func (s *MemoryStore) CancelJobBatches(ctx context.Context, parentJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range s.batchesByJob[parentJobID] {
		b := s.batches[id]
		if models.IsTerminalBatchStatus(b.Status) {
			continue
		}
		b.Status = models.BatchStatusCancelled
		b.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, parentJobID string) (Aggregation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var agg Aggregation
	for _, id := range s.batchesByJob[parentJobID] {
		b := s.batches[id]
		agg.Total++
		agg.Processed += b.ProcessedCount
		agg.Success += b.SuccessCount
		agg.Error += b.ErrorCount
		switch b.Status {
		case models.BatchStatusPending:
			agg.Pending++
		case models.BatchStatusRunning:
			agg.Running++
		case models.BatchStatusCompleted:
			agg.Completed++
		case models.BatchStatusFailed:
			agg.Failed++
		case models.BatchStatusCancelled:
			agg.Cancelled++
		}
	}
	return agg, nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, batchID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	if b.WorkerID != workerID {
		return fmt.Errorf("batch: %s not assigned to worker %s", batchID, workerID)
	}
	s.heartbeats[batchID] = time.Now()
	return nil
}

func (s *MemoryStore) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-timeout)
	reclaimed := 0
	for id, b := range s.batches {
		if b.Status != models.BatchStatusRunning {
			continue
		}
		if last, ok := s.heartbeats[id]; ok && last.Before(cutoff) {
			b.Status = models.BatchStatusPending
			b.WorkerID = ""
			b.StartedAt = nil
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (s *MemoryStore) Close() error { return nil }
