package batch

import (
	"context"
	"time"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

// Manager is the façade package executor and package controller depend on.
// It is a thin policy layer over Store: default heartbeat timeout, and a
// single place to apply tracing/logging around every batch operation
// (wired in internal/tracing, not here, to keep this package storage-only).
type Manager struct {
	store            Store
	heartbeatTimeout time.Duration
}

// New wraps a Store with the default heartbeat timeout from spec.md §5
// (stale running batches are only reclaimed after 60s without a heartbeat).
func New(store Store) *Manager {
	return &Manager{store: store, heartbeatTimeout: models.HeartbeatTimeout}
}

// WithHeartbeatTimeout overrides the default staleness window.
func (m *Manager) WithHeartbeatTimeout(d time.Duration) *Manager {
	m.heartbeatTimeout = d
	return m
}

func (m *Manager) CreateJob(ctx context.Context, job *models.Job) error {
	return m.store.CreateJob(ctx, job)
}

func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

func (m *Manager) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	return m.store.UpdateJobStatus(ctx, jobID, status, errMsg)
}

func (m *Manager) UpdateJobResult(ctx context.Context, jobID string, result map[string]interface{}) error {
	return m.store.UpdateJobResult(ctx, jobID, result)
}

func (m *Manager) UpdateJobProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	return m.store.UpdateJobProgress(ctx, jobID, progress)
}

func (m *Manager) ListJobs(ctx context.Context, catalogID string, status models.JobStatus) ([]*models.Job, error) {
	return m.store.ListJobs(ctx, catalogID, status)
}

// ListRunningJobs returns jobs left in JobStatusRunning by a prior process,
// for restart recovery.
func (m *Manager) ListRunningJobs(ctx context.Context) ([]*models.Job, error) {
	return m.store.ListRunningJobs(ctx)
}

// CreateBatches persists ceil(n/batchSize) pending batch rows for a job.
func (m *Manager) CreateBatches(ctx context.Context, jobID, catalogID, jobType string, workItems []string, batchSize int) ([]*models.JobBatch, error) {
	return m.store.CreateBatches(ctx, jobID, catalogID, jobType, workItems, batchSize)
}

// ClaimNext hands one pending batch to workerID, or ErrNoBatchReady.
func (m *Manager) ClaimNext(ctx context.Context, parentJobID, workerID string) (*models.JobBatch, error) {
	return m.store.ClaimNext(ctx, parentJobID, workerID)
}

func (m *Manager) ReportProgress(ctx context.Context, batchID string, processed, success, errCount int, errs []models.ItemError) error {
	return m.store.ReportProgress(ctx, batchID, processed, success, errCount, errs)
}

func (m *Manager) Complete(ctx context.Context, batchID string, results map[string]interface{}) error {
	return m.store.CompleteBatch(ctx, batchID, results)
}

func (m *Manager) Fail(ctx context.Context, batchID string, errMsg string) error {
	return m.store.FailBatch(ctx, batchID, errMsg)
}

func (m *Manager) CancelJobBatches(ctx context.Context, parentJobID string) error {
	return m.store.CancelJobBatches(ctx, parentJobID)
}

func (m *Manager) Aggregate(ctx context.Context, parentJobID string) (Aggregation, error) {
	return m.store.Aggregate(ctx, parentJobID)
}

func (m *Manager) Heartbeat(ctx context.Context, batchID, workerID string) error {
	return m.store.Heartbeat(ctx, batchID, workerID)
}

// ReclaimOrphaned reclaims running batches whose heartbeat has gone stale,
// using the manager's configured timeout. Called once at startup (restart
// recovery) by pkg/controller.Recover; nothing runs it periodically.
func (m *Manager) ReclaimOrphaned(ctx context.Context) (int, error) {
	return m.store.ReclaimStale(ctx, m.heartbeatTimeout)
}

func (m *Manager) Close() error { return m.store.Close() }
