package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

func newTestManager() *Manager {
	return New(NewMemoryStore())
}

func TestCreateBatchesCeilDivision(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	batches, err := m.CreateBatches(ctx, "job1", "cat1", "scan", []string{"a", "b", "c", "d", "e"}, 2)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, 2, batches[0].ItemsCount)
	assert.Equal(t, 2, batches[1].ItemsCount)
	assert.Equal(t, 1, batches[2].ItemsCount)
}

func TestCreateBatchesEmptyWorkSetYieldsZeroBatches(t *testing.T) {
	m := newTestManager()
	batches, err := m.CreateBatches(context.Background(), "job1", "cat1", "scan", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestCreateBatchesSingleItemLargerThanBatchSize(t *testing.T) {
	m := newTestManager()
	batches, err := m.CreateBatches(context.Background(), "job1", "cat1", "scan", []string{"only"}, 1000)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].ItemsCount)
}

func TestClaimNextIsExclusive(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateBatches(ctx, "job1", "cat1", "scan", []string{"a"}, 1)
	require.NoError(t, err)

	b1, err := m.ClaimNext(ctx, "job1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusRunning, b1.Status)

	_, err = m.ClaimNext(ctx, "job1", "worker-b")
	assert.ErrorIs(t, err, ErrNoBatchReady)
}

func TestReportProgressRejectsDecreasingCounters(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	batches, _ := m.CreateBatches(ctx, "job1", "cat1", "scan", []string{"a", "b"}, 2)
	b, err := m.ClaimNext(ctx, "job1", "w1")
	require.NoError(t, err)
	_ = batches

	require.NoError(t, m.ReportProgress(ctx, b.ID, 2, 2, 0, nil))
	err = m.ReportProgress(ctx, b.ID, 1, 1, 0, nil)
	assert.Error(t, err)
}

func TestCompleteAndFailAreIdempotent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, _ = m.CreateBatches(ctx, "job1", "cat1", "scan", []string{"a"}, 1)
	b, err := m.ClaimNext(ctx, "job1", "w1")
	require.NoError(t, err)

	require.NoError(t, m.Complete(ctx, b.ID, map[string]interface{}{"ok": true}))
	require.NoError(t, m.Complete(ctx, b.ID, map[string]interface{}{"ok": true})) // idempotent
	require.NoError(t, m.Fail(ctx, b.ID, "too late"))                            // no-op once terminal

	agg, err := m.Aggregate(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Completed)
	assert.Equal(t, 0, agg.Failed)
}

func TestAggregateSumsAcrossBatches(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, _ = m.CreateBatches(ctx, "job1", "cat1", "scan", []string{"a", "b", "c", "d"}, 2)

	b1, _ := m.ClaimNext(ctx, "job1", "w1")
	b2, _ := m.ClaimNext(ctx, "job1", "w2")
	require.NoError(t, m.ReportProgress(ctx, b1.ID, 2, 2, 0, nil))
	require.NoError(t, m.Complete(ctx, b1.ID, nil))
	require.NoError(t, m.ReportProgress(ctx, b2.ID, 2, 1, 1, nil))
	require.NoError(t, m.Complete(ctx, b2.ID, nil))

	agg, err := m.Aggregate(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Total)
	assert.Equal(t, 4, agg.Processed)
	assert.Equal(t, 3, agg.Success)
	assert.Equal(t, 1, agg.Error)
	assert.True(t, agg.Terminal())
}

func TestCancelJobBatchesOnlyAffectsNonTerminal(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, _ = m.CreateBatches(ctx, "job1", "cat1", "scan", []string{"a", "b"}, 1)

	b1, _ := m.ClaimNext(ctx, "job1", "w1")
	require.NoError(t, m.Complete(ctx, b1.ID, nil))

	require.NoError(t, m.CancelJobBatches(ctx, "job1"))

	agg, err := m.Aggregate(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Completed)
	assert.Equal(t, 1, agg.Cancelled)
}

func TestReclaimOrphanedResetsStaleRunningBatch(t *testing.T) {
	store := NewMemoryStore()
	m := New(store).WithHeartbeatTimeout(10 * time.Millisecond)
	ctx := context.Background()
	_, _ = m.CreateBatches(ctx, "job1", "cat1", "scan", []string{"a"}, 1)
	_, err := m.ClaimNext(ctx, "job1", "w1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	n, err := m.ReclaimOrphaned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := m.ClaimNext(ctx, "job1", "w2")
	require.NoError(t, err)
	assert.Equal(t, "w2", b.WorkerID)
}

func TestUpdateJobStatusValidatesTransitions(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	job := &models.Job{JobType: "scan", Status: models.JobStatusPending, CreatedAt: time.Now()}
	require.NoError(t, m.CreateJob(ctx, job))

	require.NoError(t, m.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""))
	err := m.UpdateJobStatus(ctx, job.ID, models.JobStatusPending, "")
	assert.Error(t, err)
}
