package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

// PostgresStore implements Store against PostgreSQL. ClaimNext is grounded
// in the teacher's AssignJobToWorker: a row-locked SELECT followed by an
// UPDATE inside one transaction, generalized here to SELECT ... FOR UPDATE
// SKIP LOCKED so concurrent claimers never block on each other, only on
// actually-contended rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pool against dsn and ensures the job/batch
// schema exists. It does not create catalog/image tables — those belong to
// pkg/store, which may share the same database.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("batch: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("batch: ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("batch: init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL DEFAULT '',
		job_type TEXT NOT NULL,
		status TEXT NOT NULL,
		parameters JSONB,
		progress JSONB,
		result JSONB,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		started_at TIMESTAMP,
		ended_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_catalog_status ON jobs(catalog_id, status);

	CREATE TABLE IF NOT EXISTS job_batches (
		id TEXT PRIMARY KEY,
		parent_job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		catalog_id TEXT NOT NULL DEFAULT '',
		batch_number INTEGER NOT NULL,
		total_batches INTEGER NOT NULL,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL,
		work_items JSONB NOT NULL,
		items_count INTEGER NOT NULL,
		worker_id TEXT NOT NULL DEFAULT '',
		processed_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		results JSONB,
		errors JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		last_heartbeat TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_batches_job_status ON job_batches(parent_job_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, catalog_id, job_type, status, parameters, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, job.ID, job.CatalogID, job.JobType, job.Status, params, job.CreatedAt)
	return err
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	var params, progress, result []byte
	var startedAt, endedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, catalog_id, job_type, status, parameters, progress, result, error, created_at, started_at, ended_at
		FROM jobs WHERE id = $1
	`, jobID).Scan(&job.ID, &job.CatalogID, &job.JobType, &job.Status, &params, &progress, &result,
		&job.Error, &job.CreatedAt, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		json.Unmarshal(params, &job.Parameters)
	}
	if len(progress) > 0 {
		var p models.JobProgress
		if json.Unmarshal(progress, &p) == nil {
			job.Progress = &p
		}
	}
	if len(result) > 0 {
		json.Unmarshal(result, &job.Result)
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		job.EndedAt = &endedAt.Time
	}
	return &job, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrJobNotFound
		}
		return err
	}
	from := models.JobStatus(current)
	if from == status {
		return tx.Commit()
	}
	if err := models.ValidateJobTransition(from, status); err != nil {
		return err
	}

	var startedCol, endedCol string
	switch status {
	case models.JobStatusRunning:
		startedCol = ", started_at = NOW()"
	case models.JobStatusSuccess, models.JobStatusFailed, models.JobStatusCancelled:
		endedCol = ", ended_at = NOW()"
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE jobs SET status = $1, error = $2%s%s WHERE id = $3`, startedCol, endedCol),
		status, errMsg, jobID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) UpdateJobResult(ctx context.Context, jobID string, result map[string]interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET result = $1 WHERE id = $2`, data, jobID)
	return err
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET progress = $1 WHERE id = $2`, data, jobID)
	return err
}

func (s *PostgresStore) ListJobs(ctx context.Context, catalogID string, status models.JobStatus) ([]*models.Job, error) {
	query := `SELECT id FROM jobs WHERE ($1 = '' OR catalog_id = $1) AND ($2 = '' OR status = $2) ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, catalogID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	var out []*models.Job
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *PostgresStore) ListRunningJobs(ctx context.Context) ([]*models.Job, error) {
	return s.ListJobs(ctx, "", models.JobStatusRunning)
}

func (s *PostgresStore) CreateBatches(ctx context.Context, jobID, catalogID, jobType string, workItems []string, batchSize int) ([]*models.JobBatch, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	total := (len(workItems) + batchSize - 1) / batchSize
	if len(workItems) == 0 {
		total = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var created []*models.JobBatch
	for i := 0; i < total; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(workItems) {
			end = len(workItems)
		}
		items := workItems[start:end]
		itemsJSON, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}

		b := &models.JobBatch{
			ID:           uuid.NewString(),
			ParentJobID:  jobID,
			CatalogID:    catalogID,
			BatchNumber:  i,
			TotalBatches: total,
			JobType:      jobType,
			Status:       models.BatchStatusPending,
			WorkItems:    append([]string(nil), items...),
			ItemsCount:   len(items),
			CreatedAt:    time.Now(),
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_batches (id, parent_job_id, catalog_id, batch_number, total_batches, job_type, status, work_items, items_count, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, b.ID, b.ParentJobID, b.CatalogID, b.BatchNumber, b.TotalBatches, b.JobType, b.Status, itemsJSON, b.ItemsCount, b.CreatedAt)
		if err != nil {
			return nil, err
		}
		created = append(created, b)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// ClaimNext selects one pending batch under FOR UPDATE SKIP LOCKED so
// concurrent workers never block each other while claiming, then promotes
// it to running in the same transaction.
func (s *PostgresStore) ClaimNext(ctx context.Context, parentJobID, workerID string) (*models.JobBatch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var batchID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM job_batches
		WHERE parent_job_id = $1 AND status = $2
		ORDER BY batch_number ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, parentJobID, models.BatchStatusPending).Scan(&batchID)
	if err == sql.ErrNoRows {
		return nil, ErrNoBatchReady
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE job_batches SET status = $1, worker_id = $2, started_at = $3, last_heartbeat = $3
		WHERE id = $4
	`, models.BatchStatusRunning, workerID, now, batchID)
	if err != nil {
		return nil, err
	}

	b, err := s.scanBatchTx(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}
	return b, tx.Commit()
}

func (s *PostgresStore) scanBatchTx(ctx context.Context, tx *sql.Tx, batchID string) (*models.JobBatch, error) {
	var b models.JobBatch
	var itemsJSON, resultsJSON, errorsJSON []byte
	var startedAt, completedAt sql.NullTime

	err := tx.QueryRowContext(ctx, `
		SELECT id, parent_job_id, catalog_id, batch_number, total_batches, job_type, status,
		       work_items, items_count, worker_id, processed_count, success_count, error_count,
		       results, errors, error_message, created_at, started_at, completed_at
		FROM job_batches WHERE id = $1
	`, batchID).Scan(&b.ID, &b.ParentJobID, &b.CatalogID, &b.BatchNumber, &b.TotalBatches, &b.JobType,
		&b.Status, &itemsJSON, &b.ItemsCount, &b.WorkerID, &b.ProcessedCount, &b.SuccessCount,
		&b.ErrorCount, &resultsJSON, &errorsJSON, &b.ErrorMessage, &b.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(itemsJSON, &b.WorkItems)
	if len(resultsJSON) > 0 {
		json.Unmarshal(resultsJSON, &b.Results)
	}
	if len(errorsJSON) > 0 {
		json.Unmarshal(errorsJSON, &b.Errors)
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return &b, nil
}

func (s *PostgresStore) ReportProgress(ctx context.Context, batchID string, processed, success, errCount int, errs []models.ItemError) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentProcessed, currentSuccess, currentError int
	var existingErrors []byte
	err = tx.QueryRowContext(ctx, `
		SELECT processed_count, success_count, error_count, errors FROM job_batches WHERE id = $1 FOR UPDATE
	`, batchID).Scan(&currentProcessed, &currentSuccess, &currentError, &existingErrors)
	if err == sql.ErrNoRows {
		return ErrBatchNotFound
	}
	if err != nil {
		return err
	}
	if processed < currentProcessed || success < currentSuccess || errCount < currentError {
		return fmt.Errorf("batch: progress counters must not decrease (batch %s)", batchID)
	}

	var merged []models.ItemError
	if len(existingErrors) > 0 {
		json.Unmarshal(existingErrors, &merged)
	}
	merged = append(merged, errs...)
	if len(merged) > 100 {
		merged = merged[:100]
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE job_batches SET processed_count = $1, success_count = $2, error_count = $3, errors = $4, last_heartbeat = NOW()
		WHERE id = $5
	`, processed, success, errCount, mergedJSON, batchID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) CompleteBatch(ctx context.Context, batchID string, results map[string]interface{}) error {
	return s.terminalTransition(ctx, batchID, models.BatchStatusCompleted, results, "")
}

func (s *PostgresStore) FailBatch(ctx context.Context, batchID string, errMsg string) error {
	return s.terminalTransition(ctx, batchID, models.BatchStatusFailed, nil, errMsg)
}

func (s *PostgresStore) terminalTransition(ctx context.Context, batchID string, to models.BatchStatus, results map[string]interface{}, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM job_batches WHERE id = $1 FOR UPDATE`, batchID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrBatchNotFound
		}
		return err
	}
	if models.IsTerminalBatchStatus(models.BatchStatus(current)) {
		return tx.Commit() // idempotent
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE job_batches SET status = $1, results = $2, error_message = $3, completed_at = NOW()
		WHERE id = $4
	`, to, resultsJSON, errMsg, batchID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) CancelJobBatches(ctx context.Context, parentJobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_batches SET status = $1, completed_at = NOW()
		WHERE parent_job_id = $2 AND status NOT IN ($3, $4, $5)
	`, models.BatchStatusCancelled, parentJobID,
		models.BatchStatusCompleted, models.BatchStatusFailed, models.BatchStatusCancelled)
	return err
}

func (s *PostgresStore) Aggregate(ctx context.Context, parentJobID string) (Aggregation, error) {
	var agg Aggregation
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(processed_count),0), COALESCE(SUM(success_count),0), COALESCE(SUM(error_count),0)
		FROM job_batches WHERE parent_job_id = $1 GROUP BY status
	`, parentJobID)
	if err != nil {
		return agg, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, processed, success, errCount int
		if err := rows.Scan(&status, &count, &processed, &success, &errCount); err != nil {
			return agg, err
		}
		agg.Total += count
		agg.Processed += processed
		agg.Success += success
		agg.Error += errCount
		switch models.BatchStatus(status) {
		case models.BatchStatusPending:
			agg.Pending = count
		case models.BatchStatusRunning:
			agg.Running = count
		case models.BatchStatusCompleted:
			agg.Completed = count
		case models.BatchStatusFailed:
			agg.Failed = count
		case models.BatchStatusCancelled:
			agg.Cancelled = count
		}
	}
	return agg, rows.Err()
}

func (s *PostgresStore) Heartbeat(ctx context.Context, batchID, workerID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE job_batches SET last_heartbeat = NOW() WHERE id = $1 AND worker_id = $2
	`, batchID, workerID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("batch: %s not assigned to worker %s", batchID, workerID)
	}
	return nil
}

// ReclaimStale is the restart-recovery path (spec: §5 Restartability):
// running batches whose last_heartbeat predates the timeout are reset to
// pending so another worker can claim them.
func (s *PostgresStore) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE job_batches
		SET status = $1, worker_id = '', started_at = NULL
		WHERE status = $2 AND last_heartbeat < $3
	`, models.BatchStatusPending, models.BatchStatusRunning, time.Now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Close() error { return s.db.Close() }
