package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// validJobTransitions maps a from-state to its allowed to-states. Terminal
// states (success, failed, cancelled) have no outgoing transitions.
var validJobTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusRunning:   true,
		JobStatusCancelled: true,
	},
	JobStatusRunning: {
		JobStatusSuccess:   true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	},
	JobStatusSuccess:   {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// ValidateJobTransition reports whether a Job may move from one status to another.
func ValidateJobTransition(from, to JobStatus) error {
	allowed, ok := validJobTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source job status: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid job transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalJobStatus reports whether status has no further transitions.
func IsTerminalJobStatus(status JobStatus) bool {
	return status == JobStatusSuccess || status == JobStatusFailed || status == JobStatusCancelled
}

// Job is a single submitted execution of a registered job type.
type Job struct {
	ID         string                 `json:"id"`
	CatalogID  string                 `json:"catalog_id,omitempty"`
	JobType    string                 `json:"job_type"`
	Status     JobStatus              `json:"status"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Progress   *JobProgress           `json:"progress,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	EndedAt    *time.Time             `json:"ended_at,omitempty"`
}

// JobProgress is the last progress snapshot recorded for a Job.
type JobProgress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Success   int     `json:"success"`
	Error     int     `json:"error"`
	RateEWMA  float64 `json:"rate_per_sec_ewma"`
	ETASecs   float64 `json:"eta_seconds"`
}

// BatchStatus is the lifecycle state of a JobBatch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

var validBatchTransitions = map[BatchStatus]map[BatchStatus]bool{
	BatchStatusPending: {
		BatchStatusRunning:   true,
		BatchStatusCancelled: true,
	},
	BatchStatusRunning: {
		BatchStatusCompleted: true,
		BatchStatusFailed:    true,
		BatchStatusCancelled: true,
	},
	BatchStatusCompleted: {},
	BatchStatusFailed:    {},
	BatchStatusCancelled: {},
}

// ValidateBatchTransition reports whether a JobBatch may move from one status to another.
func ValidateBatchTransition(from, to BatchStatus) error {
	allowed, ok := validBatchTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source batch status: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid batch transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalBatchStatus reports whether status has no further transitions.
func IsTerminalBatchStatus(status BatchStatus) bool {
	return status == BatchStatusCompleted || status == BatchStatusFailed || status == BatchStatusCancelled
}

// JobBatch is a durable record of one partition of a Job's work set.
type JobBatch struct {
	ID             string                 `json:"id"`
	ParentJobID    string                 `json:"parent_job_id"`
	CatalogID      string                 `json:"catalog_id"`
	BatchNumber    int                    `json:"batch_number"`
	TotalBatches   int                    `json:"total_batches"`
	JobType        string                 `json:"job_type"`
	Status         BatchStatus            `json:"status"`
	WorkItems      []string               `json:"work_items"`
	ItemsCount     int                    `json:"items_count"`
	WorkerID       string                 `json:"worker_id,omitempty"`
	ProcessedCount int                    `json:"processed_count"`
	SuccessCount   int                    `json:"success_count"`
	ErrorCount     int                    `json:"error_count"`
	Results        map[string]interface{} `json:"results,omitempty"`
	Errors         []ItemError            `json:"errors,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// ItemError records a single per-item processing failure.
type ItemError struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// RetryPolicy governs per-item retry backoff within a batch worker.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy mirrors spec.md §4.8: 50ms * 2^k, capped at 5s, 3 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Backoff returns the backoff duration before retry attempt k (0-indexed).
func (rp RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(rp.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= rp.Multiplier
	}
	d := time.Duration(backoff)
	if d > rp.MaxBackoff {
		return rp.MaxBackoff
	}
	return d
}

// HeartbeatTimeout is the default staleness window before a running batch's
// worker is considered dead and the batch is reclaimed (spec.md §5 Restartability).
const HeartbeatTimeout = 60 * time.Second
