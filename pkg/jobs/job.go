// Package jobs declares the C7 job definition shape and the process-wide
// registry that maps a job name to its discover/process/finalize triple.
//
// Grounded in original_source/lumina/jobs/framework.py's ParallelJob /
// JobRegistry: that module collapsed several near-identical
// parallel_*.py implementations behind one generic "discover, process in
// parallel batches, optionally finalize" shape with a name-keyed registry.
// This package keeps exactly that shape, typed for Go.
package jobs

import (
	"context"
	"time"
)

// Item is one unit of discovered work. Job definitions in this system all
// key their work items by string id (an image id, a source path before an
// Image row exists, or similar), so Item is a plain string rather than a
// generic type parameter — it keeps the registry, the executor, and the
// durable batch rows (which store []string) in lockstep without a type
// switch at the boundary.
type Item = string

// ProcessResult is what Job.Process returns for a single item.
type ProcessResult struct {
	OK     bool
	Result map[string]interface{}
	Err    error
}

// Context carries per-run configuration through to Process and Finalize.
// It is the Go shape of spec.md §4.7's recognized ctx options, plus
// whatever catalog/job identifiers a processor needs to do its work.
type Context struct {
	CatalogID string
	JobID     string
	Params    map[string]interface{}
}

// Bool reads a recognized boolean option, defaulting to def if absent or
// of the wrong type.
func (c Context) Bool(key string, def bool) bool {
	if v, ok := c.Params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int reads a recognized integer option. JSON-decoded parameters commonly
// arrive as float64, so both int and float64 are accepted.
func (c Context) Int(key string, def int) int {
	if v, ok := c.Params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

// Float reads a recognized floating-point option.
func (c Context) Float(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// String reads a recognized string option.
func (c Context) String(key string, def string) string {
	if v, ok := c.Params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// Job is the immutable definition of a registered job type (spec.md
// §4.7's C7). Discover, Process, and Finalize are plain functions rather
// than an interface because each job's behavior is a closure over the
// gateway and decoder it needs — the registry only ever needs to call
// them by name, never to inspect or extend them.
type Job struct {
	Name string

	Discover func(ctx context.Context, catalogID string) ([]Item, error)
	Process  func(ctx context.Context, item Item, jctx Context) ProcessResult
	Finalize func(ctx context.Context, results []map[string]interface{}, catalogID string, jctx Context) (map[string]interface{}, error)

	BatchSize       int
	MaxWorkers      int
	RetryOnFailure  bool
	MaxRetries      int
	TimeoutPerItem  time.Duration
}

// WithDefaults fills in the defaults for any zero-valued numeric field and
// returns the completed Job. RetryOnFailure has no safe zero-value default
// (Go's bool zero value is false, not the spec's default of true), so each
// job definition sets it explicitly at registration instead.
func (j Job) WithDefaults() Job {
	if j.BatchSize <= 0 {
		j.BatchSize = 1000
	}
	if j.MaxWorkers <= 0 {
		j.MaxWorkers = 4
	}
	if j.MaxRetries <= 0 {
		j.MaxRetries = 3
	}
	return j
}
