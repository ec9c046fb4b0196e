package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noopJob(name string) Job {
	return Job{
		Name:     name,
		Discover: func(ctx context.Context, catalogID string) ([]Item, error) { return nil, nil },
		Process:  func(ctx context.Context, item Item, jctx Context) ProcessResult { return ProcessResult{OK: true} },
	}
}

func TestRegisterAppliesDefaults(t *testing.T) {
	r := NewRegistry()
	r.Register(noopJob("scan"))

	j, ok := r.Get("scan")
	assert.True(t, ok)
	assert.Equal(t, 1000, j.BatchSize)
	assert.Equal(t, 4, j.MaxWorkers)
	assert.Equal(t, 3, j.MaxRetries)
}

func TestRegisterPanicsOnDuplicateName(t *testing.T) {
	r := NewRegistry()
	r.Register(noopJob("scan"))
	assert.Panics(t, func() { r.Register(noopJob("scan")) })
}

func TestRegisterPanicsAfterLock(t *testing.T) {
	r := NewRegistry()
	r.Lock()
	assert.Panics(t, func() { r.Register(noopJob("scan")) })
}

func TestGetUnknownJobReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestListReturnsAllNames(t *testing.T) {
	r := NewRegistry()
	r.Register(noopJob("scan"))
	r.Register(noopJob("detect_duplicates"))
	assert.ElementsMatch(t, []string{"scan", "detect_duplicates"}, r.List())
}

func TestContextParamAccessors(t *testing.T) {
	c := Context{Params: map[string]interface{}{
		"similarity_threshold": float64(7),
		"hash_kind":            "ahash",
		"recompute_hashes":     true,
		"gap_threshold":        1.5,
	}}
	assert.Equal(t, 7, c.Int("similarity_threshold", 5))
	assert.Equal(t, "ahash", c.String("hash_kind", "dhash"))
	assert.True(t, c.Bool("recompute_hashes", false))
	assert.Equal(t, 1.5, c.Float("gap_threshold", 1.0))
	assert.Equal(t, 5, c.Int("missing", 5))
}
