package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetGlobalFlags clears the package-level flag vars these tests mutate,
// since Cobra wires them to persistent package state rather than per-call
// arguments.
func resetGlobalFlags(t *testing.T) {
	t.Helper()
	dbDSN = ""
	outputFormat = "table"
	submitCatalogID = ""
	submitParamsRaw = ""
	listCatalogID = ""
	listStatus = ""
}

func fakeCmd() *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.Background())
	return c
}

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// everything written to it. --output table writes straight to os.Stdout
// (tablewriter's default), so this is the only way to assert on it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

// Every command here reopens a brand-new empty in-memory store
// (dbDSN == "" builds a fresh store.NewMemoryGateway/batch.NewMemoryStore
// per call, matching catalogjobsctl's real one-shot-process behavior) so
// only single-invocation outcomes are checkable here — submit-then-get
// round trips only work against a shared store, which in-memory mode
// never gives two separate process invocations anyway.

func TestRunJobsSubmitValidJobTypeSucceeds(t *testing.T) {
	resetGlobalFlags(t)
	submitCatalogID = "cat1"
	outputFormat = "json"

	var submitErr error
	out := captureStdout(t, func() {
		submitErr = runJobsSubmit(fakeCmd(), []string{"scan"})
	})
	require.NoError(t, submitErr)

	var job struct {
		CatalogID string `json:"catalog_id"`
		JobType   string `json:"job_type"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(out)), &job))
	assert.Equal(t, "cat1", job.CatalogID)
	assert.Equal(t, "scan", job.JobType)
	assert.Equal(t, "pending", job.Status)
}

func TestRunJobsSubmitRejectsUnknownJobType(t *testing.T) {
	resetGlobalFlags(t)
	submitCatalogID = "cat1"

	err := runJobsSubmit(fakeCmd(), []string{"not-a-real-job"})
	assert.Error(t, err)
}

func TestRunJobsSubmitRejectsInvalidParamsJSON(t *testing.T) {
	resetGlobalFlags(t)
	submitCatalogID = "cat1"
	submitParamsRaw = "{not json"

	err := runJobsSubmit(fakeCmd(), []string{"scan"})
	assert.Error(t, err)
}

func TestRunJobsGetUnknownJobErrors(t *testing.T) {
	resetGlobalFlags(t)
	err := runJobsGet(fakeCmd(), []string{"does-not-exist"})
	assert.Error(t, err)
}

func TestRunJobsCancelUnknownJobErrors(t *testing.T) {
	resetGlobalFlags(t)
	err := runJobsCancel(fakeCmd(), []string{"does-not-exist"})
	assert.Error(t, err)
}

func TestRunJobsListOnEmptyStoreSucceeds(t *testing.T) {
	resetGlobalFlags(t)
	outputFormat = "json"

	out := captureStdout(t, func() {
		require.NoError(t, runJobsList(fakeCmd(), nil))
	})

	var jobs []interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(out)), &jobs))
	assert.Empty(t, jobs)
}
