package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerExposesRecordedCounters(t *testing.T) {
	m := New()
	m.JobStarted()
	m.JobEnded("success", 1.5)
	m.BatchEnded("completed")
	m.ItemProcessed("success")
	m.ItemProcessed("error")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `catalogjobs_jobs_total{status="success"} 1`)
	assert.Contains(t, body, `catalogjobs_batches_total{status="completed"} 1`)
	assert.Contains(t, body, `catalogjobs_items_processed_total{result="success"} 1`)
	assert.Contains(t, body, `catalogjobs_items_processed_total{result="error"} 1`)
	assert.True(t, strings.Contains(body, "catalogjobs_jobs_active 0"))
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.JobEnded("success", 1)
	b.JobEnded("failed", 1)

	reqA := httptest.NewRequest("GET", "/metrics", nil)
	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, reqA)

	reqB := httptest.NewRequest("GET", "/metrics", nil)
	recB := httptest.NewRecorder()
	b.Handler().ServeHTTP(recB, reqB)

	assert.Contains(t, recA.Body.String(), `status="success"`)
	assert.NotContains(t, recA.Body.String(), `status="failed"`)
	assert.Contains(t, recB.Body.String(), `status="failed"`)
}
