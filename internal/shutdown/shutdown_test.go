package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsFunctionsInReverseOrder(t *testing.T) {
	m := New(time.Second, nil)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		m.Register(func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			return nil
		})
	}

	m.Shutdown()
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestShutdownContinuesAfterStepError(t *testing.T) {
	m := New(time.Second, nil)
	secondRan := false
	m.Register(func(ctx context.Context) error { return errors.New("boom") })
	m.Register(func(ctx context.Context) error { secondRan = true; return nil })

	m.Shutdown()
	assert.True(t, secondRan)
}

func TestDoneClosesAfterShutdown(t *testing.T) {
	m := New(time.Second, nil)
	select {
	case <-m.Done():
		t.Fatal("done channel closed before shutdown")
	default:
	}

	m.Shutdown()
	select {
	case <-m.Done():
	default:
		t.Fatal("done channel not closed after shutdown")
	}
}

func TestWaitForJobsReturnsWhenCheckSucceeds(t *testing.T) {
	calls := 0
	fn := WaitForJobs(func() bool {
		calls++
		return calls >= 3
	}, 5*time.Millisecond, "jobs")

	err := fn(context.Background())
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestWaitForJobsTimesOut(t *testing.T) {
	fn := WaitForJobs(func() bool { return false }, 5*time.Millisecond, "jobs")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := fn(ctx)
	assert.Error(t, err)
}
