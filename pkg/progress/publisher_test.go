package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-project/catalogjobs/pkg/store"
)

func TestReportDebouncesWithinInterval(t *testing.T) {
	gw := store.NewMemoryGateway()
	p := New("job1", gw)

	p.Report(context.Background(), PhaseRunning, 1, 10, 1, 0, false)
	p.Report(context.Background(), PhaseRunning, 2, 10, 2, 0, false)
	p.Report(context.Background(), PhaseRunning, 3, 10, 3, 0, false)

	recent := p.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, 1, recent[0].Processed)
}

func TestReportForceBypassesDebounce(t *testing.T) {
	gw := store.NewMemoryGateway()
	p := New("job1", gw)

	p.Report(context.Background(), PhaseRunning, 1, 10, 1, 0, false)
	p.Report(context.Background(), PhaseRunning, 2, 10, 2, 0, true)

	recent := p.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[1].Processed)
}

func TestReportEmitsAfterDebounceIntervalElapses(t *testing.T) {
	gw := store.NewMemoryGateway()
	p := New("job1", gw)

	p.Report(context.Background(), PhaseRunning, 1, 10, 1, 0, false)
	time.Sleep(DebounceInterval + 10*time.Millisecond)
	p.Report(context.Background(), PhaseRunning, 5, 10, 5, 0, false)

	recent := p.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, 5, recent[1].Processed)
}

func TestRingBufferCapsAt256(t *testing.T) {
	gw := store.NewMemoryGateway()
	p := New("job1", gw)

	for i := 0; i < RingBufferSize+10; i++ {
		p.Report(context.Background(), PhaseRunning, i, 1000, i, 0, true)
	}

	recent := p.Recent()
	assert.Len(t, recent, RingBufferSize)
	assert.Equal(t, RingBufferSize+9, recent[len(recent)-1].Processed)
}

func TestDonePublishesThroughGateway(t *testing.T) {
	gw := store.NewMemoryGateway()
	p := New("job1", gw)

	p.Done(context.Background(), 10, 10, 9, 1)

	events := gw.Published("job_progress_job1")
	require.Len(t, events, 1)

	var evt Event
	require.NoError(t, json.Unmarshal(events[0], &evt))
	assert.Equal(t, PhaseDone, evt.Phase)
	assert.Equal(t, 10, evt.Processed)
	assert.Equal(t, 9, evt.Success)
	assert.Equal(t, 1, evt.Error)
}

func TestETAZeroWhenRateUnknown(t *testing.T) {
	assert.Equal(t, 0.0, etaSeconds(0, 5, 10))
}

func TestETAZeroWhenNoRemainingWork(t *testing.T) {
	assert.Equal(t, 0.0, etaSeconds(2, 10, 10))
}

func TestETAPositiveWithKnownRate(t *testing.T) {
	assert.Equal(t, 5.0, etaSeconds(2, 0, 10))
}
