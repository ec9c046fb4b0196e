// Package progress implements the C6 progress publisher: a single-threaded,
// debounced emitter that turns raw batch-progress counters into the
// `{job_id, phase, processed, total, success, error, rate_per_sec_ewma,
// eta_seconds}` events readers actually see.
//
// Grounded in original_source/lumina/jobs/progress_publisher.py: that code
// publishes via Postgres NOTIFY plus a polling table with "never block,
// fail gracefully" as the explicit design goal. This package keeps that
// shape (publish-and-forget through the storage gateway) but adds the
// debounce and EWMA smoothing spec.md calls for, and replaces the
// table-poll fallback with an in-process ring buffer so readers with no
// active subscription still see the last N events regardless of backend.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lumina-project/catalogjobs/pkg/store"
)

// RingBufferSize is how many past events a Publisher retains in memory for
// readers with no live subscription (spec.md §4.6).
const RingBufferSize = 256

// DebounceInterval is the minimum spacing between emitted events, outside
// of unconditional terminal-transition emits.
const DebounceInterval = 250 * time.Millisecond

// EWMASmoothing is the smoothing factor applied to the observed
// items-per-second throughput between emits.
const EWMASmoothing = 0.2

// Phase names a job passes through; used only as a label on events.
type Phase string

const (
	PhaseDiscover Phase = "discover"
	PhaseRunning  Phase = "running"
	PhaseFinalize Phase = "finalize"
	PhaseDone     Phase = "done"
)

// Event is the wire shape published to subscribers and kept in the ring
// buffer.
type Event struct {
	JobID          string  `json:"job_id"`
	Phase          Phase   `json:"phase"`
	Processed      int     `json:"processed"`
	Total          int     `json:"total"`
	Success        int     `json:"success"`
	Error          int     `json:"error"`
	RatePerSecEWMA float64 `json:"rate_per_sec_ewma"`
	ETASeconds     float64 `json:"eta_seconds"`
}

// Publisher is a single-job progress emitter. One Publisher belongs to
// exactly one job; the executor creates one per running job and discards
// it when the job reaches a terminal state.
type Publisher struct {
	jobID   string
	gw      store.Gateway
	channel string

	limiter *rate.Limiter

	mu        sync.Mutex
	lastEmit  time.Time
	lastCount int
	rateEWMA  float64

	ring   []Event
	ringMu sync.Mutex
}

// New creates a Publisher for jobID, publishing through gw.
func New(jobID string, gw store.Gateway) *Publisher {
	return &Publisher{
		jobID:   jobID,
		gw:      gw,
		channel: channelFor(jobID),
		limiter: rate.NewLimiter(rate.Every(DebounceInterval), 1),
		ring:    make([]Event, 0, RingBufferSize),
	}
}

func channelFor(jobID string) string {
	return "job_progress_" + jobID
}

// Report is called by the executor after every batch progress update. It
// debounces to at most one emitted event per DebounceInterval unless force
// is set (batch terminal transitions always force an emit, per spec.md
// §4.6's "at least one event per batch terminal transition").
func (p *Publisher) Report(ctx context.Context, phase Phase, processed, total, success, errCount int, force bool) {
	now := time.Now()

	p.mu.Lock()
	rate := p.updateRateLocked(now, processed)
	p.mu.Unlock()

	if !force && !p.limiter.Allow() {
		return
	}

	eta := etaSeconds(rate, processed, total)
	evt := Event{
		JobID:          p.jobID,
		Phase:          phase,
		Processed:      processed,
		Total:          total,
		Success:        success,
		Error:          errCount,
		RatePerSecEWMA: rate,
		ETASeconds:     eta,
	}
	p.emit(ctx, evt)
}

// updateRateLocked folds the observed delta-processed-per-elapsed-time into
// the running EWMA and returns the current estimate. Must be called with
// p.mu held.
func (p *Publisher) updateRateLocked(now time.Time, processed int) float64 {
	if p.lastEmit.IsZero() {
		p.lastEmit = now
		p.lastCount = processed
		return p.rateEWMA
	}
	elapsed := now.Sub(p.lastEmit).Seconds()
	delta := processed - p.lastCount
	p.lastEmit = now
	p.lastCount = processed
	if elapsed <= 0 || delta < 0 {
		return p.rateEWMA
	}
	observed := float64(delta) / elapsed
	if p.rateEWMA == 0 {
		p.rateEWMA = observed
	} else {
		p.rateEWMA = EWMASmoothing*observed + (1-EWMASmoothing)*p.rateEWMA
	}
	return p.rateEWMA
}

func etaSeconds(rate float64, processed, total int) float64 {
	remaining := total - processed
	if remaining <= 0 || rate <= 0 {
		return 0
	}
	return float64(remaining) / rate
}

// emit appends the event to the ring buffer for readers with no live
// subscription, then publishes it through the gateway (best-effort: a
// publish error is ignored).
func (p *Publisher) emit(ctx context.Context, evt Event) {
	p.appendRing(evt)

	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	// Best-effort: a publish failure never fails the job. Publish runs
	// under ctx; no gateway applies a shorter timeout of its own.
	_ = p.gw.Publish(ctx, p.channel, payload)
}

func (p *Publisher) appendRing(evt Event) {
	p.ringMu.Lock()
	defer p.ringMu.Unlock()
	p.ring = append(p.ring, evt)
	if len(p.ring) > RingBufferSize {
		p.ring = p.ring[len(p.ring)-RingBufferSize:]
	}
}

// Recent returns a copy of the last events still held in the ring buffer,
// oldest first.
func (p *Publisher) Recent() []Event {
	p.ringMu.Lock()
	defer p.ringMu.Unlock()
	out := make([]Event, len(p.ring))
	copy(out, p.ring)
	return out
}

// Done emits an unconditional final event.
// Called once when the job reaches a terminal status.
func (p *Publisher) Done(ctx context.Context, processed, total, success, errCount int) {
	p.Report(ctx, PhaseDone, processed, total, success, errCount, true)
}
