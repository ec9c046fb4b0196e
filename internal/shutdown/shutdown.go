// Package shutdown implements LIFO graceful shutdown, grounded almost
// unchanged in shared/pkg/shutdown/shutdown.go — same Manager shape and
// signal handling, restated to log through internal/logging instead of
// fmt.Printf so shutdown messages carry the same structure as the rest
// of the daemon's output.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lumina-project/catalogjobs/internal/logging"
)

// Manager runs registered shutdown functions in reverse registration
// order once a termination signal (or explicit Shutdown call) arrives.
type Manager struct {
	shutdownFuncs []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	doneChan      chan struct{}
	once          sync.Once
	log           *logging.Logger
}

// New creates a Manager whose Shutdown call aborts after timeout.
func New(timeout time.Duration, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default
	}
	return &Manager{
		timeout:  timeout,
		doneChan: make(chan struct{}),
		log:      log,
	}
}

// Register adds a shutdown function. Functions run in reverse
// registration order (LIFO) — the controller's executor pool, say,
// should drain before the store it reads from closes.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, fn)
}

// Wait blocks until SIGTERM or SIGINT arrives, then runs Shutdown.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	m.log.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
	m.Shutdown()
}

// WaitWithContext blocks until a signal arrives or ctx is cancelled,
// running Shutdown in the former case.
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		m.log.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
		m.Shutdown()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once shutdown has been initiated.
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Shutdown runs every registered function, most-recently-registered
// first, logging but not aborting on individual failures.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.once.Do(func() { close(m.doneChan) })

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		if err := m.shutdownFuncs[i](ctx); err != nil {
			m.log.Error("shutdown step failed", map[string]interface{}{"index": i, "error": err.Error()})
		}
	}

	m.log.Info("graceful shutdown complete", nil)
}

// StopHTTPServer returns a shutdown function for an *http.Server-shaped
// type (the metrics listener, in this daemon).
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("stop %s server: %w", name, err)
		}
		return nil
	}
}

// CloseResource returns a shutdown function for an io.Closer-shaped type
// (the batch store, the models gateway).
func CloseResource(closer interface{ Close() error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		return nil
	}
}

// WaitForJobs returns a shutdown function that polls checkFunc until it
// reports true (e.g. the controller's running-job count reaching zero)
// or ctx expires — used to let in-flight jobs reach a terminal status
// before the process exits instead of abandoning them mid-batch.
func WaitForJobs(checkFunc func() bool, pollInterval time.Duration, resourceName string) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if checkFunc() {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("timeout waiting for %s: %w", resourceName, ctx.Err())
			case <-ticker.C:
			}
		}
	}
}
