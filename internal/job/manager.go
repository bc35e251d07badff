package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"tabimport/internal/logging"
)

// ErrShuttingDown is returned by Submit after Shutdown started.
var ErrShuttingDown = errors.New("job: manager is shutting down")

// Manager runs jobs in the background with at most maxConcurrent runs at a
// time. Runs use the manager's own context, so a client that stops polling
// never aborts server-side work; only Shutdown does.
type Manager struct {
	ctl *Controller
	sem *semaphore.Weighted
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running map[string]struct{} // queued or running job ids
	wg      sync.WaitGroup
}

func NewManager(ctl *Controller, maxConcurrent int, log *slog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctl:     ctl,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		log:     logging.OrDiscard(log),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]struct{}),
	}
}

// Submit checks that id can run and queues it. It returns as soon as the job
// is accepted; the run waits for a free slot.
func (m *Manager) Submit(ctx context.Context, id string) error {
	if err := m.ctl.CheckRunnable(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShuttingDown
	}
	if _, busy := m.running[id]; busy {
		return fmt.Errorf("%w: job %s is already queued or running", ErrInvalidTransition, id)
	}
	m.running[id] = struct{}{}
	m.wg.Add(1)
	go m.run(id)
	return nil
}

func (m *Manager) run(id string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
	}()

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		m.log.Warn("job not started before shutdown", "job_id", id)
		return
	}
	defer m.sem.Release(1)

	// Run logs job failures itself; only a refused start is reported here.
	if err := m.ctl.Run(m.ctx, id); errors.Is(err, ErrInvalidTransition) {
		m.log.Warn("job not runnable", "job_id", id, "error", err)
	}
}

// Wait blocks until every submitted run has returned.
func (m *Manager) Wait() { m.wg.Wait() }

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// record their terminal state, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
