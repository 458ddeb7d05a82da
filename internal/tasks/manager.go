// Package tasks runs background work under a bounded concurrency
// budget with graceful shutdown.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrDuplicateTask is returned when a task id is already tracked.
	ErrDuplicateTask = errors.New("tasks: duplicate task id")

	// ErrShuttingDown is returned from Submit after Shutdown started.
	ErrShuttingDown = errors.New("tasks: manager is shutting down")

	// ErrShutdownForced reports that the grace window elapsed and
	// surviving tasks were cancelled.
	ErrShutdownForced = errors.New("tasks: shutdown cancelled remaining tasks")
)

// Manager schedules submitted functions onto goroutines gated by a
// semaphore. Submission never blocks the caller: the permit is
// acquired inside the task's own goroutine, so intake stays fast
// while execution concurrency stays bounded.
type Manager struct {
	sem    chan struct{}
	logger *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	tasks    map[string]*handle
	draining bool

	wg sync.WaitGroup
}

type handle struct {
	cancel context.CancelFunc
}

// NewManager builds a manager allowing maxConcurrent tasks to run at
// once. Values below one fall back to ten.
func NewManager(maxConcurrent int, logger *slog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sem:     make(chan struct{}, maxConcurrent),
		logger:  logger.With("component", "tasks"),
		baseCtx: ctx,
		cancel:  cancel,
		tasks:   make(map[string]*handle),
	}
}

// Submit tracks fn under taskID and schedules it. The task blocks on
// a permit inside its goroutine; shutdown cancellation wins that
// wait. Panics from fn are recovered and logged so one bad run never
// takes the process down.
func (m *Manager) Submit(taskID string, fn func(ctx context.Context)) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	if _, ok := m.tasks[taskID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, taskID)
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	m.tasks[taskID] = &handle{cancel: cancel}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.remove(taskID)
		defer cancel()

		select {
		case m.sem <- struct{}{}:
		case <-ctx.Done():
			m.logger.Debug("task cancelled before start", "task_id", taskID)
			return
		}
		defer func() { <-m.sem }()

		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("task panicked",
					"task_id", taskID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()

		fn(ctx)
	}()

	return nil
}

func (m *Manager) remove(taskID string) {
	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()
}

// Cancel stops the named task if it is still tracked and reports
// whether it was found.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	h, ok := m.tasks[taskID]
	m.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// Len reports how many tasks are tracked, queued or running.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Shutdown stops intake and waits up to timeout for tasks to finish.
// Survivors are then cancelled and their teardown awaited. Returns
// nil on a clean drain, ErrShutdownForced otherwise.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("task manager drained")
		return nil
	case <-time.After(timeout):
	}

	m.logger.Warn("shutdown grace elapsed, cancelling tasks", "remaining", m.Len())
	m.cancel()
	<-done
	return ErrShutdownForced
}
