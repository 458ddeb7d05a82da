// Package streams buffers run events between the background graph
// executor and at most one consumer per run. The producer pushes as
// fast as the run generates events; the consumer drains at network
// speed. Buffers survive until a terminal event is delivered, the
// consumer detaches, or an unconsumed buffer outlives its TTL.
package streams

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/pkg/models"
)

const (
	// DefaultTTL is how long an unconsumed buffer survives before it
	// is torn down.
	DefaultTTL = 30 * time.Second

	// DefaultHeartbeatInterval is the consumer heartbeat cadence used
	// when Consume is called with a non-positive interval.
	DefaultHeartbeatInterval = 15 * time.Second
)

var (
	// ErrDuplicateRun is returned by Create when a buffer for the run
	// already exists.
	ErrDuplicateRun = errors.New("stream buffer already exists for run")

	// ErrRunNotFound is returned by Consume when no buffer exists for
	// the run, either because none was created or because it already
	// closed.
	ErrRunNotFound = errors.New("no stream buffer for run")

	// ErrAlreadyConsumed is returned by Consume when a consumer is
	// already attached. Streams are single-consumer.
	ErrAlreadyConsumed = errors.New("stream already has a consumer")
)

// Envelope is one item yielded by Consume: either a run event or a
// heartbeat sentinel that keeps the transport connection warm.
type Envelope struct {
	Event     models.RunEvent
	Heartbeat bool
}

type bufferStatus int

const (
	statusPending bufferStatus = iota
	statusStreaming
	statusClosed
)

// buffer holds the queued events of one run. The queue is unbounded;
// runs are capped by the graph step limit and buffers die with their
// consumer or TTL, so it cannot grow without bound in practice.
type buffer struct {
	mu     sync.Mutex
	queue  []models.RunEvent
	status bufferStatus
	signal chan struct{}
	ttl    *time.Timer
}

// push appends an event and nudges a waiting consumer. It reports
// false once the buffer has closed so producers can stop generating
// stream traffic.
func (b *buffer) push(event models.RunEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == statusClosed {
		return false
	}
	b.queue = append(b.queue, event)
	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true
}

// next pops the head of the queue. The second result reports whether
// an event was available, the third whether the buffer has closed.
// Queued events keep draining after close.
func (b *buffer) next() (models.RunEvent, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return models.RunEvent{}, false, b.status == statusClosed
	}
	event := b.queue[0]
	b.queue = b.queue[1:]
	return event, true, false
}

// attach claims the buffer for a consumer and cancels the TTL timer.
func (b *buffer) attach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.status {
	case statusStreaming:
		return ErrAlreadyConsumed
	case statusClosed:
		return ErrRunNotFound
	}
	b.status = statusStreaming
	if b.ttl != nil {
		b.ttl.Stop()
	}
	return nil
}

// close marks the buffer closed and wakes any waiting consumer.
// Safe to call more than once.
func (b *buffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == statusClosed {
		return
	}
	b.status = statusClosed
	if b.ttl != nil {
		b.ttl.Stop()
	}
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *buffer) pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status == statusPending
}

// Manager owns the per-run stream buffers.
type Manager struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewManager creates a stream buffer manager. A non-positive ttl falls
// back to DefaultTTL. metrics may be nil.
func NewManager(ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		buffers: make(map[string]*buffer),
		ttl:     ttl,
		logger:  logger.With("component", "streams"),
		metrics: metrics,
	}
}

// Create registers a buffer for runID. The TTL timer starts
// immediately: if no consumer attaches before it fires, the buffer is
// torn down and its events dropped.
func (m *Manager) Create(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buffers[runID]; ok {
		return ErrDuplicateRun
	}

	b := &buffer{signal: make(chan struct{}, 1)}
	b.ttl = time.AfterFunc(m.ttl, func() { m.expire(runID, b) })
	m.buffers[runID] = b
	if m.metrics != nil {
		m.metrics.StreamBufferCreated()
	}
	return nil
}

// Push enqueues an event on the run's buffer. It reports false when
// the buffer is gone or closed, which producers use to stop emitting
// stream events; the run itself still executes to completion.
func (m *Manager) Push(runID string, event models.RunEvent) bool {
	m.mu.Lock()
	b, ok := m.buffers[runID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if !b.push(event) {
		return false
	}
	if m.metrics != nil {
		m.metrics.RecordStreamEvent(string(event.Type))
	}
	return true
}

// Consume attaches the single consumer to the run's buffer and returns
// a channel of envelopes. Queued events are delivered first, then
// events as they arrive, with a heartbeat sentinel whenever no event
// has shown up within the interval. The channel closes after the first
// terminal event, when ctx is done, or when the buffer is closed; in
// every case the buffer is removed and later pushes report false.
func (m *Manager) Consume(ctx context.Context, runID string, heartbeat time.Duration) (<-chan Envelope, error) {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	m.mu.Lock()
	b, ok := m.buffers[runID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	if err := b.attach(); err != nil {
		return nil, err
	}

	out := make(chan Envelope)
	go m.drain(ctx, runID, b, out, heartbeat)
	return out, nil
}

func (m *Manager) drain(ctx context.Context, runID string, b *buffer, out chan<- Envelope, heartbeat time.Duration) {
	defer close(out)
	defer m.remove(runID, b)

	timer := time.NewTimer(heartbeat)
	defer timer.Stop()

	for {
		event, ok, closed := b.next()
		if ok {
			select {
			case out <- Envelope{Event: event}:
			case <-ctx.Done():
				return
			}
			if event.Terminal() {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(heartbeat)
			continue
		}
		if closed {
			return
		}

		select {
		case <-b.signal:
		case <-timer.C:
			select {
			case out <- Envelope{Heartbeat: true}:
			case <-ctx.Done():
				return
			}
			timer.Reset(heartbeat)
		case <-ctx.Done():
			return
		}
	}
}

// Close tears down the run's buffer. Queued events a consumer has not
// yet drained are delivered before its channel closes. Closing an
// unknown run is a no-op.
func (m *Manager) Close(runID string) {
	m.mu.Lock()
	b, ok := m.buffers[runID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.remove(runID, b)
}

// Shutdown closes every live buffer.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make(map[string]*buffer, len(m.buffers))
	for id, b := range m.buffers {
		live[id] = b
	}
	m.mu.Unlock()

	for id, b := range live {
		m.remove(id, b)
	}
}

// Len reports the number of live buffers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// expire fires from the TTL timer when no consumer attached in time.
func (m *Manager) expire(runID string, b *buffer) {
	if !b.pending() {
		return
	}
	m.logger.Debug("stream buffer expired unconsumed", "run_id", runID)
	m.remove(runID, b)
}

// remove closes b and deletes the map entry, guarding against the slot
// having been reused for a newer buffer under the same run id.
func (m *Manager) remove(runID string, b *buffer) {
	b.close()

	m.mu.Lock()
	current, ok := m.buffers[runID]
	if ok && current == b {
		delete(m.buffers, runID)
	} else {
		ok = false
	}
	m.mu.Unlock()

	if ok && m.metrics != nil {
		m.metrics.StreamBufferRemoved()
	}
}
