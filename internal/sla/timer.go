package sla

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/oxbowlabs/steward/internal/work"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// Marker is the slice of the store the timer needs: the idempotent breach
// latch. It filters terminal, unbounded, and already-breached items.
type Marker interface {
	MarkBreached(itemID string) (*work.Item, bool)
}

type entry struct {
	itemID string
	at     time.Time
}

type deadlineHeap []entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Manager watches item deadlines and emits each DeadlineBreached event
// exactly once. Deadlines are fixed at item creation and never extended;
// breach is informational (escalating), not cancelling.
type Manager struct {
	mu     sync.Mutex
	heap   deadlineHeap
	marker Marker
	events chan *work.Item
	wake   chan struct{}
	logger logpkg.Logger

	// now is swapped in tests for a deterministic clock.
	now func() time.Time
}

// NewManager creates a Manager emitting breach events on a buffered channel.
func NewManager(marker Marker, logger logpkg.Logger) *Manager {
	return &Manager{
		marker: marker,
		events: make(chan *work.Item, 64),
		wake:   make(chan struct{}, 1),
		logger: logger,
		now:    time.Now,
	}
}

// Events is the breach event stream consumed by the reconciler.
func (m *Manager) Events() <-chan *work.Item { return m.events }

// Track registers an item's deadline watch. Items with no deadline (P4 by
// default) must not be tracked.
func (m *Manager) Track(itemID string, deadlineAt time.Time) {
	m.mu.Lock()
	heap.Push(&m.heap, entry{itemID: itemID, at: deadlineAt})
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// NextDeadline returns the earliest pending deadline.
func (m *Manager) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.heap) == 0 {
		return time.Time{}, false
	}
	return m.heap[0].at, true
}

// Check pops every due deadline, latches breach through the marker, and
// returns the items whose event fired. The marker's latch makes re-checks
// idempotent regardless of how often the same instant is evaluated.
func (m *Manager) Check(now time.Time) []*work.Item {
	var due []string
	m.mu.Lock()
	for len(m.heap) > 0 && !m.heap[0].at.After(now) {
		e := heap.Pop(&m.heap).(entry)
		due = append(due, e.itemID)
	}
	m.mu.Unlock()

	var fired []*work.Item
	for _, itemID := range due {
		it, ok := m.marker.MarkBreached(itemID)
		if !ok {
			continue
		}
		fired = append(fired, it)
		m.logger.Warn("deadline breached",
			logpkg.Str("id", it.ID),
			logpkg.Str("priority", it.Priority.String()),
			logpkg.Time("deadline", it.DeadlineAt),
			logpkg.Int("attempts", it.AttemptCount),
		)
	}
	return fired
}

// Run blocks until ctx is cancelled, sleeping until the next deadline and
// pushing fired events to the channel. Track calls wake the loop early so a
// newly ingested near deadline is not missed.
func (m *Manager) Run(ctx context.Context) {
	const idleWait = time.Minute
	for {
		wait := idleWait
		if next, ok := m.NextDeadline(); ok {
			wait = next.Sub(m.now())
			if wait < 0 {
				wait = 0
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}
		for _, it := range m.Check(m.now()) {
			select {
			case m.events <- it:
			case <-ctx.Done():
				return
			}
		}
	}
}
