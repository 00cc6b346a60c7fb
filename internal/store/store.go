package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oxbowlabs/steward/internal/work"
	"github.com/oxbowlabs/steward/pkg/id"
)

var (
	// ErrDuplicate is returned by Enqueue when the item id is already
	// tracked. Re-ingesting a tracker item is a no-op.
	ErrDuplicate = errors.New("store: item already present")

	// ErrNotFound is returned when the item id is not tracked.
	ErrNotFound = errors.New("store: item not found")

	// ErrAlreadyClaimed is the benign race outcome of two dispatchers
	// claiming the same queued item: exactly one wins.
	ErrAlreadyClaimed = errors.New("store: item already claimed")

	// ErrBadToken is returned when a release-side operation presents a
	// claim token that no longer owns the item (late result after
	// withdrawal, for example).
	ErrBadToken = errors.New("store: claim token does not own item")

	// ErrNotTerminal is returned by Remove for items still in flight.
	ErrNotTerminal = errors.New("store: item not in a terminal state")

	// ErrInvalidTransition is returned when an operation does not apply to
	// the item's current state.
	ErrInvalidTransition = errors.New("store: invalid state transition")
)

// TransitionFunc observes every state transition applied by the store.
// Callbacks run outside the items lock, serialized in application order.
// A callback must not call back into the store.
type TransitionFunc func(item *work.Item, from, to work.State)

// roleQueue holds the five FIFO priority buckets for one role. Buckets store
// item ids ordered by (created_at, id).
type roleQueue struct {
	buckets [work.NumPriorities][]string
}

// Store is the only shared mutable structure in the coordinator. Every
// mutation is an atomic state compare-and-set under one lock; claim
// exclusivity is enforced by the QUEUED→ASSIGNED CAS plus a per-claim token.
type Store struct {
	mu     sync.Mutex
	items  map[string]*work.Item
	queues map[work.Role]*roleQueue
	tokens *id.Generator

	// emitMu serializes observer callbacks in application order. It is
	// acquired while mu is still held, so a later mutation cannot publish
	// its transition before an earlier one.
	emitMu       sync.Mutex
	onTransition TransitionFunc
}

// New creates an empty store.
func New() *Store {
	return &Store{
		items:  make(map[string]*work.Item),
		queues: make(map[work.Role]*roleQueue),
		tokens: id.NewGenerator(),
	}
}

// SetTransitionFunc installs the transition observer (the journal). Must be
// called before the coordinator starts.
func (s *Store) SetTransitionFunc(fn TransitionFunc) { s.onTransition = fn }

type transition struct {
	item *work.Item
	from work.State
	to   work.State
}

// emit releases the items lock and runs the observer. Callers invoke it
// instead of s.mu.Unlock() after a mutation. Holding emitMu across the
// mu handoff means a slow observer backpressures mutations rather than
// seeing transitions out of order.
func (s *Store) emit(ts []transition) {
	if s.onTransition == nil {
		s.mu.Unlock()
		return
	}
	s.emitMu.Lock()
	s.mu.Unlock()
	for _, t := range ts {
		s.onTransition(t.item, t.from, t.to)
	}
	s.emitMu.Unlock()
}

func (s *Store) queueFor(role work.Role) *roleQueue {
	q, ok := s.queues[role]
	if !ok {
		q = &roleQueue{}
		s.queues[role] = q
	}
	return q
}

// insert places the id into its bucket keeping (created_at, id) order, so
// dequeue order is deterministic regardless of ingestion order.
func (s *Store) insert(it *work.Item) {
	q := s.queueFor(it.Role)
	bucket := q.buckets[it.Priority]
	pos := sort.Search(len(bucket), func(i int) bool {
		other := s.items[bucket[i]]
		if !other.CreatedAt.Equal(it.CreatedAt) {
			return other.CreatedAt.After(it.CreatedAt)
		}
		return other.ID > it.ID
	})
	bucket = append(bucket, "")
	copy(bucket[pos+1:], bucket[pos:])
	bucket[pos] = it.ID
	q.buckets[it.Priority] = bucket
}

func (s *Store) unqueue(it *work.Item) {
	q, ok := s.queues[it.Role]
	if !ok {
		return
	}
	bucket := q.buckets[it.Priority]
	for i, qid := range bucket {
		if qid == it.ID {
			q.buckets[it.Priority] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Enqueue inserts a new item, transitioning NEW→QUEUED. Idempotent by id:
// a second enqueue of the same id returns ErrDuplicate and changes nothing.
func (s *Store) Enqueue(it *work.Item) error {
	s.mu.Lock()
	if _, exists := s.items[it.ID]; exists {
		s.mu.Unlock()
		return ErrDuplicate
	}
	from := it.State
	if from == "" {
		from = work.StateNew
	}
	if from != work.StateNew {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	stored := it.Clone()
	stored.State = work.StateQueued
	s.items[stored.ID] = stored
	s.insert(stored)
	note := []transition{{item: stored.Clone(), from: work.StateNew, to: work.StateQueued}}
	s.emit(note)
	return nil
}

// PeekHighest returns (a copy of) the oldest item in the highest non-empty
// priority bucket for the role, without removing it.
func (s *Store) PeekHighest(role work.Role) (*work.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[role]
	if !ok {
		return nil, false
	}
	for p := 0; p < work.NumPriorities; p++ {
		if len(q.buckets[p]) > 0 {
			return s.items[q.buckets[p][0]].Clone(), true
		}
	}
	return nil, false
}

// Claim atomically moves a QUEUED item to ASSIGNED and returns a fresh claim
// token. A concurrent claim on the same item loses with ErrAlreadyClaimed.
func (s *Store) Claim(itemID string) (id.Token, error) {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return id.Token{}, ErrNotFound
	}
	if it.State != work.StateQueued {
		s.mu.Unlock()
		return id.Token{}, ErrAlreadyClaimed
	}
	token := s.tokens.Next()
	it.State = work.StateAssigned
	it.ClaimToken = token
	s.unqueue(it)
	note := []transition{{item: it.Clone(), from: work.StateQueued, to: work.StateAssigned}}
	s.emit(note)
	return token, nil
}

// StartProgress moves a claimed item ASSIGNED→IN_PROGRESS and stamps
// assigned_at. The token must still own the item.
func (s *Store) StartProgress(itemID string, token id.Token, now time.Time) error {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if it.ClaimToken != token {
		s.mu.Unlock()
		return ErrBadToken
	}
	if it.State != work.StateAssigned {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	it.State = work.StateInProgress
	assigned := now
	it.AssignedAt = &assigned
	note := []transition{{item: it.Clone(), from: work.StateAssigned, to: work.StateInProgress}}
	s.emit(note)
	return nil
}

// Complete finishes an IN_PROGRESS item. The token must own it; a late
// completion after withdrawal is rejected with ErrBadToken.
func (s *Store) Complete(itemID string, token id.Token, now time.Time) (*work.Item, error) {
	return s.finish(itemID, token, now, work.StateCompleted, "", false)
}

// FailRetry records a retryable failure: IN_PROGRESS→FAILED_RETRY, one
// attempt consumed, claim released. The returned copy carries the new
// attempt count; priority never changes on retry.
func (s *Store) FailRetry(itemID string, token id.Token, lastErr string, now time.Time) (*work.Item, error) {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if it.ClaimToken != token {
		s.mu.Unlock()
		return nil, ErrBadToken
	}
	if it.State != work.StateInProgress {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	it.State = work.StateFailedRetry
	it.AttemptCount++
	it.LastError = lastErr
	it.ClaimToken = id.Token{}
	note := []transition{{item: it.Clone(), from: work.StateInProgress, to: work.StateFailedRetry}}
	clone := it.Clone()
	s.emit(note)
	return clone, nil
}

// Requeue returns a FAILED_RETRY item to its original priority bucket after
// its backoff delay elapses.
func (s *Store) Requeue(itemID string) error {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if it.State != work.StateFailedRetry {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	it.State = work.StateQueued
	s.insert(it)
	note := []transition{{item: it.Clone(), from: work.StateFailedRetry, to: work.StateQueued}}
	s.emit(note)
	return nil
}

// Escalate marks retry exhaustion: IN_PROGRESS→ESCALATED, one attempt
// consumed, escalation level at least 1.
func (s *Store) Escalate(itemID string, token id.Token, lastErr string, now time.Time) (*work.Item, error) {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if it.ClaimToken != token {
		s.mu.Unlock()
		return nil, ErrBadToken
	}
	if it.State != work.StateInProgress {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	it.State = work.StateEscalated
	it.AttemptCount++
	it.LastError = lastErr
	it.ClaimToken = id.Token{}
	if it.EscalationLevel == 0 {
		it.EscalationLevel = 1
	}
	completed := now
	it.CompletedAt = &completed
	note := []transition{{item: it.Clone(), from: work.StateInProgress, to: work.StateEscalated}}
	clone := it.Clone()
	s.emit(note)
	return clone, nil
}

// FailTerminal records a fatal worker failure: IN_PROGRESS→FAILED_TERMINAL,
// no retry. The attempt is still counted.
func (s *Store) FailTerminal(itemID string, token id.Token, lastErr string, now time.Time) (*work.Item, error) {
	return s.finish(itemID, token, now, work.StateFailedTerminal, lastErr, true)
}

func (s *Store) finish(itemID string, token id.Token, now time.Time, to work.State, lastErr string, countAttempt bool) (*work.Item, error) {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if it.ClaimToken != token {
		s.mu.Unlock()
		return nil, ErrBadToken
	}
	if it.State != work.StateInProgress {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	from := it.State
	it.State = to
	if countAttempt {
		it.AttemptCount++
	}
	if lastErr != "" {
		it.LastError = lastErr
	}
	it.ClaimToken = id.Token{}
	completed := now
	it.CompletedAt = &completed
	note := []transition{{item: it.Clone(), from: from, to: to}}
	clone := it.Clone()
	s.emit(note)
	return clone, nil
}

// Withdraw moves an item in any non-terminal state directly to
// FAILED_TERMINAL with the withdrawn flag, invalidating any outstanding
// claim so late worker results are discarded.
func (s *Store) Withdraw(itemID string, now time.Time) (*work.Item, error) {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if it.State.Terminal() {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	from := it.State
	if from == work.StateQueued {
		s.unqueue(it)
	}
	it.State = work.StateFailedTerminal
	it.Withdrawn = true
	it.LastError = "withdrawn"
	it.ClaimToken = id.Token{}
	completed := now
	it.CompletedAt = &completed
	note := []transition{{item: it.Clone(), from: from, to: work.StateFailedTerminal}}
	clone := it.Clone()
	s.emit(note)
	return clone, nil
}

// MarkBreached latches the deadline-breach flag. fired is true exactly once
// per item; terminal items never fire.
func (s *Store) MarkBreached(itemID string) (*work.Item, bool) {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok || it.Breached || it.State.Terminal() || !it.HasDeadline {
		s.mu.Unlock()
		return nil, false
	}
	it.Breached = true
	if it.EscalationLevel == 0 {
		it.EscalationLevel = 1
	}
	clone := it.Clone()
	s.mu.Unlock()
	return clone, true
}

// Remove deletes a terminal item from the store once its outcome is flushed
// to the tracker.
func (s *Store) Remove(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	if !it.State.Terminal() {
		return ErrNotTerminal
	}
	delete(s.items, itemID)
	return nil
}

// Get returns a copy of the tracked item.
func (s *Store) Get(itemID string) (*work.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return nil, false
	}
	return it.Clone(), true
}

// Contains reports whether the id is tracked, in any state.
func (s *Store) Contains(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[itemID]
	return ok
}

// ActiveIDs returns the ids of items in non-terminal states. The poller uses
// this to detect withdrawals.
func (s *Store) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for itemID, it := range s.items {
		if !it.State.Terminal() {
			out = append(out, itemID)
		}
	}
	sort.Strings(out)
	return out
}

// Depths reports queued-item counts per priority for one role.
func (s *Store) Depths(role work.Role) [work.NumPriorities]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var depths [work.NumPriorities]int
	if q, ok := s.queues[role]; ok {
		for p := 0; p < work.NumPriorities; p++ {
			depths[p] = len(q.buckets[p])
		}
	}
	return depths
}

// Items returns copies of all tracked items, newest first by creation.
func (s *Store) Items() []*work.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*work.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
