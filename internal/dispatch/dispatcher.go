package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oxbowlabs/steward/internal/invoke"
	"github.com/oxbowlabs/steward/internal/store"
	"github.com/oxbowlabs/steward/internal/work"
	"github.com/oxbowlabs/steward/pkg/id"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// claimRetryCap bounds how many CAS losses one role pass will absorb before
// yielding to the next role.
const claimRetryCap = 3

// Completion carries one finished invocation to the reconciler. Token is the
// claim that owned the item for the run; the reconciler presents it back to
// the store so late results after a withdrawal are rejected.
type Completion struct {
	Item    *work.Item
	Token   id.Token
	Outcome invoke.Outcome
}

// Config configures the dispatcher loop.
type Config struct {
	// Roles is the set of roles this dispatcher serves, in a stable order.
	Roles []work.Role
	// Tick is the periodic dispatch interval.
	Tick time.Duration
	// ConcurrencyPerRole maps roles to their slot limits.
	ConcurrencyPerRole map[work.Role]int
	// DefaultConcurrency applies to roles with no explicit limit.
	DefaultConcurrency int
}

// Dispatcher moves queued items to workers: on each pass it fills free slots
// per role in strict priority order, claims items through the store CAS, and
// runs the invocation adapter on its own goroutine per item.
type Dispatcher struct {
	store   *store.Store
	adapter *invoke.Adapter
	slots   *Slots
	roles   []work.Role
	tick    time.Duration
	logger  logpkg.Logger

	wake        chan struct{}
	completions chan Completion
	wg          sync.WaitGroup

	now func() time.Time
}

// New creates a Dispatcher.
func New(st *store.Store, adapter *invoke.Adapter, cfg Config, logger logpkg.Logger) *Dispatcher {
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Second
	}
	return &Dispatcher{
		store:       st,
		adapter:     adapter,
		slots:       NewSlots(cfg.ConcurrencyPerRole, cfg.DefaultConcurrency),
		roles:       append([]work.Role(nil), cfg.Roles...),
		tick:        tick,
		logger:      logger,
		wake:        make(chan struct{}, 1),
		completions: make(chan Completion, 256),
		now:         time.Now,
	}
}

// Completions is the stream of finished invocations for the reconciler.
func (d *Dispatcher) Completions() <-chan Completion { return d.completions }

// Wake requests an immediate dispatch pass. Safe to call from any goroutine;
// coalesces with a pending wake.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives dispatch passes until ctx is canceled: one pass per tick, plus
// one per Wake. On return all in-flight invocations have completed.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	d.logger.Info("dispatcher started",
		logpkg.Int("roles", len(d.roles)),
		logpkg.Dur("tick", d.tick),
	)

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		case <-d.wake:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce fills free slots for every role. Within a role it always
// claims the highest-priority head first; a lost claim race is retried with
// the next head up to claimRetryCap times.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	dispatched := 0
	for _, role := range d.roles {
		for {
			if ctx.Err() != nil {
				return dispatched
			}
			if !d.slots.Acquire(role) {
				break
			}
			it, token, ok := d.claimNext(role)
			if !ok {
				d.slots.Release(role)
				break
			}
			d.launch(ctx, it, token)
			dispatched++
		}
	}
	return dispatched
}

// claimNext claims the head of the role's queue. Another dispatcher pass may
// win the CAS between peek and claim; re-peek and retry a bounded number of
// times before giving the slot back.
func (d *Dispatcher) claimNext(role work.Role) (*work.Item, id.Token, bool) {
	for attempt := 0; attempt < claimRetryCap; attempt++ {
		it, ok := d.store.PeekHighest(role)
		if !ok {
			return nil, id.Token{}, false
		}
		token, err := d.store.Claim(it.ID)
		if err == nil {
			it.ClaimToken = token
			it.State = work.StateAssigned
			return it, token, true
		}
		if errors.Is(err, store.ErrAlreadyClaimed) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		d.logger.Error("claim failed",
			logpkg.Str("id", it.ID),
			logpkg.Err(err),
		)
		return nil, id.Token{}, false
	}
	d.logger.Debug("claim retry cap reached", logpkg.Str("role", string(role)))
	return nil, id.Token{}, false
}

// launch runs the invocation on its own goroutine so one slow worker never
// stalls dispatch for other roles.
func (d *Dispatcher) launch(ctx context.Context, it *work.Item, token id.Token) {
	if err := d.store.StartProgress(it.ID, token, d.now()); err != nil {
		// Withdrawn between claim and start; free the slot and move on.
		d.slots.Release(it.Role)
		d.logger.Warn("item gone before start",
			logpkg.Str("id", it.ID),
			logpkg.Err(err),
		)
		return
	}

	d.logger.Info("dispatching item",
		logpkg.Str("id", it.ID),
		logpkg.Str("role", string(it.Role)),
		logpkg.Str("priority", it.Priority.String()),
		logpkg.Int("attempt", it.AttemptCount),
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		out := d.adapter.Run(ctx, it)
		d.slots.Release(it.Role)
		select {
		case d.completions <- Completion{Item: it, Token: token, Outcome: out}:
		case <-ctx.Done():
			return
		}
		d.Wake()
	}()
}

// Wait blocks until every in-flight invocation goroutine has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// SlotsInUse reports current slot occupancy for a role.
func (d *Dispatcher) SlotsInUse(role work.Role) int { return d.slots.InUse(role) }
