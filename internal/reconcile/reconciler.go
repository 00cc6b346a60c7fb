package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/oxbowlabs/steward/internal/dispatch"
	"github.com/oxbowlabs/steward/internal/invoke"
	"github.com/oxbowlabs/steward/internal/journal"
	"github.com/oxbowlabs/steward/internal/store"
	"github.com/oxbowlabs/steward/internal/work"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// Historian reads an item's recorded transitions for escalation reports.
type Historian interface {
	History(itemID string) ([]journal.Record, error)
}

// Waker nudges the dispatcher after a slot or queue change.
type Waker interface {
	Wake()
}

// Config holds the retry policy.
type Config struct {
	// MaxRetries is how many failed attempts an item gets before it
	// escalates. The attempt that exhausts the budget escalates instead
	// of requeueing. Zero escalates on the first failure.
	MaxRetries int
	// BackoffBase seeds the exponential requeue delay.
	BackoffBase time.Duration
	// BackoffCap bounds the delay.
	BackoffCap time.Duration
}

// Reconciler owns every transition out of IN_PROGRESS. It consumes
// invocation completions and deadline breaches, applies the retry and
// escalation policy through the store, and pushes tracker effects to the
// write-back worker.
type Reconciler struct {
	store     *store.Store
	history   Historian
	sink      Sink
	writeback *Writeback
	waker     Waker
	cfg       Config
	logger    logpkg.Logger

	now       func() time.Time
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// New creates a Reconciler.
func New(st *store.Store, history Historian, sink Sink, wb *Writeback, waker Waker, cfg Config, logger logpkg.Logger) *Reconciler {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 15 * time.Minute
	}
	return &Reconciler{
		store:     st,
		history:   history,
		sink:      sink,
		writeback: wb,
		waker:     waker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Run consumes completions and breach events until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context, completions <-chan dispatch.Completion, breaches <-chan *work.Item) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-completions:
			if !ok {
				return
			}
			r.HandleOutcome(ctx, c)
		case it, ok := <-breaches:
			if !ok {
				return
			}
			r.HandleBreach(ctx, it)
		}
	}
}

// HandleOutcome applies one invocation outcome to the item's state.
func (r *Reconciler) HandleOutcome(ctx context.Context, c dispatch.Completion) {
	switch c.Outcome.Kind {
	case invoke.Success:
		r.complete(c)
	case invoke.Failure:
		if c.Outcome.Fatal {
			r.failTerminal(c)
			return
		}
		r.failOrEscalate(ctx, c, errText(c.Outcome.Err))
	case invoke.Timeout:
		r.failOrEscalate(ctx, c, "timeout")
	}
}

func (r *Reconciler) complete(c dispatch.Completion) {
	it, err := r.store.Complete(c.Item.ID, c.Token, r.now())
	if err != nil {
		r.discard(c.Item.ID, "success", err)
		return
	}
	r.logger.Info("item completed",
		logpkg.Str("id", it.ID),
		logpkg.Str("role", string(it.Role)),
		logpkg.Int("attempts", it.AttemptCount),
	)
	r.writeback.Enqueue(Op{
		ItemID:      it.ID,
		Label:       LabelCompleted,
		Comment:     "Completed by " + string(it.Role) + " worker.",
		Close:       true,
		RemoveAfter: true,
	})
}

func (r *Reconciler) failTerminal(c dispatch.Completion) {
	reason := errText(c.Outcome.Err)
	it, err := r.store.FailTerminal(c.Item.ID, c.Token, reason, r.now())
	if err != nil {
		r.discard(c.Item.ID, "fatal failure", err)
		return
	}
	r.logger.Error("item failed terminally",
		logpkg.Str("id", it.ID),
		logpkg.Str("error", reason),
	)
	// No RemoveAfter: the tracker item stays open for a human. The item
	// must stay tracked until the tracker stops listing it, otherwise the
	// next poll re-ingests it and the fatal failure replays forever. The
	// poller sweeps it once the tracker item is closed.
	r.writeback.Enqueue(Op{
		ItemID:  it.ID,
		Label:   LabelFailed,
		Comment: "Failed terminally: " + reason,
	})
}

// failOrEscalate decides between one more retry and escalation. The attempt
// being recorded is c.Item.AttemptCount+1; when it reaches MaxRetries the
// item escalates instead of requeueing.
func (r *Reconciler) failOrEscalate(ctx context.Context, c dispatch.Completion, reason string) {
	if c.Item.AttemptCount+1 < r.cfg.MaxRetries {
		it, err := r.store.FailRetry(c.Item.ID, c.Token, reason, r.now())
		if err != nil {
			r.discard(c.Item.ID, "failure", err)
			return
		}
		delay := r.Backoff(it.AttemptCount)
		r.logger.Info("item will retry",
			logpkg.Str("id", it.ID),
			logpkg.Int("attempt", it.AttemptCount),
			logpkg.Dur("backoff", delay),
			logpkg.Str("error", reason),
		)
		r.scheduleRequeue(it.ID, delay)
		return
	}

	it, err := r.store.Escalate(c.Item.ID, c.Token, reason, r.now())
	if err != nil {
		r.discard(c.Item.ID, "failure", err)
		return
	}
	r.notify(ctx, it, ReasonRetriesExhausted)
}

// HandleBreach reacts to an SLA deadline breach: level already latched by
// the store, the item keeps running, humans get notified once.
func (r *Reconciler) HandleBreach(ctx context.Context, it *work.Item) {
	r.notify(ctx, it, ReasonDeadlineBreached)
}

func (r *Reconciler) notify(ctx context.Context, it *work.Item, reason Reason) {
	hist, err := r.history.History(it.ID)
	if err != nil {
		r.logger.Warn("history unavailable for escalation",
			logpkg.Str("id", it.ID),
			logpkg.Err(err),
		)
	}
	r.sink.Notify(ctx, Escalation{
		Item:    it,
		Reason:  reason,
		At:      r.now(),
		History: hist,
	})
}

// Backoff returns the requeue delay after the given attempt count:
// base * 2^attempts, capped.
func (r *Reconciler) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 30 {
		return r.cfg.BackoffCap
	}
	d := r.cfg.BackoffBase << uint(attempts)
	if d <= 0 || d > r.cfg.BackoffCap {
		return r.cfg.BackoffCap
	}
	return d
}

// scheduleRequeue moves FAILED_RETRY back to QUEUED once the backoff
// elapses, then wakes the dispatcher.
func (r *Reconciler) scheduleRequeue(itemID string, delay time.Duration) {
	r.afterFunc(delay, func() {
		if err := r.store.Requeue(itemID); err != nil {
			// Withdrawn while waiting out the backoff.
			r.logger.Debug("requeue skipped",
				logpkg.Str("id", itemID),
				logpkg.Err(err),
			)
			return
		}
		if r.waker != nil {
			r.waker.Wake()
		}
	})
}

// discard logs a result that no longer owns its item, most commonly a late
// completion after a withdrawal.
func (r *Reconciler) discard(itemID, kind string, err error) {
	if errors.Is(err, store.ErrBadToken) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
		r.logger.Info("late result discarded",
			logpkg.Str("id", itemID),
			logpkg.Str("outcome", kind),
			logpkg.Err(err),
		)
		return
	}
	r.logger.Error("reconcile failed",
		logpkg.Str("id", itemID),
		logpkg.Str("outcome", kind),
		logpkg.Err(err),
	)
}

func errText(err error) string {
	if err == nil {
		return "worker failure"
	}
	return err.Error()
}
