package poll

import (
	"context"
	"time"

	"github.com/oxbowlabs/steward/internal/classify"
	"github.com/oxbowlabs/steward/internal/store"
	"github.com/oxbowlabs/steward/internal/tracker"
	"github.com/oxbowlabs/steward/internal/work"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// DeadlineTracker registers SLA deadlines for newly ingested items.
type DeadlineTracker interface {
	Track(itemID string, deadlineAt time.Time)
}

// Waker nudges the dispatcher when a poll enqueued new work.
type Waker interface {
	Wake()
}

// Config configures the poller.
type Config struct {
	// Interval between polls.
	Interval time.Duration
	// SLAFor maps a priority to its deadline window. ok=false means the
	// priority is unbounded and the item gets no deadline.
	SLAFor func(work.Priority) (time.Duration, bool)
}

// Poller periodically lists open tracker items, classifies the new ones into
// the queue, and withdraws items the tracker no longer reports open. The
// tracker remains the source of truth: anything open and untracked gets
// ingested, anything tracked and no longer open gets withdrawn.
type Poller struct {
	tracker    tracker.Tracker
	classifier *classify.Classifier
	store      *store.Store
	deadlines  DeadlineTracker
	waker      Waker
	cfg        Config
	logger     logpkg.Logger

	now func() time.Time
}

// New creates a Poller.
func New(tr tracker.Tracker, cl *classify.Classifier, st *store.Store, dt DeadlineTracker, waker Waker, cfg Config, logger logpkg.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Poller{
		tracker:    tr,
		classifier: cl,
		store:      st,
		deadlines:  dt,
		waker:      waker,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run polls once immediately, then on every interval tick until ctx is
// canceled. Transient tracker errors are logged and absorbed by the next
// tick.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", logpkg.Dur("interval", p.cfg.Interval))

	if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("poll failed", logpkg.Err(err))
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("poll failed", logpkg.Err(err))
			}
		}
	}
}

// PollOnce runs one full reconcile pass against the tracker.
func (p *Poller) PollOnce(ctx context.Context) error {
	raw, err := p.tracker.ListOpenItems(ctx)
	if err != nil {
		return err
	}

	open := make(map[string]bool, len(raw))
	enqueued := 0
	for _, ri := range raw {
		open[ri.ID] = true
		if p.store.Contains(ri.ID) {
			continue
		}
		if p.ingest(ri) {
			enqueued++
		}
	}

	p.withdrawMissing(open)
	p.sweepTerminal(open)

	if enqueued > 0 {
		p.logger.Info("poll enqueued items", logpkg.Int("count", enqueued))
		if p.waker != nil {
			p.waker.Wake()
		}
	}
	return nil
}

// ingest classifies one new tracker item and enqueues it. Unclassifiable
// items are parked in the dead-letter bucket so they stay visible without
// ever being dispatched.
func (p *Poller) ingest(ri tracker.RawItem) bool {
	now := p.now()

	target, err := p.classifier.Classify(ri)
	if err != nil {
		p.logger.Warn("item unclassifiable, parking",
			logpkg.Str("id", ri.ID),
			logpkg.Str("title", ri.Title),
		)
		it := &work.Item{
			ID:        ri.ID,
			Role:      work.RoleDeadLetter,
			Priority:  work.P4,
			State:     work.StateNew,
			Title:     ri.Title,
			Labels:    ri.Labels,
			Payload:   []byte(ri.Body),
			CreatedAt: now,
		}
		if err := p.store.Enqueue(it); err != nil {
			p.logger.Error("park failed", logpkg.Str("id", ri.ID), logpkg.Err(err))
		}
		return false
	}

	it := &work.Item{
		ID:        ri.ID,
		Role:      target.Role,
		Priority:  target.Priority,
		State:     work.StateNew,
		Title:     ri.Title,
		Labels:    ri.Labels,
		Payload:   []byte(ri.Body),
		CreatedAt: now,
	}
	if window, ok := p.cfg.SLAFor(target.Priority); ok {
		it.DeadlineAt = now.Add(window)
		it.HasDeadline = true
	}
	if err := p.store.Enqueue(it); err != nil {
		p.logger.Error("enqueue failed", logpkg.Str("id", ri.ID), logpkg.Err(err))
		return false
	}
	if it.HasDeadline {
		p.deadlines.Track(it.ID, it.DeadlineAt)
	}
	p.logger.Info("item enqueued",
		logpkg.Str("id", it.ID),
		logpkg.Str("role", string(it.Role)),
		logpkg.Str("priority", it.Priority.String()),
	)
	return true
}

// withdrawMissing marks every tracked, non-terminal item that the tracker no
// longer lists as withdrawn. In-flight claims are invalidated so late worker
// results get discarded.
func (p *Poller) withdrawMissing(open map[string]bool) {
	for _, id := range p.store.ActiveIDs() {
		if open[id] {
			continue
		}
		it, err := p.store.Withdraw(id, p.now())
		if err != nil {
			continue
		}
		p.logger.Info("item withdrawn",
			logpkg.Str("id", id),
			logpkg.Str("role", string(it.Role)),
		)
	}
}

// sweepTerminal drops terminal items once the tracker stops listing them
// open. Terminally failed and escalated items keep their tracker item open
// for a human, so they stay tracked here too: their presence is what stops
// the next poll from re-ingesting them. Once the tracker item closes they
// linger one more interval so any straggling worker result is rejected by
// token, not absence.
func (p *Poller) sweepTerminal(open map[string]bool) {
	cutoff := p.now().Add(-p.cfg.Interval)
	for _, it := range p.store.Items() {
		if !it.State.Terminal() || open[it.ID] {
			continue
		}
		if it.CompletedAt == nil || it.CompletedAt.After(cutoff) {
			continue
		}
		if err := p.store.Remove(it.ID); err == nil {
			p.logger.Debug("terminal item removed", logpkg.Str("id", it.ID))
		}
	}
}
