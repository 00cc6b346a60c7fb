package reconcile

import (
	"context"
	"time"

	"github.com/oxbowlabs/steward/internal/tracker"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// Status labels steward applies to tracker items.
const (
	LabelCompleted = "steward:completed"
	LabelFailed    = "steward:failed"
	LabelEscalated = "steward:escalated"
)

// Op is one tracker write. Fields apply in order: label, comment, close.
// RemoveAfter drops the item from the store once the write lands; completed
// items leave memory this way. Failed and escalated items keep their tracker
// item open and wait for the poller to sweep them after it closes.
type Op struct {
	ItemID      string
	Label       string
	Comment     string
	Close       bool
	RemoveAfter bool
}

// Remover is the store-side hook the write-back worker uses to drop terminal
// items after their tracker state is flushed.
type Remover interface {
	Remove(itemID string) error
}

// Writeback applies tracker writes from a bounded queue on its own
// goroutine, retrying transient failures with backoff. Scheduling never
// waits on the tracker; a full queue drops the op and the caller decides.
type Writeback struct {
	tracker tracker.Tracker
	remover Remover
	logger  logpkg.Logger

	ops        chan Op
	backoff    *tracker.Backoff
	retries    int
	drainGrace time.Duration
}

// NewWriteback creates the worker with a queue of the given capacity.
func NewWriteback(tr tracker.Tracker, remover Remover, queueSize int, logger logpkg.Logger) *Writeback {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writeback{
		tracker: tr,
		remover: remover,
		logger:  logger,
		ops:        make(chan Op, queueSize),
		backoff:    tracker.NewBackoff(500*time.Millisecond, 30*time.Second),
		retries:    5,
		drainGrace: 5 * time.Second,
	}
}

// Enqueue queues one op. Returns false when the queue is full.
func (w *Writeback) Enqueue(op Op) bool {
	select {
	case w.ops <- op:
		return true
	default:
		w.logger.Error("write-back queue full, dropping op",
			logpkg.Str("id", op.ItemID),
		)
		return false
	}
}

// Pending reports queued but unapplied ops.
func (w *Writeback) Pending() int { return len(w.ops) }

// Run applies ops until ctx is canceled, then flushes whatever is still
// queued within the drain grace period so terminal outcomes reach the
// tracker on shutdown.
func (w *Writeback) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case op := <-w.ops:
			w.apply(ctx, op)
		}
	}
}

func (w *Writeback) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.drainGrace)
	defer cancel()
	for {
		select {
		case op := <-w.ops:
			w.apply(ctx, op)
		default:
			return
		}
		if ctx.Err() != nil {
			w.logger.Warn("write-back drain cut short",
				logpkg.Int("pending", len(w.ops)),
			)
			return
		}
	}
}

func (w *Writeback) apply(ctx context.Context, op Op) {
	err := tracker.Retry(ctx, w.backoff, w.retries, func() error {
		if op.Label != "" {
			if err := w.tracker.SetLabel(ctx, op.ItemID, op.Label); err != nil {
				return err
			}
		}
		if op.Comment != "" {
			if err := w.tracker.AddComment(ctx, op.ItemID, op.Comment); err != nil {
				return err
			}
		}
		if op.Close {
			if err := w.tracker.CloseItem(ctx, op.ItemID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		w.logger.Error("write-back failed",
			logpkg.Str("id", op.ItemID),
			logpkg.Err(err),
		)
		return
	}
	if op.RemoveAfter {
		if err := w.remover.Remove(op.ItemID); err != nil {
			w.logger.Warn("remove after write-back",
				logpkg.Str("id", op.ItemID),
				logpkg.Err(err),
			)
		}
	}
}
