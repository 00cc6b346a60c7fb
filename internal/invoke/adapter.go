package invoke

import (
	"context"
	"errors"
	"time"

	"github.com/oxbowlabs/steward/internal/work"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// Invoker is the external worker contract. Implementations receive the item
// payload and should honor ctx cancellation; the adapter enforces the
// timeout either way.
type Invoker interface {
	Invoke(ctx context.Context, role work.Role, payload []byte) ([]byte, error)
}

// FatalError wraps a worker error that must not be retried. The fatal flag
// set by the worker is the only way a failure skips the retry path.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as non-retryable.
func Fatal(err error) error { return &FatalError{Err: err} }

// IsFatal reports whether err carries the worker's fatal flag.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Kind is the outcome envelope variant.
type Kind int

const (
	Success Kind = iota
	Failure
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// Outcome is what the adapter reports to the reconciler. The adapter never
// interprets payload content, only the envelope.
type Outcome struct {
	ItemID string
	Kind   Kind
	Result []byte
	Err    error
	Fatal  bool
}

// Adapter invokes the external worker with a priority-derived timeout and
// normalizes the three outcomes.
type Adapter struct {
	invoker Invoker
	timeout func(work.Priority) time.Duration
	logger  logpkg.Logger
}

// NewAdapter builds an Adapter. timeout maps an item's priority to its
// invocation ceiling.
func NewAdapter(invoker Invoker, timeout func(work.Priority) time.Duration, logger logpkg.Logger) *Adapter {
	return &Adapter{invoker: invoker, timeout: timeout, logger: logger}
}

type invokeResult struct {
	out []byte
	err error
}

// Run invokes the worker for one item and blocks until success, failure, or
// timeout. The dispatcher calls it on its own goroutine; the adapter cancels
// the worker context on timeout so cooperative workers stop early, and
// reports Timeout regardless of whether the worker honored the cancel.
func (a *Adapter) Run(ctx context.Context, it *work.Item) Outcome {
	timeout := a.timeout(it.Priority)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		out, err := a.invoker.Invoke(cctx, it.Role, it.Payload)
		done <- invokeResult{out: out, err: err}
	}()

	select {
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			a.logger.Debug("worker timed out",
				logpkg.Str("id", it.ID),
				logpkg.Dur("timeout", timeout),
			)
			return Outcome{ItemID: it.ID, Kind: Timeout, Err: cctx.Err()}
		}
		return Outcome{ItemID: it.ID, Kind: Failure, Err: cctx.Err()}
	case res := <-done:
		if res.err == nil {
			return Outcome{ItemID: it.ID, Kind: Success, Result: res.out}
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return Outcome{ItemID: it.ID, Kind: Timeout, Err: res.err}
		}
		return Outcome{ItemID: it.ID, Kind: Failure, Err: res.err, Fatal: IsFatal(res.err)}
	}
}
