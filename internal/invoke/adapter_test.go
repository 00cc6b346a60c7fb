package invoke

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oxbowlabs/steward/internal/work"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

type invokerFunc func(ctx context.Context, role work.Role, payload []byte) ([]byte, error)

func (f invokerFunc) Invoke(ctx context.Context, role work.Role, payload []byte) ([]byte, error) {
	return f(ctx, role, payload)
}

func fixedTimeout(d time.Duration) func(work.Priority) time.Duration {
	return func(work.Priority) time.Duration { return d }
}

func testAdapter(inv Invoker, timeout time.Duration) *Adapter {
	return NewAdapter(inv, fixedTimeout(timeout), logpkg.NewLogger(logpkg.WithLevel(logpkg.FatalLevel)))
}

func TestSuccessOutcome(t *testing.T) {
	a := testAdapter(invokerFunc(func(ctx context.Context, role work.Role, payload []byte) ([]byte, error) {
		return []byte("done: " + string(payload)), nil
	}), time.Second)
	out := a.Run(context.Background(), &work.Item{ID: "I1", Role: "dev", Payload: []byte("p")})
	if out.Kind != Success || string(out.Result) != "done: p" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRetryableFailure(t *testing.T) {
	a := testAdapter(invokerFunc(func(ctx context.Context, role work.Role, payload []byte) ([]byte, error) {
		return nil, errors.New("connection reset")
	}), time.Second)
	out := a.Run(context.Background(), &work.Item{ID: "I1", Role: "dev"})
	if out.Kind != Failure || out.Fatal {
		t.Fatalf("want retryable failure, got %+v", out)
	}
}

func TestFatalFlagPropagates(t *testing.T) {
	a := testAdapter(invokerFunc(func(ctx context.Context, role work.Role, payload []byte) ([]byte, error) {
		return nil, Fatal(errors.New("malformed payload"))
	}), time.Second)
	out := a.Run(context.Background(), &work.Item{ID: "I1", Role: "dev"})
	if out.Kind != Failure || !out.Fatal {
		t.Fatalf("want fatal failure, got %+v", out)
	}
}

func TestTimeoutOutcome(t *testing.T) {
	a := testAdapter(invokerFunc(func(ctx context.Context, role work.Role, payload []byte) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []byte("too late"), nil
		}
	}), 10*time.Millisecond)
	out := a.Run(context.Background(), &work.Item{ID: "I4", Role: "dev", Priority: work.P1})
	if out.Kind != Timeout {
		t.Fatalf("want timeout, got %+v", out)
	}
}

func TestTimeoutFiresEvenIfWorkerIgnoresCancel(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	a := testAdapter(invokerFunc(func(ctx context.Context, role work.Role, payload []byte) ([]byte, error) {
		<-block // ignores ctx entirely
		return nil, nil
	}), 10*time.Millisecond)

	start := time.Now()
	out := a.Run(context.Background(), &work.Item{ID: "I1", Role: "dev"})
	if out.Kind != Timeout {
		t.Fatalf("want timeout, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("adapter blocked on uncancellable worker for %v", elapsed)
	}
}

func TestIsFatalUnwraps(t *testing.T) {
	wrapped := Fatal(errors.New("inner"))
	if !IsFatal(wrapped) {
		t.Fatalf("IsFatal on direct fatal")
	}
	if IsFatal(errors.New("plain")) {
		t.Fatalf("plain error is not fatal")
	}
}
