package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oxbowlabs/steward/internal/tracker"
	"github.com/oxbowlabs/steward/pkg/log"
)

type noopTracker struct{}

func (noopTracker) ListOpenItems(context.Context) ([]tracker.RawItem, error) { return nil, nil }
func (noopTracker) SetLabel(context.Context, string, string) error           { return nil }
func (noopTracker) AddComment(context.Context, string, string) error         { return nil }
func (noopTracker) CloseItem(context.Context, string) error                  { return nil }

type recordingTracker struct {
	mu    sync.Mutex
	calls []string
	fail  int
}

func (t *recordingTracker) record(call string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail > 0 {
		t.fail--
		return &tracker.TransientError{Status: 503, Err: context.DeadlineExceeded}
	}
	t.calls = append(t.calls, call)
	return nil
}

func (t *recordingTracker) ListOpenItems(context.Context) ([]tracker.RawItem, error) {
	return nil, nil
}

func (t *recordingTracker) SetLabel(_ context.Context, id, label string) error {
	return t.record("label:" + id + ":" + label)
}

func (t *recordingTracker) AddComment(_ context.Context, id, _ string) error {
	return t.record("comment:" + id)
}

func (t *recordingTracker) CloseItem(_ context.Context, id string) error {
	return t.record("close:" + id)
}

func (t *recordingTracker) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

type recordingRemover struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRemover) Remove(itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, itemID)
	return nil
}

func (r *recordingRemover) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWritebackAppliesOpsInOrder(t *testing.T) {
	tr := &recordingTracker{}
	rm := &recordingRemover{}
	wb := NewWriteback(tr, rm, 16, log.NewLogger(log.WithLevel(log.ErrorLevel)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wb.Run(ctx)

	if !wb.Enqueue(Op{
		ItemID:      "it-1",
		Label:       LabelCompleted,
		Comment:     "done",
		Close:       true,
		RemoveAfter: true,
	}) {
		t.Fatal("enqueue refused")
	}

	waitFor(t, func() bool { return len(rm.all()) == 1 })

	want := []string{"label:it-1:" + LabelCompleted, "comment:it-1", "close:it-1"}
	got := tr.all()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
	if rm.all()[0] != "it-1" {
		t.Fatalf("removed = %v, want it-1", rm.all())
	}
}

func TestWritebackRetriesTransientFailures(t *testing.T) {
	tr := &recordingTracker{fail: 2}
	rm := &recordingRemover{}
	wb := NewWriteback(tr, rm, 16, log.NewLogger(log.WithLevel(log.ErrorLevel)))
	wb.backoff = tracker.NewBackoff(time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wb.Run(ctx)

	wb.Enqueue(Op{ItemID: "it-1", Label: LabelFailed})
	waitFor(t, func() bool { return len(tr.all()) == 1 })
}

func TestWritebackFlushesPendingOnShutdown(t *testing.T) {
	tr := &recordingTracker{}
	rm := &recordingRemover{}
	wb := NewWriteback(tr, rm, 16, log.NewLogger(log.WithLevel(log.ErrorLevel)))

	wb.Enqueue(Op{ItemID: "a", Label: LabelCompleted, Close: true, RemoveAfter: true})
	wb.Enqueue(Op{ItemID: "b", Label: LabelFailed})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wb.Run(ctx)

	if wb.Pending() != 0 {
		t.Fatalf("pending after shutdown = %d, want 0", wb.Pending())
	}
	calls := tr.all()
	if len(calls) != 3 {
		t.Fatalf("tracker calls = %v, want label+close for a and label for b", calls)
	}
	if got := rm.all(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("removed = %v, want [a]", got)
	}
}

func TestWritebackRejectsWhenFull(t *testing.T) {
	wb := NewWriteback(noopTracker{}, &recordingRemover{}, 1, log.NewLogger(log.WithLevel(log.ErrorLevel)))
	if !wb.Enqueue(Op{ItemID: "a"}) {
		t.Fatal("first enqueue refused")
	}
	if wb.Enqueue(Op{ItemID: "b"}) {
		t.Fatal("enqueue accepted past capacity")
	}
}
