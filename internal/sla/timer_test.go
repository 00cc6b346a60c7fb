package sla

import (
	"testing"
	"time"

	"github.com/oxbowlabs/steward/internal/store"
	"github.com/oxbowlabs/steward/internal/work"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithLevel(logpkg.FatalLevel))
}

func trackItem(t *testing.T, s *store.Store, m *Manager, itemID string, p work.Priority, sla time.Duration) {
	t.Helper()
	it := &work.Item{
		ID:          itemID,
		Role:        "dev",
		Priority:    p,
		State:       work.StateNew,
		CreatedAt:   t0,
		DeadlineAt:  t0.Add(sla),
		HasDeadline: sla > 0,
	}
	if err := s.Enqueue(it); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if it.HasDeadline {
		m.Track(it.ID, it.DeadlineAt)
	}
}

func TestBreachFiresAtDeadlineExactlyOnce(t *testing.T) {
	s := store.New()
	m := NewManager(s, quietLogger())
	trackItem(t, s, m, "I1", work.P0, time.Hour)

	if fired := m.Check(t0.Add(59 * time.Minute)); len(fired) != 0 {
		t.Fatalf("fired before deadline: %v", fired)
	}
	fired := m.Check(t0.Add(time.Hour))
	if len(fired) != 1 || fired[0].ID != "I1" {
		t.Fatalf("want breach for I1 at deadline, got %v", fired)
	}
	if fired[0].EscalationLevel != 1 {
		t.Fatalf("breach must raise escalation level to 1")
	}
	// re-checking the same or later instants never re-fires
	if fired := m.Check(t0.Add(2 * time.Hour)); len(fired) != 0 {
		t.Fatalf("breach fired twice: %v", fired)
	}
}

func TestUnboundedPriorityNeverBreaches(t *testing.T) {
	s := store.New()
	m := NewManager(s, quietLogger())
	trackItem(t, s, m, "I3", work.P4, 0)

	if fired := m.Check(t0.Add(1000 * time.Hour)); len(fired) != 0 {
		t.Fatalf("P4 item must never breach, got %v", fired)
	}
}

func TestTerminalItemDoesNotFire(t *testing.T) {
	s := store.New()
	m := NewManager(s, quietLogger())
	trackItem(t, s, m, "I1", work.P0, time.Hour)

	token, err := s.Claim("I1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.StartProgress("I1", token, t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Complete("I1", token, t0.Add(30*time.Minute)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if fired := m.Check(t0.Add(2 * time.Hour)); len(fired) != 0 {
		t.Fatalf("completed item must not breach, got %v", fired)
	}
}

func TestBreachSurvivesRetries(t *testing.T) {
	s := store.New()
	m := NewManager(s, quietLogger())
	trackItem(t, s, m, "I1", work.P0, time.Hour)

	token, _ := s.Claim("I1")
	_ = s.StartProgress("I1", token, t0)
	if _, err := s.FailRetry("I1", token, "transient", t0.Add(10*time.Minute)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.Requeue("I1"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	// the deadline watch is unchanged by the retry cycle
	fired := m.Check(t0.Add(time.Hour))
	if len(fired) != 1 {
		t.Fatalf("breach must still fire after retries, got %v", fired)
	}
	if !fired[0].DeadlineAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("deadline moved: %v", fired[0].DeadlineAt)
	}
}

func TestNextDeadlineOrdering(t *testing.T) {
	s := store.New()
	m := NewManager(s, quietLogger())
	trackItem(t, s, m, "late", work.P2, 24*time.Hour)
	trackItem(t, s, m, "soon", work.P0, time.Hour)

	next, ok := m.NextDeadline()
	if !ok || !next.Equal(t0.Add(time.Hour)) {
		t.Fatalf("next deadline = %v %v", next, ok)
	}
	fired := m.Check(t0.Add(25 * time.Hour))
	if len(fired) != 2 || fired[0].ID != "soon" || fired[1].ID != "late" {
		t.Fatalf("breach order = %v", fired)
	}
}
