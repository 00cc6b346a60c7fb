package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oxbowlabs/steward/internal/journal"
	"github.com/oxbowlabs/steward/internal/work"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// Reason says why an item was escalated to a human.
type Reason string

const (
	// ReasonRetriesExhausted is terminal: the item burned every retry.
	ReasonRetriesExhausted Reason = "retries-exhausted"
	// ReasonDeadlineBreached flags an in-flight item past its SLA deadline.
	// The item keeps running; only its escalation level changes.
	ReasonDeadlineBreached Reason = "deadline-breached"
)

// Escalation is one notification to the escalation sinks.
type Escalation struct {
	Item    *work.Item
	Reason  Reason
	At      time.Time
	History []journal.Record
}

// Sink receives escalation notifications. Sinks must not block the
// reconciler; slow delivery belongs behind the write-back worker.
type Sink interface {
	Notify(ctx context.Context, ev Escalation) error
}

// LogSink writes escalations to the structured log.
type LogSink struct {
	Logger logpkg.Logger
}

func (s *LogSink) Notify(_ context.Context, ev Escalation) error {
	s.Logger.Warn("item escalated",
		logpkg.Str("id", ev.Item.ID),
		logpkg.Str("role", string(ev.Item.Role)),
		logpkg.Str("priority", ev.Item.Priority.String()),
		logpkg.Str("reason", string(ev.Reason)),
		logpkg.Int("attempts", ev.Item.AttemptCount),
		logpkg.Int("level", ev.Item.EscalationLevel),
	)
	return nil
}

// TrackerSink posts an escalation comment on the tracker item, delivered
// through the write-back worker so tracker outages never stall reconciling.
type TrackerSink struct {
	Writeback *Writeback
}

func (s *TrackerSink) Notify(_ context.Context, ev Escalation) error {
	op := Op{
		ItemID:  ev.Item.ID,
		Comment: formatEscalation(ev),
	}
	if ev.Reason == ReasonRetriesExhausted {
		op.Label = LabelEscalated
	}
	if !s.Writeback.Enqueue(op) {
		return fmt.Errorf("escalation for %s dropped: write-back queue full", ev.Item.ID)
	}
	return nil
}

// formatEscalation renders the human-readable comment body including the
// item's full transition history.
func formatEscalation(ev Escalation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Escalated (%s): role=%s priority=%s attempts=%d\n",
		ev.Reason, ev.Item.Role, ev.Item.Priority, ev.Item.AttemptCount)
	if ev.Item.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", ev.Item.LastError)
	}
	if len(ev.History) > 0 {
		b.WriteString("History:\n")
		for _, rec := range ev.History {
			fmt.Fprintf(&b, "  %s  %s -> %s", rec.At().Format(time.RFC3339), rec.From, rec.To)
			if rec.LastError != "" {
				fmt.Fprintf(&b, "  (%s)", rec.LastError)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// MultiSink fans an escalation out to every sink. Sink errors are logged and
// swallowed; escalation delivery never blocks the state machine.
type MultiSink struct {
	Sinks  []Sink
	Logger logpkg.Logger
}

func (m *MultiSink) Notify(ctx context.Context, ev Escalation) error {
	for _, s := range m.Sinks {
		if err := s.Notify(ctx, ev); err != nil {
			m.Logger.Error("escalation sink failed",
				logpkg.Str("id", ev.Item.ID),
				logpkg.Err(err),
			)
		}
	}
	return nil
}
