package work

import (
	"time"

	"github.com/oxbowlabs/steward/pkg/id"
)

// Role is a worker category items are routed to. The set of valid roles is
// closed at process start by configuration; RoleDeadLetter always exists and
// parks unclassifiable items.
type Role string

// RoleDeadLetter holds items no classification rule matched.
const RoleDeadLetter Role = "dead-letter"

// Item is the scheduling record for one external tracker item. The tracker
// item is the durable source of truth; Item carries the scheduling metadata
// layered on top of it.
type Item struct {
	ID       string
	Role     Role
	Priority Priority
	State    State

	Title   string
	Labels  []string
	Payload []byte

	CreatedAt   time.Time
	AssignedAt  *time.Time
	DeadlineAt  time.Time
	CompletedAt *time.Time

	AttemptCount    int
	LastError       string
	EscalationLevel int
	Withdrawn       bool

	// Breached latches after the first DeadlineBreached event so the timer
	// never fires twice for the same item.
	Breached bool

	// ClaimToken is held by the dispatcher between claim and release. Zero
	// when unclaimed.
	ClaimToken id.Token

	// HasDeadline is false for priorities with an unbounded SLA (P4 by
	// default); such items never breach.
	HasDeadline bool
}

// Claimed reports whether a dispatcher currently holds the item.
func (it *Item) Claimed() bool { return !it.ClaimToken.IsZero() }

// Clone returns a deep copy safe to hand outside the store's lock.
func (it *Item) Clone() *Item {
	cp := *it
	if it.AssignedAt != nil {
		t := *it.AssignedAt
		cp.AssignedAt = &t
	}
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Labels = append([]string(nil), it.Labels...)
	cp.Payload = append([]byte(nil), it.Payload...)
	return &cp
}
