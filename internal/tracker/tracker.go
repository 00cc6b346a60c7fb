package tracker

import (
	"context"
	"errors"
	"fmt"
)

// RawItem is an unclassified tracker item as listed by the external tracker.
type RawItem struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
}

// Tracker is the narrow contract steward needs from the external issue
// tracker. Reads are idempotent; writes must be safe to retry after a crash
// mid-write, within a documented at-least-once tolerance for comments.
type Tracker interface {
	// ListOpenItems returns every currently open item, paginating as needed.
	ListOpenItems(ctx context.Context) ([]RawItem, error)

	// SetLabel applies a status label to an item.
	SetLabel(ctx context.Context, id, label string) error

	// AddComment posts a human-readable status comment. Retries may
	// duplicate a comment; callers tolerate at-least-once delivery.
	AddComment(ctx context.Context, id, text string) error

	// CloseItem closes an item. Closing an already-closed item is a no-op.
	CloseItem(ctx context.Context, id string) error
}

// TransientError marks a tracker failure worth retrying (rate limit, 5xx,
// network). It never reaches scheduling logic; the poller and write-back
// worker absorb it with backoff.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tracker: transient (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("tracker: transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable tracker error.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
