package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oxbowlabs/steward/internal/config"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(config.TrackerConfig{BaseURL: srv.URL, PageSize: 2}, logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)))
	// fast retries in tests
	c.backoff = NewBackoff(time.Millisecond, 5*time.Millisecond)
	return c
}

func TestListOpenItemsPaginates(t *testing.T) {
	pages := map[string]listPage{
		"1": {Items: []RawItem{{ID: "I1"}, {ID: "I2"}}, HasMore: true},
		"2": {Items: []RawItem{{ID: "I3"}}, HasMore: false},
	}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if r.URL.Query().Get("state") != "open" {
			t.Errorf("missing state=open filter")
		}
		_ = json.NewEncoder(w).Encode(pages[page])
	}))
	items, err := c.ListOpenItems(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 || items[2].ID != "I3" {
		t.Fatalf("want 3 items across pages, got %v", items)
	}
}

func TestListRetriesRateLimit(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(listPage{Items: []RawItem{{ID: "I1"}}})
	}))
	items, err := c.ListOpenItems(context.Background())
	if err != nil {
		t.Fatalf("list after 429s: %v", err)
	}
	if len(items) != 1 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("want success on third call, got %d calls, %v", calls, items)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	_, err := c.ListOpenItems(context.Background())
	if err == nil || !IsTransient(err) {
		t.Fatalf("want transient error after exhausting retries, got %v", err)
	}
}

func TestCloseItemIdempotent(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict) // already closed
	}))
	if err := c.CloseItem(context.Background(), "I1"); err != nil {
		t.Fatalf("close of already-closed item should succeed: %v", err)
	}
}

func TestAddCommentPostsBody(t *testing.T) {
	var got string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = body["body"]
	}))
	if err := c.AddComment(context.Background(), "I1", "escalated after 3 attempts"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if got != "escalated after 3 attempts" {
		t.Fatalf("comment body = %q", got)
	}
}

func TestBackoffMonotonicUpToCap(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 100*time.Millisecond)
	prev := time.Duration(0)
	for attempt := 0; attempt < 8; attempt++ {
		d := b.Delay(attempt)
		if d > 100*time.Millisecond {
			t.Fatalf("delay %v exceeds cap", d)
		}
		// jittered, so compare against the un-jittered floor of the
		// previous step
		if d < prev/2 {
			t.Fatalf("delay shrank: %v after %v", d, prev)
		}
		prev = d
	}
}

func TestRetryStopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), NewBackoff(time.Millisecond, time.Millisecond), 5, func() error {
		calls++
		return fmt.Errorf("fatal misconfiguration")
	})
	if err == nil || calls != 1 {
		t.Fatalf("non-transient error must not retry: calls=%d err=%v", calls, err)
	}
}
