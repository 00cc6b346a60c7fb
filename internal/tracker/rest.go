package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oxbowlabs/steward/internal/config"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// Client talks to a REST issue tracker. List reads paginate; every request
// retries 429 and 5xx responses with jittered exponential backoff.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	backoff  *Backoff
	attempts int
	logger   logpkg.Logger
}

// NewClient builds a tracker client from configuration.
func NewClient(cfg config.TrackerConfig, logger logpkg.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		pageSize: pageSize,
		http:     &http.Client{Timeout: 30 * time.Second},
		backoff:  NewBackoff(time.Second, 30*time.Second),
		attempts: 5,
		logger:   logger,
	}
}

type listPage struct {
	Items   []RawItem `json:"items"`
	HasMore bool      `json:"has_more"`
}

// ListOpenItems lists every open item, following pagination until the
// tracker reports no more pages.
func (c *Client) ListOpenItems(ctx context.Context) ([]RawItem, error) {
	var all []RawItem
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/v1/items?state=open&page=%d&per_page=%d", c.baseURL, page, c.pageSize)
		var pg listPage
		err := Retry(ctx, c.backoff, c.attempts, func() error {
			return c.getJSON(ctx, url, &pg)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, pg.Items...)
		if !pg.HasMore || len(pg.Items) == 0 {
			return all, nil
		}
	}
}

// SetLabel applies a label via PUT, which the tracker treats as idempotent.
func (c *Client) SetLabel(ctx context.Context, id, label string) error {
	url := fmt.Sprintf("%s/v1/items/%s/labels/%s", c.baseURL, id, label)
	return Retry(ctx, c.backoff, c.attempts, func() error {
		return c.send(ctx, http.MethodPut, url, nil)
	})
}

// AddComment posts a comment. A retry after a mid-write crash may duplicate
// the comment; that at-least-once tolerance is part of the write contract.
func (c *Client) AddComment(ctx context.Context, id, text string) error {
	url := fmt.Sprintf("%s/v1/items/%s/comments", c.baseURL, id)
	body, err := json.Marshal(map[string]string{"body": text})
	if err != nil {
		return err
	}
	return Retry(ctx, c.backoff, c.attempts, func() error {
		return c.send(ctx, http.MethodPost, url, body)
	})
}

// CloseItem closes an item. 404 and 409 mean the item is already gone or
// closed and count as success.
func (c *Client) CloseItem(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/v1/items/%s/close", c.baseURL, id)
	return Retry(ctx, c.backoff, c.attempts, func() error {
		err := c.send(ctx, http.MethodPost, url, nil)
		var se *statusError
		if err != nil && asStatus(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusConflict) {
			return nil
		}
		return err
	})
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("tracker: status %d", e.code) }

func asStatus(err error, target **statusError) bool {
	se, ok := err.(*statusError)
	if ok {
		*target = se
	}
	return ok
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		c.logger.Debug("tracker busy, will retry", logpkg.Int("status", resp.StatusCode), logpkg.Str("url", req.URL.Path))
		return nil, &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("%s %s", req.Method, req.URL.Path)}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &statusError{code: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) send(ctx context.Context, method, url string, body []byte) error {
	req, err := c.newRequest(ctx, method, url, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
