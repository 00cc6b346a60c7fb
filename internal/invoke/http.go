package invoke

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/oxbowlabs/steward/internal/work"
)

// HTTPInvoker posts item payloads to per-role worker endpoints. A 2xx
// response body is the worker result; 4xx means the worker rejected the
// payload outright (fatal), anything else is retryable.
type HTTPInvoker struct {
	endpoints map[work.Role]string
	http      *http.Client
}

// NewHTTPInvoker builds an invoker from a role→URL map. The client carries
// no timeout of its own; the adapter's per-invocation context bounds every
// call.
func NewHTTPInvoker(endpoints map[string]string) *HTTPInvoker {
	m := make(map[work.Role]string, len(endpoints))
	for role, url := range endpoints {
		m[work.Role(role)] = url
	}
	return &HTTPInvoker{
		endpoints: m,
		http:      &http.Client{},
	}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, role work.Role, payload []byte) ([]byte, error) {
	url, ok := h.endpoints[role]
	if !ok {
		return nil, Fatal(fmt.Errorf("no worker endpoint for role %q", role))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, Fatal(fmt.Errorf("worker rejected item (status %d): %s", resp.StatusCode, truncate(body)))
	default:
		return nil, fmt.Errorf("worker error (status %d): %s", resp.StatusCode, truncate(body))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
