// Package transport carries encoded account deltas to the sync server and
// brings the server's delta back.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/steveyegge/budgetsync/internal/ledger/wire"
)

// Transport performs one request/response exchange with the sync server.
// Implementations must honor ctx cancellation.
type Transport interface {
	Exchange(ctx context.Context, payload []byte) ([]byte, error)
}

// Func adapts an ordinary function to the Transport interface.
type Func func(ctx context.Context, payload []byte) ([]byte, error)

// Exchange calls f(ctx, payload).
func (f Func) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// DefaultTimeout bounds a single exchange when HTTPConfig.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// HTTPConfig holds configuration for the HTTP transport.
type HTTPConfig struct {
	// URL is the sync endpoint, e.g. https://budget.example.com/sync
	URL string

	// Timeout bounds one exchange (default: 30s)
	Timeout time.Duration

	// Client overrides the HTTP client (optional)
	Client *http.Client
}

// HTTP posts the payload to a sync endpoint.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates an HTTP transport.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sync url is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTP{url: cfg.URL, client: client}, nil
}

// URL returns the endpoint the transport posts to.
func (h *HTTP) URL() string {
	return h.url
}

// Exchange implements Transport. Any non-2xx status is an error.
func (h *HTTP) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", wire.ContentType)
	req.Header.Set("Accept", wire.ContentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read sync response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(truncate(body, 256))}
	}
	return body, nil
}

// StatusError reports a non-2xx response from the sync server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sync server returned %d", e.Code)
	}
	return fmt.Sprintf("sync server returned %d: %s", e.Code, e.Body)
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

var _ Transport = (*HTTP)(nil)
