// Package remote is a reference sync server.
//
// A client posts an AccountDelta carrying its cursor (the last server
// timestamp it saw) and its pending changes. The server stores the changes
// under a new server timestamp, then answers with the latest revision of
// every entity changed after the cursor, the client's own changes included,
// and the new head timestamp. Replaying a request is harmless: it only
// produces a newer revision with the same content.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/steveyegge/budgetsync/internal/ledger/transport"
	"github.com/steveyegge/budgetsync/internal/ledger/wire"
)

// MaxRequestSize bounds an uploaded delta.
const MaxRequestSize = 32 << 20

// Backend stores server revisions.
type Backend interface {
	// Apply stores changes under one new server timestamp and returns it.
	// Later revisions of a guid replace earlier ones.
	Apply(ctx context.Context, changes []wire.Change) (int64, error)

	// Since returns the latest revision of every guid stored after cursor,
	// ordered by server timestamp then guid, and the current head.
	Since(ctx context.Context, cursor int64) ([]wire.Change, int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Handler serves POST /sync and GET /health.
type Handler struct {
	backend Backend
	logger  *log.Logger
	mux     *http.ServeMux
}

// NewHandler creates a Handler over backend.
func NewHandler(backend Backend, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	h := &Handler{backend: backend, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /sync", h.handleSync)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Exchange runs one sync request against the backend.
func (h *Handler) Exchange(ctx context.Context, in wire.Delta) (wire.Delta, error) {
	if len(in.Changes) > 0 {
		if _, err := h.backend.Apply(ctx, in.Changes); err != nil {
			return wire.Delta{}, fmt.Errorf("failed to store changes: %w", err)
		}
	}

	changes, head, err := h.backend.Since(ctx, in.ServerTimestamp)
	if err != nil {
		return wire.Delta{}, fmt.Errorf("failed to read changes: %w", err)
	}
	return wire.Delta{ServerTimestamp: max(head, in.ServerTimestamp), Changes: changes}, nil
}

// Transport returns an in-process transport to h. Payloads go through the
// wire codec as they would over HTTP.
func (h *Handler) Transport() transport.Transport {
	return transport.Func(func(ctx context.Context, payload []byte) ([]byte, error) {
		in, err := wire.Unmarshal(payload)
		if err != nil {
			return nil, err
		}
		out, err := h.Exchange(ctx, in)
		if err != nil {
			return nil, err
		}
		return wire.Marshal(out), nil
	})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestSize))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request: %v", err), http.StatusRequestEntityTooLarge)
		return
	}

	in, err := wire.Unmarshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := h.Exchange(r.Context(), in)
	if err != nil {
		h.logger.Printf("Sync failed: %v", err)
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}

	h.logger.Printf("Sync: cursor %d, received %d, returned %d, head %d",
		in.ServerTimestamp, len(in.Changes), len(out.Changes), out.ServerTimestamp)

	w.Header().Set("Content-Type", wire.ContentType)
	_, _ = w.Write(wire.Marshal(out))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Ping(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok\n")
}

// Serve listens on addr and serves h until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Printf("Sync server listening on http://%s/sync", ln.Addr())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Println("Stopping sync server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// clock hands out strictly increasing timestamps in Unix milliseconds.
type clock struct {
	now  func() time.Time
	last int64
}

func (c *clock) next() int64 {
	ts := max(c.now().UnixMilli(), c.last+1)
	c.last = ts
	return ts
}
