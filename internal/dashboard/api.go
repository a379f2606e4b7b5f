package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/entry"
	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/syncer"
	"github.com/steveyegge/budgetsync/internal/ledger/undo"
	"github.com/steveyegge/budgetsync/internal/ui"
)

// maxBodySize bounds request bodies; forms are tiny.
const maxBodySize = 64 << 10

// Syncer runs one sync round trip.
type Syncer interface {
	RunSync(ctx context.Context) (syncer.Result, error)
}

// APIConfig holds the collaborators of the JSON API.
type APIConfig struct {
	// Engine is the ledger (required)
	Engine *reconcile.Engine

	// Undo runs swipe removals (required)
	Undo *undo.Coordinator

	// Syncer backs POST /api/sync; without it the route answers 503
	Syncer Syncer

	// Currency for display strings (default: EUR)
	Currency string

	// Now is the reference time for relative dates (default: time.Now)
	Now func() time.Time

	// Logger (default: stderr with "[dashboard] " prefix)
	Logger *log.Logger
}

// API serves the ledger over JSON.
type API struct {
	engine   *reconcile.Engine
	undo     *undo.Coordinator
	syncer   Syncer
	currency string
	now      func() time.Time
	logger   *log.Logger
}

// LedgerView is the response of GET /api/ledger.
type LedgerView struct {
	Transactions   []schema.Transaction `json:"transactions"`
	Balance        decimal.Decimal      `json:"balance"`
	BalanceDisplay string               `json:"balance_display"`
	Pending        int                  `json:"pending"`
	Cursor         int64                `json:"cursor"`
	Undo           *RemovalView         `json:"undo,omitempty"`
}

// RemovalView describes a removal that can still be undone.
type RemovalView struct {
	Transaction schema.Transaction `json:"transaction"`
	Deadline    time.Time          `json:"deadline"`
}

// TransactionResponse is returned by create, edit and undo.
type TransactionResponse struct {
	Transaction schema.Transaction `json:"transaction"`
	Changed     *bool              `json:"changed,omitempty"`
	Warning     string             `json:"warning,omitempty"`
}

// SyncResponse is returned by POST /api/sync.
type SyncResponse struct {
	Sent       int   `json:"sent"`
	Received   int   `json:"received"`
	Cursor     int64 `json:"cursor"`
	DurationMS int64 `json:"duration_ms"`
	Shared     bool  `json:"shared"`
}

// NewAPI creates the JSON API.
func NewAPI(cfg APIConfig) (*API, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Undo == nil {
		return nil, fmt.Errorf("undo coordinator is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &API{
		engine:   cfg.Engine,
		undo:     cfg.Undo,
		syncer:   cfg.Syncer,
		currency: cfg.Currency,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}, nil
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ledger", a.handleLedger)
	mux.HandleFunc("POST /api/transactions", a.handleCreate)
	mux.HandleFunc("PUT /api/transactions/{id}", a.handleReplace)
	mux.HandleFunc("DELETE /api/transactions/{id}", a.handleRemove)
	mux.HandleFunc("POST /api/undo", a.handleUndo)
	mux.HandleFunc("POST /api/discard", a.handleDiscard)
	mux.HandleFunc("POST /api/sync", a.handleSync)
}

// View returns the current ledger.
func (a *API) View() (LedgerView, error) {
	snap := a.engine.Snapshot()
	cursor, err := a.engine.Cursor()
	if err != nil {
		return LedgerView{}, fmt.Errorf("failed to read cursor: %w", err)
	}

	view := LedgerView{
		Transactions:   snap.Active,
		Balance:        snap.Balance,
		BalanceDisplay: ui.FormatMoney(snap.Balance, a.currency),
		Pending:        snap.Pending,
		Cursor:         cursor,
	}
	if t, deadline, ok := a.undo.Outstanding(); ok {
		view.Undo = &RemovalView{Transaction: t, Deadline: deadline}
	}
	return view, nil
}

func (a *API) ledgerMessage() (Message, error) {
	view, err := a.View()
	if err != nil {
		return Message{}, err
	}
	data, err := json.Marshal(view)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageTypeLedger, Timestamp: a.now(), Data: data}, nil
}

func (a *API) handleLedger(w http.ResponseWriter, r *http.Request) {
	view, err := a.View()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	e, ok := a.readEntry(w, r)
	if !ok {
		return
	}

	// Storage failures leave the transaction in memory for a later retry
	t, err := a.engine.CreateTransaction(context.WithoutCancel(r.Context()), e.Amount, e.Label, e.OccurredAt)
	if err != nil && t.ID == "" {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := TransactionResponse{Transaction: t}
	if err != nil {
		a.logger.Printf("Warning: %v", err)
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleReplace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := a.readEntry(w, r)
	if !ok {
		return
	}

	changed, err := a.engine.ReplaceTransaction(context.WithoutCancel(r.Context()), id, e.Amount, e.Label, e.OccurredAt)
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil && !changed:
		writeError(w, http.StatusBadRequest, err)
		return
	}

	t, _ := a.engine.Lookup(id)
	resp := TransactionResponse{Transaction: t, Changed: &changed}
	if err != nil {
		a.logger.Printf("Warning: %v", err)
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	t, err := a.undo.Begin(context.WithoutCancel(r.Context()), r.PathValue("id"))
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, undo.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	view := RemovalView{Transaction: t, Deadline: a.now().Add(a.undo.Window())}
	if cur, deadline, ok := a.undo.Outstanding(); ok && cur.ID == t.ID {
		view.Deadline = deadline
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (a *API) handleUndo(w http.ResponseWriter, r *http.Request) {
	t, err := a.undo.Undo()
	if errors.Is(err, undo.ErrNothingToUndo) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{Transaction: t})
}

func (a *API) handleDiscard(w http.ResponseWriter, r *http.Request) {
	err := a.undo.Discard(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, undo.ErrNothingToUndo):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		// The tombstone is in memory and goes out with the next sync
		a.logger.Printf("Warning: %v", err)
		writeJSON(w, http.StatusAccepted, map[string]string{"warning": err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if a.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync is not configured"))
		return
	}

	res, err := a.syncer.RunSync(r.Context())
	switch {
	case errors.Is(err, syncer.ErrTransport):
		writeError(w, http.StatusBadGateway, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		Sent:       res.Sent,
		Received:   res.Received,
		Cursor:     res.Cursor,
		DurationMS: res.Duration.Milliseconds(),
		Shared:     res.Shared,
	})
}

func (a *API) readEntry(w http.ResponseWriter, r *http.Request) (entry.Entry, bool) {
	var f entry.Form
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return entry.Entry{}, false
	}
	e, err := entry.Parse(f, a.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return entry.Entry{}, false
	}
	return e, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
