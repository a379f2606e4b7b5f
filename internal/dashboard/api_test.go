package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/cursor"
	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/store"
	"github.com/steveyegge/budgetsync/internal/ledger/syncer"
	"github.com/steveyegge/budgetsync/internal/ledger/undo"
)

type stubSyncer struct {
	res syncer.Result
	err error
}

func (s stubSyncer) RunSync(context.Context) (syncer.Result, error) { return s.res, s.err }

type apiFixture struct {
	engine *reconcile.Engine
	undo   *undo.Coordinator
	store  *store.Memory
	http   *httptest.Server
}

func newAPIFixture(t *testing.T, sync Syncer, seed ...schema.Transaction) *apiFixture {
	t.Helper()
	f := &apiFixture{store: store.NewMemory(seed...)}

	engine, err := reconcile.Open(context.Background(), f.store, cursor.NewMemory(0), reconcile.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	f.engine = engine
	f.undo = undo.New(engine, undo.Config{Window: time.Hour, Logger: quiet})
	t.Cleanup(func() { f.undo.Close() })

	api, err := NewAPI(APIConfig{Engine: engine, Undo: f.undo, Syncer: sync, Currency: "USD", Now: func() time.Time { return testNow }, Logger: quiet})
	if err != nil {
		t.Fatalf("Failed to create API: %v", err)
	}

	server := NewServer(&Config{Logger: quiet})
	f.http = httptest.NewServer(server.Handler(api))
	t.Cleanup(f.http.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode, out
}

// field reads a nested JSON object field, e.g. field(body, "transaction", "id").
func field(body map[string]any, path ...string) any {
	var cur any = body
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

func seeded(id, amount string, daysAgo int) schema.Transaction {
	return schema.Transaction{
		ID:         id,
		Amount:     decimal.RequireFromString(amount),
		OccurredAt: testNow.AddDate(0, 0, -daysAgo),
		Label:      id,
	}
}

func TestNewAPI_Validation(t *testing.T) {
	if _, err := NewAPI(APIConfig{}); err == nil {
		t.Error("NewAPI() should reject a config without an engine")
	}
}

func TestAPI_Ledger(t *testing.T) {
	f := newAPIFixture(t, nil, seeded("a", "100", 2), seeded("b", "-30.5", 1))

	status, body := f.do(t, http.MethodGet, "/api/ledger", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	if body["balance"] != "69.5" || body["balance_display"] != "$69.50" {
		t.Errorf("balance = %v (%v), want 69.5 ($69.50)", body["balance"], body["balance_display"])
	}
	if body["pending"] != float64(0) {
		t.Errorf("pending = %v, want 0", body["pending"])
	}
	txs, _ := body["transactions"].([]any)
	if len(txs) != 2 {
		t.Fatalf("transactions = %v, want 2", body["transactions"])
	}
	if id := txs[0].(map[string]any)["id"]; id != "b" {
		t.Errorf("first transaction = %v; want newest first", id)
	}
	if body["undo"] != nil {
		t.Errorf("undo = %v, want none", body["undo"])
	}
}

func TestAPI_Create(t *testing.T) {
	f := newAPIFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/api/transactions", `{"amount":"12.50","label":"  lunch "}`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}

	if amount := field(body, "transaction", "amount"); amount != "-12.5" {
		t.Errorf("amount = %v; direction defaults to out", amount)
	}
	if label := field(body, "transaction", "label"); label != "lunch" {
		t.Errorf("label = %v, want lunch", label)
	}
	if pending := field(body, "transaction", "pending"); pending != true {
		t.Errorf("pending = %v, want true", pending)
	}
	if body["warning"] != nil {
		t.Errorf("warning = %v, want none", body["warning"])
	}

	if !f.engine.Balance().Equal(decimal.RequireFromString("-12.5")) {
		t.Errorf("balance = %s, want -12.5", f.engine.Balance())
	}
	if f.store.Len() != 1 {
		t.Errorf("store has %d rows, want 1", f.store.Len())
	}
}

func TestAPI_CreateInvalid(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"negative amount", `{"amount":"-3","label":"x"}`},
		{"amount out of range", `{"amount":"1e400","direction":"in","label":"x"}`},
		{"bad direction", `{"amount":"3","direction":"sideways"}`},
		{"bad date", `{"amount":"3","date":"someday maybe"}`},
		{"label too long", fmt.Sprintf(`{"amount":"3","label":%q}`, strings.Repeat("x", 1001))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/api/transactions", tt.body)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", status)
			}
			if body["error"] == "" || body["error"] == nil {
				t.Error("Expected an error message")
			}
		})
	}
	if n := len(f.engine.Active()); n != 0 {
		t.Errorf("%d transactions created from invalid input", n)
	}
}

func TestAPI_CreatePersistFailure(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.store.FailNext(errors.New("disk full"))

	status, body := f.do(t, http.MethodPost, "/api/transactions", `{"amount":"5","label":"x"}`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}
	if w := fmt.Sprint(body["warning"]); !strings.Contains(w, "disk full") {
		t.Errorf("warning = %q, want the write error", w)
	}
	if n := len(f.engine.Active()); n != 1 {
		t.Errorf("active = %d; the transaction is kept in memory for retry", n)
	}
	if !f.engine.Dirty() {
		t.Error("Expected the engine to be dirty")
	}
}

func TestAPI_Replace(t *testing.T) {
	f := newAPIFixture(t, nil, seeded("a", "-10", 1))

	status, body := f.do(t, http.MethodPut, "/api/transactions/a", `{"amount":"15","label":"groceries","date":"2026-03-13 12:00"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["changed"] != true {
		t.Errorf("changed = %v, want true", body["changed"])
	}
	if label := field(body, "transaction", "label"); label != "groceries" {
		t.Errorf("label = %v, want groceries", label)
	}
	if !f.engine.Balance().Equal(decimal.NewFromInt(-15)) {
		t.Errorf("balance = %s, want -15", f.engine.Balance())
	}

	status, body = f.do(t, http.MethodPut, "/api/transactions/missing", `{"amount":"1"}`)
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
	if msg := fmt.Sprint(body["error"]); !strings.Contains(msg, "missing") {
		t.Errorf("error = %q, want the id", msg)
	}
}

func TestAPI_RemoveUndoDiscard(t *testing.T) {
	f := newAPIFixture(t, nil, seeded("a", "-10", 1), seeded("b", "50", 2))

	status, body := f.do(t, http.MethodDelete, "/api/transactions/a", "")
	if status != http.StatusAccepted {
		t.Fatalf("remove status = %d, want 202", status)
	}
	if id := field(body, "transaction", "id"); id != "a" {
		t.Errorf("removed = %v, want a", id)
	}
	if body["deadline"] == nil || body["deadline"] == "" {
		t.Error("Expected an undo deadline")
	}
	if !f.engine.Balance().Equal(decimal.NewFromInt(50)) {
		t.Errorf("balance = %s, want 50", f.engine.Balance())
	}

	_, ledger := f.do(t, http.MethodGet, "/api/ledger", "")
	if ledger["undo"] == nil {
		t.Error("ledger should show the open removal")
	}

	status, body = f.do(t, http.MethodPost, "/api/undo", "")
	if status != http.StatusOK {
		t.Fatalf("undo status = %d, want 200", status)
	}
	if id := field(body, "transaction", "id"); id != "a" {
		t.Errorf("restored = %v, want a", id)
	}
	if !f.engine.Balance().Equal(decimal.NewFromInt(40)) {
		t.Errorf("balance = %s, want 40", f.engine.Balance())
	}

	if status, _ = f.do(t, http.MethodPost, "/api/undo", ""); status != http.StatusConflict {
		t.Errorf("second undo status = %d, want 409", status)
	}

	if status, _ = f.do(t, http.MethodDelete, "/api/transactions/b", ""); status != http.StatusAccepted {
		t.Fatalf("remove status = %d, want 202", status)
	}
	if status, _ = f.do(t, http.MethodPost, "/api/discard", ""); status != http.StatusNoContent {
		t.Errorf("discard status = %d, want 204", status)
	}

	tomb, ok := f.engine.Lookup("b")
	if !ok || !tomb.Deleted || !tomb.Pending {
		t.Errorf("Lookup(b) = %+v, %v; want a pending tombstone", tomb, ok)
	}

	if status, _ = f.do(t, http.MethodPost, "/api/discard", ""); status != http.StatusConflict {
		t.Errorf("second discard status = %d, want 409", status)
	}
	if status, _ = f.do(t, http.MethodDelete, "/api/transactions/nope", ""); status != http.StatusNotFound {
		t.Errorf("remove unknown status = %d, want 404", status)
	}
}

func TestAPI_Sync(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		if status, _ := f.do(t, http.MethodPost, "/api/sync", ""); status != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", status)
		}
	})

	t.Run("success", func(t *testing.T) {
		f := newAPIFixture(t, stubSyncer{res: syncer.Result{Sent: 2, Received: 3, Cursor: 42, Duration: 1500 * time.Millisecond}})
		status, body := f.do(t, http.MethodPost, "/api/sync", "")
		if status != http.StatusOK {
			t.Fatalf("status = %d, want 200", status)
		}
		want := map[string]float64{"sent": 2, "received": 3, "cursor": 42, "duration_ms": 1500}
		for k, v := range want {
			if body[k] != v {
				t.Errorf("%s = %v, want %v", k, body[k], v)
			}
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		err := fmt.Errorf("failed to sync: %w: connection refused", syncer.ErrTransport)
		f := newAPIFixture(t, stubSyncer{err: err})
		status, body := f.do(t, http.MethodPost, "/api/sync", "")
		if status != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", status)
		}
		if msg := fmt.Sprint(body["error"]); !strings.Contains(msg, "connection refused") {
			t.Errorf("error = %q, want the cause", msg)
		}
	})
}
