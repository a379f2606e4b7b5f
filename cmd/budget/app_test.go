package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/config"
	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
)

// setupTestApp points the global config at a temp dir and opens the app.
func setupTestApp(t *testing.T) *app {
	t.Helper()
	cfg = config.Config{
		Data: config.DataConfig{Dir: t.TempDir(), DB: "ledger.db", State: "state.yaml"},
		Undo: config.UndoConfig{Window: time.Hour},
	}

	a, err := openApp(context.Background())
	if err != nil {
		t.Fatalf("Failed to open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenApp_WithoutSyncURL(t *testing.T) {
	a := setupTestApp(t)

	if a.syncer != nil {
		t.Error("Expected no syncer without sync.url")
	}
	if _, err := a.requireSync(); err == nil || !strings.Contains(err.Error(), "sync.url") {
		t.Errorf("Expected error naming sync.url, got %v", err)
	}
}

func TestOpenApp_WithSyncURL(t *testing.T) {
	cfg = config.Config{
		Data: config.DataConfig{Dir: t.TempDir(), DB: "ledger.db", State: "state.yaml"},
		Sync: config.SyncConfig{URL: "http://127.0.0.1:1/sync", Timeout: time.Second},
	}
	a, err := openApp(context.Background())
	if err != nil {
		t.Fatalf("Failed to open app: %v", err)
	}
	defer a.Close()

	if _, err := a.requireSync(); err != nil {
		t.Errorf("Expected a syncer, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()
	now := time.Now()

	coffee, err := a.engine.CreateTransaction(ctx, decimal.NewFromInt(-4), "coffee", now)
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	rent, err := a.engine.CreateTransaction(ctx, decimal.NewFromInt(-850), "rent", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	got, err := a.resolve(coffee.ID)
	if err != nil || got.ID != coffee.ID {
		t.Errorf("resolve(full id) = %v, %v", got.ID, err)
	}

	// Shortest prefix that tells the two apart
	n := 1
	for coffee.ID[:n] == rent.ID[:n] {
		n++
	}
	got, err = a.resolve(rent.ID[:n])
	if err != nil || got.ID != rent.ID {
		t.Errorf("resolve(prefix) = %v, %v", got.ID, err)
	}

	if _, err := a.resolve("zzzz-no-such-id"); err == nil {
		t.Error("Expected error for unknown id")
	}

	if coffee.ID[:1] == rent.ID[:1] {
		if _, err := a.resolve(coffee.ID[:1]); err == nil || !strings.Contains(err.Error(), "ambiguous") {
			t.Errorf("Expected ambiguous prefix error, got %v", err)
		}
	}
}

func TestResolve_SkipsRemoved(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	tx, err := a.engine.CreateTransaction(ctx, decimal.NewFromInt(-4), "coffee", time.Now())
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if _, err := a.undo.Begin(ctx, tx.ID); err != nil {
		t.Fatalf("Failed to begin removal: %v", err)
	}
	if err := a.undo.Discard(ctx); err != nil {
		t.Fatalf("Failed to discard: %v", err)
	}

	if _, err := a.resolve(tx.ID); err == nil {
		t.Error("Expected deleted transaction not to resolve")
	}
}

func TestRelay_AttachAfterOpen(t *testing.T) {
	a := setupTestApp(t)

	var kinds []reconcile.EventKind
	a.relay.Attach(reconcile.NotifierFunc(func(ev reconcile.Event) {
		kinds = append(kinds, ev.Kind)
	}))

	if _, err := a.engine.CreateTransaction(context.Background(), decimal.NewFromInt(10), "gift", time.Now()); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	if len(kinds) != 1 || kinds[0] != reconcile.EventCreated {
		t.Errorf("Expected one created event, got %v", kinds)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
