package undo

import (
	"context"
	"errors"
	"io"
	"log"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/cursor"
	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/store"
)

var quiet = log.New(io.Discard, "", 0)

func row(id, amount string, hours int) schema.Transaction {
	return schema.Transaction{
		ID:         id,
		Amount:     decimal.RequireFromString(amount),
		OccurredAt: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC).Add(time.Duration(hours) * time.Hour),
		Label:      id,
	}
}

func setup(t *testing.T, window time.Duration, seed ...schema.Transaction) (*Coordinator, *reconcile.Engine, *store.Memory) {
	t.Helper()
	st := store.NewMemory(seed...)
	e, err := reconcile.Open(context.Background(), st, cursor.NewMemory(0), reconcile.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	c := New(e, Config{Window: window, Logger: quiet})
	t.Cleanup(func() { c.Close() })
	return c, e, st
}

func activeIDs(e *reconcile.Engine) []string {
	var out []string
	for _, t := range e.Active() {
		out = append(out, t.ID)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBeginUndo(t *testing.T) {
	c, e, st := setup(t, time.Hour, row("a", "10", 3), row("b", "20", 2), row("c", "30", 1))
	ctx := context.Background()
	writes := st.Writes()

	got, err := c.Begin(ctx, "b")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if got.ID != "b" {
		t.Errorf("Begin() = %s, want b", got.ID)
	}
	if ids := activeIDs(e); !slices.Equal(ids, []string{"a", "c"}) {
		t.Errorf("active = %v, want [a c]", ids)
	}
	if !e.Balance().Equal(decimal.NewFromInt(40)) {
		t.Errorf("balance = %s, want 40", e.Balance())
	}

	pending, _, ok := c.Outstanding()
	if !ok || pending.ID != "b" {
		t.Fatalf("Outstanding() = %s, %v; want b", pending.ID, ok)
	}

	restored, err := c.Undo()
	if err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if restored.ID != "b" {
		t.Errorf("Undo() = %s, want b", restored.ID)
	}
	if ids := activeIDs(e); !slices.Equal(ids, []string{"a", "b", "c"}) {
		t.Errorf("active = %v, want [a b c]", ids)
	}
	if !e.Balance().Equal(decimal.NewFromInt(60)) {
		t.Errorf("balance = %s, want 60", e.Balance())
	}

	if _, _, ok := c.Outstanding(); ok {
		t.Error("Expected nothing outstanding after undo")
	}
	if st.Writes() != writes {
		t.Error("undo round trip must not touch storage")
	}
	if n := len(e.Pending()); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestUndo_NothingOutstanding(t *testing.T) {
	c, _, _ := setup(t, time.Hour)
	if _, err := c.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Undo() error = %v, want ErrNothingToUndo", err)
	}
	if err := c.Discard(context.Background()); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Discard() error = %v, want ErrNothingToUndo", err)
	}
}

func TestBegin_UnknownID(t *testing.T) {
	c, _, _ := setup(t, time.Hour)
	if _, err := c.Begin(context.Background(), "missing"); !errors.Is(err, reconcile.ErrNotFound) {
		t.Errorf("Begin() error = %v, want ErrNotFound", err)
	}
}

func TestWindowElapses(t *testing.T) {
	c, e, st := setup(t, 20*time.Millisecond, row("a", "100", 1))

	if _, err := c.Begin(context.Background(), "a"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	waitFor(t, "tombstone", func() bool {
		r, ok := st.Get("a")
		return ok && r.Deleted
	})

	if len(e.Active()) != 0 || !e.Balance().IsZero() {
		t.Errorf("active = %v, balance = %s; want empty ledger", activeIDs(e), e.Balance())
	}
	if _, err := c.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Undo() error = %v, want ErrNothingToUndo", err)
	}

	pending := e.Pending()
	if len(pending) != 1 || !pending[0].Deleted {
		t.Errorf("pending = %v, want one tombstone", pending)
	}
}

func TestBegin_ForceResolvesPrevious(t *testing.T) {
	c, e, st := setup(t, time.Hour, row("a", "1", 2), row("b", "2", 1))
	ctx := context.Background()

	if _, err := c.Begin(ctx, "a"); err != nil {
		t.Fatalf("Begin(a) error = %v", err)
	}
	if _, err := c.Begin(ctx, "b"); err != nil {
		t.Fatalf("Begin(b) error = %v", err)
	}

	if r, ok := st.Get("a"); !ok || !r.Deleted {
		t.Error("first removal must be discarded")
	}

	out, _, ok := c.Outstanding()
	if !ok || out.ID != "b" {
		t.Fatalf("Outstanding() = %s, %v; want b", out.ID, ok)
	}

	if _, err := c.Undo(); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if ids := activeIDs(e); !slices.Equal(ids, []string{"b"}) {
		t.Errorf("active = %v, want [b]", ids)
	}
}

func TestResolve(t *testing.T) {
	c, e, _ := setup(t, time.Hour, row("a", "1", 1))
	ctx := context.Background()

	if err := c.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() with nothing outstanding error = %v", err)
	}

	if _, err := c.Begin(ctx, "a"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := c.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if n := len(e.Pending()); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
	if _, _, ok := c.Outstanding(); ok {
		t.Error("Expected nothing outstanding after resolve")
	}
}

func TestLateTimerIsIgnored(t *testing.T) {
	c, e, st := setup(t, 30*time.Millisecond, row("a", "1", 1))

	if _, err := c.Begin(context.Background(), "a"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := c.Undo(); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	// Let the original window pass; the stale generation must not discard
	time.Sleep(60 * time.Millisecond)
	if r, _ := st.Get("a"); r.Deleted {
		t.Error("stale timer tombstoned a restored transaction")
	}
	if ids := activeIDs(e); !slices.Equal(ids, []string{"a"}) {
		t.Errorf("active = %v, want [a]", ids)
	}
}

func TestClose_Discards(t *testing.T) {
	c, e, _ := setup(t, time.Hour, row("a", "5", 1))

	if _, err := c.Begin(context.Background(), "a"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := len(e.Pending()); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
	if _, err := c.Begin(context.Background(), "a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Begin() after Close error = %v, want ErrClosed", err)
	}
}

func TestDiscard_PersistFailure(t *testing.T) {
	c, e, st := setup(t, time.Hour, row("a", "5", 1))
	ctx := context.Background()

	if _, err := c.Begin(ctx, "a"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	st.FailNext(errors.New("disk full"))
	if err := c.Discard(ctx); err == nil {
		t.Fatal("Expected Discard() to report the write failure")
	}
	if !e.Dirty() {
		t.Error("Expected the engine to be dirty")
	}

	if err := e.RetryPersist(ctx); err != nil {
		t.Fatalf("RetryPersist() error = %v", err)
	}
	if r, _ := st.Get("a"); !r.Deleted {
		t.Error("Expected the tombstone to be written on retry")
	}
}
