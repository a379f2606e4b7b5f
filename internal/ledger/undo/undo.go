// Package undo implements swipe-to-delete with an undo window.
//
// A removal moves through Visible → PendingRemoval → Restored or Discarded.
// Begin evicts the entity from the active list right away; it is only
// tombstoned (MarkForDeletion) once the window elapses, Discard is called, or
// the removal is force-resolved by a new Begin, a sync or Close. At most one
// removal is outstanding at a time.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

// DefaultWindow is how long a removal can be undone.
const DefaultWindow = 4 * time.Second

var (
	// ErrNothingToUndo is returned by Undo and Discard when no removal is
	// outstanding.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrClosed is returned by Begin after Close.
	ErrClosed = errors.New("undo coordinator closed")
)

// Ledger is the part of the reconciliation engine the coordinator drives.
type Ledger interface {
	Evict(id string) (schema.Transaction, int, error)
	Reinsert(index int, t schema.Transaction) bool
	MarkForDeletion(ctx context.Context, t schema.Transaction) error
}

// Config holds configuration for the coordinator.
type Config struct {
	// Window is the undo window (default: 4s)
	Window time.Duration

	// Logger for resolution activity (default: stderr with "[undo] " prefix)
	Logger *log.Logger
}

type removal struct {
	t        schema.Transaction
	index    int
	gen      uint64
	deadline time.Time
	timer    *time.Timer
}

// Coordinator runs the undo window for one ledger.
//
// The coordinator lock is held while it calls into the Ledger, so ledger
// notifiers must not call back into the coordinator synchronously.
type Coordinator struct {
	mu     sync.Mutex
	ledger Ledger
	window time.Duration
	logger *log.Logger

	gen    uint64
	cur    *removal
	closed bool
}

// New creates a Coordinator for ledger.
func New(ledger Ledger, cfg Config) *Coordinator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[undo] ", log.LstdFlags)
	}
	return &Coordinator{
		ledger: ledger,
		window: cfg.Window,
		logger: cfg.Logger,
	}
}

// Window returns the configured undo window.
func (c *Coordinator) Window() time.Duration {
	return c.window
}

// Begin starts removing id. An outstanding removal is discarded first. The
// entity leaves the active list and the balance immediately; storage is not
// touched until the removal is discarded.
func (c *Coordinator) Begin(ctx context.Context, id string) (schema.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return schema.Transaction{}, ErrClosed
	}

	if c.cur != nil {
		prev := c.cur.t.ID
		if err := c.discardLocked(ctx); err != nil {
			// The tombstone is in memory; the engine retries the write
			c.logger.Printf("Warning: failed to persist discarded removal %s: %v", prev, err)
		}
	}

	t, index, err := c.ledger.Evict(id)
	if err != nil {
		return schema.Transaction{}, fmt.Errorf("failed to remove %s: %w", id, err)
	}

	c.gen++
	gen := c.gen
	c.cur = &removal{
		t:        t,
		index:    index,
		gen:      gen,
		deadline: time.Now().Add(c.window),
		timer:    time.AfterFunc(c.window, func() { c.expire(gen) }),
	}
	return t, nil
}

// Undo restores the outstanding removal at its original position.
func (c *Coordinator) Undo() (schema.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.take()
	if r == nil {
		return schema.Transaction{}, ErrNothingToUndo
	}

	if !c.ledger.Reinsert(r.index, r.t) {
		c.logger.Printf("Undo of %s skipped: server revision already restored it", r.t.ID)
	}
	return r.t, nil
}

// Discard tombstones the outstanding removal now instead of waiting for the
// window to elapse.
func (c *Coordinator) Discard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return ErrNothingToUndo
	}
	return c.discardLocked(ctx)
}

// Resolve discards the outstanding removal, if any. Call it before building
// an outbound delta so the tombstone is part of it.
func (c *Coordinator) Resolve(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return nil
	}
	return c.discardLocked(ctx)
}

// Outstanding returns the entity waiting in the undo window and when the
// window closes.
func (c *Coordinator) Outstanding() (schema.Transaction, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return schema.Transaction{}, time.Time{}, false
	}
	return c.cur.t, c.cur.deadline, true
}

// Close discards any outstanding removal and rejects further Begin calls.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.cur == nil {
		return nil
	}
	return c.discardLocked(context.Background())
}

// expire runs on the timer goroutine. A stale generation means the removal
// was already resolved.
func (c *Coordinator) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil || c.cur.gen != gen {
		return
	}
	id := c.cur.t.ID
	if err := c.discardLocked(context.Background()); err != nil {
		c.logger.Printf("Warning: failed to persist expired removal %s: %v", id, err)
	}
}

// take clears the outstanding removal and stops its timer.
func (c *Coordinator) take() *removal {
	r := c.cur
	if r == nil {
		return nil
	}
	c.cur = nil
	r.timer.Stop()
	return r
}

func (c *Coordinator) discardLocked(ctx context.Context) error {
	r := c.take()
	return c.ledger.MarkForDeletion(ctx, r.t)
}
