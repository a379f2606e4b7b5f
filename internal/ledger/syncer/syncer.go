package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/transport"
	"github.com/steveyegge/budgetsync/internal/ledger/wire"
)

// ErrTransport marks a round trip that failed before anything was applied:
// the request failed, the server answered non-2xx, the call was cancelled,
// or the response could not be decoded.
var ErrTransport = errors.New("sync transport failed")

// Journal records the outcome of every round trip.
type Journal interface {
	RecordSyncRun(ctx context.Context, run schema.SyncRun) error
}

// Resolver force-resolves an outstanding undo window.
type Resolver interface {
	Resolve(ctx context.Context) error
}

// Config holds the collaborators of a Syncer.
type Config struct {
	// Engine is the ledger to sync (required)
	Engine *reconcile.Engine

	// Transport carries deltas to the server (required)
	Transport transport.Transport

	// Undo is resolved before each delta is built (optional)
	Undo Resolver

	// Journal records each round trip (optional)
	Journal Journal

	// Logger (default: stderr with "[sync] " prefix)
	Logger *log.Logger
}

// Result summarizes one round trip.
type Result struct {
	Sent     int           // changes in the outbound delta
	Received int           // changes in the inbound delta
	Cursor   int64         // cursor after the merge
	Duration time.Duration // wall time of the round trip
	Shared   bool          // joined a round trip started by another caller
}

// Syncer runs sync round trips for one engine.
type Syncer struct {
	engine    *reconcile.Engine
	transport transport.Transport
	undo      Resolver
	journal   Journal
	logger    *log.Logger

	group singleflight.Group
}

// New creates a Syncer.
func New(cfg Config) (*Syncer, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{
		engine:    cfg.Engine,
		transport: cfg.Transport,
		undo:      cfg.Undo,
		journal:   cfg.Journal,
		logger:    cfg.Logger,
	}, nil
}

// RunSync performs one round trip, or joins the one already in flight.
//
// A caller whose ctx ends stops waiting and gets ctx.Err(). The round trip
// itself runs with the context of the caller that started it; cancelling
// that context aborts the exchange and leaves the ledger untouched.
func (s *Syncer) RunSync(ctx context.Context) (Result, error) {
	ch := s.group.DoChan("sync", func() (interface{}, error) {
		return s.run(ctx)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		res := r.Val.(Result)
		res.Shared = r.Shared
		return res, r.Err
	}
}

func (s *Syncer) run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		s.record(ctx, start, res, err)
	}()

	if err := s.engine.RetryPersist(ctx); err != nil {
		s.logger.Printf("Warning: %v", err)
	}

	// Discard happens-before the delta is built so the tombstone goes out now
	if s.undo != nil {
		if err := s.undo.Resolve(ctx); err != nil {
			s.logger.Printf("Warning: failed to persist discarded removal: %v", err)
		}
	}

	out, err := s.engine.BuildOutboundDelta()
	if err != nil {
		return res, s.fail(err)
	}
	res.Sent = len(out.Changes)

	payload, err := s.transport.Exchange(ctx, wire.Marshal(out))
	if err != nil {
		return res, s.fail(fmt.Errorf("%w: %w", ErrTransport, err))
	}

	in, err := wire.Unmarshal(payload)
	if err != nil {
		return res, s.fail(fmt.Errorf("%w: %w", ErrTransport, err))
	}
	res.Received = len(in.Changes)
	res.Cursor = in.ServerTimestamp

	// The server has the changes; finish even if the caller gives up now
	applyCtx := context.WithoutCancel(ctx)
	ackErr := s.engine.ApplyOutboundAck(applyCtx, out)
	mergeErr := s.engine.MergeInboundDelta(applyCtx, in)
	if err := errors.Join(ackErr, mergeErr); err != nil {
		return res, s.fail(err)
	}

	s.logger.Printf("Sync complete: sent %d, received %d, cursor %d", res.Sent, res.Received, res.Cursor)
	s.engine.Announce(reconcile.Event{Kind: reconcile.EventSynced, Changes: res.Sent + res.Received})
	return res, nil
}

func (s *Syncer) fail(err error) error {
	s.logger.Printf("Sync failed: %v", err)
	s.engine.Announce(reconcile.Event{Kind: reconcile.EventSyncFailed, Err: err.Error()})
	return fmt.Errorf("failed to sync: %w", err)
}

func (s *Syncer) record(ctx context.Context, start time.Time, res Result, err error) {
	if s.journal == nil {
		return
	}
	run := schema.SyncRun{
		StartedAt: start,
		Duration:  res.Duration,
		Sent:      res.Sent,
		Received:  res.Received,
		Cursor:    res.Cursor,
	}
	if err != nil {
		run.Error = err.Error()
		if c, cerr := s.engine.Cursor(); cerr == nil {
			run.Cursor = c
		}
	}
	if jerr := s.journal.RecordSyncRun(context.WithoutCancel(ctx), run); jerr != nil {
		s.logger.Printf("Warning: failed to record sync run: %v", jerr)
	}
}
