package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/budgetsync/internal/ledger/cursor"
	"github.com/steveyegge/budgetsync/internal/ledger/db"
	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/syncer"
	"github.com/steveyegge/budgetsync/internal/ledger/transport"
	"github.com/steveyegge/budgetsync/internal/ledger/undo"
)

// app is an opened ledger with everything needed to edit and sync it.
type app struct {
	db      *db.DB
	cursors *cursor.File
	engine  *reconcile.Engine
	undo    *undo.Coordinator
	syncer  *syncer.Syncer // nil when sync.url is not configured
	relay   *relay
}

// openApp opens the ledger database and state file and loads the engine.
func openApp(ctx context.Context) (*app, error) {
	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		database.Close()
		return nil, err
	}

	a := &app{
		db:      database,
		cursors: cursor.NewFile(cfg.StatePath()),
		relay:   &relay{},
	}

	a.engine, err = reconcile.Open(ctx, database, a.cursors, reconcile.Options{
		Logger:   sink.Logger("engine"),
		Notifier: a.relay,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	a.undo = undo.New(a.engine, undo.Config{Window: cfg.Undo.Window, Logger: sink.Logger("undo")})

	if cfg.Sync.URL != "" {
		tr, err := transport.NewHTTP(transport.HTTPConfig{URL: cfg.Sync.URL, Timeout: cfg.Sync.Timeout})
		if err != nil {
			database.Close()
			return nil, err
		}
		a.syncer, err = syncer.New(syncer.Config{
			Engine:    a.engine,
			Transport: tr,
			Undo:      a.undo,
			Journal:   database,
			Logger:    sink.Logger("sync"),
		})
		if err != nil {
			database.Close()
			return nil, err
		}
	}
	return a, nil
}

// requireSync returns the syncer or an error naming the missing setting.
func (a *app) requireSync() (*syncer.Syncer, error) {
	if a.syncer == nil {
		return nil, fmt.Errorf("sync.url is not configured (set it in %s or BUDGETSYNC_SYNC_URL)", currentConfigPath())
	}
	return a.syncer, nil
}

// Close discards any outstanding removal and closes the database.
func (a *app) Close() error {
	if err := a.undo.Close(); err != nil {
		sink.Logger("undo").Printf("Warning: %v", err)
	}
	return a.db.Close()
}

// resolve finds a transaction by id or unique id prefix among the active
// list.
func (a *app) resolve(prefix string) (schema.Transaction, error) {
	if t, ok := a.engine.Lookup(prefix); ok && !t.Deleted {
		return t, nil
	}

	var matches []schema.Transaction
	for _, t := range a.engine.Active() {
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return schema.Transaction{}, fmt.Errorf("no transaction matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return schema.Transaction{}, fmt.Errorf("%q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// relay forwards engine events to notifiers attached after the engine is
// open, e.g. the daemon, which itself needs the engine to be built.
type relay struct {
	mu sync.RWMutex
	ns reconcile.Notifiers
}

func (r *relay) Notify(ev reconcile.Event) {
	r.mu.RLock()
	ns := r.ns
	r.mu.RUnlock()
	ns.Notify(ev)
}

func (r *relay) Attach(ns ...reconcile.Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ns = append(r.ns, ns...)
}

// syncTimeout bounds a one-shot sync from the CLI.
func syncTimeout() time.Duration {
	if cfg.Sync.Timeout > 0 {
		return cfg.Sync.Timeout + 5*time.Second
	}
	return 35 * time.Second
}
