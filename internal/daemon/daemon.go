// Package daemon keeps a ledger in sync while it runs.
//
// The daemon:
// 1. Syncs once on start when the local ledger is empty
// 2. Syncs periodically on a fixed interval
// 3. Schedules a debounced sync after every local mutation
// 4. Hot-reloads the interval and debounce when the config file changes
// 5. Discards any outstanding removal and cancels an in-flight sync on shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/budgetsync/internal/config"
	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to sync when nothing changes locally
	SyncInterval time.Duration

	// Debounce is how long to wait after a local mutation before syncing.
	// Rapid edits are batched into one round trip.
	Debounce time.Duration

	// ConfigPath is watched for changes to sync.interval and sync.debounce.
	// Empty disables hot reload.
	ConfigPath string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		Debounce:     3 * time.Second,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Syncer runs one sync round trip.
type Syncer interface {
	RunSync(ctx context.Context) (syncer.Result, error)
}

// Ledger is read once on start to decide on the initial sync.
type Ledger interface {
	Snapshot() reconcile.Snapshot
}

// Daemon schedules sync round trips for one ledger.
type Daemon struct {
	ledger Ledger
	syncer Syncer
	undo   io.Closer
	config *Config

	intervalMu sync.Mutex
	interval   time.Duration
	debounce   time.Duration

	changes chan struct{} // local mutation seen
	reload  chan struct{} // schedule changed

	watcher *ConfigWatcher

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Daemon. undo may be nil; when set it is closed on Stop,
// which discards an outstanding removal.
func New(ledger Ledger, s Syncer, undo io.Closer, cfg *Config) (*Daemon, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if s == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaults.SyncInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	var watcher *ConfigWatcher
	if cfg.ConfigPath != "" {
		w, err := NewConfigWatcher(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		ledger:   ledger,
		syncer:   s,
		undo:     undo,
		config:   cfg,
		interval: cfg.SyncInterval,
		debounce: cfg.Debounce,
		changes:  make(chan struct{}, 1),
		reload:   make(chan struct{}, 1),
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins scheduling syncs. It blocks until ctx is cancelled or Stop
// is called.
func (d *Daemon) Start(ctx context.Context) error {
	interval, debounce := d.Intervals()
	d.config.Logger.Printf("Starting daemon (interval %s, debounce %s)", interval, debounce)

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.config.ConfigPath)
		d.wg.Add(1)
		go d.watchConfig()
	}

	d.wg.Add(1)
	go d.schedule()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop cancels an in-flight sync, discards any outstanding removal and waits
// for the background goroutines. It is safe to call more than once.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if d.watcher != nil {
			if werr := d.watcher.Stop(); werr != nil {
				d.config.Logger.Printf("Error closing watcher: %v", werr)
			}
		}
		d.wg.Wait()

		if d.undo != nil {
			if uerr := d.undo.Close(); uerr != nil {
				err = fmt.Errorf("failed to discard outstanding removal: %w", uerr)
			}
		}
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// Notify implements reconcile.Notifier. Local mutations schedule a debounced
// sync; everything else is ignored. It never blocks.
func (d *Daemon) Notify(ev reconcile.Event) {
	switch ev.Kind {
	case reconcile.EventCreated, reconcile.EventReplaced, reconcile.EventDeleted:
	default:
		return
	}
	select {
	case d.changes <- struct{}{}:
	default:
	}
}

// Intervals returns the current sync interval and debounce.
func (d *Daemon) Intervals() (interval, debounce time.Duration) {
	d.intervalMu.Lock()
	defer d.intervalMu.Unlock()
	return d.interval, d.debounce
}

// SetIntervals changes the schedule of a running daemon. Non-positive values
// keep the current setting.
func (d *Daemon) SetIntervals(interval, debounce time.Duration) {
	d.intervalMu.Lock()
	changed := false
	if interval > 0 && interval != d.interval {
		d.interval = interval
		changed = true
	}
	if debounce > 0 && debounce != d.debounce {
		d.debounce = debounce
		changed = true
	}
	interval, debounce = d.interval, d.debounce
	d.intervalMu.Unlock()

	if !changed {
		return
	}
	d.config.Logger.Printf("Schedule changed (interval %s, debounce %s)", interval, debounce)
	select {
	case d.reload <- struct{}{}:
	default:
	}
}

// schedule owns the ticker and the debounce timer. Syncs run on this
// goroutine, so at most one is started at a time by the daemon.
func (d *Daemon) schedule() {
	defer d.wg.Done()

	interval, _ := d.Intervals()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	if snap := d.ledger.Snapshot(); len(snap.Active) == 0 && snap.Pending == 0 {
		d.sync("initial")
	}

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.sync("periodic")

		case <-d.changes:
			_, wait := d.Intervals()
			debounce.Reset(wait)

		case <-debounce.C:
			d.sync("debounced")

		case <-d.reload:
			interval, _ := d.Intervals()
			ticker.Reset(interval)
		}
	}
}

func (d *Daemon) sync(reason string) {
	res, err := d.syncer.RunSync(d.ctx)
	switch {
	case err == nil:
		d.config.Logger.Printf("Sync (%s): sent %d, received %d in %s", reason, res.Sent, res.Received, res.Duration.Round(time.Millisecond))
	case errors.Is(err, context.Canceled) && d.ctx.Err() != nil:
		d.config.Logger.Printf("Sync (%s) cancelled by shutdown", reason)
	default:
		d.config.Logger.Printf("Error syncing (%s): %v", reason, err)
	}
}

// watchConfig reloads the schedule whenever the config file changes.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case _, ok := <-d.watcher.Changes():
			if !ok {
				return
			}
			cfg, err := config.LoadFrom(d.config.ConfigPath)
			if err != nil {
				d.config.Logger.Printf("Warning: ignoring config change: %v", err)
				continue
			}
			d.SetIntervals(cfg.Sync.Interval, cfg.Sync.Debounce)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}
