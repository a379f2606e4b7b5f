// Package loadtest simulates many devices editing one ledger and syncing
// through the same server.
//
// Each device has its own in-memory store and engine. Devices run
// concurrently: every round a device makes a few random edits (adds,
// changes and deletions) and syncs. After the last round every device syncs
// twice in turn, after which all devices must hold the same ledger.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/cursor"
	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/store"
	"github.com/steveyegge/budgetsync/internal/ledger/syncer"
	"github.com/steveyegge/budgetsync/internal/ledger/transport"
	"github.com/steveyegge/budgetsync/internal/ledger/undo"
)

// Config describes a load test.
type Config struct {
	// Devices is the number of simulated devices (default: 10)
	Devices int

	// Rounds is how many edit-then-sync rounds each device runs (default: 10)
	Rounds int

	// EditsPerRound is the number of random edits before each sync (default: 5)
	EditsPerRound int

	// Seed makes runs reproducible; device i uses Seed+i
	Seed int64

	// NewTransport returns the transport for one device (required)
	NewTransport func() (transport.Transport, error)

	// Logger for progress (default: stderr with "[loadtest] " prefix)
	Logger *log.Logger
}

// LatencyStats captures sync round-trip latency.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalSyncs int
	Errors     int
	Durations  []time.Duration
}

// Report is the outcome of a load test.
type Report struct {
	Stats      *LatencyStats
	Devices    int
	Edits      int
	EditErrors int
	Rows       int             // active rows on every device after settling
	Balance    decimal.Decimal // balance of device 0 after settling
	Converged  bool
	Mismatches []string // devices whose ledger differs from device 0
	Elapsed    time.Duration
}

// device is one simulated client.
type device struct {
	id     int
	engine *reconcile.Engine
	undo   *undo.Coordinator
	syncer *syncer.Syncer
	rng    *rand.Rand
}

// Run executes the load test described by cfg.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.NewTransport == nil {
		return nil, fmt.Errorf("transport factory is required")
	}
	if cfg.Devices <= 0 {
		cfg.Devices = 10
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = 10
	}
	if cfg.EditsPerRound <= 0 {
		cfg.EditsPerRound = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[loadtest] ", log.LstdFlags)
	}

	devices := make([]*device, cfg.Devices)
	for i := range devices {
		d, err := newDevice(ctx, i, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create device %d: %w", i, err)
		}
		defer d.undo.Close()
		devices[i] = d
	}

	start := time.Now()
	cfg.Logger.Printf("Running %d devices x %d rounds x %d edits", cfg.Devices, cfg.Rounds, cfg.EditsPerRound)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		durations  []time.Duration
		syncErrs   int
		edits      int
		editErrors int
	)
	for _, d := range devices {
		wg.Add(1)
		go func(d *device) {
			defer wg.Done()
			var local []time.Duration
			var nEdits, nEditErrs, nSyncErrs int

			for r := 0; r < cfg.Rounds && ctx.Err() == nil; r++ {
				for j := 0; j < cfg.EditsPerRound; j++ {
					nEdits++
					if err := d.edit(ctx); err != nil {
						nEditErrs++
						cfg.Logger.Printf("Device %d edit failed: %v", d.id, err)
					}
				}

				begin := time.Now()
				_, err := d.syncer.RunSync(ctx)
				local = append(local, time.Since(begin))
				if err != nil {
					nSyncErrs++
					cfg.Logger.Printf("Device %d sync failed: %v", d.id, err)
				}
			}

			mu.Lock()
			durations = append(durations, local...)
			edits += nEdits
			editErrors += nEditErrs
			syncErrs += nSyncErrs
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Two passes: the first pushes everything, the second pulls everything
	for pass := 0; pass < 2; pass++ {
		for _, d := range devices {
			if _, err := d.syncer.RunSync(ctx); err != nil {
				return nil, fmt.Errorf("device %d failed to settle: %w", d.id, err)
			}
		}
	}

	if len(durations) == 0 {
		return nil, fmt.Errorf("no syncs completed")
	}
	stats := computeLatencyStats(durations)
	stats.Errors = syncErrs

	report := &Report{
		Stats:      stats,
		Devices:    cfg.Devices,
		Edits:      edits,
		EditErrors: editErrors,
		Elapsed:    time.Since(start),
	}
	report.Rows, report.Balance, report.Mismatches = compare(devices)
	report.Converged = len(report.Mismatches) == 0
	return report, nil
}

func newDevice(ctx context.Context, id int, cfg Config) (*device, error) {
	quiet := log.New(io.Discard, "", 0)

	e, err := reconcile.Open(ctx, store.NewMemory(), cursor.NewMemory(0), reconcile.Options{Logger: quiet})
	if err != nil {
		return nil, err
	}
	tr, err := cfg.NewTransport()
	if err != nil {
		return nil, err
	}
	u := undo.New(e, undo.Config{Window: time.Hour, Logger: quiet})
	s, err := syncer.New(syncer.Config{Engine: e, Transport: tr, Undo: u, Logger: quiet})
	if err != nil {
		u.Close()
		return nil, err
	}
	return &device{
		id:     id,
		engine: e,
		undo:   u,
		syncer: s,
		rng:    rand.New(rand.NewSource(cfg.Seed + int64(id))),
	}, nil
}

// edit makes one random change: 60% adds, 25% changes, 15% deletions.
// Changes and deletions fall back to adds on an empty ledger.
func (d *device) edit(ctx context.Context) error {
	active := d.engine.Active()
	roll := d.rng.Intn(100)

	switch {
	case len(active) == 0 || roll < 60:
		_, err := d.engine.CreateTransaction(ctx, d.amount(), d.label(), d.date())
		return err
	case roll < 85:
		t := active[d.rng.Intn(len(active))]
		_, err := d.engine.ReplaceTransaction(ctx, t.ID, d.amount(), t.Label, t.OccurredAt)
		return err
	default:
		t := active[d.rng.Intn(len(active))]
		if _, err := d.undo.Begin(ctx, t.ID); err != nil {
			return err
		}
		return d.undo.Discard(ctx)
	}
}

// amount is mostly small expenses with the occasional income.
func (d *device) amount() decimal.Decimal {
	cents := int64(d.rng.Intn(20000) + 1)
	if d.rng.Intn(10) == 0 {
		return decimal.New(cents*10, -2)
	}
	return decimal.New(-cents, -2)
}

var labels = []string{"coffee", "groceries", "rent", "train", "lunch", "books", "salary", "gift"}

func (d *device) label() string {
	return fmt.Sprintf("%s #%d", labels[d.rng.Intn(len(labels))], d.id)
}

func (d *device) date() time.Time {
	return time.Now().Add(-time.Duration(d.rng.Intn(30*24)) * time.Hour).Truncate(time.Millisecond)
}

// compare checks every device against device 0 by id, amount, label and
// date.
func compare(devices []*device) (rows int, balance decimal.Decimal, mismatches []string) {
	ref := devices[0].engine.Snapshot()
	for _, d := range devices[1:] {
		snap := d.engine.Snapshot()
		if diff := diffLedgers(ref.Active, snap.Active); diff != "" {
			mismatches = append(mismatches, fmt.Sprintf("device %d: %s", d.id, diff))
		}
	}
	return len(ref.Active), ref.Balance, mismatches
}

func diffLedgers(want, got []schema.Transaction) string {
	if len(want) != len(got) {
		return fmt.Sprintf("%d rows, want %d", len(got), len(want))
	}
	byID := make(map[string]schema.Transaction, len(got))
	for _, t := range got {
		byID[t.ID] = t
	}
	for _, w := range want {
		g, ok := byID[w.ID]
		if !ok {
			return fmt.Sprintf("missing %s", w.ID)
		}
		if !schema.SameContent(w, g) {
			return fmt.Sprintf("%s differs: %s vs %s", w.ID, g, w)
		}
	}
	return ""
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalSyncs: len(durations),
		Durations:  sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Sync Latency:\n")
	fmt.Fprintf(w, "  Total Syncs:   %d\n", s.TotalSyncs)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
