package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/budgetsync/internal/ledger/wire"
)

type revision struct {
	change wire.Change
	ts     int64
}

// Memory is an in-process Backend.
type Memory struct {
	mu    sync.Mutex
	clock clock
	rows  map[string]revision
	fail  error
}

// NewMemory creates an empty Memory backend. now defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{clock: clock{now: now}, rows: make(map[string]revision)}
}

// FailWith makes every call return err until cleared with nil.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Apply implements Backend.
func (m *Memory) Apply(ctx context.Context, changes []wire.Change) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}

	ts := m.clock.next()
	for _, c := range changes {
		m.rows[c.GUID] = revision{change: c, ts: ts}
	}
	return ts, nil
}

// Since implements Backend.
func (m *Memory) Since(ctx context.Context, cursor int64) ([]wire.Change, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, 0, m.fail
	}

	var newer []revision
	for _, r := range m.rows {
		if r.ts > cursor {
			newer = append(newer, r)
		}
	}
	sort.Slice(newer, func(i, j int) bool {
		if newer[i].ts != newer[j].ts {
			return newer[i].ts < newer[j].ts
		}
		return newer[i].change.GUID < newer[j].change.GUID
	})

	changes := make([]wire.Change, len(newer))
	for i, r := range newer {
		changes[i] = r.change
	}
	return changes, m.clock.last, nil
}

// Len returns the number of stored guids.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Ping implements Backend.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }

var _ Backend = (*Memory)(nil)
