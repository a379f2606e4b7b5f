package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

// Memory is an in-memory Store. It is used by tests and by dry runs that
// must not touch the ledger database.
type Memory struct {
	mu   sync.Mutex
	rows map[string]schema.Transaction

	// failures queued by FailNext, consumed one per write call
	failures []error
	writes   int
}

// NewMemory creates an empty in-memory store.
func NewMemory(seed ...schema.Transaction) *Memory {
	m := &Memory{rows: make(map[string]schema.Transaction)}
	for _, t := range seed {
		m.rows[t.ID] = t
	}
	return m
}

// FailNext makes the next write call return err without changing any row.
// Calls queue up: FailNext(a); FailNext(b) fails the next two writes.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

// Writes returns the number of successful write calls so far.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Get returns the stored row for id.
func (m *Memory) Get(id string) (schema.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	return t, ok
}

// Len returns the number of stored rows, tombstones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// UpsertOne implements Store.UpsertOne.
func (m *Memory) UpsertOne(ctx context.Context, t schema.Transaction) error {
	return m.Apply(ctx, Batch{Upserts: []schema.Transaction{t}})
}

// UpsertMany implements Store.UpsertMany.
func (m *Memory) UpsertMany(ctx context.Context, ts []schema.Transaction) error {
	return m.Apply(ctx, Batch{Upserts: ts})
}

// DeleteMany implements Store.DeleteMany.
func (m *Memory) DeleteMany(ctx context.Context, ids []string) error {
	return m.Apply(ctx, Batch{Deletes: ids})
}

// Apply implements Store.Apply.
func (m *Memory) Apply(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}

	// Validate everything before touching rows so a bad batch writes nothing
	for i := range b.Upserts {
		if err := b.Upserts[i].Validate(); err != nil {
			return fmt.Errorf("invalid transaction: %w", err)
		}
	}

	for _, t := range b.Upserts {
		m.rows[t.ID] = t
	}
	for _, id := range b.Deletes {
		delete(m.rows, id)
	}
	m.writes++
	return nil
}

// Scan implements Store.Scan.
func (m *Memory) Scan(ctx context.Context, f Filter) ([]schema.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]schema.Transaction, 0, len(m.rows))
	for _, t := range m.rows {
		if f.Matches(t) {
			result = append(result, t)
		}
	}
	// Map iteration is random; order ties by id so scans are repeatable
	slices.SortFunc(result, func(a, b schema.Transaction) int { return strings.Compare(a.ID, b.ID) })
	schema.SortNewestFirst(result)
	return result, nil
}

var _ Store = (*Memory)(nil)
