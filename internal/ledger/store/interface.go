// Package store defines the contract between the reconciliation engine and
// durable storage, plus an in-memory implementation.
package store

import (
	"context"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

// Store is the durable mirror of the ledger.
//
// Every method is a single commit-or-discard unit: either all rows of the
// call are written or none are. Rows are keyed by transaction ID, so writing
// the same row twice is idempotent.
type Store interface {
	// UpsertOne inserts or replaces a single row.
	UpsertOne(ctx context.Context, t schema.Transaction) error

	// UpsertMany inserts or replaces every row in ts.
	UpsertMany(ctx context.Context, ts []schema.Transaction) error

	// DeleteMany physically removes the rows with the given ids.
	// Missing ids are ignored.
	DeleteMany(ctx context.Context, ids []string) error

	// Scan returns every row matching f, newest OccurredAt first.
	Scan(ctx context.Context, f Filter) ([]schema.Transaction, error)

	// Apply writes b.Upserts and removes b.Deletes in one transaction.
	Apply(ctx context.Context, b Batch) error
}

// Match is a tri-state predicate on a boolean column.
type Match int

const (
	// Any matches both values.
	Any Match = iota
	// Yes matches true.
	Yes
	// No matches false.
	No
)

func (m Match) matches(v bool) bool {
	switch m {
	case Yes:
		return v
	case No:
		return !v
	default:
		return true
	}
}

// Filter selects rows for Scan.
type Filter struct {
	Deleted Match
	Pending Match
}

var (
	// NotDeleted selects the rows that make up the active ledger.
	NotDeleted = Filter{Deleted: No}
	// PendingOnly selects rows awaiting server acknowledgment.
	PendingOnly = Filter{Pending: Yes}
	// Everything selects all rows, tombstones included.
	Everything = Filter{}
)

// Matches reports whether t satisfies the filter.
func (f Filter) Matches(t schema.Transaction) bool {
	return f.Deleted.matches(t.Deleted) && f.Pending.matches(t.Pending)
}

// Batch is a set of writes applied atomically by Store.Apply.
type Batch struct {
	Upserts []schema.Transaction
	Deletes []string
}

// Empty reports whether the batch has nothing to write.
func (b Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Deletes) == 0
}
