// Package schema provides the transaction record shared by storage, the
// reconciliation engine, the wire codec and the presentation layers.
package schema

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single ledger entry.
//
// Two transactions describe the same entity iff their IDs match; every other
// field may differ between revisions of that entity. Use SameEntity for
// lookups, never struct equality.
type Transaction struct {
	// ===== Identity =====
	ID string `json:"id"`

	// ===== Content =====
	Amount     decimal.Decimal `json:"amount"` // signed; expenses are negative
	OccurredAt time.Time       `json:"occurred_at"`
	Label      string          `json:"label"`

	// ===== Sync state =====
	Deleted bool `json:"deleted"` // tombstone awaiting server acknowledgment
	Pending bool `json:"pending"` // local change not yet acknowledged
}

// Validate checks if the Transaction has valid field values.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	if math.IsInf(t.Amount.InexactFloat64(), 0) {
		return fmt.Errorf("amount %s is out of range", t.Amount.String())
	}
	if len(t.Label) > 1000 {
		return fmt.Errorf("label must be 1000 characters or less (got %d)", len(t.Label))
	}
	return nil
}

// SameEntity reports whether a and b are revisions of the same transaction.
func SameEntity(a, b Transaction) bool {
	return a.ID == b.ID
}

// SameContent reports whether a and b carry identical user-visible values:
// amount, occurrence time and label. Sync flags are ignored.
func SameContent(a, b Transaction) bool {
	return a.Amount.Equal(b.Amount) &&
		a.OccurredAt.Equal(b.OccurredAt) &&
		a.Label == b.Label
}

// SameRevision reports whether a and b would serialize to the same wire change.
func SameRevision(a, b Transaction) bool {
	return SameEntity(a, b) && SameContent(a, b) && a.Deleted == b.Deleted
}

// IndexOf returns the position of the entity with the given id, or -1.
func IndexOf(list []Transaction, id string) int {
	return slices.IndexFunc(list, func(t Transaction) bool { return t.ID == id })
}

// Newest orders transactions by occurrence time, most recent first.
// It is meant for slices.SortStableFunc so ties keep their relative order.
func Newest(a, b Transaction) int {
	return b.OccurredAt.Compare(a.OccurredAt)
}

// SortNewestFirst sorts list in place, descending by OccurredAt, stable.
func SortNewestFirst(list []Transaction) {
	slices.SortStableFunc(list, Newest)
}

// IsSortedNewestFirst reports whether list is in descending OccurredAt order.
func IsSortedNewestFirst(list []Transaction) bool {
	return slices.IsSortedFunc(list, Newest)
}

// Sum returns the total of all amounts in list.
func Sum(list []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range list {
		total = total.Add(t.Amount)
	}
	return total
}

// Millis converts an occurrence time to the millisecond epoch used on disk
// and on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis. The result is in UTC.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Normalize truncates OccurredAt to millisecond precision and trims the label
// so that an in-memory value round-trips through storage unchanged.
func (t *Transaction) Normalize() {
	t.OccurredAt = FromMillis(Millis(t.OccurredAt))
	t.Label = strings.TrimSpace(t.Label)
}

// String returns a short human-readable form, e.g. "3f2a… -12.50 lunch".
func (t Transaction) String() string {
	id := t.ID
	if len(id) > 8 {
		id = id[:8] + "…"
	}
	return fmt.Sprintf("%s %s %s", id, t.Amount.StringFixed(2), t.Label)
}
