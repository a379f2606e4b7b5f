package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

// EventKind identifies what changed in the ledger.
type EventKind string

const (
	EventCreated    EventKind = "created"     // CreateTransaction
	EventReplaced   EventKind = "replaced"    // ReplaceTransaction with new values
	EventRemoved    EventKind = "removed"     // evicted by a swipe, undo still possible
	EventRestored   EventKind = "restored"    // undo put the entity back
	EventDeleted    EventKind = "deleted"     // tombstoned by MarkForDeletion
	EventMerged     EventKind = "merged"      // inbound delta applied
	EventSynced     EventKind = "synced"      // sync round trip completed
	EventSyncFailed EventKind = "sync_failed" // sync round trip failed, state untouched
)

// Event describes one ledger change. Balance and Pending are the balance
// and pending count after the change.
type Event struct {
	Kind        EventKind           `json:"kind"`
	Transaction *schema.Transaction `json:"transaction,omitempty"`
	Balance     decimal.Decimal     `json:"balance"`
	Pending     int                 `json:"pending"`
	Changes     int                 `json:"changes,omitempty"` // merged or synced change count
	Err         string              `json:"error,omitempty"`
	At          time.Time           `json:"at"`
}

// Notifier receives ledger events. Notify is called after the engine lock is
// released, so implementations may call back into the engine.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts an ordinary function to the Notifier interface.
type NotifierFunc func(Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev Event) {
	f(ev)
}

// Notifiers fans an event out to every notifier in order. Nil entries are
// skipped.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ev)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
