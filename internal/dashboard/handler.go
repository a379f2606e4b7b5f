package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

// TransactionData is the payload of a MessageTypeTransaction message.
type TransactionData struct {
	Action      reconcile.EventKind `json:"action"` // created, replaced, removed, restored, deleted
	Transaction *schema.Transaction `json:"transaction,omitempty"`
	Balance     decimal.Decimal     `json:"balance"`
	Pending     int                 `json:"pending"`
}

// SyncData is the payload of merge and sync messages.
type SyncData struct {
	Changes int             `json:"changes"`
	Balance decimal.Decimal `json:"balance"`
	Pending int             `json:"pending"`
	Error   string          `json:"error,omitempty"`
}

// Handler turns ledger events into dashboard broadcasts. It implements
// reconcile.Notifier and never blocks the caller.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a Handler broadcasting through server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// Notify implements reconcile.Notifier.
func (h *Handler) Notify(ev reconcile.Event) {
	var (
		typ  MessageType
		data any
	)
	switch ev.Kind {
	case reconcile.EventCreated, reconcile.EventReplaced, reconcile.EventRemoved,
		reconcile.EventRestored, reconcile.EventDeleted:
		typ = MessageTypeTransaction
		data = TransactionData{Action: ev.Kind, Transaction: ev.Transaction, Balance: ev.Balance, Pending: ev.Pending}
	case reconcile.EventMerged:
		typ = MessageTypeMerge
		data = SyncData{Changes: ev.Changes, Balance: ev.Balance, Pending: ev.Pending}
	case reconcile.EventSynced:
		typ = MessageTypeSyncComplete
		data = SyncData{Changes: ev.Changes, Balance: ev.Balance, Pending: ev.Pending}
	case reconcile.EventSyncFailed:
		typ = MessageTypeSyncFailed
		data = SyncData{Balance: ev.Balance, Pending: ev.Pending, Error: ev.Err}
	default:
		return
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s event: %v", ev.Kind, err)
		return
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: dataJSON})
}
