package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/store"
	"github.com/steveyegge/budgetsync/internal/ledger/wire"
)

// Store is the durable mirror the engine writes through to.
type Store = store.Store

// CursorStore persists the sync cursor.
type CursorStore interface {
	// Cursor returns the stored cursor, 0 if none was ever stored.
	Cursor() (int64, error)
	SetCursor(int64) error
}

// ErrNotFound is returned when an operation names an id that is not in the
// active ledger.
var ErrNotFound = errors.New("transaction not found")

// Options configures an Engine. The zero value is usable.
type Options struct {
	// Logger for engine activity (default: stderr with "[engine] " prefix)
	Logger *log.Logger

	// Notifier receives ledger events (default: none)
	Notifier Notifier

	// NewID generates transaction ids (default: uuid.NewString)
	NewID func() string

	// Now stamps events (default: time.Now)
	Now func() time.Time
}

// Engine owns the ledger state: the active list, the pending set and the
// balance. All mutations are serialized by one mutex and written through to
// the Store before the call returns.
//
// A failed write leaves memory ahead of storage. The affected ids are
// remembered and RetryPersist re-derives their rows from memory.
type Engine struct {
	mu       sync.Mutex
	store    Store
	cursors  CursorStore
	notifier Notifier
	logger   *log.Logger
	newID    func() string
	now      func() time.Time

	active  []schema.Transaction          // newest first
	pending map[string]schema.Transaction // latest unacknowledged revision by id
	evicted map[string]schema.Transaction // removed by a swipe, not yet resolved
	balance decimal.Decimal               // sum of active amounts

	dirty map[string]struct{} // ids whose row may be behind memory

	// Changes of the last outbound delta. The server answers with its own
	// copy of them, which must not undo edits made while the sync was out.
	sent map[string]wire.Change
}

// Open loads the ledger from st and returns a ready Engine.
//
// Non-deleted rows become the active list, pending rows become the pending
// set, and the balance is computed once from the active list. Any load error
// is returned as is; there is no partially loaded Engine.
func Open(ctx context.Context, st Store, cursors CursorStore, opts Options) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cursors == nil {
		return nil, fmt.Errorf("cursor store is required")
	}

	e := &Engine{
		store:    st,
		cursors:  cursors,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		newID:    opts.NewID,
		now:      opts.Now,
		pending:  make(map[string]schema.Transaction),
		evicted:  make(map[string]schema.Transaction),
		dirty:    make(map[string]struct{}),
	}
	if e.logger == nil {
		e.logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.now == nil {
		e.now = time.Now
	}

	active, err := st.Scan(ctx, store.NotDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to load active transactions: %w", err)
	}
	pending, err := st.Scan(ctx, store.PendingOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending transactions: %w", err)
	}

	schema.SortNewestFirst(active)
	e.active = active
	e.balance = schema.Sum(active)
	for _, t := range pending {
		e.pending[t.ID] = t
	}

	e.logger.Printf("Loaded %d transactions (%d pending), balance %s",
		len(e.active), len(e.pending), e.balance.StringFixed(2))
	return e, nil
}

// CreateTransaction adds a new pending transaction with a fresh id.
//
// The returned transaction is in memory even when the error is non-nil; the
// error then only reports that the row could not be written.
func (e *Engine) CreateTransaction(ctx context.Context, amount decimal.Decimal, label string, occurredAt time.Time) (schema.Transaction, error) {
	t := schema.Transaction{
		ID:         e.newID(),
		Amount:     amount,
		OccurredAt: occurredAt,
		Label:      label,
		Pending:    true,
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return schema.Transaction{}, fmt.Errorf("invalid transaction: %w", err)
	}

	e.mu.Lock()
	e.putActive(t, -1)
	e.pending[t.ID] = t
	err := e.persistOne(ctx, t)
	ev := e.eventLocked(EventCreated, &t)
	e.mu.Unlock()

	e.notifier.Notify(ev)
	if err != nil {
		return t, fmt.Errorf("failed to persist transaction %s: %w", t.ID, err)
	}
	return t, nil
}

// ReplaceTransaction installs a new revision of an active transaction.
//
// It returns false without touching state or storage when amount, date and
// label all equal the current revision.
func (e *Engine) ReplaceTransaction(ctx context.Context, id string, amount decimal.Decimal, label string, occurredAt time.Time) (bool, error) {
	next := schema.Transaction{
		ID:         id,
		Amount:     amount,
		OccurredAt: occurredAt,
		Label:      label,
		Pending:    true,
	}
	next.Normalize()

	e.mu.Lock()
	i := schema.IndexOf(e.active, id)
	if i < 0 {
		e.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if schema.SameContent(e.active[i], next) {
		e.mu.Unlock()
		return false, nil
	}
	if err := next.Validate(); err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("invalid transaction: %w", err)
	}

	_, at, _ := e.removeActive(id)
	e.putActive(next, at)
	e.pending[id] = next
	err := e.persistOne(ctx, next)
	ev := e.eventLocked(EventReplaced, &next)
	e.mu.Unlock()

	e.notifier.Notify(ev)
	if err != nil {
		return true, fmt.Errorf("failed to persist transaction %s: %w", id, err)
	}
	return true, nil
}

// Evict removes an active transaction from the list and the balance without
// touching storage. It returns the evicted entity and the index it held.
// The entity stays in limbo until Reinsert or MarkForDeletion resolves it.
func (e *Engine) Evict(id string) (schema.Transaction, int, error) {
	e.mu.Lock()
	t, at, ok := e.removeActive(id)
	if !ok {
		e.mu.Unlock()
		return schema.Transaction{}, -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.evicted[id] = t
	ev := e.eventLocked(EventRemoved, &t)
	e.mu.Unlock()

	e.notifier.Notify(ev)
	return t, at, nil
}

// Reinsert puts an evicted transaction back, at index if the list is still
// ordered with it there, otherwise at its sorted position.
//
// It returns false when there is nothing to restore: the eviction was
// already resolved, or a merge put a server revision of the same id back in
// the meantime.
func (e *Engine) Reinsert(index int, t schema.Transaction) bool {
	e.mu.Lock()
	cur, ok := e.evicted[t.ID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.evicted, t.ID)

	// An ack may have landed while the entity was out of the list
	_, cur.Pending = e.pending[cur.ID]

	index = min(max(index, 0), len(e.active))
	e.putActive(cur, index)
	ev := e.eventLocked(EventRestored, &cur)
	e.mu.Unlock()

	e.notifier.Notify(ev)
	return true
}

// MarkForDeletion tombstones a transaction: Deleted and Pending are set, it
// joins the pending set and the tombstone row is upserted so the deletion
// reaches the server on the next sync.
//
// It is normally called for an entity already evicted by Evict. If the id is
// active again (a merge re-added it while the undo window was open) it is
// evicted first so the balance stays consistent.
func (e *Engine) MarkForDeletion(ctx context.Context, t schema.Transaction) error {
	e.mu.Lock()
	tomb := t
	if cur, ok := e.evicted[t.ID]; ok {
		tomb = cur
		delete(e.evicted, t.ID)
	}
	if cur, _, ok := e.removeActive(t.ID); ok {
		e.logger.Printf("Removing %s re-added by merge before tombstoning", t.ID)
		tomb = cur
	}
	tomb.Deleted = true
	tomb.Pending = true
	e.pending[tomb.ID] = tomb

	err := e.persistOne(ctx, tomb)
	ev := e.eventLocked(EventDeleted, &tomb)
	e.mu.Unlock()

	e.notifier.Notify(ev)
	if err != nil {
		return fmt.Errorf("failed to persist tombstone %s: %w", tomb.ID, err)
	}
	return nil
}

// BuildOutboundDelta returns the current cursor and one change per pending
// entity, ordered by id. It does not mutate anything; the result is a value
// snapshot that later mutations cannot alter.
func (e *Engine) BuildOutboundDelta() (wire.Delta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cursor, err := e.cursors.Cursor()
	if err != nil {
		return wire.Delta{}, fmt.Errorf("failed to read sync cursor: %w", err)
	}

	d := wire.Delta{ServerTimestamp: cursor}
	for _, id := range e.pendingIDs() {
		d.Changes = append(d.Changes, wire.FromTransaction(e.pending[id]))
	}
	return d, nil
}

// ApplyOutboundAck clears the pending entries the server has accepted.
//
// Only entries whose current pending revision still equals the change in
// sent are acknowledged; anything edited after sent was built stays pending
// for the next sync. Acknowledged tombstones are deleted from storage, other
// acknowledged entries are upserted with Pending cleared. The active list and
// the balance are never changed.
func (e *Engine) ApplyOutboundAck(ctx context.Context, sent wire.Delta) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sent = make(map[string]wire.Change, len(sent.Changes))
	for _, c := range sent.Changes {
		e.sent[c.GUID] = c
	}

	var b store.Batch
	for _, c := range sent.Changes {
		p, ok := e.pending[c.GUID]
		if !ok || wire.FromTransaction(p) != c {
			continue
		}
		delete(e.pending, c.GUID)

		if p.Deleted {
			b.Deletes = append(b.Deletes, p.ID)
			continue
		}

		p.Pending = false
		if i := schema.IndexOf(e.active, p.ID); i >= 0 {
			e.active[i].Pending = false
		}
		if cur, ok := e.evicted[p.ID]; ok {
			cur.Pending = false
			e.evicted[p.ID] = cur
		}
		b.Upserts = append(b.Upserts, p)
	}

	if b.Empty() {
		return nil
	}
	if err := e.persistBatch(ctx, b); err != nil {
		return fmt.Errorf("failed to persist acknowledged changes: %w", err)
	}

	e.logger.Printf("Acknowledged %d changes (%d purged), %d still pending",
		len(b.Upserts)+len(b.Deletes), len(b.Deletes), len(e.pending))
	return nil
}

// MergeInboundDelta applies the server's changes. The server always wins:
// an incoming revision replaces the local one, and any unsynced local change
// for the same id is dropped.
//
// The exception is the server's echo of a change this engine sent in the
// last outbound delta. If the id was edited, deleted or evicted locally
// after that delta was built, the echo is older than the local state and is
// skipped; the local revision goes out with the next sync.
//
// All rows are written in one batch. The cursor is stored after the batch
// succeeds, even when the delta carries no changes.
func (e *Engine) MergeInboundDelta(ctx context.Context, in wire.Delta) error {
	e.mu.Lock()

	type op struct {
		t      schema.Transaction
		delete bool
	}
	ops := make(map[string]op, len(in.Changes))
	var order []string

	for _, c := range in.Changes {
		t := c.Transaction()
		if err := t.Validate(); err != nil {
			e.logger.Printf("Skipping invalid server change %q: %v", c.GUID, err)
			continue
		}
		if e.supersedesEcho(c) {
			e.logger.Printf("Keeping local revision of %s made during sync", t.ID)
			continue
		}

		if p, ok := e.pending[t.ID]; ok {
			e.logger.Printf("Server revision of %s overrides unsynced local change (%s)", t.ID, p)
			delete(e.pending, t.ID)
		}
		// An open undo window must not resurrect a stale copy
		delete(e.evicted, t.ID)

		_, at, _ := e.removeActive(t.ID)
		if !t.Deleted {
			e.putActive(t, at)
		}

		if _, seen := ops[t.ID]; !seen {
			order = append(order, t.ID)
		}
		ops[t.ID] = op{t: t, delete: t.Deleted}
	}

	var b store.Batch
	for _, id := range order {
		if o := ops[id]; o.delete {
			b.Deletes = append(b.Deletes, id)
		} else {
			b.Upserts = append(b.Upserts, o.t)
		}
	}

	if err := e.persistBatch(ctx, b); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to persist inbound delta: %w", err)
	}
	if err := e.cursors.SetCursor(in.ServerTimestamp); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to persist sync cursor: %w", err)
	}
	e.sent = nil

	ev := e.eventLocked(EventMerged, nil)
	ev.Changes = len(order)
	e.mu.Unlock()

	if len(order) > 0 {
		e.logger.Printf("Merged %d server changes (%d deleted), cursor %d",
			len(order), len(b.Deletes), in.ServerTimestamp)
	}
	e.notifier.Notify(ev)
	return nil
}

// RetryPersist rewrites every row whose earlier write failed, deriving it
// from the current in-memory state. Rows that should no longer exist are
// deleted. Safe to call at any time; it is a no-op when nothing is dirty.
func (e *Engine) RetryPersist(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.dirty) == 0 {
		return nil
	}

	ids := make([]string, 0, len(e.dirty))
	for id := range e.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b store.Batch
	for _, id := range ids {
		if t, ok := e.rowFor(id); ok {
			b.Upserts = append(b.Upserts, t)
		} else {
			b.Deletes = append(b.Deletes, id)
		}
	}

	if err := e.store.Apply(ctx, b); err != nil {
		return fmt.Errorf("failed to retry %d writes: %w", len(ids), err)
	}
	clear(e.dirty)

	e.logger.Printf("Recovered %d unsaved rows", len(ids))
	return nil
}

// Announce stamps ev with the current ledger totals and time and hands it to the
// notifier. It lets collaborators such as the syncer publish through the
// same channel as the engine.
func (e *Engine) Announce(ev Event) {
	e.mu.Lock()
	ev.Balance = e.balance
	ev.Pending = len(e.pending)
	ev.At = e.now()
	e.mu.Unlock()

	e.notifier.Notify(ev)
}

// Active returns a copy of the active list, newest first.
func (e *Engine) Active() []schema.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.active)
}

// Balance returns the sum of all active amounts.
func (e *Engine) Balance() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// Pending returns a copy of the pending set ordered by id.
func (e *Engine) Pending() []schema.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]schema.Transaction, 0, len(e.pending))
	for _, id := range e.pendingIDs() {
		result = append(result, e.pending[id])
	}
	return result
}

// Lookup returns the engine's view of id: the active revision, else the
// pending revision (tombstones), else a copy waiting in an undo window.
func (e *Engine) Lookup(id string) (schema.Transaction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i := schema.IndexOf(e.active, id); i >= 0 {
		return e.active[i], true
	}
	if t, ok := e.pending[id]; ok {
		return t, true
	}
	t, ok := e.evicted[id]
	return t, ok
}

// Snapshot is a consistent view of the ledger for display.
type Snapshot struct {
	Active  []schema.Transaction `json:"active"`
	Balance decimal.Decimal      `json:"balance"`
	Pending int                  `json:"pending"`
}

// Snapshot returns the active list, balance and pending count taken under
// one lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Active:  slices.Clone(e.active),
		Balance: e.balance,
		Pending: len(e.pending),
	}
}

// Dirty reports whether some rows failed to persist and await RetryPersist.
func (e *Engine) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dirty) > 0
}

// Cursor returns the stored sync cursor.
func (e *Engine) Cursor() (int64, error) {
	return e.cursors.Cursor()
}

// --- helpers below require e.mu ---

// removeActive drops id from the active list and the balance.
func (e *Engine) removeActive(id string) (schema.Transaction, int, bool) {
	i := schema.IndexOf(e.active, id)
	if i < 0 {
		return schema.Transaction{}, -1, false
	}
	t := e.active[i]
	e.active = slices.Delete(e.active, i, i+1)
	e.balance = e.balance.Sub(t.Amount)
	return t, i, true
}

// putActive inserts t at hint when that keeps the list ordered, otherwise at
// its sorted position after any entries with the same date.
func (e *Engine) putActive(t schema.Transaction, hint int) int {
	at := hint
	if at < 0 || at > len(e.active) || !fitsAt(e.active, at, t) {
		at = sortedIndex(e.active, t)
	}
	e.active = slices.Insert(e.active, at, t)
	e.balance = e.balance.Add(t.Amount)
	return at
}

func (e *Engine) persistOne(ctx context.Context, t schema.Transaction) error {
	if err := e.store.UpsertOne(ctx, t); err != nil {
		e.dirty[t.ID] = struct{}{}
		return err
	}
	delete(e.dirty, t.ID)
	return nil
}

func (e *Engine) persistBatch(ctx context.Context, b store.Batch) error {
	if b.Empty() {
		return nil
	}
	if err := e.store.Apply(ctx, b); err != nil {
		for _, t := range b.Upserts {
			e.dirty[t.ID] = struct{}{}
		}
		for _, id := range b.Deletes {
			e.dirty[id] = struct{}{}
		}
		return err
	}
	for _, t := range b.Upserts {
		delete(e.dirty, t.ID)
	}
	for _, id := range b.Deletes {
		delete(e.dirty, id)
	}
	return nil
}

// supersedesEcho reports whether c is the server's copy of a change from
// the last outbound delta that local state has moved past since.
func (e *Engine) supersedesEcho(c wire.Change) bool {
	if s, ok := e.sent[c.GUID]; !ok || s != c {
		return false
	}
	if p, ok := e.pending[c.GUID]; ok && wire.FromTransaction(p) != c {
		return true
	}
	// Swiped away while the sync was out; the undo window decides
	_, evicted := e.evicted[c.GUID]
	return evicted
}

// rowFor derives the row storage should hold for id. The pending revision
// wins because it is the newest; an evicted copy still exists in storage
// unchanged. No answer means the row should not exist.
func (e *Engine) rowFor(id string) (schema.Transaction, bool) {
	if t, ok := e.pending[id]; ok {
		return t, true
	}
	if i := schema.IndexOf(e.active, id); i >= 0 {
		return e.active[i], true
	}
	t, ok := e.evicted[id]
	return t, ok
}

func (e *Engine) pendingIDs() []string {
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) eventLocked(kind EventKind, t *schema.Transaction) Event {
	ev := Event{Kind: kind, Balance: e.balance, Pending: len(e.pending), At: e.now()}
	if t != nil {
		cp := *t
		ev.Transaction = &cp
	}
	return ev
}

// fitsAt reports whether inserting t at index i keeps list newest first.
func fitsAt(list []schema.Transaction, i int, t schema.Transaction) bool {
	if i > 0 && list[i-1].OccurredAt.Before(t.OccurredAt) {
		return false
	}
	if i < len(list) && list[i].OccurredAt.After(t.OccurredAt) {
		return false
	}
	return true
}

// sortedIndex is where a stable re-sort would place t if appended.
func sortedIndex(list []schema.Transaction, t schema.Transaction) int {
	if i := slices.IndexFunc(list, func(x schema.Transaction) bool {
		return x.OccurredAt.Before(t.OccurredAt)
	}); i >= 0 {
		return i
	}
	return len(list)
}
