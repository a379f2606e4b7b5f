// Package reconcile owns the in-memory ledger and reconciles it with the
// sync server.
//
// An Engine holds three pieces of state:
//
//   - the active list: non-deleted transactions, newest first
//   - the pending set: revisions not yet acknowledged by the server,
//     tombstones included
//   - the balance: the sum of active amounts, kept incrementally
//
// Two invariants hold after every operation: the balance equals the sum of
// the active list, and a transaction's Pending flag is set exactly when it
// is in the pending set.
//
// Local mutations (CreateTransaction, ReplaceTransaction, Evict, Reinsert,
// MarkForDeletion) write through to the Store. A sync round trip is
// BuildOutboundDelta, then the transport, then ApplyOutboundAck with the
// delta that was sent, then MergeInboundDelta with the server's answer.
// Merge is server-wins.
//
// Basic usage:
//
//	database, _ := db.Open(path)
//	_ = database.InitSchema()
//	engine, err := reconcile.Open(ctx, database, cursor.NewFile(statePath), reconcile.Options{})
//	if err != nil {
//	    return err
//	}
//	t, err := engine.CreateTransaction(ctx, decimal.NewFromInt(-12), "lunch", time.Now())
package reconcile
