// Package schema defines the transaction record of the budgetsync ledger.
//
// # Overview
//
// A Transaction is the value object moved between the SQLite store, the
// reconciliation engine, the protobuf wire codec and the dashboard. It is a
// flat record:
//
//	{
//	  "id": "0c6f4b4e-2a55-4c1e-9a55-7c7f0b0c9a11",
//	  "amount": "-12.5",
//	  "occurred_at": "2026-04-04T12:30:00Z",
//	  "label": "lunch",
//	  "deleted": false,
//	  "pending": true
//	}
//
// # Identity
//
// Identity is the ID alone. A local edit produces a new revision that carries
// the same ID; callers must use SameEntity (or IndexOf) to find the previous
// revision instead of comparing structs.
//
// # Ordering
//
// The active ledger is kept newest first. SortNewestFirst is stable, so
// transactions sharing a timestamp keep their relative order.
//
// # Precision
//
// Timestamps are stored and transmitted as millisecond epochs. Normalize
// truncates a value to that precision so that an unchanged edit is detected
// as unchanged after a round trip through storage.
package schema
