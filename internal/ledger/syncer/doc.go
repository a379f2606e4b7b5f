// Package syncer runs sync round trips between the local ledger and the
// sync server.
//
// One round trip is:
//
//  1. retry rows whose earlier write failed
//  2. discard the removal waiting in the undo window, if any
//  3. build the outbound delta from the pending set
//  4. exchange it with the server
//  5. on success, acknowledge what was sent and merge what came back
//
// A transport or decode failure leaves the ledger exactly as it was, so the
// next round trip sends the same changes again. At most one round trip is in
// flight; concurrent RunSync calls share it.
package syncer
