// Package audit implements the forensic audit trail fed by the runtime loop.
//
// Every tick produces one Record describing the intent, the raw and
// safety-scaled command and the scale applied. Records are sealed into a hash
// chain (each hash covers the previous hash and the deterministic CBOR
// encoding of the record body), delivered in submission order by a
// Dispatcher, and persisted by a Sink such as the badger-backed Ledger.
//
// The Dispatcher never drops a record: a full queue blocks the submitter and
// a failing sink is retried with backoff until it succeeds or the dispatcher
// is closed, at which point the unwritten count is reported as an error.
package audit
