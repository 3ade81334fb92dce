// Package billing contains the usage accounting domain: billing period
// resolution, the monthly usage snapshot aggregate with its canonical
// integrity hash, the injectable rate policy, and the port to the external
// append-only ledger.
//
// The package is infrastructure-free. Period resolution and hashing are pure
// functions; persistence and ledger access are reached through the
// SnapshotRepository and LedgerClient interfaces implemented under
// internal/infrastructure.
package billing
