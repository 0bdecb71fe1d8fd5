// Package proxtrace is a decentralized proximity-tracing core.
//
// A Device ratchets a private daily secret, broadcasts short-lived EphIDs derived
// from it, records the EphIDs it hears from nearby devices and, given the secret
// a diagnosed user reveals, recomputes that user's EphIDs to find local contacts.
// Nothing identifying leaves the device unless its owner reveals their own secret.
//
// Architecture:
//   - epoch: days, epochs and the retention window
//   - crypto: the one-way function and keyed stream suites, storage AEAD
//   - crypto/ratchet: the daily secret chain
//   - ephid: per-epoch identifier derivation
//   - contact: scan debouncing and the confirmed contact ledger
//   - exposure: matching revealed secrets against the ledger
//   - diagnosis: distribution of revealed secrets
//   - persist: sealed, parity-protected snapshots
//   - beacon: EphID framing and a QUIC lab transport
//
// The host drives time: Tick closes elapsed epochs and advances the daily
// secret, CurrentEphID answers what to broadcast and ReceiveScan takes what
// was heard.
package proxtrace
