// Package persist stores a device's state across process restarts.
//
// A snapshot holds the live day, the retained daily secrets and the confirmed
// contact ledger. On disk a snapshot is, from the inside out:
//   - encoded with a fixed binary layout (codec.go)
//   - LZ4 compressed (compress.go)
//   - sealed with XChaCha20-Poly1305 under a device storage key
//   - split into Reed-Solomon data and parity shards, each with its SHA-256 (shards.go)
//
// so a snapshot survives a few corrupted flash blocks and never exposes keys
// at rest. FileStore writes atomically and is used as a scoped acquisition:
// load, mutate, flush, release.
package persist
