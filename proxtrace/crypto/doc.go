// Package crypto provides the primitives behind the proxtrace key schedule.
//
// The protocol only fixes the shape of its primitives:
//   - a cryptographically secure one-way function H that ratchets the daily secret
//   - a keyed pseudorandom generator that expands a daily secret into EphID material
//
// Both are bundled in a Suite and injected into the ratchet, the EphID generator and
// the exposure matcher, so devices that must interoperate simply agree on a suite name.
// Three suites ship with the package:
//   - sha256-aesctr: SHA-256 ratchet, HMAC-SHA256 keyed AES-256-CTR stream (default)
//   - hkdf-chacha20: HKDF-SHA256 ratchet and key schedule, ChaCha20 stream
//   - blake3: BLAKE3 ratchet, BLAKE3 derive-key + XOF stream
//
// The package also provides XChaCha20-Poly1305 sealing for secrets stored at rest.
package crypto
