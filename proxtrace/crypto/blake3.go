package crypto

import (
	"io"

	"lukechampine.com/blake3"
)

// BLAKE3 ratchets with BLAKE3-256 and expands with the extendable output of a
// BLAKE3 keyed hash whose key is derived from the secret and label.
type BLAKE3 struct{}

func (BLAKE3) Name() string { return "blake3" }

func (BLAKE3) KeySize() int { return KeySize }

func (s BLAKE3) Next(secret []byte) ([]byte, error) {
	if err := CheckKey(s, secret); err != nil {
		return nil, err
	}
	sum := blake3.Sum256(secret)
	return sum[:], nil
}

func (s BLAKE3) Stream(secret, label []byte, n int) ([]byte, error) {
	if err := checkStream(s, secret, n); err != nil {
		return nil, err
	}
	key := make([]byte, 32)
	blake3.DeriveKey(key, "proxtrace stream "+string(label), secret)
	out := make([]byte, n)
	if _, err := io.ReadFull(blake3.New(32, key).XOF(), out); err != nil {
		return nil, err
	}
	return out, nil
}
