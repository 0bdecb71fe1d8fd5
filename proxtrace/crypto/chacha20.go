package crypto

import (
	"golang.org/x/crypto/chacha20"
)

var nextDayInfo = []byte("proxtrace next day")

// ChaCha20 ratchets and keys its stream with HKDF-SHA256 and expands with the
// ChaCha20 keystream under an all-zero nonce. It suits devices without AES hardware.
type ChaCha20 struct{}

func (ChaCha20) Name() string { return "hkdf-chacha20" }

func (ChaCha20) KeySize() int { return KeySize }

func (s ChaCha20) Next(secret []byte) ([]byte, error) {
	if err := CheckKey(s, secret); err != nil {
		return nil, err
	}
	return DeriveKey(secret, nil, nextDayInfo, KeySize)
}

func (s ChaCha20) Stream(secret, label []byte, n int) ([]byte, error) {
	if err := checkStream(s, secret, n); err != nil {
		return nil, err
	}
	key, err := DeriveKey(secret, nil, label, chacha20.KeySize)
	if err != nil {
		return nil, err
	}
	c, err := chacha20.NewUnauthenticatedCipher(key, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	c.XORKeyStream(out, out)
	return out, nil
}
