package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
)

// SHA256 ratchets with SHA-256 and expands with AES-256-CTR keyed by
// HMAC-SHA256(secret, label), counter starting at zero.
type SHA256 struct{}

func (SHA256) Name() string { return "sha256-aesctr" }

func (SHA256) KeySize() int { return KeySize }

func (s SHA256) Next(secret []byte) ([]byte, error) {
	if err := CheckKey(s, secret); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(secret)
	return sum[:], nil
}

func (s SHA256) Stream(secret, label []byte, n int) ([]byte, error) {
	if err := checkStream(s, secret, n); err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(label)
	block, err := aes.NewCipher(mac.Sum(nil))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	cipher.NewCTR(block, make([]byte, aes.BlockSize)).XORKeyStream(out, out)
	return out, nil
}
