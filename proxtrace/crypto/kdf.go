package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveStorageKey derives the key used to seal persisted device state from a
// device-bound master secret. The device label keeps several profiles on one
// master secret apart.
func DeriveStorageKey(master []byte, device string) ([]byte, error) {
	info := make([]byte, 0, len("proxtrace-storage")+1+len(device))
	info = append(info, "proxtrace-storage"...)
	info = append(info, 0)
	info = append(info, device...)
	return DeriveKey(master, nil, info, KeySize)
}
