// Package ephid derives the rotating broadcast identifiers of a proxtrace device.
//
// A daily secret SK_t is expanded into one 16-byte EphID per epoch. The per-epoch
// assignment is permuted with a shuffle keyed by SK_t, so an observer who does not
// hold the secret cannot tell from the identifier bytes which epoch an EphID
// belongs to.
package ephid

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length of an EphID in bytes.
const Size = 16

var ErrMalformed = errors.New("ephid: malformed identifier")

// EphID is an ephemeral broadcast identifier.
type EphID [Size]byte

// FromBytes copies b into an EphID. b must be exactly Size bytes.
func FromBytes(b []byte) (EphID, error) {
	if len(b) != Size {
		return EphID{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(b), Size)
	}
	var id EphID
	copy(id[:], b)
	return id, nil
}

// Parse decodes a hex encoded EphID.
func Parse(s string) (EphID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return EphID{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromBytes(b)
}

func (id EphID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a copy of the identifier bytes.
func (id EphID) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}
