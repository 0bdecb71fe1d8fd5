package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
)

// KeySize is the length of a daily secret for every bundled suite.
const KeySize = 32

var (
	ErrInvalidKeyLength = errors.New("crypto: invalid key length")
	ErrUnknownSuite     = errors.New("crypto: unknown suite")
	ErrInvalidLength    = errors.New("crypto: invalid stream length")
)

// Suite bundles the one-way function and the keyed PRG of the key schedule.
// Implementations must be deterministic and safe for concurrent use.
type Suite interface {
	// Name identifies the suite in configuration and snapshots.
	Name() string
	// KeySize is the length in bytes of a daily secret.
	KeySize() int
	// Next computes SK_{t+1} from SK_t. It must not be invertible.
	Next(secret []byte) ([]byte, error)
	// Stream expands secret into n pseudorandom bytes, domain separated by label.
	Stream(secret, label []byte, n int) ([]byte, error)
}

var suites = map[string]Suite{}

func register(s Suite) { suites[s.Name()] = s }

func init() {
	register(SHA256{})
	register(ChaCha20{})
	register(BLAKE3{})
}

// DefaultSuite returns the SHA-256/AES-CTR suite.
func DefaultSuite() Suite { return SHA256{} }

// SuiteByName looks up a bundled suite.
func SuiteByName(name string) (Suite, error) {
	s, ok := suites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSuite, name)
	}
	return s, nil
}

// SuiteNames lists the bundled suites in lexical order.
func SuiteNames() []string {
	out := make([]string, 0, len(suites))
	for name := range suites {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GenerateSecret draws a fresh daily secret for s from crypto/rand.
func GenerateSecret(s Suite) ([]byte, error) {
	key := make([]byte, s.KeySize())
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// CheckKey returns ErrInvalidKeyLength unless secret has the suite's key size.
func CheckKey(s Suite, secret []byte) error {
	if len(secret) != s.KeySize() {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(secret), s.KeySize())
	}
	return nil
}

func checkStream(s Suite, secret []byte, n int) error {
	if err := CheckKey(s, secret); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	return nil
}
