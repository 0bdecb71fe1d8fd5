package ephid

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/TheusHen/proxtrace/proxtrace/crypto"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
)

var ErrEpochOutOfRange = errors.New("ephid: epoch index out of range")

var (
	broadcastLabel = []byte("broadcast key")
	shuffleLabel   = []byte("epoch shuffle")
)

// Generator maps a daily secret to its EphIDs. It holds no key material and is
// safe for concurrent use.
type Generator struct {
	suite    crypto.Suite
	schedule epoch.Schedule
}

func NewGenerator(suite crypto.Suite, schedule epoch.Schedule) *Generator {
	return &Generator{suite: suite, schedule: schedule}
}

func (g *Generator) Suite() crypto.Suite { return g.suite }

func (g *Generator) Schedule() epoch.Schedule { return g.schedule }

// Derive returns the EphID broadcast during epoch i of the day keyed by sk.
func (g *Generator) Derive(sk []byte, i epoch.Index) (EphID, error) {
	if !g.schedule.Valid(i) {
		return EphID{}, fmt.Errorf("%w: %d", ErrEpochOutOfRange, i)
	}
	ids, err := g.DeriveDay(sk)
	if err != nil {
		return EphID{}, err
	}
	return ids[i], nil
}

// DeriveDay returns every EphID of the day keyed by sk, indexed by epoch.
func (g *Generator) DeriveDay(sk []byte) ([]EphID, error) {
	ids, err := g.expand(sk)
	if err != nil {
		return nil, err
	}
	if err := g.shuffle(sk, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// expand slices the PRG output into one identifier per epoch, in stream order.
func (g *Generator) expand(sk []byte) ([]EphID, error) {
	n := g.schedule.PerDay()
	stream, err := g.suite.Stream(sk, broadcastLabel, n*Size)
	if err != nil {
		return nil, err
	}
	ids := make([]EphID, n)
	for i := range ids {
		copy(ids[i][:], stream[i*Size:(i+1)*Size])
	}
	return ids, nil
}

// shuffle is a Fisher-Yates permutation driven by a second, independent stream
// of the same secret. Reducing 64-bit words modulo at most a few hundred keeps
// the bias below 2^-55.
func (g *Generator) shuffle(sk []byte, ids []EphID) error {
	if len(ids) < 2 {
		return nil
	}
	words, err := g.suite.Stream(sk, shuffleLabel, 8*(len(ids)-1))
	if err != nil {
		return err
	}
	for i := len(ids) - 1; i > 0; i-- {
		off := 8 * (len(ids) - 1 - i)
		j := binary.BigEndian.Uint64(words[off:off+8]) % uint64(i+1)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return nil
}
