package ratchet

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/TheusHen/proxtrace/proxtrace/crypto"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
)

var (
	ErrRatchetUnderflow = errors.New("ratchet: cannot move to an earlier day")
	ErrRetentionExpired = errors.New("ratchet: secret is outside the retention window")
	ErrFutureDay        = errors.New("ratchet: day has not started yet")
	ErrBrokenChain      = errors.New("ratchet: retained secrets are not one step apart")
	ErrInvalidRetention = errors.New("ratchet: retention must be positive")
)

// Chain holds a device's daily secrets.
// The head is SK_t for the live day; up to retention older secrets are kept behind it.
type Chain struct {
	mu    sync.Mutex
	suite crypto.Suite
	day   epoch.Day
	ring  [][]byte // capacity retention+1, ring[head] is SK_day
	head  int
	count int
}

// State is the exportable form of a chain.
// Secrets are ordered newest first: Secrets[0] is SK_Day.
type State struct {
	Day     epoch.Day
	Secrets [][]byte
}

// NewChain creates a chain whose live day is day and whose SK_day is seed.
func NewChain(seed []byte, day epoch.Day, suite crypto.Suite, retention int) (*Chain, error) {
	if retention <= 0 {
		return nil, ErrInvalidRetention
	}
	if err := crypto.CheckKey(suite, seed); err != nil {
		return nil, err
	}
	c := &Chain{
		suite: suite,
		day:   day,
		ring:  make([][]byte, retention+1),
		count: 1,
	}
	c.ring[0] = bytes.Clone(seed)
	return c, nil
}

// Generate creates a chain from a fresh random seed.
func Generate(day epoch.Day, suite crypto.Suite, retention int) (*Chain, error) {
	seed, err := crypto.GenerateSecret(suite)
	if err != nil {
		return nil, err
	}
	return NewChain(seed, day, suite, retention)
}

// Suite returns the suite the chain ratchets with.
func (c *Chain) Suite() crypto.Suite { return c.suite }

// Retention returns how many past days are kept behind the head.
func (c *Chain) Retention() int { return len(c.ring) - 1 }

// Day returns the live day.
func (c *Chain) Day() epoch.Day {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.day
}

// Current returns the live day and a copy of its secret.
func (c *Chain) Current() (epoch.Day, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.day, bytes.Clone(c.ring[c.head])
}

// AdvanceDay computes SK_{t+1} = H(SK_t), makes it the head and evicts the
// secret that falls out of the retention window.
func (c *Chain) AdvanceDay() (epoch.Day, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.step(); err != nil {
		return c.day, err
	}
	return c.day, nil
}

func (c *Chain) step() error {
	next, err := c.suite.Next(c.ring[c.head])
	if err != nil {
		return err
	}
	c.head = (c.head + 1) % len(c.ring)
	if old := c.ring[c.head]; old != nil {
		clear(old)
	}
	c.ring[c.head] = next
	if c.count < len(c.ring) {
		c.count++
	}
	c.day++
	return nil
}

// CatchUp replays AdvanceDay once per day between the live day and day.
// It returns the number of steps taken. The one-way function cannot be
// fast-forwarded, so a device that was offline for n days pays n steps.
func (c *Chain) CatchUp(day epoch.Day) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if day < c.day {
		return 0, fmt.Errorf("%w: live day %s, requested %s", ErrRatchetUnderflow, c.day, day)
	}
	steps := 0
	for c.day < day {
		if err := c.step(); err != nil {
			return steps, err
		}
		steps++
	}
	return steps, nil
}

// Reveal returns the retained secret of day onset, the value a diagnosed user
// uploads. Days before onset stay private since H cannot be inverted.
func (c *Chain) Reveal(onset epoch.Day) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if onset > c.day {
		return nil, fmt.Errorf("%w: %s", ErrFutureDay, onset)
	}
	back := int(c.day - onset)
	if back >= c.count {
		return nil, fmt.Errorf("%w: %s", ErrRetentionExpired, onset)
	}
	return bytes.Clone(c.at(back)), nil
}

// at returns the secret back days behind the head. Callers hold mu.
func (c *Chain) at(back int) []byte {
	return c.ring[(c.head-back+len(c.ring))%len(c.ring)]
}

// Reseed replaces the live secret with seed and discards all history.
// It is used after a reveal so that later broadcasts cannot be linked to the
// published secret.
func (c *Chain) Reseed(seed []byte) error {
	if err := crypto.CheckKey(c.suite, seed); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipe()
	c.head = 0
	c.count = 1
	c.ring[0] = bytes.Clone(seed)
	return nil
}

func (c *Chain) wipe() {
	for i, k := range c.ring {
		clear(k)
		c.ring[i] = nil
	}
}

// Export exports the chain state for persistence.
// WARNING: Handle with extreme care; this contains keying material.
func (c *Chain) Export() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{Day: c.day, Secrets: make([][]byte, c.count)}
	for i := range c.count {
		st.Secrets[i] = bytes.Clone(c.at(i))
	}
	return st
}

// Restore rebuilds a chain from an exported state. Every retained secret must
// ratchet to its successor; secrets beyond the retention window are dropped.
func Restore(st State, suite crypto.Suite, retention int) (*Chain, error) {
	if len(st.Secrets) == 0 {
		return nil, fmt.Errorf("%w: no secrets", ErrBrokenChain)
	}
	for i := len(st.Secrets) - 1; i > 0; i-- {
		next, err := suite.Next(st.Secrets[i])
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(next, st.Secrets[i-1]) {
			return nil, fmt.Errorf("%w: at %s", ErrBrokenChain, st.Day-epoch.Day(i-1))
		}
	}

	keep := min(len(st.Secrets), retention+1)
	c, err := NewChain(st.Secrets[keep-1], st.Day-epoch.Day(keep-1), suite, retention)
	if err != nil {
		return nil, err
	}
	if _, err := c.CatchUp(st.Day); err != nil {
		return nil, err
	}
	return c, nil
}
