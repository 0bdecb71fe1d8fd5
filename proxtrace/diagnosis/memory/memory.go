package memory

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/diagnosis"
	"github.com/TheusHen/proxtrace/proxtrace/exposure"
)

// Board is an in-memory diagnosis board.
// It is useful for tests, examples and simulations.
type Board struct {
	mu      sync.RWMutex
	batches []exposure.Batch
}

func New() *Board {
	return &Board{}
}

var _ diagnosis.Board = (*Board)(nil)

func (b *Board) Publish(batch exposure.Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.batches); n > 0 {
		last := b.batches[n-1].Release
		if batch.Release.Before(last) {
			return fmt.Errorf("%w: %s < %s", diagnosis.ErrStaleRelease, batch.Release, last)
		}
		if batch.Release.Equal(last) {
			b.batches[n-1].Entries = append(b.batches[n-1].Entries, copyEntries(batch.Entries)...)
			return nil
		}
	}
	b.batches = append(b.batches, exposure.Batch{Release: batch.Release, Entries: copyEntries(batch.Entries)})
	return nil
}

func (b *Board) Since(t time.Time) ([]exposure.Batch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]exposure.Batch, 0, len(b.batches))
	for _, batch := range b.batches {
		if batch.Release.After(t) {
			out = append(out, exposure.Batch{Release: batch.Release, Entries: copyEntries(batch.Entries)})
		}
	}
	return out, nil
}

func copyEntries(in []exposure.Diagnosis) []exposure.Diagnosis {
	out := make([]exposure.Diagnosis, len(in))
	for i, d := range in {
		out[i] = exposure.Diagnosis{Onset: d.Onset, Secret: bytes.Clone(d.Secret)}
	}
	return out
}
