package exposure

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/proxtrace/proxtrace/epoch"
)

// BatchInterval is the publication granularity of diagnosis batches.
const BatchInterval = 2 * time.Hour

var ErrUnalignedRelease = errors.New("exposure: batch release time is not batch aligned")

// Batch is a set of diagnoses published together.
type Batch struct {
	Release time.Time
	Entries []Diagnosis
}

// BatchStart returns the start of the batch interval containing t.
func BatchStart(t time.Time) time.Time {
	sec := int64(BatchInterval / time.Second)
	return time.Unix((t.Unix()/sec)*sec, 0).UTC()
}

// NewBatch validates that release is aligned to BatchInterval.
func NewBatch(release time.Time, entries []Diagnosis) (Batch, error) {
	if !BatchStart(release).Equal(release) {
		return Batch{}, fmt.Errorf("%w: %s", ErrUnalignedRelease, release.UTC().Format(time.RFC3339))
	}
	return Batch{Release: release.UTC(), Entries: entries}, nil
}

// CheckBatch checks every entry of b as of the release day. Contacts from the
// release day itself are never matched, so nothing observed after publication
// counts. Results are returned in entry order.
//
// An unusable entry (bad key length, onset after the release day) yields a
// StatusRejected result and does not stop the other entries. Only context
// cancellation fails the batch.
func (m *Matcher) CheckBatch(ctx context.Context, b Batch) ([]Result, error) {
	today := epoch.DayOf(b.Release)
	results := make([]Result, len(b.Entries))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, entry := range b.Entries {
		g.Go(func() error {
			res, err := m.CheckExposure(ctx, entry.Secret, entry.Onset, today)
			switch {
			case err == nil:
				results[i] = res
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				results[i] = Result{Status: StatusRejected, Rejected: fmt.Errorf("entry %d: %w", i, err)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Encounters counts matched records across results.
func Encounters(results []Result) int {
	n := 0
	for _, r := range results {
		n += len(r.Records)
	}
	return n
}
