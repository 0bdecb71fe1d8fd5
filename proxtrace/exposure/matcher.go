package exposure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/contact"
	"github.com/TheusHen/proxtrace/proxtrace/crypto"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
	"github.com/TheusHen/proxtrace/proxtrace/ephid"
)

var (
	ErrPartialResult = errors.New("exposure: onset predates the local retention window")
	ErrFutureOnset   = errors.New("exposure: onset day is after today")
)

// Lookuper is the read side of a contact store.
type Lookuper interface {
	Lookup(id ephid.EphID, day epoch.Day) (time.Duration, error)
	RetainedFrom() epoch.Day
}

// Record is evidence that a locally confirmed contact matches a diagnosed party.
type Record struct {
	EphID     ephid.EphID
	DayOffset int // days before today
	Duration  time.Duration
}

// Status qualifies a Result.
type Status int

const (
	StatusComplete Status = iota
	// StatusPartial means some days of the diagnosis range were outside the
	// local retention window and could not be checked.
	StatusPartial
	// StatusRejected means the diagnosis itself was unusable and nothing was checked.
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is the outcome of one exposure check.
type Result struct {
	Records []Record
	Status  Status
	// Skipped counts the days of the range that could not be checked.
	Skipped int
	// Rejected says why a StatusRejected diagnosis could not be checked.
	Rejected error
}

// Err returns the rejection cause for a rejected result, ErrPartialResult for
// a partial result and nil otherwise.
func (r Result) Err() error {
	if r.Status == StatusRejected {
		return r.Rejected
	}
	if r.Status == StatusPartial {
		return fmt.Errorf("%w: %d days not checked", ErrPartialResult, r.Skipped)
	}
	return nil
}

// Exposed reports whether any record was found.
func (r Result) Exposed() bool { return len(r.Records) > 0 }

// Duration is the total matched contact duration.
func (r Result) Duration() time.Duration {
	var total time.Duration
	for _, rec := range r.Records {
		total += rec.Duration
	}
	return total
}

// Matcher recomputes diagnosed EphIDs and looks them up in a contact store.
type Matcher struct {
	gen       *ephid.Generator
	store     Lookuper
	retention int
}

func NewMatcher(gen *ephid.Generator, store Lookuper, retentionDays int) *Matcher {
	return &Matcher{gen: gen, store: store, retention: retentionDays}
}

// CheckExposure checks the days from onset up to min(today-1, onset+retention-1)
// against the store. revealed is the diagnosed party's secret for onset.
func (m *Matcher) CheckExposure(ctx context.Context, revealed []byte, onset, today epoch.Day) (Result, error) {
	suite := m.gen.Suite()
	if err := crypto.CheckKey(suite, revealed); err != nil {
		return Result{}, err
	}
	if onset > today {
		return Result{}, fmt.Errorf("%w: onset %s, today %s", ErrFutureOnset, onset, today)
	}

	last := min(today-1, onset+epoch.Day(m.retention)-1)
	retained := m.store.RetainedFrom()
	res := Result{Records: []Record{}}
	sk := bytes.Clone(revealed)
	defer func() { clear(sk) }()

	for d := onset; d <= last; d++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if d < retained {
			res.Status = StatusPartial
			res.Skipped++
		} else if err := m.matchDay(sk, d, today, &res); err != nil {
			return Result{}, err
		}
		if d == last {
			break
		}
		next, err := suite.Next(sk)
		if err != nil {
			return Result{}, err
		}
		clear(sk)
		sk = next
	}
	return res, nil
}

func (m *Matcher) matchDay(sk []byte, d, today epoch.Day, res *Result) error {
	ids, err := m.gen.DeriveDay(sk)
	if err != nil {
		return err
	}
	for _, id := range ids {
		dur, err := m.store.Lookup(id, d)
		switch {
		case err == nil:
			if dur > 0 {
				res.Records = append(res.Records, Record{EphID: id, DayOffset: int(today - d), Duration: dur})
			}
		case errors.Is(err, contact.ErrNoContact):
		case errors.Is(err, contact.ErrRetentionExpired):
			// The store moved past d while we were matching.
			res.Status = StatusPartial
			res.Skipped++
			return nil
		default:
			return err
		}
	}
	return nil
}
