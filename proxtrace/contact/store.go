package contact

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/epoch"
	"github.com/TheusHen/proxtrace/proxtrace/ephid"
)

// DefaultThreshold is the minimum span between the first and last sighting of a contact.
const DefaultThreshold = 120 * time.Second

var (
	ErrMalformedEphID   = ephid.ErrMalformed
	ErrClockSkew        = errors.New("contact: scan outside the open epoch")
	ErrNoContact        = errors.New("contact: no confirmed contact")
	ErrRetentionExpired = errors.New("contact: day is outside the retention window")
	ErrFutureDay        = errors.New("contact: day has not been observed yet")
	ErrInvalidConfig    = errors.New("contact: invalid configuration")
)

// Config holds the store's protocol parameters.
type Config struct {
	Schedule      epoch.Schedule
	Threshold     time.Duration
	RetentionDays int
}

// DefaultConfig returns the 15 minute / 120 second / 21 day configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:      epoch.Default(),
		Threshold:     DefaultThreshold,
		RetentionDays: epoch.RetentionDays,
	}
}

func (c Config) validate() error {
	switch {
	case c.Schedule.PerDay() == 0:
		return fmt.Errorf("%w: missing epoch schedule", ErrInvalidConfig)
	case c.Threshold < 0:
		return fmt.Errorf("%w: negative threshold %s", ErrInvalidConfig, c.Threshold)
	case c.RetentionDays <= 0:
		return fmt.Errorf("%w: retention %d days", ErrInvalidConfig, c.RetentionDays)
	}
	return nil
}

// Observation accumulates the sightings of one EphID during the open epoch.
type Observation struct {
	EphID     ephid.EphID
	Day       epoch.Day
	Index     epoch.Index
	FirstSeen time.Time
	LastSeen  time.Time
	Count     int
}

// Span is the time between the first and last sighting.
func (o Observation) Span() time.Duration { return o.LastSeen.Sub(o.FirstSeen) }

// Confirmed reports whether the observation passes the debounce filter.
func (o Observation) Confirmed(threshold time.Duration) bool {
	return o.Count >= 2 && o.Span() >= threshold
}

// Contact is a confirmed observation. Sighting times are dropped on confirmation.
type Contact struct {
	EphID    ephid.EphID
	Day      epoch.Day
	Index    epoch.Index
	Duration time.Duration
}

type slot struct {
	index    epoch.Index
	duration time.Duration
}

// Store is a device's contact observation store.
// Closing an epoch holds the write lock for the whole classification, so readers
// never see a half-closed epoch.
type Store struct {
	mu       sync.RWMutex
	cfg      Config
	openDay  epoch.Day
	openIdx  epoch.Index
	buckets  map[ephid.EphID]*Observation
	ledger   map[epoch.Day]map[ephid.EphID][]slot
	contacts int
}

// New creates a store whose open epoch is the one containing now.
func New(cfg Config, now time.Time) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d, i := cfg.Schedule.Locate(now)
	return &Store{
		cfg:     cfg,
		openDay: d,
		openIdx: i,
		buckets: make(map[ephid.EphID]*Observation),
		ledger:  make(map[epoch.Day]map[ephid.EphID][]slot),
	}, nil
}

func (s *Store) Config() Config { return s.cfg }

// OpenEpoch returns the epoch currently accepting scans and its start instant.
func (s *Store) OpenEpoch() (epoch.Day, epoch.Index, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openDay, s.openIdx, s.cfg.Schedule.Start(s.openDay, s.openIdx)
}

// RetainedFrom returns the oldest day Lookup still answers for.
func (s *Store) RetainedFrom() epoch.Day {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return epoch.RetainedFrom(s.openDay, s.cfg.RetentionDays)
}

// ReceiveScan records one sighting of id at ts.
// ts must fall inside the open epoch; a rejected scan leaves every bucket untouched.
func (s *Store) ReceiveScan(id []byte, ts time.Time) error {
	eid, err := ephid.FromBytes(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(eid, ts)
}

// ReceiveScans records a batch of sightings made at the same instant.
// Malformed identifiers are rejected individually; the rest are recorded.
func (s *Store) ReceiveScans(ids [][]byte, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, id := range ids {
		eid, err := ephid.FromBytes(id)
		if err == nil {
			err = s.record(eid, ts)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) record(id ephid.EphID, ts time.Time) error {
	start := s.cfg.Schedule.Start(s.openDay, s.openIdx)
	end := start.Add(s.cfg.Schedule.Length())
	if ts.Before(start) || !ts.Before(end) {
		return fmt.Errorf("%w: %s not in [%s, %s)", ErrClockSkew,
			ts.UTC().Format(time.RFC3339), start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	obs, ok := s.buckets[id]
	if !ok {
		s.buckets[id] = &Observation{
			EphID:     id,
			Day:       s.openDay,
			Index:     s.openIdx,
			FirstSeen: ts,
			LastSeen:  ts,
			Count:     1,
		}
		return nil
	}
	obs.Count++
	if ts.Before(obs.FirstSeen) {
		obs.FirstSeen = ts
	}
	if ts.After(obs.LastSeen) {
		obs.LastSeen = ts
	}
	return nil
}

// Pending returns a copy of the open epoch's observations.
func (s *Store) Pending() []Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Observation, 0, len(s.buckets))
	for _, obs := range s.buckets {
		out = append(out, *obs)
	}
	return out
}

// CloseEpoch classifies the open epoch's buckets, appends confirmed contacts
// to the day ledger, clears the buckets and opens the next epoch.
// It returns the number of contacts confirmed.
func (s *Store) CloseEpoch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() int {
	confirmed := 0
	for id, obs := range s.buckets {
		if obs.Confirmed(s.cfg.Threshold) {
			s.insert(Contact{EphID: id, Day: obs.Day, Index: obs.Index, Duration: obs.Span()})
			confirmed++
		}
	}
	clear(s.buckets)
	s.openDay, s.openIdx = s.cfg.Schedule.Next(s.openDay, s.openIdx)
	return confirmed
}

func (s *Store) insert(c Contact) {
	day, ok := s.ledger[c.Day]
	if !ok {
		day = make(map[ephid.EphID][]slot)
		s.ledger[c.Day] = day
	}
	day[c.EphID] = append(day[c.EphID], slot{index: c.Index, duration: c.Duration})
	s.contacts++
}

// CloseUntil closes, in order, every epoch that ended at or before now.
// It returns the number of epochs closed.
func (s *Store) CloseUntil(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := 0
	for {
		end := s.cfg.Schedule.Start(s.openDay, s.openIdx).Add(s.cfg.Schedule.Length())
		if now.Before(end) {
			return closed
		}
		s.closeLocked()
		closed++
	}
}

// Purge drops confirmed contacts whose day is more than the retention period
// before the given day. It returns the number of contacts removed.
func (s *Store) Purge(before epoch.Day) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldest := epoch.RetainedFrom(before, s.cfg.RetentionDays)
	removed := 0
	for day, ids := range s.ledger {
		if day >= oldest {
			continue
		}
		for _, slots := range ids {
			removed += len(slots)
		}
		delete(s.ledger, day)
	}
	for id, obs := range s.buckets {
		if obs.Day < oldest {
			delete(s.buckets, id)
		}
	}
	s.contacts -= removed
	return removed
}

// Lookup returns the total confirmed contact duration recorded against id on day.
func (s *Store) Lookup(id ephid.EphID, day epoch.Day) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if day > s.openDay {
		return 0, fmt.Errorf("%w: %s", ErrFutureDay, day)
	}
	if day < epoch.RetainedFrom(s.openDay, s.cfg.RetentionDays) {
		return 0, fmt.Errorf("%w: %s", ErrRetentionExpired, day)
	}
	var total time.Duration
	for _, sl := range s.ledger[day][id] {
		total += sl.duration
	}
	if total == 0 {
		return 0, ErrNoContact
	}
	return total, nil
}

// Len returns the number of confirmed contacts held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contacts
}

// Ledger returns every confirmed contact ordered by day, epoch and EphID.
func (s *Store) Ledger() []Contact {
	s.mu.RLock()
	out := make([]Contact, 0, s.contacts)
	for day, ids := range s.ledger {
		for id, slots := range ids {
			for _, sl := range slots {
				out = append(out, Contact{EphID: id, Day: day, Index: sl.index, Duration: sl.duration})
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return string(a.EphID[:]) < string(b.EphID[:])
	})
	return out
}

// Restore loads persisted contacts into the ledger. Contacts from days after the
// open epoch are rejected; contacts older than the retention window are dropped
// and counted in the returned number. A contact whose (EphID, Day, Index) is
// already in the ledger is skipped, so restoring twice does not double durations.
func (s *Store) Restore(contacts []Contact) (dropped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldest := epoch.RetainedFrom(s.openDay, s.cfg.RetentionDays)
	for _, c := range contacts {
		if c.Day > s.openDay {
			return dropped, fmt.Errorf("%w: contact on %s", ErrFutureDay, c.Day)
		}
		if !s.cfg.Schedule.Valid(c.Index) {
			return dropped, fmt.Errorf("%w: epoch index %d", ErrInvalidConfig, c.Index)
		}
	}
	for _, c := range contacts {
		if c.Day < oldest {
			dropped++
			continue
		}
		if s.hasLocked(c.EphID, c.Day, c.Index) {
			continue
		}
		s.insert(c)
	}
	return dropped, nil
}

func (s *Store) hasLocked(id ephid.EphID, day epoch.Day, idx epoch.Index) bool {
	for _, sl := range s.ledger[day][id] {
		if sl.index == idx {
			return true
		}
	}
	return false
}
