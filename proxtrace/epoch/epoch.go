package epoch

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

const (
	// DayLength is the length of a calendar day.
	DayLength = 24 * time.Hour
	// DefaultLength is the default epoch length.
	DefaultLength = 15 * time.Minute
	// RetentionDays is how many days keys and observations are kept.
	RetentionDays = 21

	secondsPerDay = int64(DayLength / time.Second)
)

var (
	ErrUneven      = errors.New("epoch: length must divide a day evenly")
	ErrInvalidDate = errors.New("epoch: invalid date")
)

// Day counts UTC calendar days since 1970-01-01.
type Day int64

// DayOf returns the UTC day containing t.
func DayOf(t time.Time) Day {
	sec := t.Unix()
	d := sec / secondsPerDay
	if sec%secondsPerDay < 0 {
		d--
	}
	return Day(d)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DayOf(t), nil
}

// Start returns midnight UTC of d.
func (d Day) Start() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

func (d Day) String() string { return d.Start().Format(time.DateOnly) }

// RetainedFrom returns the oldest day still inside the retention window of today.
func RetainedFrom(today Day, retentionDays int) Day {
	return today - Day(retentionDays)
}

// Index is the position of an epoch within its day.
type Index int

// Schedule splits a day into equally sized epochs.
type Schedule struct {
	length time.Duration
	perDay int
}

// NewSchedule returns a schedule with epochs of the given length.
// The length must divide a day with no remainder.
func NewSchedule(length time.Duration) (Schedule, error) {
	if length <= 0 || DayLength%length != 0 {
		return Schedule{}, fmt.Errorf("%w: %s", ErrUneven, length)
	}
	return Schedule{length: length, perDay: int(DayLength / length)}, nil
}

// Default returns the 15 minute schedule.
func Default() Schedule {
	return Schedule{length: DefaultLength, perDay: int(DayLength / DefaultLength)}
}

func (s Schedule) Length() time.Duration { return s.length }

// PerDay returns the number of epochs in a day.
func (s Schedule) PerDay() int { return s.perDay }

// Locate returns the day and epoch index containing t.
func (s Schedule) Locate(t time.Time) (Day, Index) {
	d := DayOf(t)
	return d, Index(t.Sub(d.Start()) / s.length)
}

// Start returns the first instant of epoch i on day d.
func (s Schedule) Start(d Day, i Index) time.Time {
	return d.Start().Add(time.Duration(i) * s.length)
}

// Next returns the epoch following (d, i), rolling over into the next day.
func (s Schedule) Next(d Day, i Index) (Day, Index) {
	if int(i)+1 >= s.perDay {
		return d + 1, 0
	}
	return d, i + 1
}

// Valid reports whether i is an epoch index of this schedule.
func (s Schedule) Valid(i Index) bool { return i >= 0 && int(i) < s.perDay }

// Between yields start, start+Length, ... for every instant strictly before end.
// The sequence holds no state of its own and may be ranged over any number of times.
func (s Schedule) Between(start, end time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for now := start; now.Before(end); now = now.Add(s.length) {
			if !yield(now) {
				return
			}
		}
	}
}

// Window yields epoch instants on day d between the clock times from and to,
// given as offsets from midnight. Window(d, 8*time.Hour, 17*time.Hour) covers office hours.
func (s Schedule) Window(d Day, from, to time.Duration) iter.Seq[time.Time] {
	return s.Between(d.Start().Add(from), d.Start().Add(to))
}
