package epoch

import (
	"errors"
	"testing"
	"time"
)

var startTime = time.Date(2020, 4, 25, 15, 17, 0, 0, time.UTC)

func TestDayOf(t *testing.T) {
	d := DayOf(startTime)
	if d.Start().Unix() != 1587772800 {
		t.Fatalf("day start = %d, want 1587772800", d.Start().Unix())
	}
	if d.String() != "2020-04-25" {
		t.Fatalf("String = %q", d.String())
	}
	parsed, err := ParseDay("2020-04-25")
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if parsed != d {
		t.Fatalf("ParseDay = %d, want %d", parsed, d)
	}
	if DayOf(time.Unix(-1, 0)) != -1 {
		t.Fatalf("pre-epoch instants must floor to day -1")
	}
}

func TestParseDayInvalid(t *testing.T) {
	if _, err := ParseDay("25/04/2020"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestNewScheduleRejectsUneven(t *testing.T) {
	for _, l := range []time.Duration{0, -time.Minute, 7 * time.Minute, 25 * time.Hour} {
		if _, err := NewSchedule(l); !errors.Is(err, ErrUneven) {
			t.Fatalf("NewSchedule(%s): expected ErrUneven, got %v", l, err)
		}
	}
	s, err := NewSchedule(30 * time.Minute)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if s.PerDay() != 48 {
		t.Fatalf("PerDay = %d, want 48", s.PerDay())
	}
}

func TestLocateAndStart(t *testing.T) {
	s := Default()
	if s.PerDay() != 96 {
		t.Fatalf("PerDay = %d, want 96", s.PerDay())
	}
	d, i := s.Locate(startTime)
	if i != 61 {
		t.Fatalf("index = %d, want 61", i)
	}
	want := time.Date(2020, 4, 25, 15, 15, 0, 0, time.UTC)
	if got := s.Start(d, i); !got.Equal(want) {
		t.Fatalf("Start = %s, want %s", got, want)
	}

	nd, ni := s.Next(d, Index(s.PerDay()-1))
	if nd != d+1 || ni != 0 {
		t.Fatalf("Next rollover = (%d,%d)", nd, ni)
	}
}

func TestBetweenIsRestartable(t *testing.T) {
	s := Default()
	d := DayOf(startTime)
	seq := s.Window(d, 8*time.Hour, 10*time.Hour)

	var first []time.Time
	for ts := range seq {
		first = append(first, ts)
	}
	if len(first) != 8 {
		t.Fatalf("len = %d, want 8", len(first))
	}
	if !first[0].Equal(d.Start().Add(8 * time.Hour)) {
		t.Fatalf("first = %s", first[0])
	}

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	var second []time.Time
	for ts := range seq {
		second = append(second, ts)
	}
	if len(second) != len(first) {
		t.Fatalf("second iteration yielded %d, want %d", len(second), len(first))
	}
}

func TestRetainedFrom(t *testing.T) {
	if RetainedFrom(100, RetentionDays) != 79 {
		t.Fatalf("RetainedFrom = %d", RetainedFrom(100, RetentionDays))
	}
}
