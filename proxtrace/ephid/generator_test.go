package ephid

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/crypto"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
)

var key1, _ = hex.DecodeString("66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925")

var ephidsKey1 = []string{
	"04cab76af57ca373de1d52689fae06c1",
	"ab7747084efb743a6aa1b19bab2f0ca3",
	"f417c16279d7f718465f958e17466550",
}

func TestExpandMatchesReferenceVectors(t *testing.T) {
	g := NewGenerator(crypto.DefaultSuite(), epoch.Default())
	ids, err := g.expand(key1)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	for i, want := range ephidsKey1 {
		if ids[i].String() != want {
			t.Fatalf("ephid %d = %s, want %s", i, ids[i], want)
		}
	}
}

func TestDeriveDayKeepsValuesAndPermutes(t *testing.T) {
	g := NewGenerator(crypto.DefaultSuite(), epoch.Default())
	ordered, _ := g.expand(key1)
	day, err := g.DeriveDay(key1)
	if err != nil {
		t.Fatalf("DeriveDay: %v", err)
	}
	if len(day) != epoch.Default().PerDay() {
		t.Fatalf("len = %d, want %d", len(day), epoch.Default().PerDay())
	}

	set := map[EphID]bool{}
	for _, id := range day {
		set[id] = true
	}
	if len(set) != len(day) {
		t.Fatalf("duplicate EphIDs within a day")
	}
	for _, want := range ephidsKey1 {
		id, _ := Parse(want)
		if !set[id] {
			t.Fatalf("reference EphID %s missing after shuffle", want)
		}
	}

	moved := 0
	for i := range day {
		if day[i] != ordered[i] {
			moved++
		}
	}
	if moved < len(day)/2 {
		t.Fatalf("shuffle left %d of %d identifiers in stream order", len(day)-moved, len(day))
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	for _, name := range crypto.SuiteNames() {
		suite, _ := crypto.SuiteByName(name)
		g := NewGenerator(suite, epoch.Default())
		// A fresh generator stands in for a restarted process.
		g2 := NewGenerator(suite, epoch.Default())
		day, _ := g.DeriveDay(key1)
		for _, i := range []epoch.Index{0, 1, 47, 95} {
			a, err := g.Derive(key1, i)
			if err != nil {
				t.Fatalf("%s Derive: %v", name, err)
			}
			b, _ := g2.Derive(key1, i)
			if a != b || a != day[i] {
				t.Fatalf("%s: epoch %d not stable", name, i)
			}
		}
	}
}

func TestNextDayDiffers(t *testing.T) {
	suite := crypto.DefaultSuite()
	g := NewGenerator(suite, epoch.Default())
	key2, _ := suite.Next(key1)
	today, _ := g.DeriveDay(key1)
	tomorrow, _ := g.DeriveDay(key2)

	seen := map[EphID]bool{}
	for _, id := range today {
		seen[id] = true
	}
	for _, id := range tomorrow {
		if seen[id] {
			t.Fatalf("EphID %s reused across days", id)
		}
	}
}

func TestDeriveErrors(t *testing.T) {
	g := NewGenerator(crypto.DefaultSuite(), epoch.Default())
	if _, err := g.Derive(key1, 96); !errors.Is(err, ErrEpochOutOfRange) {
		t.Fatalf("expected ErrEpochOutOfRange, got %v", err)
	}
	if _, err := g.Derive(key1, -1); !errors.Is(err, ErrEpochOutOfRange) {
		t.Fatalf("expected ErrEpochOutOfRange, got %v", err)
	}
	if _, err := g.DeriveDay(key1[:20]); !errors.Is(err, crypto.ErrInvalidKeyLength) {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestCustomSchedule(t *testing.T) {
	s, err := epoch.NewSchedule(time.Hour)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	ids, err := NewGenerator(crypto.ChaCha20{}, s).DeriveDay(key1)
	if err != nil {
		t.Fatalf("DeriveDay: %v", err)
	}
	if len(ids) != 24 {
		t.Fatalf("len = %d, want 24", len(ids))
	}
}

func TestParseAndFromBytes(t *testing.T) {
	id, err := Parse(ephidsKey1[0])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	again, err := FromBytes(id.Bytes())
	if err != nil || again != id {
		t.Fatalf("FromBytes mismatch: %v", err)
	}
	if _, err := FromBytes(bytes.Repeat([]byte{1}, 15)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := Parse("zz"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func BenchmarkDeriveDay(b *testing.B) {
	g := NewGenerator(crypto.DefaultSuite(), epoch.Default())
	for i := 0; i < b.N; i++ {
		_, _ = g.DeriveDay(key1)
	}
}
