package proxtrace

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/proxtrace/proxtrace/contact"
	"github.com/TheusHen/proxtrace/proxtrace/crypto"
	"github.com/TheusHen/proxtrace/proxtrace/crypto/ratchet"
	"github.com/TheusHen/proxtrace/proxtrace/diagnosis/memory"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
	"github.com/TheusHen/proxtrace/proxtrace/ephid"
	"github.com/TheusHen/proxtrace/proxtrace/exposure"
	"github.com/TheusHen/proxtrace/proxtrace/persist"
)

var day0 = time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)

func newTestDevice(t *testing.T, seed byte) *Device {
	t.Helper()
	d, err := NewDeviceWithSeed(DefaultConfig(), bytes.Repeat([]byte{seed}, crypto.KeySize), day0)
	require.NoError(t, err)
	return d
}

// meet makes a hear b twice in the epoch starting at start.
func meet(t *testing.T, a, b *Device, start time.Time) {
	t.Helper()
	require.NoError(t, a.Tick(start))
	require.NoError(t, b.Tick(start))
	id, err := b.CurrentEphID(start)
	require.NoError(t, err)
	require.NoError(t, a.ReceiveScan(id.Bytes(), start))
	require.NoError(t, a.ReceiveScan(id.Bytes(), start.Add(3*time.Minute)))
}

func TestCurrentEphIDSchedule(t *testing.T) {
	d := newTestDevice(t, 1)

	a, err := d.CurrentEphID(day0.Add(8 * time.Hour))
	require.NoError(t, err)
	b, err := d.CurrentEphID(day0.Add(8*time.Hour + 14*time.Minute))
	require.NoError(t, err)
	require.Equal(t, a, b, "same epoch, same EphID")

	c, err := d.CurrentEphID(day0.Add(8*time.Hour + 15*time.Minute))
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	_, err = d.CurrentEphID(day0.Add(24 * time.Hour))
	require.ErrorIs(t, err, ErrNotToday)

	require.NoError(t, d.Tick(day0.Add(24*time.Hour)))
	next, err := d.CurrentEphID(day0.Add(32 * time.Hour))
	require.NoError(t, err)
	require.NotEqual(t, a, next)
}

func TestCurrentEphIDMatchesGenerator(t *testing.T) {
	seed := bytes.Repeat([]byte{9}, crypto.KeySize)
	d, err := NewDeviceWithSeed(DefaultConfig(), seed, day0)
	require.NoError(t, err)

	ids, err := ephid.NewGenerator(crypto.DefaultSuite(), epoch.Default()).DeriveDay(seed)
	require.NoError(t, err)
	for i, at := range slices.Collect(epoch.Default().Window(epoch.DayOf(day0), 0, 2*time.Hour)) {
		got, err := d.CurrentEphID(at)
		require.NoError(t, err)
		require.Equal(t, ids[i], got)
	}
}

func TestTickAdvancesDays(t *testing.T) {
	d := newTestDevice(t, 2)
	start := d.Day()

	require.NoError(t, d.Tick(day0.Add(3*24*time.Hour+time.Hour)))
	require.Equal(t, start+3, d.Day())

	next, err := d.AdvanceDay()
	require.NoError(t, err)
	require.Equal(t, start+4, next)
	require.Equal(t, start+4, d.Day())
}

func TestTickRejectsClockRollback(t *testing.T) {
	start := time.Date(2020, 6, 10, 9, 0, 0, 0, time.UTC)
	d, err := NewDevice(DefaultConfig(), start)
	require.NoError(t, err)
	before, err := d.CurrentEphID(start)
	require.NoError(t, err)

	err = d.Tick(start.Add(-72 * time.Hour))
	require.ErrorIs(t, err, ratchet.ErrRatchetUnderflow)
	require.Equal(t, epoch.DayOf(start), d.Day())

	// same day, but before the open epoch
	err = d.Tick(start.Add(-time.Hour))
	require.ErrorIs(t, err, contact.ErrClockSkew)

	after, err := d.CurrentEphID(start)
	require.NoError(t, err)
	require.Equal(t, before, after)

	require.NoError(t, d.Tick(start.Add(10*time.Minute)))
	require.NoError(t, d.Tick(start.Add(2*time.Hour)))
	err = d.Tick(start.Add(time.Hour))
	require.ErrorIs(t, err, contact.ErrClockSkew)
}

func TestCloseEpochConfirms(t *testing.T) {
	a, b := newTestDevice(t, 3), newTestDevice(t, 4)
	meet(t, a, b, day0.Add(10*time.Hour))

	n, err := a.CloseEpoch()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, a.Contacts(), 1)
	require.Equal(t, 3*time.Minute, a.Contacts()[0].Duration)
}

func TestReceiveScanRequiresTick(t *testing.T) {
	d := newTestDevice(t, 5)
	id := bytes.Repeat([]byte{0xab}, ephid.Size)
	require.Error(t, d.ReceiveScan(id, day0.Add(time.Hour)))
	require.NoError(t, d.Tick(day0.Add(time.Hour)))
	require.NoError(t, d.ReceiveScan(id, day0.Add(time.Hour)))
	require.Error(t, d.ReceiveScan(id[:5], day0.Add(time.Hour)))
}

func TestRevealReseeds(t *testing.T) {
	d := newTestDevice(t, 6)
	require.NoError(t, d.Tick(day0.Add(48*time.Hour)))
	today := d.Day()

	_, err := d.Reveal(today + 1)
	require.ErrorIs(t, err, ratchet.ErrFutureDay)
	_, err = d.Reveal(today - 30)
	require.ErrorIs(t, err, ratchet.ErrRetentionExpired)

	diag, err := d.Reveal(today - 2)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{6}, crypto.KeySize), diag.Secret)

	// broadcasts after the reveal are not derivable from the published secret
	sk := diag.Secret
	for range 2 {
		sk, err = crypto.DefaultSuite().Next(sk)
		require.NoError(t, err)
	}
	ids, err := ephid.NewGenerator(crypto.DefaultSuite(), epoch.Default()).DeriveDay(sk)
	require.NoError(t, err)
	cur, err := d.CurrentEphID(today.Start().Add(9 * time.Hour))
	require.NoError(t, err)
	require.NotContains(t, ids, cur)

	_, err = d.Reveal(today - 1)
	require.ErrorIs(t, err, ratchet.ErrRetentionExpired)
}

func TestCheckExposureBetweenDevices(t *testing.T) {
	a, b := newTestDevice(t, 7), newTestDevice(t, 8)
	meet(t, a, b, day0.Add(10*time.Hour))
	meet(t, a, b, day0.Add(11*time.Hour))
	_, err := a.AdvanceDay()
	require.NoError(t, err)
	_, err = b.AdvanceDay()
	require.NoError(t, err)

	diag, err := b.Reveal(epoch.DayOf(day0))
	require.NoError(t, err)

	res, err := a.CheckExposure(context.Background(), diag, a.Day())
	require.NoError(t, err)
	require.Equal(t, exposure.StatusComplete, res.Status)
	require.Len(t, res.Records, 2)
	require.Equal(t, 6*time.Minute, res.Duration())

	_, err = a.CheckExposure(context.Background(), exposure.Diagnosis{Onset: a.Day() + 1, Secret: diag.Secret}, a.Day())
	require.ErrorIs(t, err, exposure.ErrFutureOnset)
}

func TestCheckBoardSurvivesBadEntries(t *testing.T) {
	a, b := newTestDevice(t, 14), newTestDevice(t, 15)
	meet(t, a, b, day0.Add(10*time.Hour))
	meet(t, a, b, day0.Add(11*time.Hour))
	_, err := a.AdvanceDay()
	require.NoError(t, err)
	_, err = b.AdvanceDay()
	require.NoError(t, err)
	good, err := b.Reveal(epoch.DayOf(day0))
	require.NoError(t, err)

	board := memory.New()
	first, err := exposure.NewBatch(a.Day().Start(), []exposure.Diagnosis{
		{Onset: epoch.DayOf(day0), Secret: []byte{1, 2, 3}},
		good,
	})
	require.NoError(t, err)
	require.NoError(t, board.Publish(first))
	second, err := exposure.NewBatch(a.Day().Start().Add(2*time.Hour), []exposure.Diagnosis{good})
	require.NoError(t, err)
	require.NoError(t, board.Publish(second))

	results, cursor, err := a.CheckBoard(context.Background(), board, time.Time{})
	require.NoError(t, err)
	require.Equal(t, second.Release, cursor)
	require.Len(t, results, 3)
	require.Equal(t, exposure.StatusRejected, results[0].Status)
	require.ErrorIs(t, results[0].Err(), crypto.ErrInvalidKeyLength)
	require.Len(t, results[1].Records, 2)
	require.Len(t, results[2].Records, 2)
	require.Equal(t, 4, exposure.Encounters(results))

	results, cursor, err = a.CheckBoard(context.Background(), board, cursor)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, second.Release, cursor)
}

func TestSnapshotRestore(t *testing.T) {
	a, b := newTestDevice(t, 10), newTestDevice(t, 11)
	meet(t, a, b, day0.Add(10*time.Hour))
	_, err := a.AdvanceDay()
	require.NoError(t, err)

	snap := a.Snapshot()
	require.Equal(t, "sha256-aesctr", snap.Suite)
	require.Len(t, snap.Secrets, 2)
	require.Len(t, snap.Contacts, 1)

	later := day0.Add(3 * 24 * time.Hour)
	restored, err := Restore(DefaultConfig(), snap, later)
	require.NoError(t, err)
	require.Equal(t, epoch.DayOf(later), restored.Day())
	require.Equal(t, a.Contacts(), restored.Contacts())

	// the restored chain still reveals days from before the snapshot
	diag, err := restored.Reveal(epoch.DayOf(day0))
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{10}, crypto.KeySize), diag.Secret)

	other := DefaultConfig()
	other.Suite = crypto.BLAKE3{}
	_, err = Restore(other, snap, later)
	require.ErrorIs(t, err, ErrSuiteMismatch)

	_, err = Restore(DefaultConfig(), snap, day0.Add(-24*time.Hour))
	require.ErrorIs(t, err, ratchet.ErrRatchetUnderflow)
}

func TestSaveLoad(t *testing.T) {
	a, b := newTestDevice(t, 12), newTestDevice(t, 13)
	meet(t, a, b, day0.Add(12*time.Hour))
	require.NoError(t, a.Tick(day0.Add(13*time.Hour)))

	key, err := crypto.DeriveStorageKey(bytes.Repeat([]byte{1}, 32), "alice")
	require.NoError(t, err)
	fs, err := persist.Open(filepath.Join(t.TempDir(), "alice.snap"), key, persist.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, a.Save(fs))

	loaded, err := Load(DefaultConfig(), fs, day0.Add(13*time.Hour))
	require.NoError(t, err)
	require.Equal(t, a.Contacts(), loaded.Contacts())

	want, err := a.CurrentEphID(day0.Add(14 * time.Hour))
	require.NoError(t, err)
	got, err := loaded.CurrentEphID(day0.Add(14 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDeviceLogsDayTransitions(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d, err := NewDevice(cfg, day0)
	require.NoError(t, err)

	require.NoError(t, d.Tick(day0.Add(25*time.Hour)))
	require.True(t, strings.Contains(buf.String(), "day advanced"), buf.String())
}

func TestNewDeviceRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EpochLength = 7 * time.Minute
	_, err := NewDevice(cfg, day0)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Suite = nil
	_, err = NewDevice(cfg, day0)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDeviceWithSeed(DefaultConfig(), []byte("short"), day0)
	require.ErrorIs(t, err, crypto.ErrInvalidKeyLength)
}
