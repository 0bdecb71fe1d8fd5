package proxtrace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/contact"
	"github.com/TheusHen/proxtrace/proxtrace/crypto"
	"github.com/TheusHen/proxtrace/proxtrace/crypto/ratchet"
	"github.com/TheusHen/proxtrace/proxtrace/diagnosis"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
	"github.com/TheusHen/proxtrace/proxtrace/ephid"
	"github.com/TheusHen/proxtrace/proxtrace/exposure"
	"github.com/TheusHen/proxtrace/proxtrace/persist"
)

var (
	ErrNotToday      = errors.New("proxtrace: time is not on the device's live day")
	ErrSuiteMismatch = errors.New("proxtrace: snapshot was written with another suite")
)

// IdentifierSource answers which EphID to broadcast.
type IdentifierSource interface {
	CurrentEphID(now time.Time) (ephid.EphID, error)
}

// ObservationSink accepts scanned EphIDs.
type ObservationSink interface {
	ReceiveScan(id []byte, ts time.Time) error
}

var (
	_ IdentifierSource = (*Device)(nil)
	_ ObservationSink  = (*Device)(nil)
)

// Device is one participant: its secret chain, its broadcast schedule and its
// contact ledger. It is safe for concurrent use.
type Device struct {
	mu      sync.Mutex
	cfg     Config
	log     *slog.Logger
	chain   *ratchet.Chain
	gen     *ephid.Generator
	store   *contact.Store
	matcher *exposure.Matcher

	// EphIDs of the live day, derived on first use.
	ids    []ephid.EphID
	idsDay epoch.Day
}

// NewDevice creates a device with a fresh random secret for the day containing now.
func NewDevice(cfg Config, now time.Time) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chain, err := ratchet.Generate(epoch.DayOf(now), cfg.Suite, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, chain, now)
}

// NewDeviceWithSeed is NewDevice with a caller supplied first secret.
func NewDeviceWithSeed(cfg Config, seed []byte, now time.Time) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chain, err := ratchet.NewChain(seed, epoch.DayOf(now), cfg.Suite, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, chain, now)
}

func assemble(cfg Config, chain *ratchet.Chain, now time.Time) (*Device, error) {
	store, err := contact.New(cfg.contactConfig(), now)
	if err != nil {
		return nil, err
	}
	gen := ephid.NewGenerator(cfg.Suite, cfg.schedule())
	return &Device{
		cfg:     cfg,
		log:     cfg.logger(),
		chain:   chain,
		gen:     gen,
		store:   store,
		matcher: exposure.NewMatcher(gen, store, cfg.RetentionDays),
		idsDay:  -1,
	}, nil
}

// Config returns the device configuration.
func (d *Device) Config() Config { return d.cfg }

// Day returns the live day of the secret chain.
func (d *Device) Day() epoch.Day { return d.chain.Day() }

// Contacts returns the confirmed contact ledger.
func (d *Device) Contacts() []contact.Contact { return d.store.Ledger() }

// CurrentEphID returns the EphID to broadcast at now.
func (d *Device) CurrentEphID(now time.Time) (ephid.EphID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day, idx := d.gen.Schedule().Locate(now)
	live, sk := d.chain.Current()
	defer clear(sk)
	if day != live {
		return ephid.EphID{}, fmt.Errorf("%w: %s, live day %s", ErrNotToday, day, live)
	}
	if d.idsDay != live {
		ids, err := d.gen.DeriveDay(sk)
		if err != nil {
			return ephid.EphID{}, err
		}
		d.ids, d.idsDay = ids, live
	}
	return d.ids[idx], nil
}

// ReceiveScan records an EphID heard at ts. ts must fall in the open epoch;
// call Tick first when the host clock has moved on.
func (d *Device) ReceiveScan(id []byte, ts time.Time) error {
	return d.store.ReceiveScan(id, ts)
}

// Tick closes every epoch that ended at or before now and advances the secret
// chain across each day boundary crossed, oldest first. A now on an earlier day
// than the chain is ErrRatchetUnderflow; a now before the open epoch on the
// live day is ErrClockSkew. Neither changes any state.
func (d *Device) Tick(now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if today, live := epoch.DayOf(now), d.chain.Day(); today < live {
		return fmt.Errorf("%w: clock at %s, live day %s", ratchet.ErrRatchetUnderflow, today, live)
	}
	if _, _, start := d.store.OpenEpoch(); now.Before(start) {
		return fmt.Errorf("%w: clock at %s, open epoch starts %s", contact.ErrClockSkew,
			now.UTC().Format(time.RFC3339), start.Format(time.RFC3339))
	}
	for {
		day, idx, start := d.store.OpenEpoch()
		if now.Before(start.Add(d.cfg.EpochLength)) {
			break
		}
		if err := d.closeEpochLocked(day, idx); err != nil {
			return err
		}
	}
	// The chain can trail the clock when no epoch boundary was crossed.
	return d.advanceToLocked(epoch.DayOf(now))
}

// CloseEpoch closes the open epoch and returns the number of contacts it confirmed.
func (d *Device) CloseEpoch() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	day, idx, _ := d.store.OpenEpoch()
	before := d.store.Len()
	if err := d.closeEpochLocked(day, idx); err != nil {
		return 0, err
	}
	return d.store.Len() - before, nil
}

// AdvanceDay closes the remaining epochs of the live day and moves to the next.
func (d *Device) AdvanceDay() (epoch.Day, error) {
	next := d.chain.Day() + 1
	if err := d.Tick(next.Start()); err != nil {
		return 0, err
	}
	return next, nil
}

func (d *Device) closeEpochLocked(day epoch.Day, idx epoch.Index) error {
	confirmed := d.store.CloseEpoch()
	if confirmed > 0 {
		d.log.Debug("epoch closed", "day", day, "epoch", int(idx), "confirmed", confirmed)
	}
	next, _, _ := d.store.OpenEpoch()
	if next == day {
		return nil
	}
	return d.advanceToLocked(next)
}

// advanceToLocked steps the chain until its live day reaches day and drops
// contacts that left the retention window.
func (d *Device) advanceToLocked(day epoch.Day) error {
	if d.chain.Day() >= day {
		return nil
	}
	steps, err := d.chain.CatchUp(day)
	if err != nil {
		return err
	}
	purged := d.store.Purge(day)
	d.ids, d.idsDay = nil, -1
	d.log.Info("day advanced", "day", day, "steps", steps, "purged", purged)
	return nil
}

// Reveal returns the diagnosis a positive user uploads: the retained secret of
// onset. The device then reseeds its chain, so later broadcasts cannot be
// derived from the published secret.
func (d *Device) Reveal(onset epoch.Day) (exposure.Diagnosis, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sk, err := d.chain.Reveal(onset)
	if err != nil {
		return exposure.Diagnosis{}, err
	}
	seed, err := crypto.GenerateSecret(d.cfg.Suite)
	if err != nil {
		return exposure.Diagnosis{}, err
	}
	defer clear(seed)
	if err := d.chain.Reseed(seed); err != nil {
		return exposure.Diagnosis{}, err
	}
	d.ids, d.idsDay = nil, -1
	d.log.Info("secret revealed", "onset", onset, "live_day", d.chain.Day())
	return exposure.Diagnosis{Onset: onset, Secret: sk}, nil
}

// CheckExposure matches a published diagnosis against local contacts as of today.
func (d *Device) CheckExposure(ctx context.Context, diag exposure.Diagnosis, today epoch.Day) (exposure.Result, error) {
	res, err := d.matcher.CheckExposure(ctx, diag.Secret, diag.Onset, today)
	if err != nil {
		return exposure.Result{}, err
	}
	d.logResult(diag.Onset, res)
	return res, nil
}

// CheckBatch matches every diagnosis of a published batch.
func (d *Device) CheckBatch(ctx context.Context, b exposure.Batch) ([]exposure.Result, error) {
	results, err := d.matcher.CheckBatch(ctx, b)
	if err != nil {
		return nil, err
	}
	for i, res := range results {
		d.logResult(b.Entries[i].Onset, res)
	}
	return results, nil
}

// CheckBoard checks every batch the board released after since. It returns the
// results in release order and the release time to pass on the next call.
// Unusable diagnoses come back as rejected results and do not hold the cursor
// back. On cancellation the results and cursor cover the batches finished so far.
func (d *Device) CheckBoard(ctx context.Context, board diagnosis.Board, since time.Time) ([]exposure.Result, time.Time, error) {
	batches, err := board.Since(since)
	if err != nil {
		return nil, since, err
	}
	var all []exposure.Result
	for _, b := range batches {
		results, err := d.CheckBatch(ctx, b)
		if err != nil {
			return all, since, err
		}
		all = append(all, results...)
		since = b.Release
	}
	return all, since, nil
}

func (d *Device) logResult(onset epoch.Day, res exposure.Result) {
	switch {
	case res.Status == exposure.StatusRejected:
		d.log.Warn("diagnosis rejected", "onset", onset, "err", res.Rejected)
	case res.Status == exposure.StatusPartial:
		d.log.Warn("partial exposure check", "onset", onset, "skipped_days", res.Skipped, "records", len(res.Records))
	case res.Exposed():
		d.log.Info("exposure found", "onset", onset, "records", len(res.Records), "duration", res.Duration())
	}
}

// Snapshot captures the state needed to resume after a restart. The open
// epoch's unconfirmed sightings are not included.
func (d *Device) Snapshot() persist.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.chain.Export()
	return persist.Snapshot{
		Suite:    d.cfg.Suite.Name(),
		Day:      st.Day,
		Secrets:  st.Secrets,
		Contacts: d.store.Ledger(),
	}
}

// Save writes a snapshot to fs.
func (d *Device) Save(fs *persist.FileStore) error {
	snap := d.Snapshot()
	defer wipe(snap.Secrets)
	return fs.Save(snap)
}

// Restore rebuilds a device from a snapshot and catches it up to now.
func Restore(cfg Config, snap persist.Snapshot, now time.Time) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if snap.Suite != cfg.Suite.Name() {
		return nil, fmt.Errorf("%w: %q, configured %q", ErrSuiteMismatch, snap.Suite, cfg.Suite.Name())
	}
	chain, err := ratchet.Restore(ratchet.State{Day: snap.Day, Secrets: snap.Secrets}, cfg.Suite, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}
	today := epoch.DayOf(now)
	if _, err := chain.CatchUp(today); err != nil {
		return nil, err
	}
	dev, err := assemble(cfg, chain, now)
	if err != nil {
		return nil, err
	}
	dropped, err := dev.store.Restore(snap.Contacts)
	if err != nil {
		return nil, err
	}
	dev.log.Info("device restored", "day", today, "contacts", dev.store.Len(), "dropped", dropped)
	return dev, nil
}

// Load restores a device from the snapshot in fs.
func Load(cfg Config, fs *persist.FileStore, now time.Time) (*Device, error) {
	snap, err := fs.Load()
	if err != nil {
		return nil, err
	}
	defer wipe(snap.Secrets)
	return Restore(cfg, snap, now)
}

func wipe(secrets [][]byte) {
	for _, k := range secrets {
		clear(k)
	}
}
