package proxtrace

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/contact"
	"github.com/TheusHen/proxtrace/proxtrace/crypto"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
)

var ErrInvalidConfig = errors.New("proxtrace: invalid configuration")

// Config holds a device's protocol parameters.
type Config struct {
	EpochLength      time.Duration
	ContactThreshold time.Duration
	RetentionDays    int
	Suite            crypto.Suite
	// Logger receives day and epoch transitions. Nil discards.
	Logger *slog.Logger
}

// DefaultConfig returns 15 minute epochs, a 2 minute contact threshold,
// 21 days of retention and the SHA-256 suite.
func DefaultConfig() Config {
	return Config{
		EpochLength:      epoch.DefaultLength,
		ContactThreshold: contact.DefaultThreshold,
		RetentionDays:    epoch.RetentionDays,
		Suite:            crypto.DefaultSuite(),
	}
}

// ConfigFromEnv starts from DefaultConfig and applies PROXTRACE_EPOCH_LENGTH,
// PROXTRACE_CONTACT_THRESHOLD, PROXTRACE_RETENTION_DAYS and PROXTRACE_SUITE.
// Unlike most settings, a malformed value is an error: devices that disagree on
// the epoch length or suite cannot match each other.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error
	if cfg.EpochLength, err = envDuration("PROXTRACE_EPOCH_LENGTH", cfg.EpochLength); err != nil {
		return Config{}, err
	}
	if cfg.ContactThreshold, err = envDuration("PROXTRACE_CONTACT_THRESHOLD", cfg.ContactThreshold); err != nil {
		return Config{}, err
	}
	if cfg.RetentionDays, err = envInt("PROXTRACE_RETENTION_DAYS", cfg.RetentionDays); err != nil {
		return Config{}, err
	}
	if name := os.Getenv("PROXTRACE_SUITE"); name != "" {
		if cfg.Suite, err = crypto.SuiteByName(name); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if _, err := epoch.NewSchedule(c.EpochLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch {
	case c.ContactThreshold < 0:
		return fmt.Errorf("%w: negative contact threshold", ErrInvalidConfig)
	case c.ContactThreshold >= c.EpochLength:
		return fmt.Errorf("%w: contact threshold %s must be shorter than epoch length %s", ErrInvalidConfig, c.ContactThreshold, c.EpochLength)
	case c.RetentionDays <= 0:
		return fmt.Errorf("%w: retention %d days", ErrInvalidConfig, c.RetentionDays)
	case c.Suite == nil:
		return fmt.Errorf("%w: missing crypto suite", ErrInvalidConfig)
	}
	return nil
}

func (c Config) schedule() epoch.Schedule {
	s, _ := epoch.NewSchedule(c.EpochLength)
	return s
}

func (c Config) contactConfig() contact.Config {
	return contact.Config{
		Schedule:      c.schedule(),
		Threshold:     c.ContactThreshold,
		RetentionDays: c.RetentionDays,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return n, nil
}
