// Package diagnosis defines how revealed diagnosis secrets reach devices.
//
// Distribution itself (a backend, a bulletin board, a broadcast) is outside the
// core; devices only need something that hands them published batches in release
// order. The memory sub-package provides an in-process board for tests and
// simulations.
package diagnosis

import (
	"errors"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/exposure"
)

var (
	ErrStaleRelease = errors.New("diagnosis: batch released before the latest published batch")
)

// Board is a generic diagnosis distribution interface.
// Implementations can be backed by an HTTP backend, a CDN, a file drop, etc.
type Board interface {
	// Publish makes a batch available. Batches must be published in release order.
	Publish(b exposure.Batch) error
	// Since returns every batch released strictly after t, oldest first.
	Since(t time.Time) ([]exposure.Batch, error)
}
