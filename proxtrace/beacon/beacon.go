// Package beacon carries EphIDs from a broadcasting device to scanning devices.
//
// The radio layer is out of scope; this package defines the framing and the two
// capabilities a transport connects: a Source of the current EphID and a Sink of
// scan receipts. The quic sub-package runs the frames over QUIC streams so
// several processes can play devices on one network.
package beacon

import (
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/ephid"
)

// Source supplies the EphID to broadcast at a given time.
type Source interface {
	CurrentEphID(now time.Time) (ephid.EphID, error)
}

// Sink accepts scanned EphIDs, stamped with the receive time.
type Sink interface {
	ReceiveScan(id []byte, ts time.Time) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(id []byte, ts time.Time) error

func (f SinkFunc) ReceiveScan(id []byte, ts time.Time) error { return f(id, ts) }
