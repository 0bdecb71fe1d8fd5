package exposure

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/TheusHen/proxtrace/proxtrace/epoch"
)

var ErrMalformedDiagnosis = errors.New("exposure: malformed diagnosis")

// Diagnosis is what a diagnosed user publishes: the onset day and its secret.
type Diagnosis struct {
	Onset  epoch.Day
	Secret []byte
}

// MarshalBinary encodes the diagnosis as an 8-byte big endian day followed by the secret.
func (d Diagnosis) MarshalBinary() ([]byte, error) {
	out := make([]byte, 8+len(d.Secret))
	binary.BigEndian.PutUint64(out[:8], uint64(d.Onset))
	copy(out[8:], d.Secret)
	return out, nil
}

// UnmarshalBinary decodes the MarshalBinary format.
func (d *Diagnosis) UnmarshalBinary(data []byte) error {
	if len(data) <= 8 {
		return fmt.Errorf("%w: %d bytes", ErrMalformedDiagnosis, len(data))
	}
	d.Onset = epoch.Day(int64(binary.BigEndian.Uint64(data[:8])))
	d.Secret = bytes.Clone(data[8:])
	return nil
}
