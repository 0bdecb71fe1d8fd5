package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace/contact"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
	"github.com/TheusHen/proxtrace/proxtrace/ephid"
)

var ErrCorrupt = errors.New("persist: corrupt snapshot")

const (
	snapshotMagic   = "PXTS"
	snapshotVersion = 1
	contactSize     = ephid.Size + 8 + 2 + 8
)

// Snapshot is the persisted state of a device.
type Snapshot struct {
	Suite    string
	Day      epoch.Day
	Secrets  [][]byte // newest first, Secrets[0] is SK_Day
	Contacts []contact.Contact
}

// MarshalBinary encodes the snapshot.
// Format:
//
//	4 bytes: magic "PXTS"
//	1 byte: version
//	1 byte: suite name length, N bytes: suite name
//	8 bytes: day
//	2 bytes: secret count, 1 byte: secret length, secrets
//	4 bytes: contact count
//	For each contact:
//		16 bytes: EphID
//		8 bytes: day
//		2 bytes: epoch index
//		8 bytes: duration in nanoseconds
func (s Snapshot) MarshalBinary() ([]byte, error) {
	if len(s.Suite) > 255 {
		return nil, fmt.Errorf("persist: suite name too long")
	}
	if len(s.Secrets) > 0xffff {
		return nil, fmt.Errorf("persist: too many secrets")
	}
	keyLen := 0
	if len(s.Secrets) > 0 {
		keyLen = len(s.Secrets[0])
	}
	for _, k := range s.Secrets {
		if len(k) != keyLen || keyLen > 255 {
			return nil, fmt.Errorf("persist: secrets must share one length")
		}
	}

	var b bytes.Buffer
	b.Grow(4 + 1 + 1 + len(s.Suite) + 8 + 3 + len(s.Secrets)*keyLen + 4 + len(s.Contacts)*contactSize)
	b.WriteString(snapshotMagic)
	b.WriteByte(snapshotVersion)
	b.WriteByte(byte(len(s.Suite)))
	b.WriteString(s.Suite)
	b.Write(binary.BigEndian.AppendUint64(nil, uint64(s.Day)))
	b.Write(binary.BigEndian.AppendUint16(nil, uint16(len(s.Secrets))))
	b.WriteByte(byte(keyLen))
	for _, k := range s.Secrets {
		b.Write(k)
	}
	b.Write(binary.BigEndian.AppendUint32(nil, uint32(len(s.Contacts))))
	var rec [contactSize]byte
	for _, c := range s.Contacts {
		copy(rec[:ephid.Size], c.EphID[:])
		binary.BigEndian.PutUint64(rec[16:24], uint64(c.Day))
		binary.BigEndian.PutUint16(rec[24:26], uint16(c.Index))
		binary.BigEndian.PutUint64(rec[26:34], uint64(c.Duration))
		b.Write(rec[:])
	}
	return b.Bytes(), nil
}

// UnmarshalBinary decodes the MarshalBinary format.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	if string(r.next(4)) != snapshotMagic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := r.byte(); v != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	suite := string(r.next(int(r.byte())))
	day := epoch.Day(int64(r.uint64()))
	n := int(r.uint16())
	keyLen := int(r.byte())
	secrets := make([][]byte, 0, n)
	for range n {
		secrets = append(secrets, bytes.Clone(r.next(keyLen)))
	}
	count := int(r.uint32())
	if r.err == nil && count > len(r.buf)/contactSize {
		r.err = ErrCorrupt
	}
	contacts := make([]contact.Contact, 0, max(count, 0))
	for range count {
		rec := r.next(contactSize)
		if rec == nil {
			break
		}
		var c contact.Contact
		copy(c.EphID[:], rec[:ephid.Size])
		c.Day = epoch.Day(int64(binary.BigEndian.Uint64(rec[16:24])))
		c.Index = epoch.Index(binary.BigEndian.Uint16(rec[24:26]))
		c.Duration = time.Duration(int64(binary.BigEndian.Uint64(rec[26:34])))
		contacts = append(contacts, c)
	}
	if r.err != nil {
		return fmt.Errorf("%w: truncated", ErrCorrupt)
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}
	*s = Snapshot{Suite: suite, Day: day, Secrets: secrets, Contacts: contacts}
	return nil
}

// reader consumes a byte slice, latching the first short read.
type reader struct {
	buf []byte
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil || n > len(r.buf) {
		r.err = ErrCorrupt
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) byte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
