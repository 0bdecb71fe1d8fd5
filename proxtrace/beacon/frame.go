package beacon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/TheusHen/proxtrace/proxtrace/ephid"
)

// MaxFramePayload bounds a single frame. Adverts are 16 bytes; the slack leaves
// room for future message types without letting a peer force large buffers.
const MaxFramePayload = 1 << 10

var (
	ErrFrameTooLarge = errors.New("beacon: frame payload too large")
	ErrInvalidType   = errors.New("beacon: invalid message type")
	ErrBadAdvert     = errors.New("beacon: malformed advert")
)

type MessageType uint8

const (
	MessageTypeAdvert MessageType = 1
	MessageTypeClose  MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeAdvert:
		return "ADVERT"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Frame is the wire container.
// Format:
//
//	1 byte: type
//	4 bytes: payload length (big endian)
//	N bytes: payload
type Frame struct {
	Type    MessageType
	Payload []byte
}

// WriteFrame writes f as a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 5, 5+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:], uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame. Callers reading several frames from one
// stream should pass a buffered reader.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	mt := MessageType(hdr[0])
	if mt == 0 {
		return Frame{}, ErrInvalidType
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Type: mt, Payload: payload}, nil
}

// Advert is a broadcast of one EphID.
type Advert struct {
	EphID ephid.EphID
}

// Frame encodes the advert.
func (a Advert) Frame() Frame {
	return Frame{Type: MessageTypeAdvert, Payload: a.EphID.Bytes()}
}

// ParseAdvert decodes an advert frame.
func ParseAdvert(f Frame) (Advert, error) {
	if f.Type != MessageTypeAdvert {
		return Advert{}, fmt.Errorf("%w: type %s", ErrBadAdvert, f.Type)
	}
	id, err := ephid.FromBytes(f.Payload)
	if err != nil {
		return Advert{}, fmt.Errorf("%w: %v", ErrBadAdvert, err)
	}
	return Advert{EphID: id}, nil
}
