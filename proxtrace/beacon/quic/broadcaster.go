package quic

import (
	"context"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/proxtrace/proxtrace/beacon"
)

// Broadcaster sends adverts to one scanner over a single stream.
type Broadcaster struct {
	mu     sync.Mutex
	conn   *q.Conn
	stream *q.Stream
	src    beacon.Source
}

// Dial connects to the scanner at addr.
func Dial(ctx context.Context, addr string, src beacon.Source) (*Broadcaster, error) {
	tlsConf, err := newTLSConfig()
	if err != nil {
		return nil, err
	}
	conn, err := q.DialAddr(ctx, addr, tlsConf, &q.Config{})
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return &Broadcaster{conn: conn, stream: stream, src: src}, nil
}

// Advertise sends the EphID the source reports for now.
func (b *Broadcaster) Advertise(now time.Time) error {
	id, err := b.src.CurrentEphID(now)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return beacon.WriteFrame(b.stream, beacon.Advert{EphID: id}.Frame())
}

// Run advertises every interval until ctx is done. Source errors end the loop.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration, clock func() time.Time) error {
	if clock == nil {
		clock = time.Now
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := b.Advertise(clock()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// closeGrace bounds how long Close waits for the scanner to hang up first.
const closeGrace = time.Second

// Close says goodbye and tears the connection down.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	err := beacon.WriteFrame(b.stream, beacon.Frame{Type: beacon.MessageTypeClose})
	if cerr := b.stream.Close(); err == nil {
		err = cerr
	}
	b.mu.Unlock()

	select {
	case <-b.conn.Context().Done():
	case <-time.After(closeGrace):
	}
	_ = b.conn.CloseWithError(0, "")
	return err
}
