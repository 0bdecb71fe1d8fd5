// Package quic runs beacon frames over QUIC.
//
// A Scanner listens for broadcasters and hands every advert to a beacon.Sink,
// stamped with the scanner's clock. A Broadcaster dials a scanner and sends the
// EphID its beacon.Source reports for the current time.
package quic

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	q "github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/proxtrace/proxtrace/beacon"
)

// Stats counts adverts seen by a Scanner.
type Stats struct {
	Received uint64
	Rejected uint64
}

// Scanner accepts broadcaster connections and forwards adverts to a sink.
type Scanner struct {
	ln    *q.Listener
	sink  beacon.Sink
	clock func() time.Time

	closed   atomic.Bool
	received atomic.Uint64
	rejected atomic.Uint64
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithClock sets the clock used to stamp scans. Defaults to time.Now.
func WithClock(clock func() time.Time) ScannerOption {
	return func(s *Scanner) { s.clock = clock }
}

// Listen starts a scanner on addr.
func Listen(addr string, sink beacon.Sink, opts ...ScannerOption) (*Scanner, error) {
	tlsConf, err := newTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, &q.Config{})
	if err != nil {
		return nil, err
	}
	s := &Scanner{ln: ln, sink: sink, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scanner) Addr() net.Addr { return s.ln.Addr() }

// Stats returns the advert counters.
func (s *Scanner) Stats() Stats {
	return Stats{Received: s.received.Load(), Rejected: s.rejected.Load()}
}

// Close stops the scanner and drops open connections.
func (s *Scanner) Close() error {
	s.closed.Store(true)
	return s.ln.Close()
}

// Serve accepts connections until ctx is done or the scanner is closed.
// A sink rejecting an advert (clock skew, malformed id) does not end the stream.
func (s *Scanner) Serve(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	var g errgroup.Group
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			cancel()
			_ = g.Wait()
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case s.closed.Load():
				return nil
			}
			return err
		}
		g.Go(func() error {
			s.serveConn(connCtx, conn)
			return nil
		})
	}
}

func (s *Scanner) serveConn(ctx context.Context, conn *q.Conn) {
	defer conn.CloseWithError(0, "")
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		if done := s.serveStream(stream); done {
			return
		}
	}
}

// serveStream reports whether the broadcaster said goodbye.
func (s *Scanner) serveStream(stream *q.Stream) bool {
	defer stream.Close()
	r := bufio.NewReader(stream)
	for {
		f, err := beacon.ReadFrame(r)
		if err != nil {
			return errors.Is(err, io.EOF)
		}
		switch f.Type {
		case beacon.MessageTypeClose:
			return true
		case beacon.MessageTypeAdvert:
			s.received.Add(1)
			if err := s.sink.ReceiveScan(f.Payload, s.clock()); err != nil {
				s.rejected.Add(1)
			}
		default:
			s.rejected.Add(1)
		}
	}
}
