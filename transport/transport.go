// Package transport implements the per-socket send/receive engine described
// by this module's Socket component: it frames outbound payloads and
// decodes inbound bytes for either a stream or datagram pipe, intercepts
// the INITIALIZATION handshake packet on the receive path, and surfaces
// every other packet type through a callback.
package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/remote"
	"github.com/kekchpek/live-capture-net/socket"
	"github.com/kekchpek/live-capture-net/wire"
)

const (
	ErrCodeClosed = liberr.MinPkgTransport + iota
	ErrCodePayloadTooLarge
)

var (
	// ErrClosed is returned by Send once the socket has been closed.
	ErrClosed = liberr.New(ErrCodeClosed, "transport socket is closed")
	// ErrPayloadTooLarge is returned by Send on a datagram socket when the
	// payload exceeds wire.DatagramMax.
	ErrPayloadTooLarge = liberr.New(ErrCodePayloadTooLarge, "frame payload exceeds datagram maximum")
)

// OnInitialized is invoked once per socket when an INITIALIZATION packet is
// decoded off the receive path.
type OnInitialized func(v wire.Version, r wire.RemoteData)

// OnPacketReceived is invoked for every decoded packet other than
// INITIALIZATION.
type OnPacketReceived func(h wire.Header, payload []byte)

// OnSocketError reports a receive-loop failure that was not filtered as an
// expected shutdown condition.
type OnSocketError func(err error)

// Socket frames and decodes frames over one stream or datagram pipe.
type Socket struct {
	rw      io.ReadWriter
	channel wire.Channel

	writeMu sync.Mutex
	closed  atomic.Bool

	onInit   OnInitialized
	onPacket OnPacketReceived
	onError  OnSocketError

	done chan struct{}
}

// NewStream wraps a stream pipe (TCP connection) for length-prefixed
// framing: exactly HeaderSize bytes, then exactly DataLength payload bytes,
// per frame.
func NewStream(rw io.ReadWriter) *Socket {
	return &Socket{rw: rw, channel: wire.ChannelReliableOrdered, done: make(chan struct{})}
}

// NewDatagram wraps a datagram pipe (UDP connection) where every Read call
// returns exactly one complete frame.
func NewDatagram(rw io.ReadWriter) *Socket {
	return &Socket{rw: rw, channel: wire.ChannelUnreliableUnordered, done: make(chan struct{})}
}

// Channel reports which logical channel this socket carries.
func (s *Socket) Channel() wire.Channel { return s.channel }

// OnInitialized registers the handshake callback. Must be called before
// Start.
func (s *Socket) OnInitialized(fn OnInitialized) { s.onInit = fn }

// OnPacketReceived registers the generic-packet callback. Must be called
// before Start.
func (s *Socket) OnPacketReceived(fn OnPacketReceived) { s.onPacket = fn }

// OnError registers the error callback. Must be called before Start.
func (s *Socket) OnError(fn OnSocketError) { s.onError = fn }

// Start launches the receive loop in its own goroutine. It returns
// immediately; the loop runs until ctx is cancelled, the socket is closed,
// or the pipe reports an unfiltered error.
func (s *Socket) Start(ctx context.Context) {
	if s.channel == wire.ChannelReliableOrdered {
		go s.streamLoop(ctx)
	} else {
		go s.datagramLoop(ctx)
	}
}

func (s *Socket) streamLoop(ctx context.Context) {
	header := make([]byte, wire.HeaderSize)
	for {
		if ctx.Err() != nil || s.closed.Load() {
			return
		}

		if _, err := io.ReadFull(s.rw, header); err != nil {
			s.reportErr(err)
			return
		}

		h, err := wire.DecodeHeader(header)
		if err != nil {
			s.reportErr(err)
			continue
		}

		payload := make([]byte, h.DataLength)
		if h.DataLength > 0 {
			if _, err := io.ReadFull(s.rw, payload); err != nil {
				s.reportErr(err)
				return
			}
		}

		s.dispatch(h, payload)
	}
}

func (s *Socket) datagramLoop(ctx context.Context) {
	buf := make([]byte, wire.HeaderSize+wire.DatagramMax)
	for {
		if ctx.Err() != nil || s.closed.Load() {
			return
		}

		n, err := s.rw.Read(buf)
		if err != nil {
			// Connection resets are absorbed inside socket.ClientUDP.Read;
			// any error that reaches this loop tears it down.
			s.reportErr(err)
			return
		}

		h, payload, err := wire.DecodeFrame(buf[:n])
		if err != nil {
			continue
		}

		cp := make([]byte, len(payload))
		copy(cp, payload)
		s.dispatch(h, cp)
	}
}

func (s *Socket) dispatch(h wire.Header, payload []byte) {
	if h.PacketType == wire.PacketInitialization {
		v, rd, err := wire.DecodeInitialization(payload)
		if err != nil {
			return
		}
		if s.onInit != nil {
			s.onInit(v, rd)
		}
		return
	}

	if s.onPacket != nil {
		s.onPacket(h, payload)
	}
}

func (s *Socket) reportErr(err error) {
	if err = socket.ErrorFilter(err); err == nil {
		return
	}
	if s.onError != nil {
		s.onError(err)
	}
}

// Send frames payload as kind and writes it to the pipe. On the datagram
// channel it rejects payloads larger than wire.DatagramMax before writing.
func (s *Socket) Send(senderID remote.ID, kind wire.PacketType, payload []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.channel == wire.ChannelUnreliableUnordered && len(payload) > wire.DatagramMax {
		return ErrPayloadTooLarge
	}

	frame := wire.EncodeFrame(senderID, kind, payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.rw.Write(frame)
	return err
}

// DoHandshake sends a synchronous INITIALIZATION packet carrying the
// protocol version and this endpoint's RemoteData, so the peer can
// construct a Remote before any application packet arrives.
func (s *Socket) DoHandshake(senderID remote.ID, rd wire.RemoteData) error {
	payload := wire.EncodeInitialization(wire.ProtocolVersion, rd)
	return s.Send(senderID, wire.PacketInitialization, payload)
}

// Close marks the socket closed; the receive loop observes this and stops
// at its next iteration. It does not close the underlying pipe, which the
// owning Connection manages.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	return nil
}

// Done reports when Close has been called.
func (s *Socket) Done() <-chan struct{} { return s.done }
