// Package conn binds a pair of sockets (one stream, one datagram) to a
// single Remote: heartbeat production and watchdog, channel-aware send
// routing, and lifecycle close with a classified reason. A Connection is
// the only object in this module that speaks for a live peer once the
// handshake has completed.
package conn

import (
	"context"
	"io"
	"sync"
	"time"

	libatomic "github.com/kekchpek/live-capture-net/atomic"
	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/message"
	"github.com/kekchpek/live-capture-net/metrics"
	"github.com/kekchpek/live-capture-net/remote"
	"github.com/kekchpek/live-capture-net/runner/ticker"
	"github.com/kekchpek/live-capture-net/transport"
	"github.com/kekchpek/live-capture-net/wire"
)

const (
	// HeartbeatPeriod is how often the heartbeat producer sends a
	// zero-payload HEARTBEAT packet over the datagram socket.
	HeartbeatPeriod = 1 * time.Second
	// CheckPeriod is how often the watchdog compares now against the
	// last-heartbeat timestamp.
	CheckPeriod = 100 * time.Millisecond
	// DisconnectThreshold is the heartbeat gap past which the watchdog
	// declares the connection dead.
	DisconnectThreshold = 8 * HeartbeatPeriod
	// ReliableSendTimeout bounds a synchronous stream send; exceeding it
	// surfaces an error and closes the connection.
	ReliableSendTimeout = 10 * time.Second
)

const (
	ErrCodeClosed = liberr.MinPkgConn + iota
	ErrCodeInvalidChannel
)

var (
	// ErrClosed is returned by Send once the connection has closed.
	ErrClosed = liberr.New(ErrCodeClosed, "connection is closed")
	// ErrInvalidChannel is returned by Send for a channel selector other
	// than the two defined values; per spec this is a programming error.
	ErrInvalidChannel = liberr.New(ErrCodeInvalidChannel, "invalid channel selector")
)

// Status is a Connection's position in its INITIALIZING -> ESTABLISHED ->
// CLOSED state machine.
type Status uint32

const (
	StatusInitializing Status = iota
	StatusEstablished
	StatusClosed
)

// Reason classifies why a Connection closed.
type Reason uint8

const (
	ReasonGraceful Reason = iota
	ReasonTimeout
	ReasonError
	ReasonReconnected
)

func (r Reason) String() string {
	switch r {
	case ReasonGraceful:
		return "GRACEFUL"
	case ReasonTimeout:
		return "TIMEOUT"
	case ReasonError:
		return "ERROR"
	case ReasonReconnected:
		return "RECONNECTED"
	default:
		return "UNKNOWN"
	}
}

// writeDeadliner is implemented by the stream pipe a Connection owns; it
// lets Send bound a reliable write instead of blocking forever on a peer
// that never acknowledges.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// OnMessage is invoked for every GENERIC packet arriving on either socket.
type OnMessage func(senderID remote.ID, ch wire.Channel, payload []byte)

// OnClosed is invoked exactly once, when the connection transitions to
// CLOSED.
type OnClosed func(reason Reason)

// Connection binds a stream and a datagram socket to one Remote.
type Connection struct {
	localID remote.ID
	remote  *remote.Remote

	streamSock *transport.Socket
	streamPipe io.Closer

	dgramSock  *transport.Socket
	dgramPipe  io.Closer
	dgramOwned bool

	status        libatomic.Value[Status]
	lastHeartbeat libatomic.Value[int64]

	onMessage OnMessage
	onClosed  OnClosed
	metrics   *metrics.Collector

	heartbeat ticker.Ticker
	watchdog  ticker.Ticker

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs a Connection around an already-dialed/accepted stream
// pipe and a datagram pipe. dgramOwned distinguishes a client's own raw
// datagram socket (true) from a server's SharedDatagram view onto one
// socket shared across every remote (false); Close always tears down the
// datagram pipe either way, owned or not.
func New(
	localID remote.ID,
	rem *remote.Remote,
	streamRW io.ReadWriter,
	dgramRW io.ReadWriter,
	dgramOwned bool,
	onMessage OnMessage,
	onClosed OnClosed,
) *Connection {
	c := &Connection{
		localID:       localID,
		remote:        rem,
		dgramOwned:    dgramOwned,
		onMessage:     onMessage,
		onClosed:      onClosed,
		status:        libatomic.NewValue[Status](),
		lastHeartbeat: libatomic.NewValue[int64](),
		done:          make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now().UnixNano())

	if closer, ok := streamRW.(io.Closer); ok {
		c.streamPipe = closer
	}
	if closer, ok := dgramRW.(io.Closer); ok {
		c.dgramPipe = closer
	}

	c.streamSock = transport.NewStream(streamRW)
	c.streamSock.OnPacketReceived(func(h wire.Header, payload []byte) {
		c.handlePacket(wire.ChannelReliableOrdered, h, payload)
	})
	c.streamSock.OnError(func(err error) {
		_ = c.Close(ReasonError)
	})

	c.dgramSock = transport.NewDatagram(dgramRW)
	c.dgramSock.OnPacketReceived(func(h wire.Header, payload []byte) {
		c.handlePacket(wire.ChannelUnreliableUnordered, h, payload)
	})
	c.dgramSock.OnError(func(err error) {
		// Peer loss on the datagram channel is expected: it is lossy by
		// definition and never closes the connection on its own.
	})

	c.heartbeat = ticker.New(HeartbeatPeriod, func(ctx context.Context, _ *time.Ticker) error {
		err := c.dgramSock.Send(c.localID, wire.PacketHeartbeat, nil)
		if err == nil && c.metrics != nil {
			c.metrics.Heartbeats.Inc()
		}
		return err
	})
	c.watchdog = ticker.New(CheckPeriod, func(ctx context.Context, _ *time.Ticker) error {
		last := time.Unix(0, c.lastHeartbeat.Load())
		if time.Since(last) > DisconnectThreshold {
			_ = c.Close(ReasonTimeout)
		}
		return nil
	})

	return c
}

// Start transitions the connection to ESTABLISHED and launches its receive
// loops, heartbeat producer, and watchdog. The last-heartbeat timestamp is
// set at construction and refreshed here, rather than lazily on the
// watchdog's first tick: the lazy fallback in the system this module is
// modelled on worked around a platform whose monotonic clock was
// occasionally unavailable at startup, which does not apply here.
func (c *Connection) Start(ctx context.Context) {
	c.lastHeartbeat.Store(time.Now().UnixNano())
	c.status.Store(StatusEstablished)

	c.streamSock.Start(ctx)
	c.dgramSock.Start(ctx)
	_ = c.heartbeat.Start(ctx)
	_ = c.watchdog.Start(ctx)
}

func (c *Connection) handlePacket(ch wire.Channel, h wire.Header, payload []byte) {
	switch h.PacketType {
	case wire.PacketGeneric:
		if c.onMessage != nil {
			c.onMessage(h.SenderID, ch, payload)
		}
	case wire.PacketHeartbeat:
		c.lastHeartbeat.Store(time.Now().UnixNano())
	case wire.PacketDisconnect:
		_ = c.Close(ReasonGraceful)
	case wire.PacketInitialization:
		// Consumed by transport.Socket before dispatch; nothing to do.
	default:
		// INVALID or an unrecognized type: log and drop. This module has
		// no connection-scoped logger reference, so the drop is silent;
		// endpoint-level logging covers protocol-violation visibility.
	}
}

// SetOnClosed replaces the close callback. It must be called before Start;
// it exists so a caller can close over the Connection's own identity (to
// tell apart a stale Close from a superseded connection) without a
// construction-order cycle.
func (c *Connection) SetOnClosed(fn OnClosed) { c.onClosed = fn }

// SetMetrics installs the collector this connection reports heartbeats to.
// It must be called before Start; a nil collector disables instrumentation.
func (c *Connection) SetMetrics(m *metrics.Collector) { c.metrics = m }

// Remote returns the peer this connection serves.
func (c *Connection) Remote() *remote.Remote { return c.remote }

// Status reports the connection's current lifecycle state.
func (c *Connection) Status() Status { return c.status.Load() }

// LastHeartbeat returns the timestamp of the most recently observed
// heartbeat (or connection start, if none has arrived yet).
func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// Send routes msg to the socket matching its channel selector. Any other
// channel value is a programming error and returns ErrInvalidChannel.
func (c *Connection) Send(msg *message.Message) error {
	if c.Status() == StatusClosed {
		return ErrClosed
	}

	switch msg.Channel {
	case wire.ChannelReliableOrdered:
		if dl, ok := c.streamDeadliner(); ok {
			_ = dl.SetWriteDeadline(time.Now().Add(ReliableSendTimeout))
			defer func() { _ = dl.SetWriteDeadline(time.Time{}) }()
		}
		kind := msg.Kind
		if kind == wire.PacketInvalid {
			kind = wire.PacketGeneric
		}
		return c.streamSock.Send(c.localID, kind, msg.Payload())
	case wire.ChannelUnreliableUnordered:
		kind := msg.Kind
		if kind == wire.PacketInvalid {
			kind = wire.PacketGeneric
		}
		return c.dgramSock.Send(c.localID, kind, msg.Payload())
	default:
		return ErrInvalidChannel
	}
}

func (c *Connection) streamDeadliner() (writeDeadliner, bool) {
	dl, ok := c.streamPipe.(writeDeadliner)
	return dl, ok
}

// SendDisconnect sends a synchronous zero-payload DISCONNECT packet over
// the stream socket, used by a graceful Stop before Close.
func (c *Connection) SendDisconnect() error {
	return c.streamSock.Send(c.localID, wire.PacketDisconnect, nil)
}

// Close is idempotent: only the first call runs teardown and invokes
// onClosed.
func (c *Connection) Close(reason Reason) error {
	c.closeOnce.Do(func() {
		c.status.Store(StatusClosed)

		_ = c.heartbeat.Stop(context.Background())
		_ = c.watchdog.Stop(context.Background())

		_ = c.streamSock.Close()
		if c.streamPipe != nil {
			_ = c.streamPipe.Close()
		}

		_ = c.dgramSock.Close()
		// dgramOwned only gates ownership of the raw OS socket; dgramPipe
		// itself (owned raw socket or a SharedDatagram demux adapter) must
		// always be torn down so its per-connection read loop unblocks.
		if c.dgramPipe != nil {
			_ = c.dgramPipe.Close()
		}

		close(c.done)

		if c.onClosed != nil {
			c.onClosed(reason)
		}
	})
	return nil
}

// Done closes once Close has run.
func (c *Connection) Done() <-chan struct{} { return c.done }
