// Package netclient implements the outbound half of this module's
// dual-channel transport: it dials a server's stream port, pairs the
// connection with a freshly bound datagram socket, and keeps redialing
// automatically whenever the pairing drops for any reason other than a
// local, deliberate Stop.
package netclient

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kekchpek/live-capture-net/conn"
	"github.com/kekchpek/live-capture-net/endpoint"
	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/executor"
	"github.com/kekchpek/live-capture-net/message"
	"github.com/kekchpek/live-capture-net/metrics"
	"github.com/kekchpek/live-capture-net/remote"
	"github.com/kekchpek/live-capture-net/runner/startstop"
	"github.com/kekchpek/live-capture-net/socket"
	"github.com/kekchpek/live-capture-net/transport"
	"github.com/kekchpek/live-capture-net/wire"
)

const (
	// ConnectAttemptTimeout bounds a single dial attempt (stream or
	// datagram) before the reconnect loop gives up on it and retries.
	ConnectAttemptTimeout = 2 * time.Second
	// HandshakeTimeout bounds waiting for the server's INITIALIZATION
	// response once the stream socket is connected.
	HandshakeTimeout = 2 * time.Second
	// ReconnectBackoff is the pause between failed connection attempts.
	ReconnectBackoff = 500 * time.Millisecond
)

const (
	ErrCodeInvalidAddress = liberr.MinPkgNetClient + iota
	ErrCodePortInUse
	ErrCodeVersionMismatch
	ErrCodeHandshakeTimeout
	ErrCodeNotStarted
)

var (
	// ErrInvalidAddress is returned by Connect for an empty host or an
	// out-of-range port.
	ErrInvalidAddress = liberr.New(ErrCodeInvalidAddress, "invalid server address or port")
	// ErrPortInUse is returned by Connect when an explicit local port is
	// already bound by another process.
	ErrPortInUse = liberr.New(ErrCodePortInUse, "requested local port is already in use")
	// ErrVersionMismatch is returned when the server's advertised protocol
	// major version does not match this client's.
	ErrVersionMismatch = liberr.New(ErrCodeVersionMismatch, "server protocol version is incompatible")
	// ErrHandshakeTimeout is returned when the server never answers the
	// client's INITIALIZATION within HandshakeTimeout.
	ErrHandshakeTimeout = liberr.New(ErrCodeHandshakeTimeout, "handshake response timed out")
	// ErrNotStarted is returned by Stop when Connect was never called.
	ErrNotStarted = liberr.New(ErrCodeNotStarted, "client was never started")
)

// State is the client's position in its lifecycle.
type State uint32

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "STOPPED"
	}
}

// Options configures a new Client.
type Options struct {
	LocalID     remote.ID
	Logger      *logrus.Logger
	Executor    executor.Executor
	MessagePool *message.Pool
	// Metrics, if set, receives connection/handshake/reconnect counters.
	Metrics *metrics.Collector
	// ReconnectBackoff overrides the pause between failed connection
	// attempts. Zero keeps the package default (ReconnectBackoff const).
	ReconnectBackoff time.Duration
}

// Client dials one server and maintains that connection, redialing on drop.
type Client struct {
	ep      *endpoint.Endpoint
	metrics *metrics.Collector

	serverAddr       string
	localPort        int
	reconnectBackoff time.Duration

	state atomic.Uint32
	loop  startstop.StartStop

	mu   sync.Mutex
	conn *conn.Connection
}

// New constructs a Client around a fresh Endpoint.
func New(opts Options) *Client {
	ep := endpoint.New(endpoint.Options{
		LocalID:     opts.LocalID,
		Logger:      opts.Logger,
		Executor:    opts.Executor,
		MessagePool: opts.MessagePool,
		Metrics:     opts.Metrics,
	})
	backoff := opts.ReconnectBackoff
	if backoff <= 0 {
		backoff = ReconnectBackoff
	}
	return &Client{ep: ep, metrics: opts.Metrics, reconnectBackoff: backoff}
}

// Endpoint exposes the shared handler-registration/SendMessage/event
// surface this client and netserver.Server both build on.
func (c *Client) Endpoint() *endpoint.Endpoint { return c.ep }

// LocalID returns this client's own identity.
func (c *Client) LocalID() remote.ID { return c.ep.LocalID() }

// RegisterMessageHandler installs fn for remoteID; see Endpoint for the
// exact semantics (buffering, duplicate registration).
func (c *Client) RegisterMessageHandler(remoteID remote.ID, fn endpoint.MessageHandler, handleBuffered bool) error {
	return c.ep.RegisterMessageHandler(remoteID, fn, handleBuffered)
}

// SendMessage dispatches msg to its target remote (or every remote, for
// REMOTE_ALL); see Endpoint.SendMessage.
func (c *Client) SendMessage(msg *message.Message) bool { return c.ep.SendMessage(msg) }

// MessagePool returns the pool outbound producers should Acquire from.
func (c *Client) MessagePool() *message.Pool { return c.ep.MessagePool() }

// Events returns the client's lifecycle event subscription surface.
func (c *Client) Events() *endpoint.EventBus { return c.ep.Events() }

// State reports the client's current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

func checkPortFree(port int) error {
	if port == 0 {
		return nil
	}

	tln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return ErrPortInUse
	}
	_ = tln.Close()

	uln, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return ErrPortInUse
	}
	_ = uln.Close()

	return nil
}

// Connect validates host/port/localPort, then starts a background
// reconnect loop that dials the server's stream port and pairs it with a
// freshly bound datagram socket. localPort == 0 leaves the choice to the
// OS; any non-zero value is pinned across every reconnect attempt, on both
// channels, so the server observes a stable source port for this client
// even as the stream socket itself is redialed from scratch.
//
// Connect does not block on the first dial succeeding: subscribe to
// Endpoint().Events().OnRemoteConnected to learn when the handshake
// completes, or poll State.
func (c *Client) Connect(ctx context.Context, host string, port int, localPort int) error {
	if host == "" || port <= 0 || port > 65535 {
		return ErrInvalidAddress
	}
	if err := checkPortFree(localPort); err != nil {
		return err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return liberr.New(ErrCodeInvalidAddress, "invalid server address", err)
	}

	c.serverAddr = addr
	c.localPort = localPort
	c.state.Store(uint32(StateConnecting))

	c.loop = startstop.New(c.runReconnect, func(context.Context) error { return nil })
	if err := c.loop.Start(ctx); err != nil {
		return err
	}

	c.ep.EmitStarted()
	return nil
}

func waitBackoff(ctx context.Context, backoff time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(backoff):
		return false
	}
}

func (c *Client) runReconnect(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		c.state.Store(uint32(StateConnecting))

		newConn, err := c.dialOnce(ctx)
		if err != nil {
			if waitBackoff(ctx, c.reconnectBackoff) {
				return nil
			}
			continue
		}

		c.state.Store(uint32(StateConnected))

		select {
		case <-ctx.Done():
			return nil
		case <-newConn.Done():
			// Connection dropped (timeout, peer error, or a superseding
			// reconnect elsewhere); loop back and redial.
		}
	}
}

func (c *Client) dialOnce(ctx context.Context) (*conn.Connection, error) {
	if c.metrics != nil {
		c.metrics.ReconnectAttempt.Inc()
	}

	dgram, err := socket.NewClientUDP(c.serverAddr)
	if err != nil {
		return nil, err
	}
	dgram.BindLocal(c.localPort)

	dialCtx, cancel := context.WithTimeout(ctx, ConnectAttemptTimeout)
	err = dgram.Connect(dialCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	tcpClient, err := socket.NewClientTCP(c.serverAddr)
	if err != nil {
		_ = dgram.Close()
		return nil, err
	}

	boundPort := c.localPort
	if boundPort == 0 {
		if ua, ok := dgram.LocalAddr().(*net.UDPAddr); ok {
			boundPort = ua.Port
		}
	}
	tcpClient.BindLocal(boundPort)

	dialCtx, cancel = context.WithTimeout(ctx, ConnectAttemptTimeout)
	err = tcpClient.Connect(dialCtx)
	cancel()
	if err != nil {
		_ = dgram.Close()
		return nil, err
	}

	newConn, err := c.adopt(ctx, tcpClient, dgram)
	if err != nil {
		_ = tcpClient.Close()
		_ = dgram.Close()
		return nil, err
	}

	return newConn, nil
}

// adopt performs the synchronous handshake exchange and, on success, builds
// and registers the Connection. The handshake deliberately does not go
// through a started transport.Socket receive loop: it runs entirely before
// any goroutine reads from the pipe, so there is no race between the
// handshake read and the Connection's own receive loop taking over
// afterwards.
func (c *Client) adopt(ctx context.Context, tcpClient socket.ClientTCP, dgram socket.ClientUDP) (newConn *conn.Connection, err error) {
	if c.metrics != nil {
		defer func() {
			c.metrics.ObserveHandshake(err == nil)
		}()
	}

	localStreamEP := tcpClient.LocalAddr()
	localDgramEP := dgram.LocalAddr()

	handshakeSock := transport.NewStream(tcpClient)
	if err := c.ep.DoHandshake(handshakeSock, localStreamEP, localDgramEP); err != nil {
		return nil, err
	}

	_, version, rd, err := readInitWithTimeout(ctx, tcpClient, HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if !version.Equal(wire.ProtocolVersion) {
		return nil, ErrVersionMismatch
	}

	rem, err := c.ep.Registry().Create(rd.ID, rd.StreamEP, rd.DgramEP)
	if err != nil {
		return nil, err
	}

	newConn = c.ep.AdoptConnection(ctx, rem, tcpClient, dgram, true)

	c.mu.Lock()
	c.conn = newConn
	c.mu.Unlock()

	return newConn, nil
}

type initResult struct {
	version wire.Version
	rd      wire.RemoteData
	err     error
}

func readInitWithTimeout(ctx context.Context, r io.Reader, timeout time.Duration) (wire.Header, wire.Version, wire.RemoteData, error) {
	resCh := make(chan initResult, 1)
	go func() {
		_, v, rd, err := wire.ReadInitialization(r)
		resCh <- initResult{version: v, rd: rd, err: err}
	}()

	select {
	case res := <-resCh:
		return wire.Header{}, res.version, res.rd, res.err
	case <-time.After(timeout):
		return wire.Header{}, wire.Version{}, wire.RemoteData{}, ErrHandshakeTimeout
	case <-ctx.Done():
		return wire.Header{}, wire.Version{}, wire.RemoteData{}, ctx.Err()
	}
}

// Stop cancels the reconnect loop and gracefully closes the current
// connection, if any, sending a DISCONNECT first.
func (c *Client) Stop(ctx context.Context) error {
	if c.loop == nil {
		return ErrNotStarted
	}
	_ = c.loop.Stop(ctx)
	err := c.ep.Stop(true)
	c.state.Store(uint32(StateStopped))
	return err
}
