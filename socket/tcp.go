package socket

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/socket/config"
)

// tuneTCP applies the stream-socket options this module's dual-channel
// transport requires: Nagle's algorithm disabled so small framed writes are
// not batched, keep-alive enabled, and linger disabled so Close does not
// block waiting to flush.
func tuneTCP(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetKeepAlive(true)
	_ = tc.SetLinger(0)
}

const (
	ErrCodeTCPAddress = liberr.MinPkgSocketClient + iota
	ErrCodeTCPConnection
	ErrCodeTCPServerAddress
	ErrCodeTCPServerHandler
	ErrCodeTCPServerListen
)

var (
	// ErrTCPAddress is returned by NewClientTCP when the configured address
	// cannot be resolved.
	ErrTCPAddress = liberr.New(ErrCodeTCPAddress, "invalid tcp client address")
	// ErrTCPConnection is returned by Read/Write/SetWriteDeadline/Close when
	// the client has not dialed (or the dial failed and no connection is live).
	ErrTCPConnection = liberr.New(ErrCodeTCPConnection, "tcp client is not connected")
	// ErrTCPServerAddress is returned by NewServerTCP when the listen
	// address is empty or does not resolve.
	ErrTCPServerAddress = liberr.New(ErrCodeTCPServerAddress, "invalid tcp server address")
	// ErrTCPServerHandler is returned by Listen when no HandlerFunc was
	// registered.
	ErrTCPServerHandler = liberr.New(ErrCodeTCPServerHandler, "tcp server has no handler")
)

// ClientTCP is a single outbound stream connection: the reliable-ordered
// half of this module's dual-channel transport.
type ClientTCP interface {
	io.Reader
	io.Writer
	Connect(ctx context.Context) error
	IsConnected() bool
	// Once dials (if not already connected), copies request to the peer,
	// then hands the response stream to fn before closing the connection.
	Once(ctx context.Context, request io.Reader, fn func(io.Reader)) error
	// SetWriteDeadline bounds how long the next Write may block, so a
	// reliable send that the peer never acknowledges eventually fails
	// instead of hanging forever.
	SetWriteDeadline(t time.Time) error
	// BindLocal pins the local port Connect dials from. port == 0 leaves
	// the choice to the OS. Must be called before Connect.
	BindLocal(port int)
	// LocalAddr reports the address Connect bound to. Nil before Connect.
	LocalAddr() net.Addr
	Close() error
}

type clientTCP struct {
	address string
	dialer  net.Dialer

	mu   sync.Mutex
	conn net.Conn
}

// NewClientTCP constructs a dial-on-demand TCP client for address. The
// address is resolved eagerly so configuration mistakes surface before any
// goroutine depends on this client.
func NewClientTCP(address string) (ClientTCP, error) {
	if address == "" {
		return nil, ErrTCPAddress
	}
	if _, err := net.ResolveTCPAddr("tcp", address); err != nil {
		return nil, liberr.New(ErrCodeTCPAddress, "invalid tcp client address", err)
	}
	return &clientTCP{address: address}, nil
}

func (c *clientTCP) BindLocal(port int) {
	if port == 0 {
		c.dialer.LocalAddr = nil
		return
	}
	c.dialer.LocalAddr = &net.TCPAddr{Port: port}
}

func (c *clientTCP) Connect(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return err
	}
	tuneTCP(conn)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return nil
}

func (c *clientTCP) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *clientTCP) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrTCPConnection
	}
	return conn.SetWriteDeadline(t)
}

func (c *clientTCP) IsConnected() bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	one := make([]byte, 1)
	_ = conn.SetReadDeadline(deadlineNow())
	_, err := conn.Read(one)
	_ = conn.SetReadDeadline(noDeadline())
	if err == nil {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

func (c *clientTCP) Read(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, ErrTCPConnection
	}
	return conn.Read(p)
}

func (c *clientTCP) Write(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, ErrTCPConnection
	}
	return conn.Write(p)
}

func (c *clientTCP) Once(ctx context.Context, request io.Reader, fn func(io.Reader)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	defer func() { _ = c.Close() }()

	if request != nil {
		if _, err := io.Copy(c, request); err != nil {
			return err
		}
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	if fn != nil {
		fn(c)
	}
	return nil
}

func (c *clientTCP) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return ErrTCPConnection
	}
	return conn.Close()
}

// ServerTCP accepts inbound stream connections and runs handler against
// each one until the connection or the server is closed.
type ServerTCP interface {
	RegisterFuncError(fct FuncError)
	RegisterFuncInfo(fct FuncInfo)
	Listen(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Close() error
	IsRunning() bool
	IsGone() bool
	OpenConnections() int64
	Done() <-chan struct{}
}

type serverTCP struct {
	cfg     config.Server
	handler HandlerFunc

	errFct FuncError
	infFct FuncInfo

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
	running  atomic.Bool
	gone     atomic.Bool
	open     atomic.Int64
}

// NewServerTCP constructs a listener bound to cfg.Address once Listen is
// called. handler is invoked (in its own goroutine) for every accepted
// connection.
func NewServerTCP(cfg config.Server, handler HandlerFunc) (ServerTCP, error) {
	if cfg.Address == "" {
		return nil, ErrTCPServerAddress
	}
	if _, err := net.ResolveTCPAddr("tcp", cfg.Address); err != nil {
		return nil, liberr.New(ErrCodeTCPServerAddress, "invalid tcp server address", err)
	}
	s := &serverTCP{cfg: cfg, handler: handler}
	s.gone.Store(true)
	return s, nil
}

func (s *serverTCP) RegisterFuncError(fct FuncError) { s.errFct = fct }
func (s *serverTCP) RegisterFuncInfo(fct FuncInfo)    { s.infFct = fct }

func (s *serverTCP) reportErr(state ConnState, err error) {
	if err = ErrorFilter(err); err == nil {
		return
	}
	if s.errFct != nil {
		s.errFct(err)
	}
}

func (s *serverTCP) reportInfo(local, remote net.Addr, state ConnState) {
	if s.infFct != nil {
		s.infFct(local, remote, state)
	}
}

func (s *serverTCP) Listen(ctx context.Context) error {
	if s.handler == nil {
		return ErrTCPServerHandler
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.running.Store(true)
	s.gone.Store(false)

	go s.acceptLoop(ctx, ln)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Shutdown(context.Background())
		case <-s.done:
		}
	}()

	return nil
}

func (s *serverTCP) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.reportErr(ConnectionNew, err)
			return
		}
		s.open.Add(1)
		s.reportInfo(conn.LocalAddr(), conn.RemoteAddr(), ConnectionNew)
		go s.serve(conn)
	}
}

func (s *serverTCP) serve(conn net.Conn) {
	defer func() {
		s.open.Add(-1)
		s.reportInfo(conn.LocalAddr(), conn.RemoteAddr(), ConnectionClose)
		_ = conn.Close()
	}()

	tuneTCP(conn)
	hc := &handlerContext{conn: conn}
	s.reportInfo(conn.LocalAddr(), conn.RemoteAddr(), ConnectionHandler)
	s.handler(hc)
}

func (s *serverTCP) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	done := s.done
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	s.running.Store(false)
	s.gone.Store(true)

	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	for s.open.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}

func (s *serverTCP) Close() error {
	return s.Shutdown(context.Background())
}

func (s *serverTCP) IsRunning() bool { return s.running.Load() }
func (s *serverTCP) IsGone() bool    { return s.gone.Load() }

func (s *serverTCP) OpenConnections() int64 { return s.open.Load() }

func (s *serverTCP) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

// handlerContext adapts a net.Conn to the Context interface a HandlerFunc
// operates on.
type handlerContext struct {
	conn net.Conn
}

func (h *handlerContext) Read(p []byte) (int, error)  { return h.conn.Read(p) }
func (h *handlerContext) Write(p []byte) (int, error) { return h.conn.Write(p) }
func (h *handlerContext) IsConnected() bool           { return h.conn != nil }
func (h *handlerContext) RemoteHost() string          { return h.conn.RemoteAddr().String() }
func (h *handlerContext) LocalAddr() net.Addr         { return h.conn.LocalAddr() }
func (h *handlerContext) RemoteAddr() net.Addr        { return h.conn.RemoteAddr() }

func (h *handlerContext) SetWriteDeadline(t time.Time) error {
	return h.conn.SetWriteDeadline(t)
}

// Close closes the underlying connection early, e.g. because the
// Connection built around this context decided to close (timeout, peer
// error, graceful DISCONNECT). serve's own deferred Close afterward is a
// harmless no-op on an already-closed net.Conn.
func (h *handlerContext) Close() error {
	return h.conn.Close()
}
