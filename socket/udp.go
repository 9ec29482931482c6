package socket

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/socket/config"
)

// maxDatagramSize bounds the send/receive buffers this module's datagram
// sockets request from the OS: large enough for one full UDP_MAX frame.
const maxDatagramSize = 65507

// isConnReset reports whether err is the "connection refused"/"connection
// reset" class of error a platform may deliver on a UDP socket after an
// ICMP port-unreachable for a prior send. Datagram channels are lossy by
// definition, so this is tolerated rather than treated as fatal.
func isConnReset(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}

const (
	ErrCodeUDPAddress = liberr.MinPkgSocketClient + 50 + iota
	ErrCodeUDPConnection
	ErrCodeUDPServerAddress
	ErrCodeUDPServerHandler
)

var (
	// ErrUDPAddress is returned by NewClientUDP when address cannot be
	// resolved.
	ErrUDPAddress = liberr.New(ErrCodeUDPAddress, "invalid udp client address")
	// ErrUDPConnection is returned by Write/Read when the client has not
	// connected its datagram socket yet.
	ErrUDPConnection = liberr.New(ErrCodeUDPConnection, "udp client is not connected")
	// ErrUDPServerAddress is returned by NewServerUDP when the bind
	// address is empty or does not resolve.
	ErrUDPServerAddress = liberr.New(ErrCodeUDPServerAddress, "invalid udp server address")
	// ErrUDPServerHandler is returned by Listen when no DatagramHandler was
	// registered.
	ErrUDPServerHandler = liberr.New(ErrCodeUDPServerHandler, "udp server has no handler")
)

// ClientUDP is a connected datagram socket: the unreliable-unordered half
// of this module's dual-channel transport. Unlike ClientTCP it has no
// framing guarantee beyond one Write == one datagram.
type ClientUDP interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	// BindLocal pins the local port Connect binds to. port == 0 leaves the
	// choice to the OS. Must be called before Connect.
	BindLocal(port int)
	// LocalAddr reports the address Connect bound to. Nil before Connect.
	LocalAddr() net.Addr
	Close() error
}

type clientUDP struct {
	address   string
	localPort int

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewClientUDP constructs a connect-on-demand UDP client for address.
func NewClientUDP(address string) (ClientUDP, error) {
	if address == "" {
		return nil, ErrUDPAddress
	}
	if _, err := net.ResolveUDPAddr("udp", address); err != nil {
		return nil, liberr.New(ErrCodeUDPAddress, "invalid udp client address", err)
	}
	return &clientUDP{address: address}, nil
}

func (c *clientUDP) BindLocal(port int) {
	c.localPort = port
}

func (c *clientUDP) Connect(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", c.address)
	if err != nil {
		return err
	}

	var laddr *net.UDPAddr
	if c.localPort != 0 {
		laddr = &net.UDPAddr{Port: c.localPort}
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return err
	}
	_ = conn.SetReadBuffer(maxDatagramSize)
	_ = conn.SetWriteBuffer(maxDatagramSize)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return nil
}

func (c *clientUDP) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *clientUDP) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *clientUDP) Write(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, ErrUDPConnection
	}
	return conn.Write(p)
}

func (c *clientUDP) Read(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, ErrUDPConnection
	}

	for {
		n, err := conn.Read(p)
		if err != nil && isConnReset(err) {
			// A prior send's ICMP port-unreachable came back as a
			// connection reset; the datagram channel is lossy by
			// definition, so keep waiting for the next real datagram.
			continue
		}
		return n, err
	}
}

func (c *clientUDP) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return ErrUDPConnection
	}
	return conn.Close()
}

// DatagramHandler processes one inbound datagram. from is the UDP source
// address the OS reported; this module's own server demultiplexes by the
// sender id carried in the frame header instead, since from is not
// reliable once a peer is behind NAT.
type DatagramHandler func(from net.Addr, payload []byte)

// ServerUDP owns one bound datagram socket shared by every remote talking
// to it; there is no per-peer accept the way ServerTCP has one, since UDP
// has no such notion.
type ServerUDP interface {
	RegisterFuncError(fct FuncError)
	Listen(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Close() error
	IsRunning() bool
	// Write sends payload to a specific remote over the shared socket.
	Write(to net.Addr, payload []byte) (int, error)
	// LocalAddr reports the address Listen bound to. Nil before Listen.
	LocalAddr() net.Addr
}

type serverUDP struct {
	cfg     config.Server
	handler DatagramHandler
	errFct  FuncError

	mu      sync.Mutex
	conn    *net.UDPConn
	done    chan struct{}
	running atomic.Bool
}

// NewServerUDP constructs a datagram listener bound to cfg.Address once
// Listen is called.
func NewServerUDP(cfg config.Server, handler DatagramHandler) (ServerUDP, error) {
	if cfg.Address == "" {
		return nil, ErrUDPServerAddress
	}
	if _, err := net.ResolveUDPAddr("udp", cfg.Address); err != nil {
		return nil, liberr.New(ErrCodeUDPServerAddress, "invalid udp server address", err)
	}
	return &serverUDP{cfg: cfg, handler: handler}, nil
}

func (s *serverUDP) RegisterFuncError(fct FuncError) { s.errFct = fct }

func (s *serverUDP) reportErr(err error) {
	if err = ErrorFilter(err); err == nil {
		return
	}
	if s.errFct != nil {
		s.errFct(err)
	}
}

func (s *serverUDP) Listen(ctx context.Context) error {
	if s.handler == nil {
		return ErrUDPServerHandler
	}

	laddr, err := net.ResolveUDPAddr("udp", s.cfg.Address)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	_ = conn.SetReadBuffer(maxDatagramSize)
	_ = conn.SetWriteBuffer(maxDatagramSize)

	s.mu.Lock()
	s.conn = conn
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.running.Store(true)

	go s.readLoop(conn)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Shutdown(context.Background())
		case <-s.done:
		}
	}()

	return nil
}

func (s *serverUDP) readLoop(conn *net.UDPConn) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isConnReset(err) {
				continue
			}
			s.reportErr(err)
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		go s.handler(addr, payload)
	}
}

func (s *serverUDP) Write(to net.Addr, payload []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, ErrUDPConnection
	}

	udpAddr, ok := to.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", to.String())
		if err != nil {
			return 0, err
		}
		udpAddr = resolved
	}

	return conn.WriteToUDP(payload, udpAddr)
}

func (s *serverUDP) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.running.Store(false)

	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	return nil
}

func (s *serverUDP) Close() error {
	return s.Shutdown(context.Background())
}

func (s *serverUDP) IsRunning() bool { return s.running.Load() }

func (s *serverUDP) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
