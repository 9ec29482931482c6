// Package netserver implements the inbound half of this module's
// dual-channel transport: one stream acceptor and one shared datagram
// socket, both bound to the same port, with inbound datagrams
// demultiplexed by the sender id each frame carries rather than by UDP
// source address.
package netserver

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kekchpek/live-capture-net/conn"
	"github.com/kekchpek/live-capture-net/endpoint"
	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/executor"
	"github.com/kekchpek/live-capture-net/message"
	"github.com/kekchpek/live-capture-net/metrics"
	libptc "github.com/kekchpek/live-capture-net/network/protocol"
	"github.com/kekchpek/live-capture-net/remote"
	"github.com/kekchpek/live-capture-net/socket"
	"github.com/kekchpek/live-capture-net/socket/config"
	"github.com/kekchpek/live-capture-net/transport"
	"github.com/kekchpek/live-capture-net/wire"
)

const (
	ErrCodeInvalidPort = liberr.MinPkgNetServer + iota
	ErrCodeKindExists
	ErrCodeInvalidKindHandler
	ErrCodeNotStarted
)

var (
	// ErrInvalidPort is returned by Start for an out-of-range port.
	ErrInvalidPort = liberr.New(ErrCodeInvalidPort, "invalid listen port")
	// ErrKindExists is returned by RegisterKind when a handler is already
	// registered for that kind.
	ErrKindExists = liberr.New(ErrCodeKindExists, "a handler is already registered for this kind")
	// ErrInvalidKindHandler is returned by RegisterKind for a nil handler.
	ErrInvalidKindHandler = liberr.New(ErrCodeInvalidKindHandler, "kind handler is nil")
	// ErrNotStarted is returned by Stop when Start was never called.
	ErrNotStarted = liberr.New(ErrCodeNotStarted, "server was never started")
)

// KindHandler processes one application-level message of a registered
// kind, already stripped of its 4-byte kind tag.
type KindHandler func(remoteID remote.ID, payload []byte)

// Options configures a new Server.
type Options struct {
	LocalID     remote.ID
	Logger      *logrus.Logger
	Executor    executor.Executor
	MessagePool *message.Pool
	// Metrics, if set, receives connection/handshake counters.
	Metrics *metrics.Collector
}

// Server accepts stream connections on one port and shares a single
// datagram socket on the same port across every connected remote.
type Server struct {
	ep      *endpoint.Endpoint
	metrics *metrics.Collector

	tcp socket.ServerTCP
	udp socket.ServerUDP

	kindMu sync.RWMutex
	kinds  map[uint32]KindHandler

	dgramMu sync.Mutex
	dgrams  map[remote.ID]*conn.SharedDatagram
}

// New constructs a Server around a fresh Endpoint.
func New(opts Options) *Server {
	ep := endpoint.New(endpoint.Options{
		LocalID:     opts.LocalID,
		Logger:      opts.Logger,
		Executor:    opts.Executor,
		MessagePool: opts.MessagePool,
		Metrics:     opts.Metrics,
	})
	s := &Server{
		ep:      ep,
		metrics: opts.Metrics,
		kinds:   make(map[uint32]KindHandler),
		dgrams:  make(map[remote.ID]*conn.SharedDatagram),
	}
	ep.Events().OnRemoteDisconnected(func(r *remote.Remote, _ conn.Reason) {
		s.dgramMu.Lock()
		delete(s.dgrams, r.ID())
		s.dgramMu.Unlock()
	})
	return s
}

// Endpoint exposes the shared handler-registration/SendMessage/event
// surface this server and netclient.Client both build on.
func (s *Server) Endpoint() *endpoint.Endpoint { return s.ep }

// LocalID returns this server's own identity.
func (s *Server) LocalID() remote.ID { return s.ep.LocalID() }

// Events returns the server's lifecycle event subscription surface.
func (s *Server) Events() *endpoint.EventBus { return s.ep.Events() }

// SendMessage dispatches msg to its target remote (or every connected
// remote, for REMOTE_ALL); see Endpoint.SendMessage.
func (s *Server) SendMessage(msg *message.Message) bool { return s.ep.SendMessage(msg) }

// MessagePool returns the pool outbound producers should Acquire from.
func (s *Server) MessagePool() *message.Pool { return s.ep.MessagePool() }

// RegisterKind installs fn as the handler for every inbound GENERIC
// message whose payload starts with the 4-byte little-endian kind tag
// equal to kind; fn receives the remainder of the payload. This is the
// server's explicit, reflection-free replacement for attribute-based
// message dispatch: one registration call per application message type,
// shared across every connected remote.
func (s *Server) RegisterKind(kind uint32, fn KindHandler) error {
	if fn == nil {
		return ErrInvalidKindHandler
	}

	s.kindMu.Lock()
	defer s.kindMu.Unlock()
	if _, exists := s.kinds[kind]; exists {
		return ErrKindExists
	}
	s.kinds[kind] = fn
	return nil
}

func (s *Server) dispatchByKind(msg *message.Message) {
	payload := msg.Payload()
	if len(payload) < 4 {
		return
	}

	kind := binary.LittleEndian.Uint32(payload[:4])
	s.kindMu.RLock()
	fn, ok := s.kinds[kind]
	s.kindMu.RUnlock()
	if ok {
		fn(msg.RemoteID, payload[4:])
	}
}

// Start binds a stream acceptor and a single shared datagram socket to
// port, on every local interface, and begins accepting clients.
func (s *Server) Start(ctx context.Context, port int) error {
	if port <= 0 || port > 65535 {
		return ErrInvalidPort
	}
	addr := fmt.Sprintf(":%d", port)

	udp, err := socket.NewServerUDP(config.Server{Network: libptc.NetworkUDP, Address: addr}, s.handleDatagram)
	if err != nil {
		return err
	}
	if err := udp.Listen(ctx); err != nil {
		return err
	}
	s.udp = udp

	tcp, err := socket.NewServerTCP(config.Server{Network: libptc.NetworkTCP, Address: addr}, s.handleStream)
	if err != nil {
		_ = udp.Close()
		return err
	}
	if err := tcp.Listen(ctx); err != nil {
		_ = udp.Close()
		return err
	}
	s.tcp = tcp

	s.ep.EmitStarted()
	return nil
}

// handleStream runs for the lifetime of one accepted stream connection: it
// performs the handshake read/write directly on ctx (bypassing
// transport.Socket's receive loop, for the same reason netclient does),
// pairs the connection with a SharedDatagram view of the server's one UDP
// socket, and then blocks until the resulting Connection closes so the
// caller (socket.ServerTCP) does not close the underlying net.Conn out
// from under it.
func (s *Server) handleStream(ctx socket.Context) {
	handshakeOK := false
	if s.metrics != nil {
		defer func() {
			s.metrics.ObserveHandshake(handshakeOK)
		}()
	}

	localStreamEP := ctx.LocalAddr()

	_, version, rd, err := wire.ReadInitialization(ctx)
	if err != nil {
		return
	}
	if !version.Equal(wire.ProtocolVersion) {
		return
	}

	localDgramEP := s.udp.LocalAddr()

	handshakeSock := transport.NewStream(ctx)
	if err := s.ep.DoHandshake(handshakeSock, localStreamEP, localDgramEP); err != nil {
		return
	}

	rem, err := s.ep.Registry().Create(rd.ID, rd.StreamEP, rd.DgramEP)
	if err != nil {
		return
	}

	handshakeOK = true

	sd := conn.NewSharedDatagram(rd.DgramEP, s.udp.Write)
	s.dgramMu.Lock()
	s.dgrams[rd.ID] = sd
	s.dgramMu.Unlock()

	newConn := s.ep.AdoptConnection(context.Background(), rem, ctx, sd, false)
	_ = s.ep.RegisterMessageHandler(rd.ID, s.dispatchByKind, true)

	<-newConn.Done()
}

// handleDatagram demultiplexes one inbound datagram by the sender id
// carried in its frame header and hands it to that remote's
// SharedDatagram. Datagrams from an id with no live connection are
// dropped: the unreliable channel never buffers for a peer it does not
// yet know about.
func (s *Server) handleDatagram(_ net.Addr, frame []byte) {
	h, err := wire.DecodeHeader(frame)
	if err != nil {
		return
	}

	s.dgramMu.Lock()
	sd, ok := s.dgrams[h.SenderID]
	s.dgramMu.Unlock()
	if !ok {
		return
	}

	sd.Deliver(frame)
}

// Stop closes the acceptor and the shared datagram socket, then gracefully
// closes every connection (sending DISCONNECT first).
func (s *Server) Stop(ctx context.Context) error {
	if s.tcp == nil {
		return ErrNotStarted
	}
	_ = s.tcp.Shutdown(ctx)
	_ = s.udp.Shutdown(ctx)
	return s.ep.Stop(true)
}
