// Package endpoint implements NetworkEndpoint, the shared base of this
// module's Client and Server: the remote-to-connection table, the
// per-remote handler registry with buffering for late subscribers,
// lifecycle events, and handshake emission.
package endpoint

import (
	"context"
	"io"
	"net"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/conn"
	"github.com/kekchpek/live-capture-net/executor"
	"github.com/kekchpek/live-capture-net/message"
	"github.com/kekchpek/live-capture-net/metrics"
	"github.com/kekchpek/live-capture-net/remote"
	"github.com/kekchpek/live-capture-net/transport"
	"github.com/kekchpek/live-capture-net/wire"
)

const (
	ErrCodeUnknownRemote = liberr.MinPkgEndpoint + iota
	ErrCodeInvalidRemote
	ErrCodeInvalidHandler
	ErrCodeHandlerExists
)

var (
	// ErrUnknownRemote is returned by RegisterMessageHandler for a remote
	// id with no live connection.
	ErrUnknownRemote = liberr.New(ErrCodeUnknownRemote, "unknown remote")
	// ErrInvalidRemote is returned when the REMOTE_ALL sentinel is passed
	// where a single remote is required.
	ErrInvalidRemote = liberr.New(ErrCodeInvalidRemote, "REMOTE_ALL is not a valid target here")
	// ErrInvalidHandler is returned when a nil callback is registered.
	ErrInvalidHandler = liberr.New(ErrCodeInvalidHandler, "handler callback is nil")
	// ErrHandlerExists is returned when a different handler is already
	// registered for the remote.
	ErrHandlerExists = liberr.New(ErrCodeHandlerExists, "a different handler is already registered for this remote")
)

// MessageHandler processes one inbound GENERIC message. The Endpoint
// releases msg back to its pool immediately after the handler returns.
type MessageHandler func(msg *message.Message)

// Options configures a new Endpoint.
type Options struct {
	LocalID     remote.ID
	Logger      *logrus.Logger
	Executor    executor.Executor
	MessagePool *message.Pool
	Registry    *remote.Registry
	// Metrics, if set, receives connection/message traffic counters. A nil
	// Metrics disables instrumentation entirely.
	Metrics *metrics.Collector
}

type connEntry struct {
	remote *remote.Remote
	conn   *conn.Connection
}

// Endpoint is the shared base of Client and Server.
type Endpoint struct {
	localID  remote.ID
	logger   *logrus.Logger
	exec     executor.Executor
	pool     *message.Pool
	registry *remote.Registry
	events   *EventBus
	metrics  *metrics.Collector

	mu          sync.Mutex
	connections map[remote.ID]*connEntry
	handlers    map[remote.ID]MessageHandler
	buffers     map[remote.ID][]*message.Message
}

// New constructs an Endpoint. Unset Options fields get sensible defaults:
// an Inline executor, a fresh MessagePool, and a fresh remote Registry.
func New(opts Options) *Endpoint {
	if opts.Executor == nil {
		opts.Executor = executor.Inline{}
	}
	if opts.MessagePool == nil {
		opts.MessagePool = message.NewPool()
	}
	if opts.Registry == nil {
		opts.Registry = remote.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Endpoint{
		localID:     opts.LocalID,
		logger:      opts.Logger,
		exec:        opts.Executor,
		pool:        opts.MessagePool,
		registry:    opts.Registry,
		events:      &EventBus{},
		metrics:     opts.Metrics,
		connections: make(map[remote.ID]*connEntry),
		handlers:    make(map[remote.ID]MessageHandler),
		buffers:     make(map[remote.ID][]*message.Message),
	}
}

// LocalID returns this endpoint's own identity.
func (e *Endpoint) LocalID() remote.ID { return e.localID }

// Registry returns the remote registry this endpoint creates Remotes in.
func (e *Endpoint) Registry() *remote.Registry { return e.registry }

// MessagePool returns the pool outbound producers should Acquire from.
func (e *Endpoint) MessagePool() *message.Pool { return e.pool }

// Events returns the endpoint's lifecycle event subscription surface.
func (e *Endpoint) Events() *EventBus { return e.events }

func sameFunc(a, b MessageHandler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// RegisterMessageHandler installs fn as the sole handler for remoteID. It
// fails if remoteID is REMOTE_ALL, unknown, or fn is nil; it refuses to
// replace an existing handler unless fn is the same function already
// registered (in which case it is a no-op success). On success, every
// message buffered for remoteID while no handler was registered is
// delivered to fn in arrival order (if handleBuffered) or disposed.
func (e *Endpoint) RegisterMessageHandler(remoteID remote.ID, fn MessageHandler, handleBuffered bool) error {
	if remoteID.IsAll() {
		return ErrInvalidRemote
	}
	if fn == nil {
		return ErrInvalidHandler
	}

	e.mu.Lock()
	if _, ok := e.connections[remoteID]; !ok {
		e.mu.Unlock()
		return ErrUnknownRemote
	}

	if existing, ok := e.handlers[remoteID]; ok && !sameFunc(existing, fn) {
		e.mu.Unlock()
		return ErrHandlerExists
	}

	e.handlers[remoteID] = fn
	buffered := e.buffers[remoteID]
	delete(e.buffers, remoteID)
	e.mu.Unlock()

	for _, msg := range buffered {
		if handleBuffered {
			m := msg
			e.exec.Post(func() {
				fn(m)
				e.pool.Release(m)
			})
		} else {
			e.pool.Release(msg)
		}
	}

	return nil
}

// SendMessage dispatches msg asynchronously. A REMOTE_ALL target fans out
// to every current connection; any other target must name a live
// connection or SendMessage returns false.
func (e *Endpoint) SendMessage(msg *message.Message) bool {
	if msg.RemoteID.IsAll() {
		e.mu.Lock()
		targets := make([]*conn.Connection, 0, len(e.connections))
		for _, entry := range e.connections {
			targets = append(targets, entry.conn)
		}
		e.mu.Unlock()

		payload := append([]byte(nil), msg.Payload()...)
		for _, c := range targets {
			clone := e.pool.Acquire(msg.RemoteID, msg.Channel, msg.Kind, len(payload))
			clone.SetPayload(payload)
			go func(c *conn.Connection, m *message.Message) {
				err := c.Send(m)
				if err == nil && e.metrics != nil {
					e.metrics.ObserveSend(m.Channel.String(), len(payload))
				}
				e.pool.Release(m)
			}(c, clone)
		}
		e.pool.Release(msg)
		return true
	}

	e.mu.Lock()
	entry, ok := e.connections[msg.RemoteID]
	e.mu.Unlock()
	if !ok {
		return false
	}

	channel := msg.Channel.String()
	n := len(msg.Payload())
	go func() {
		err := entry.conn.Send(msg)
		if err == nil && e.metrics != nil {
			e.metrics.ObserveSend(channel, n)
		}
		e.pool.Release(msg)
	}()
	return true
}

// HandleMessage is called by a Connection's onMessage callback for every
// GENERIC packet. If a handler is registered for the sender, msg is
// posted to the foreground executor for delivery; otherwise it is
// appended to that remote's buffered queue.
func (e *Endpoint) HandleMessage(msg *message.Message) {
	if e.metrics != nil {
		e.metrics.ObserveReceive(msg.Channel.String(), len(msg.Payload()))
	}

	e.mu.Lock()
	fn, ok := e.handlers[msg.RemoteID]
	if !ok {
		e.buffers[msg.RemoteID] = append(e.buffers[msg.RemoteID], msg)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.exec.Post(func() {
		fn(msg)
		e.pool.Release(msg)
	})
}

// DoHandshake sends a synchronous INITIALIZATION packet over a
// freshly-connected stream socket, carrying the protocol version, this
// endpoint's id, and the local stream/datagram endpoints so the peer can
// construct a Remote before any application packet arrives.
func (e *Endpoint) DoHandshake(streamSock *transport.Socket, localStreamEP, localDgramEP net.Addr) error {
	rd := wire.RemoteData{ID: e.localID, StreamEP: localStreamEP, DgramEP: localDgramEP}
	return streamSock.DoHandshake(e.localID, rd)
}

// AdoptConnection builds a Connection around streamRW/dgramRW, wires its
// message and close callbacks to this endpoint, registers it, starts it,
// and fires remote_connected. If a Connection already serves rem's id,
// the prior one is closed with RECONNECTED first.
func (e *Endpoint) AdoptConnection(ctx context.Context, rem *remote.Remote, streamRW io.ReadWriter, dgramRW io.ReadWriter, dgramOwned bool) *conn.Connection {
	id := rem.ID()

	var c *conn.Connection
	c = conn.New(e.localID, rem, streamRW, dgramRW, dgramOwned,
		func(senderID remote.ID, ch wire.Channel, payload []byte) {
			msg := e.pool.Acquire(senderID, ch, wire.PacketGeneric, len(payload))
			msg.SetPayload(payload)
			e.HandleMessage(msg)
		},
		nil,
	)
	c.SetOnClosed(func(reason conn.Reason) {
		e.handleDisconnected(id, rem, c, reason)
	})
	c.SetMetrics(e.metrics)

	e.mu.Lock()
	old, existed := e.connections[id]
	e.connections[id] = &connEntry{remote: rem, conn: c}
	e.mu.Unlock()

	if existed {
		_ = old.conn.Close(conn.ReasonReconnected)
	}

	c.Start(ctx)
	if e.metrics != nil {
		e.metrics.ConnectedRemotes.Inc()
	}
	e.events.emitRemoteConnected(rem)
	return c
}

// handleDisconnected removes closed's registration from the remote table,
// but only if closed is still the connection on file for id: a stale
// Close from a connection that was already superseded (RECONNECTED) must
// not evict the newer connection that replaced it.
func (e *Endpoint) handleDisconnected(id remote.ID, rem *remote.Remote, closed *conn.Connection, reason conn.Reason) {
	e.mu.Lock()
	entry, ok := e.connections[id]
	if ok && entry.conn == closed {
		delete(e.connections, id)
		delete(e.handlers, id)
	} else {
		ok = false
	}
	var buffered []*message.Message
	if ok {
		buffered = e.buffers[id]
		delete(e.buffers, id)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	for _, msg := range buffered {
		e.pool.Release(msg)
	}

	if e.metrics != nil {
		e.metrics.ConnectedRemotes.Dec()
		e.metrics.ObserveDisconnect(reason.String())
	}

	e.events.emitRemoteDisconnected(rem, reason)
}

// Stop closes every connection. If graceful, each peer is sent a
// DISCONNECT packet synchronously first and reconnection is suppressed on
// the client side. Either way, Stop waits for every connection's close
// callback to drain the remote table, then fires stopped.
func (e *Endpoint) Stop(graceful bool) error {
	e.mu.Lock()
	conns := make([]*conn.Connection, 0, len(e.connections))
	for _, entry := range e.connections {
		conns = append(conns, entry.conn)
	}
	e.mu.Unlock()

	reason := conn.ReasonError
	if graceful {
		reason = conn.ReasonGraceful
		for _, c := range conns {
			_ = c.SendDisconnect()
		}
	}
	for _, c := range conns {
		_ = c.Close(reason)
	}

	e.mu.Lock()
	for _, q := range e.buffers {
		for _, msg := range q {
			e.pool.Release(msg)
		}
	}
	e.connections = make(map[remote.ID]*connEntry)
	e.handlers = make(map[remote.ID]MessageHandler)
	e.buffers = make(map[remote.ID][]*message.Message)
	e.mu.Unlock()

	_ = e.exec.Close()
	e.events.emitStopped()
	return nil
}

// EmitStarted fires the started event. Client and Server call this once
// their own listen/connect loop is underway.
func (e *Endpoint) EmitStarted() { e.events.emitStarted() }

// Logger returns the shared structured logger.
func (e *Endpoint) Logger() *logrus.Logger { return e.logger }
