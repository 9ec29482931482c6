// Package socket defines the shared vocabulary used by this module's TCP
// and UDP transports: connection lifecycle states, the handler context a
// server-side connection exposes to its HandlerFunc, and the callback
// signatures both client and server sockets invoke for info/error
// reporting.
package socket

import (
	"io"
	"net"
	"strings"
	"time"
)

// ConnState names a step in a connection's lifecycle, reported to a
// FuncInfo callback for logging/monitoring.
type ConnState uint8

const (
	ConnectionDial ConnState = iota
	ConnectionNew
	ConnectionRead
	ConnectionHandler
	ConnectionWrite
	ConnectionClose
)

func (s ConnState) String() string {
	switch s {
	case ConnectionDial:
		return "Dial Connection"
	case ConnectionNew:
		return "New Connection"
	case ConnectionRead:
		return "Read Incoming Stream"
	case ConnectionHandler:
		return "Run HandlerFunc"
	case ConnectionWrite:
		return "Write Outgoing Steam"
	case ConnectionClose:
		return "Close Connection"
	default:
		return ""
	}
}

// FuncError reports one or more errors encountered during socket
// operation.
type FuncError func(errs ...error)

// FuncInfo reports a connection lifecycle transition.
type FuncInfo func(local, remote net.Addr, state ConnState)

// Reader is the inbound half of a connection's I/O surface, offered to a
// HandlerFunc.
type Reader interface {
	io.Reader
}

// Writer is the outbound half of a connection's I/O surface, offered to a
// HandlerFunc.
type Writer interface {
	io.Writer
}

// Context is the per-connection handle a server's HandlerFunc operates on.
type Context interface {
	io.Reader
	io.Writer
	IsConnected() bool
	RemoteHost() string
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	// SetWriteDeadline bounds how long the next Write may block.
	SetWriteDeadline(t time.Time) error
}

// HandlerFunc processes one accepted connection. It returns when it is
// done with the connection; the server closes the underlying socket
// afterward.
type HandlerFunc func(ctx Context)

// ErrorFilter suppresses errors that are an expected side effect of a
// graceful shutdown (closed sockets, EOF, context cancellation) so the
// caller's error-reporting path does not treat them as faults. Unexpected
// errors pass through unchanged; nil stays nil.
func ErrorFilter(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	for _, expected := range []string{
		"use of closed network connection",
		"EOF",
		"context canceled",
		"operation was canceled",
	} {
		if strings.Contains(msg, expected) {
			return nil
		}
	}

	return err
}
