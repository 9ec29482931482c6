// Package message provides pooled, reusable Message objects carrying a
// seekable byte-stream payload, and the BufferPool/MessagePool free lists
// backing them. High message frequency (one allocation per frame would
// otherwise be required) makes pooling worthwhile on both the send and
// receive paths.
package message

import (
	"bytes"
	"sync"

	"github.com/kekchpek/live-capture-net/remote"
	"github.com/kekchpek/live-capture-net/wire"
)

// BufferPool is a thread-safe free list of reusable byte buffers sized for
// this module's MTU ceiling.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool constructs an empty BufferPool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get returns a buffer with at least size bytes of spare capacity, drawn
// from the free list when possible.
func (p *BufferPool) Get(size int) *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	buf.Grow(size)
	return buf
}

// Release returns buf to the free list. Buffers whose capacity exceeds
// wire.LargePayloadThreshold are dropped instead of retained, so one
// oversized message does not pin a large allocation in the pool forever.
func (p *BufferPool) Release(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > wire.LargePayloadThreshold {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// Message is a pooled, reusable outbound or inbound unit: a target/source
// remote id, a channel selector, and a seekable byte payload. A disposed
// Message must not be accessed; Pool.Release makes it immediately available
// for reuse by another producer.
type Message struct {
	RemoteID remote.ID
	Channel  wire.Channel
	Kind     wire.PacketType

	buf   *bytes.Buffer
	large bool
}

// Payload returns the message's current byte payload. The returned slice
// aliases the message's internal buffer and is invalidated by the next
// Reset or Release.
func (m *Message) Payload() []byte {
	return m.buf.Bytes()
}

// SetPayload replaces the message's payload.
func (m *Message) SetPayload(p []byte) {
	m.buf.Reset()
	m.buf.Write(p)
	m.large = m.buf.Cap() > wire.LargePayloadThreshold
}

// Write appends to the message's payload, implementing io.Writer.
func (m *Message) Write(p []byte) (int, error) {
	n, err := m.buf.Write(p)
	m.large = m.buf.Cap() > wire.LargePayloadThreshold
	return n, err
}

// Pool is a thread-safe free list of Message objects.
type Pool struct {
	buffers *BufferPool
	pool    sync.Pool
}

// NewPool constructs a Pool backed by a fresh BufferPool.
func NewPool() *Pool {
	bp := NewBufferPool()
	return &Pool{
		buffers: bp,
		pool: sync.Pool{
			New: func() interface{} {
				return &Message{buf: new(bytes.Buffer)}
			},
		},
	}
}

// Acquire returns a Message for remoteID/channel/kind, with its payload
// stream either freshly sized at expectedSize or an existing retained
// buffer truncated to zero length.
func (p *Pool) Acquire(remoteID remote.ID, ch wire.Channel, kind wire.PacketType, expectedSize int) *Message {
	m := p.pool.Get().(*Message)
	m.RemoteID = remoteID
	m.Channel = ch
	m.Kind = kind

	if m.buf == nil {
		m.buf = p.buffers.Get(expectedSize)
	} else {
		m.buf.Reset()
		m.buf.Grow(expectedSize)
	}
	m.large = false
	return m
}

// Release returns m to the pool. Messages whose payload grew past
// wire.LargePayloadThreshold release their backing buffer back to the OS
// allocator instead of retaining it; smaller ones keep their buffer so the
// next Acquire can reuse it without a new allocation.
func (p *Pool) Release(m *Message) {
	if m == nil {
		return
	}

	if m.large {
		m.buf = nil
	} else {
		m.buf.Reset()
	}
	m.RemoteID = remote.ID{}
	m.Kind = wire.PacketInvalid
	p.pool.Put(m)
}
