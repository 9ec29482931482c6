// Package remote models the identity of a peer endpoint, independent of any
// given connection instance: a 128-bit id plus the stream and datagram
// addresses the peer advertised during its handshake.
package remote

import (
	"net"
	"sync"

	"github.com/google/uuid"

	liberr "github.com/kekchpek/live-capture-net/errors"
)

const (
	ErrCodeUnknownRemote = liberr.MinPkgRemote + iota
	ErrCodeInvalidID
	ErrCodeMismatchedEndpoint
)

var (
	// ErrUnknownRemote is returned when an operation references a remote id
	// that the registry has never seen.
	ErrUnknownRemote = liberr.New(ErrCodeUnknownRemote, "unknown remote")
	// ErrInvalidID is returned when attempting to create or look up a remote
	// using the reserved REMOTE_ALL sentinel or the nil id.
	ErrInvalidID = liberr.New(ErrCodeInvalidID, "invalid remote id")
	// ErrMismatchedEndpoint is returned when Create is called twice for the
	// same id with different endpoint data.
	ErrMismatchedEndpoint = liberr.New(ErrCodeMismatchedEndpoint, "remote id re-created with mismatched endpoints")
)

// ID is the 128-bit identity of a remote peer.
type ID uuid.UUID

// REMOTE_ALL is the broadcast sentinel: valid only as the destination of an
// outbound send, never stored in a Registry.
//
//nolint:stylecheck // name mirrors the wire-level constant this module exposes.
var REMOTE_ALL = ID(uuid.Nil)

// IsAll reports whether id is the REMOTE_ALL broadcast sentinel.
func (id ID) IsAll() bool {
	return id == REMOTE_ALL
}

// String renders the id in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// NewID generates a fresh, random remote identity. It never returns
// REMOTE_ALL.
func NewID() ID {
	for {
		id := ID(uuid.New())
		if !id.IsAll() {
			return id
		}
	}
}

// Remote is the immutable identity of a peer: its id and the two endpoints
// (stream and datagram) it advertised during handshake.
type Remote struct {
	id       ID
	streamEP net.Addr
	dgramEP  net.Addr
}

// ID returns the remote's identity.
func (r *Remote) ID() ID { return r.id }

// StreamEndpoint returns the peer's reliable-channel address.
func (r *Remote) StreamEndpoint() net.Addr { return r.streamEP }

// DatagramEndpoint returns the peer's unreliable-channel address.
func (r *Remote) DatagramEndpoint() net.Addr { return r.dgramEP }

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// Registry is a table mapping a remote id to its Remote
// instance, with idempotent creation: a second Create for an id already
// present returns the existing instance if its endpoints match, and
// ErrMismatchedEndpoint otherwise.
type Registry struct {
	mu    sync.RWMutex
	table map[ID]*Remote
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{table: make(map[ID]*Remote)}
}

// Create returns the Remote for id, constructing it on first sight. id must
// not be REMOTE_ALL.
func (g *Registry) Create(id ID, streamEP, dgramEP net.Addr) (*Remote, error) {
	if id.IsAll() {
		return nil, ErrInvalidID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.table[id]; ok {
		if sameAddr(r.streamEP, streamEP) && sameAddr(r.dgramEP, dgramEP) {
			return r, nil
		}
		return nil, ErrMismatchedEndpoint
	}

	r := &Remote{id: id, streamEP: streamEP, dgramEP: dgramEP}
	g.table[id] = r
	return r, nil
}

// Get looks up an already-registered remote by id.
func (g *Registry) Get(id ID) (*Remote, error) {
	if id.IsAll() {
		return nil, ErrInvalidID
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.table[id]
	if !ok {
		return nil, ErrUnknownRemote
	}
	return r, nil
}

// Remove forgets a remote, if present. It is not an error to remove an
// unknown id.
func (g *Registry) Remove(id ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.table, id)
}

// All returns a snapshot slice of every currently registered remote.
func (g *Registry) All() []*Remote {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Remote, 0, len(g.table))
	for _, r := range g.table {
		out = append(out, r)
	}
	return out
}

// Len returns the number of currently registered remotes.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.table)
}
