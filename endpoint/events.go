package endpoint

import (
	"sync"

	"github.com/kekchpek/live-capture-net/conn"
	"github.com/kekchpek/live-capture-net/remote"
)

// EventBus is a small multicast list of lifecycle subscriber callbacks.
// Subscriber slices are snapshotted under the lock and invoked after it is
// released, so a handler that calls back into the endpoint cannot
// deadlock it.
type EventBus struct {
	mu sync.RWMutex

	started          []func()
	stopped          []func()
	remoteConnected  []func(r *remote.Remote)
	remoteDisconnect []func(r *remote.Remote, reason conn.Reason)
}

// OnStarted subscribes fn to the endpoint's started event.
func (b *EventBus) OnStarted(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, fn)
}

// OnStopped subscribes fn to the endpoint's stopped event.
func (b *EventBus) OnStopped(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = append(b.stopped, fn)
}

// OnRemoteConnected subscribes fn to fire once per successful handshake.
func (b *EventBus) OnRemoteConnected(fn func(r *remote.Remote)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remoteConnected = append(b.remoteConnected, fn)
}

// OnRemoteDisconnected subscribes fn to fire exactly once per connection,
// carrying the classified close reason.
func (b *EventBus) OnRemoteDisconnected(fn func(r *remote.Remote, reason conn.Reason)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remoteDisconnect = append(b.remoteDisconnect, fn)
}

func (b *EventBus) emitStarted() {
	b.mu.RLock()
	subs := append([]func(){}, b.started...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

func (b *EventBus) emitStopped() {
	b.mu.RLock()
	subs := append([]func(){}, b.stopped...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

func (b *EventBus) emitRemoteConnected(r *remote.Remote) {
	b.mu.RLock()
	subs := append([]func(r *remote.Remote){}, b.remoteConnected...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(r)
	}
}

func (b *EventBus) emitRemoteDisconnected(r *remote.Remote, reason conn.Reason) {
	b.mu.RLock()
	subs := append([]func(r *remote.Remote, reason conn.Reason){}, b.remoteDisconnect...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(r, reason)
	}
}
