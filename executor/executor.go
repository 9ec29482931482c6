// Package executor provides the foreground-dispatch abstraction that every
// NetworkEndpoint handler callback runs through: a single logical thread of
// execution per endpoint, so application handlers never need their own
// synchronization against concurrent packet arrivals.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Executor runs posted functions one at a time, in the order they were
// posted.
type Executor interface {
	// Post enqueues fn. It never blocks the caller.
	Post(fn func())
	// Close stops accepting new work and waits for everything already
	// posted to finish.
	Close() error
}

// Inline runs every posted function synchronously, on the caller's own
// goroutine. It exists for tests that want deterministic, non-concurrent
// handler dispatch.
type Inline struct{}

func (Inline) Post(fn func()) {
	if fn != nil {
		fn()
	}
}

func (Inline) Close() error { return nil }

// Goroutine runs posted functions on a single dedicated worker goroutine,
// draining a queue in FIFO order. This is the production Executor: it
// keeps handler callbacks single-threaded per endpoint while never
// blocking whatever goroutine is posting to it (the socket receive loop).
type Goroutine struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}

	closed bool
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewGoroutine starts the worker goroutine and returns the Executor handle.
func NewGoroutine() *Goroutine {
	ctx, cancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(ctx)

	e := &Goroutine{
		signal: make(chan struct{}, 1),
		group:  g,
		cancel: cancel,
	}

	g.Go(func() error {
		e.run(gCtx)
		return nil
	})

	return e
}

func (e *Goroutine) Post(fn func()) {
	if fn == nil {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Goroutine) run(ctx context.Context) {
	for {
		fn, ok := e.pop()
		if ok {
			fn()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-e.signal:
		}
	}
}

func (e *Goroutine) pop() (func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 {
		return nil, false
	}

	fn := e.queue[0]
	e.queue = e.queue[1:]
	return fn, true
}

func (e *Goroutine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	return e.group.Wait()
}
