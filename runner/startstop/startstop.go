// Package startstop provides a small start/stop/restart lifecycle runner: a
// long-lived background function paired with its shutdown function, both
// driven by a cancellable context. In this module the client's reconnect
// loop (netclient) is built on it; the connection heartbeat and watchdog use
// runner/ticker instead.
package startstop

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Func is a long-lived task body. It should run until ctx is cancelled and
// then return.
type Func func(ctx context.Context) error

// StartStop manages the lifecycle of one background task.
type StartStop interface {
	// Start launches the task in a new goroutine. If already running, the
	// previous instance is stopped first. Start itself never blocks on the
	// task's body; errors from the body surface through ErrorsLast/List.
	Start(ctx context.Context) error
	// Stop cancels the running task and waits for its start function to
	// return, then invokes the stop function. Idempotent.
	Stop(ctx context.Context) error
	// Restart stops then starts the task.
	Restart(ctx context.Context) error
	// IsRunning reports whether the task is currently active.
	IsRunning() bool
	// Uptime reports how long the current run has been active. Zero when
	// not running.
	Uptime() time.Duration

	Errors
}

// Errors exposes the error history of a runner.
type Errors interface {
	// ErrorsLast returns the most recently recorded error, or nil.
	ErrorsLast() error
	// ErrorsList returns every recorded error, oldest first.
	ErrorsList() []error
}

type runner struct {
	mu sync.Mutex

	start Func
	stop  Func

	running bool
	startAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	errs  []error
}

// New constructs a StartStop runner from its start and stop functions. A
// nil start or stop function is accepted; invoking it records an error
// instead of panicking.
func New(start, stop Func) StartStop {
	return &runner{start: start, stop: stop}
}

func (r *runner) recordError(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *runner) ErrorsLast() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

func (r *runner) ErrorsList() []error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

func (r *runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *runner) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startAt.IsZero() {
		return 0
	}
	return time.Since(r.startAt)
}

// stopCurrent cancels and joins whatever instance is currently running, then
// invokes the stop function. Must be called without r.mu held.
func (r *runner) stopCurrent() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if r.stop == nil {
		r.recordError(fmt.Errorf("invalid stop function"))
	} else if err := r.stop(context.Background()); err != nil {
		r.recordError(err)
	}

	r.mu.Lock()
	r.running = false
	r.startAt = time.Time{}
	r.mu.Unlock()
}

func (r *runner) Start(ctx context.Context) error {
	r.stopCurrent()

	if r.start == nil {
		r.recordError(fmt.Errorf("invalid start function"))
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.running = true
	r.startAt = time.Now()
	r.mu.Unlock()

	go func() {
		defer close(done)
		if err := r.start(runCtx); err != nil {
			r.recordError(err)
		}
	}()

	return nil
}

func (r *runner) Stop(ctx context.Context) error {
	r.stopCurrent()
	return nil
}

func (r *runner) Restart(ctx context.Context) error {
	if err := r.Stop(ctx); err != nil {
		return err
	}
	return r.Start(ctx)
}
