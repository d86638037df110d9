// Package task provides the cancellable loop that connections, brokers and
// rooms drive their goroutines with. Each holds its own Loop by composition.
package task

import (
	"context"
	"sync"
	"time"
)

// Loop runs a step function over and over until it is stopped. Stopping is
// cooperative: the step is expected to return within a bounded time (the
// callers all poll with deadlines), after which the loop goroutine exits and
// Done is closed.
type Loop struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewLoop(parent context.Context) *Loop {
	ctx, cancel := context.WithCancel(parent)
	return &Loop{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Run iterates step until Stop is called or the parent context is cancelled.
// It must be called exactly once, normally as `go l.Run(step)`.
func (l *Loop) Run(step func()) {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
			step()
		}
	}
}

// Stop requests cancellation and returns immediately. Safe to call from any
// goroutine, any number of times.
func (l *Loop) Stop() {
	l.once.Do(l.cancel)
}

// StopWait requests cancellation and blocks until the loop goroutine has
// fully exited. Used where teardown must be ordered.
func (l *Loop) StopWait() {
	l.Stop()
	<-l.done
}

// Stopping reports whether a stop has been requested (the loop may still be
// finishing its current step).
func (l *Loop) Stopping() bool {
	select {
	case <-l.ctx.Done():
		return true
	default:
		return false
	}
}

// Sleep pauses the calling step for d, waking early on cancellation. It
// reports whether the loop is still live, so clock-style steps can bail out
// without ticking.
func (l *Loop) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }
