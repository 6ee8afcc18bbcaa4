package cio

import (
	"context"
	"sync"
)

// signal is a one-shot completion primitive: exactly one goroutine fires it
// (via close), any number of goroutines may wait on it. It is the Go stand-in
// for the "watch" wrapper spec §4.3/§9 pairs with every inner future so a
// pool can sequence the next operation after the prior one truly finishes —
// Go has no Future/Waker trait to hook into, so a closed-once channel plays
// the same role a oneshot completion would in the source runtime.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// fire marks the signal complete. Safe to call more than once or
// concurrently; only the first call has effect.
func (s *signal) fire() {
	s.once.Do(func() { close(s.ch) })
}

// done returns a channel that is closed once fire has been called.
func (s *signal) done() <-chan struct{} {
	return s.ch
}

// wait blocks until fire or ctx cancellation, whichever comes first.
func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// alreadyFired is a signal pre-fired at construction, used as the "no
// previous operation" sentinel so callers can always unconditionally wait.
func alreadyFired() *signal {
	s := newSignal()
	s.fire()
	return s
}
