package cio

import (
	"context"
	"sync"
)

// waitState is the portable half of one pooled wait slot: a one-shot
// mailbox fed by the OS-specific binding in wait_windows.go once the
// underlying handle becomes signaled, times out, or is cancelled.
type waitState struct {
	mu      sync.Mutex
	done    chan error
	pending bool // true from Rearm until deliver
}

// Wait is a reusable registration for "notify me once this OS handle
// becomes signaled" (spec §4.5). A single slot can be rearmed for
// successive wait cycles on the same handle rather than allocating a new OS
// wait object every time.
type Wait struct {
	state *waitState

	// rearm and cancel are set by the windows binding that constructs this
	// Wait; rearm re-registers the thread-pool wait, cancel tears it down.
	rearm  func(timeoutMillis uint32) error
	cancel func() error
}

func newWait() *Wait {
	return &Wait{state: &waitState{done: make(chan error, 1), pending: true}}
}

// deliver completes the current wait cycle exactly once.
func (w *Wait) deliver(err error) {
	s := w.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return
	}
	s.pending = false
	s.done <- err
}

// Wait blocks until the current cycle's handle is signaled, times out, is
// cancelled, or ctx is done. Calling Wait again after a ctx cancellation
// re-observes the same outstanding cycle rather than starting a new one.
func (w *Wait) Wait(ctx context.Context) error {
	select {
	case err := <-w.state.done:
		// Put it back for any other caller that also retries after us;
		// at most one of them ever gets a fresh (non-replayed) value, which
		// is fine since a wait slot has exactly one logical waiter.
		w.state.done <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rearm starts a new wait cycle on the same underlying handle, timing out
// after timeoutMillis (0 means no timeout). It is an error to rearm while
// the previous cycle hasn't yet delivered.
func (w *Wait) Rearm(timeoutMillis uint32) error {
	s := w.state
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return &WaitError{Kind: WaitErrInProgress}
	}
	select {
	case <-s.done:
	default:
	}
	s.pending = true
	s.mu.Unlock()
	if w.rearm == nil {
		return nil
	}
	return w.rearm(timeoutMillis)
}

// Cancel aborts the current wait cycle, delivering WaitErrCancelled to any
// blocked Wait call, and releases the underlying OS object.
func (w *Wait) Cancel() error {
	w.deliver(&WaitError{Kind: WaitErrCancelled})
	if w.cancel == nil {
		return nil
	}
	return w.cancel()
}
