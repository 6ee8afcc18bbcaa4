package cio

import "sync/atomic"

// onceCell holds a closure that runs at most once: the thread pool invokes
// it, unless a cancellation claims it first, in which case it never runs
// (spec §4.6). The race between "the pool is about to run this" and "the caller
// just cancelled it" is resolved by a single atomic swap: whichever side's
// swap observes the non-nil pointer is the only side that ever touches fn.
type onceCell struct {
	fn atomic.Pointer[func()]
}

func newOnceCell(fn func()) *onceCell {
	c := &onceCell{}
	c.fn.Store(&fn)
	return c
}

// run invokes fn unless it has already been claimed by a prior run or
// cancel call.
func (c *onceCell) run() {
	if p := c.fn.Swap(nil); p != nil {
		(*p)()
	}
}

// cancel claims fn without running it. Returns true iff this call is the
// one that kept fn from ever running.
func (c *onceCell) cancel() bool {
	return c.fn.Swap(nil) != nil
}

// WorkOnce is one closure submitted to the work-once pool, runnable exactly
// once on a thread-pool worker (spec §4.6).
type WorkOnce struct {
	cell *onceCell

	// cancelOS tears down the OS-level work object; set by the windows
	// binding that constructs this WorkOnce.
	cancelOS func() error
}

func newWorkOnce(fn func()) *WorkOnce {
	return &WorkOnce{cell: newOnceCell(fn)}
}

// CancelWith attempts to cancel the pending submission before the thread
// pool runs it. If this call wins that race, onCancel runs in its place and
// CancelWith returns true; if the pool already claimed fn (running or
// finished), onCancel is never called and CancelWith returns false.
func (w *WorkOnce) CancelWith(onCancel func()) bool {
	won := w.cell.cancel()
	if won && onCancel != nil {
		onCancel()
	}
	if w.cancelOS != nil {
		w.cancelOS()
	}
	return won
}
