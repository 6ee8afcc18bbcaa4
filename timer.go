package cio

import (
	"context"
	"sync"
	"time"
)

// TimerKind distinguishes a timer that fires exactly once from one that
// re-arms itself every period (spec §4.4).
type TimerKind uint8

const (
	TimerOneshot TimerKind = iota
	TimerPeriodic
)

// Tick is a single timer firing. Missed counts additional firings that
// happened before the consumer polled and were coalesced into this one
// rather than queued — periodic timers never back up unboundedly on a slow
// consumer, they just report how far behind the consumer fell.
type Tick struct {
	At     time.Time
	Missed uint32
}

// timerState is the portable half of a pooled timer: a single-slot
// coalescing mailbox plus a waker, fed by the OS-specific binding in
// timer_windows.go.
type timerState struct {
	mu      sync.Mutex
	pending *Tick
	stopped bool
	notify  chan struct{}
}

// Timer is the public façade over one pooled OS timer.
type Timer struct {
	kind  TimerKind
	state *timerState

	// cancel releases the OS-level timer object; set by the windows
	// binding that constructs this Timer.
	cancel func() error
}

func newTimer(kind TimerKind) *Timer {
	return &Timer{
		kind:  kind,
		state: &timerState{notify: make(chan struct{}, 1)},
	}
}

// deliver records one OS-level firing, called from the windows callback.
func (t *Timer) deliver(at time.Time) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.pending == nil {
		s.pending = &Tick{At: at}
	} else {
		s.pending.At = at
		s.pending.Missed++
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a tick is available. ok is false exactly once the timer
// has definitively produced no further ticks (a one-shot's single firing has
// already been delivered and consumed, or Stop was called, which also drops
// any pending tick). err is non-nil only for ctx cancellation, which does not retire
// the timer.
func (t *Timer) Next(ctx context.Context) (tick Tick, ok bool, err error) {
	s := t.state
	for {
		s.mu.Lock()
		if s.pending != nil {
			tick = *s.pending
			s.pending = nil
			if t.kind == TimerOneshot {
				s.stopped = true
			}
			s.mu.Unlock()
			return tick, true, nil
		}
		if s.stopped {
			s.mu.Unlock()
			return Tick{}, false, nil
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-ctx.Done():
			return Tick{}, true, ctx.Err()
		}
	}
}

// Stop permanently retires the timer: no further ticks, pending or future,
// will be delivered. Safe to call more than once.
func (t *Timer) Stop() error {
	s := t.state
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.pending = nil
	select {
	case s.notify <- struct{}{}:
	default:
	}
	s.mu.Unlock()
	if already || t.cancel == nil {
		return nil
	}
	return t.cancel()
}
