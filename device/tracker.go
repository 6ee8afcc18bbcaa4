package device

import (
	"context"
	"sync"

	"github.com/xtaci/cio"
)

// Scanner abstracts the registry scan (registry_windows.go) so Tracker can
// be exercised without the real Windows registry.
type Scanner interface {
	Scan() ([]TrackedPort, error)
}

// Tracker turns raw hub notifications into higher-level PlugEvent values by
// diffing a Scanner's view of known serial ports across each notification
// (spec §4.8). A DBT_DEVICEARRIVAL/REMOVECOMPLETE by itself only says
// "something changed somewhere in this device class" — Tracker is what
// resolves that into "this specific port arrived/left, and here's its
// VID/PID".
type Tracker struct {
	hub     *Hub
	scanner Scanner

	mu    sync.Mutex
	known map[string]TrackedPort
}

// NewTracker starts with an empty baseline. It deliberately does not take
// its own snapshot via scanner: the hub's own construction-time scan
// (spec §4.7 "Initial scan") already enqueues a synthetic arrival for every
// already-present port, and diffing those against an empty baseline is what
// makes each one surface as an ordinary Plug. Seeding known from a second,
// independent scan here would make that first synthetic arrival a no-op
// diff — the device would be silently absorbed into the baseline instead of
// ever being reported (spec §8 scenario 6 requires the already-present
// port to be observed as a Plug).
func NewTracker(hub *Hub, scanner Scanner) (*Tracker, error) {
	return &Tracker{hub: hub, scanner: scanner, known: map[string]TrackedPort{}}, nil
}

// Next blocks until a plug or unplug can be derived from the hub's stream.
// Notification kinds that carry no plug/unplug fact on their own
// (query-remove, query-remove-failed, remove-pending, custom) are consumed
// and skipped transparently.
func (t *Tracker) Next(ctx context.Context) (PlugEvent, error) {
	for {
		ev, err := t.hub.Next(ctx)
		if err != nil {
			return PlugEvent{}, err
		}
		switch ev.Kind {
		case EventArrival, EventRemoveComplete:
			pe, changed, err := t.rescan()
			if err != nil {
				return PlugEvent{}, &cio.TrackingError{Kind: cio.TrackingErrScan, Err: err}
			}
			if changed {
				return pe, nil
			}
			// The notification didn't correspond to a serial port this
			// scanner resolves (or the registry hadn't caught up yet);
			// keep waiting for the next one.
		}
	}
}

// rescan diffs the scanner's current view against the last known set,
// reporting the first change found. Arrivals are checked before removals.
// Ports are compared by name only, so a port that disappeared and
// reappeared under the same name between two scans is seen as unchanged
// and reported as neither.
func (t *Tracker) rescan() (PlugEvent, bool, error) {
	ports, err := t.scanner.Scan()
	if err != nil {
		return PlugEvent{}, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(ports))
	for _, p := range ports {
		seen[p.Name] = true
		if _, ok := t.known[p.Name]; !ok {
			t.known[p.Name] = p
			return PlugEvent{Port: p, Plugged: true}, true, nil
		}
	}
	for name, p := range t.known {
		if !seen[name] {
			delete(t.known, name)
			return PlugEvent{Port: p, Plugged: false}, true, nil
		}
	}
	return PlugEvent{}, false, nil
}

// Known returns a snapshot of the ports currently tracked as present.
func (t *Tracker) Known() []TrackedPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedPort, 0, len(t.known))
	for _, p := range t.known {
		out = append(out, p)
	}
	return out
}
