package device

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xtaci/cio"
)

// eventQueue is the same bounded force-push queue discipline as cio's read
// driver completion queue: once full, the oldest-unread items are kept and
// a single terminal sentinel error replaces whatever would have overflowed.
type eventQueue struct {
	mu       sync.Mutex
	cap      int
	items    []DeviceEvent
	err      error
	terminal bool
}

func newEventQueue(capacity int) *eventQueue {
	if capacity < 2 {
		capacity = 2
	}
	return &eventQueue{cap: capacity}
}

func (q *eventQueue) push(ev DeviceEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminal {
		return
	}
	if len(q.items) >= q.cap {
		logrus.WithField("capacity", q.cap).Warn("device: notification queue overflowed, consumer falling behind")
		q.err = &cio.TrackingError{Kind: cio.TrackingErrIO, Err: errQueueFull}
		q.terminal = true
		return
	}
	q.items = append(q.items, ev)
}

func (q *eventQueue) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminal {
		return
	}
	q.err = err
	q.terminal = true
}

func (q *eventQueue) pop() (DeviceEvent, error, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		ev := q.items[0]
		q.items = q.items[1:]
		return ev, nil, true
	}
	if q.terminal {
		return DeviceEvent{}, q.err, true
	}
	return DeviceEvent{}, nil, false
}

var errQueueFull = queueFullError{}

type queueFullError struct{}

func (queueFullError) Error() string { return "device: notification queue overflowed" }

// ErrClosed is the terminal error delivered to any blocked or future Next
// call once the hub's underlying notification window has been torn down
// (spec §4.7 "on window destroy it enqueues a None sentinel", spec §5 "any
// outstanding stream yields end").
var ErrClosed = closedError{}

type closedError struct{}

func (closedError) Error() string { return "device: hub closed" }

// Hub is the consumer-facing stream of device notifications. The Windows
// binding in hub_windows.go owns the hidden message-only window and feeds
// this queue from its WM_DEVICECHANGE loop (spec §4.7).
type Hub struct {
	queue  *eventQueue
	notify chan struct{}
	stop   func() error
}

func newHub(capacity int) *Hub {
	return &Hub{queue: newEventQueue(capacity), notify: make(chan struct{}, 1)}
}

func (h *Hub) deliver(ev DeviceEvent) {
	h.queue.push(ev)
	h.wake()
}

func (h *Hub) fail(err error) {
	h.queue.fail(err)
	h.wake()
}

func (h *Hub) wake() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Next blocks for the next notification, or returns a terminal error once
// the hub's queue has overflowed or the underlying window was torn down.
func (h *Hub) Next(ctx context.Context) (DeviceEvent, error) {
	for {
		if ev, err, ok := h.queue.pop(); ok {
			return ev, err
		}
		select {
		case <-h.notify:
		case <-ctx.Done():
			return DeviceEvent{}, ctx.Err()
		}
	}
}

// Close tears down the underlying notification window.
func (h *Hub) Close() error {
	if h.stop == nil {
		return nil
	}
	return h.stop()
}

// HubStats is a small health/diagnostics accessor (spec §6 supplement: the
// original implementation exposes queue depth for callers that want to
// detect a consumer falling behind before the queue actually overflows).
type HubStats struct {
	Queued   int
	Overflow bool
}

func (h *Hub) Stats() HubStats {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	return HubStats{Queued: len(h.queue.items), Overflow: h.queue.terminal && h.queue.err != nil}
}
