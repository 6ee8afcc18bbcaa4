package cio

import (
	"context"
	"errors"
	"sync"
)

var errBufferExhausted = errors.New("cio: frame buffer exhausted without decoder making progress")

// readResult is one entry in a ReadDriver's completion queue (spec §3 Data
// model, read driver). end marks that this is the last entry the stream will
// ever produce: either a clean EOF (err == nil) or a terminal error such as
// QueueFull (err != nil).
type readResult[T any] struct {
	item T
	err  error
	end  bool
}

// resultQueue is the bounded, force-pushable completion queue described in
// spec §4.1's "Queue discipline". Capacity must be >= 2 (spec §9: capacity 1
// is a configuration error, not something to special-case at push time).
type resultQueue[T any] struct {
	mu       sync.Mutex
	cap      int
	items    []readResult[T]
	terminal bool
}

func newResultQueue[T any](capacity int) *resultQueue[T] {
	if capacity < 2 {
		panic("cio: completion queue capacity must be >= 2")
	}
	return &resultQueue[T]{cap: capacity}
}

// push enqueues r, unless the queue has already gone terminal (no recovery
// path once that happens — spec §4.1). If the queue is at capacity, r is
// dropped and a single QueueFull sentinel is force-pushed in its place,
// exceeding nominal capacity by exactly one slot so earlier items are never
// lost (spec §8: "both delivered... third pushes QueueFull").
func (q *resultQueue[T]) push(r readResult[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminal {
		return
	}
	if len(q.items) >= q.cap {
		q.items = append(q.items, readResult[T]{err: &StreamError{Kind: StreamErrQueueFull}, end: true})
		q.terminal = true
		return
	}
	q.items = append(q.items, r)
	if r.end {
		q.terminal = true
	}
}

func (q *resultQueue[T]) pop() (readResult[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return readResult[T]{}, false
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true
}

// ReadDriver is the shared state for the read side of one handle (spec §3,
// §4.1). It is co-owned by the user-facing Reader façade and by the kernel
// callback dispatched from iopool_windows.go; Start and Completion are the
// only two entry points that mutate cb/buf, and are mutually exclusive by
// the protocol described in spec §9 (Start is never called again while a
// read is in flight).
type ReadDriver[T any] struct {
	handle  OverlappedHandle
	decoder Decoder[T]
	buf     *FrameBuffer
	cb      CompletionBlock
	queue   *resultQueue[T]
	notify  chan struct{}

	mu    sync.Mutex
	token uintptr
}

// NewReadDriver constructs a read driver with frame buffer capacity and
// completion queue depth per spec §6's configuration shapes.
func NewReadDriver[T any](handle OverlappedHandle, decoder Decoder[T], capacity, queueDepth int) *ReadDriver[T] {
	return &ReadDriver[T]{
		handle:  handle,
		decoder: decoder,
		buf:     NewFrameBuffer(capacity),
		cb:      CompletionBlock{Dir: DirRead},
		queue:   newResultQueue[T](queueDepth),
		notify:  make(chan struct{}, 1),
	}
}

// Start begins a read cycle: either the first call, or a restart after all
// callbacks have quiesced (spec §4.1).
func (d *ReadDriver[T]) Start(token uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// A previous cycle whose terminal entry has been drained leaves the
	// queue terminal; a new cycle starts with it open again.
	d.queue.mu.Lock()
	if len(d.queue.items) == 0 {
		d.queue.terminal = false
	}
	d.queue.mu.Unlock()
	d.token = token
	d.pumpLocked()
}

// Completion processes a kernel-reported completion (kernel-thread context;
// exclusive by kernel discipline). err is nil for success, or an
// *OverlappedError / ErrIOPending-wrapped error as returned by the handle.
func (d *ReadDriver[T]) Completion(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.handleAttemptErrorLocked(err)
		return
	}
	d.onBytesLocked(n)
	d.pumpLocked()
}

// pumpLocked extends the buffer for as long as synchronous completion keeps
// yielding bytes, draining the decoder each time, reissuing until the kernel
// reports pending, EOF, or another error (spec §4.1 "Start"/"Callback").
func (d *ReadDriver[T]) pumpLocked() {
	for {
		if d.buf.Room() == 0 {
			d.drainDecoderLocked()
			if d.buf.Room() == 0 {
				d.queue.push(readResult[T]{err: &StreamError{Kind: StreamErrDecode, DecodeError: errBufferExhausted}})
				d.notifyConsumer()
				return
			}
		}
		n, err := d.handle.StartRead(&d.cb, d.buf.Tail(), d.token)
		if err != nil {
			d.handleAttemptErrorLocked(err)
			return
		}
		d.onBytesLocked(n)
	}
}

func (d *ReadDriver[T]) onBytesLocked(n int) {
	d.buf.Grow(n)
	d.cb.advance(n)
	d.drainDecoderLocked()
	d.notifyConsumer()
}

func (d *ReadDriver[T]) drainDecoderLocked() {
	for {
		item, ok, err := d.decoder.Decode(d.buf)
		if err != nil {
			d.queue.push(readResult[T]{err: &StreamError{Kind: StreamErrDecode, DecodeError: err}})
			continue
		}
		if !ok {
			return
		}
		d.queue.push(readResult[T]{item: item})
	}
}

func (d *ReadDriver[T]) handleAttemptErrorLocked(err error) {
	if errors.Is(err, ErrIOPending) {
		return
	}
	oe := asOverlappedError(err)
	if oe.Kind == OverlappedEOF {
		d.queue.push(readResult[T]{end: true})
	} else {
		d.queue.push(readResult[T]{err: &StreamError{Kind: StreamErrOverlapped, Overlapped: oe}})
	}
	d.notifyConsumer()
}

func (d *ReadDriver[T]) notifyConsumer() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// next blocks until an item is available or ctx is done. It is the building
// block for the Reader/ReadStream façade in iopool.go.
func (d *ReadDriver[T]) next(ctx context.Context) (readResult[T], error) {
	for {
		if r, ok := d.queue.pop(); ok {
			return r, nil
		}
		select {
		case <-d.notify:
		case <-ctx.Done():
			return readResult[T]{}, ctx.Err()
		}
	}
}

func asOverlappedError(err error) *OverlappedError {
	var oe *OverlappedError
	if errors.As(err, &oe) {
		return oe
	}
	return WrapCustomIOError(err)
}
