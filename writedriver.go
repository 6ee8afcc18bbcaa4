package cio

import (
	"context"
	"errors"
	"sync"
)

// writeState tracks the write driver's state machine (spec §4.2): Inert (no
// write in flight, buffer may or may not hold unsent bytes), Writing (a
// kernel write is outstanding), and Done (terminal — closed or failed).
type writeState uint8

const (
	writeInert writeState = iota
	writeWriting
	writeDone
)

// WriteDriver is the shared state for the write side of one handle (spec
// §3, §4.2). PushEncodable encodes into the tail of the same
// FrameBuffer shape used for reads; StartWrite drains from the head. A
// single caller pushes and flushes; Completion is invoked from kernel
// callback context, guarded by the same mutex.
type WriteDriver[T any] struct {
	handle  OverlappedHandle
	encoder Encoder[T]
	buf     *FrameBuffer
	cb      CompletionBlock
	notify  chan struct{}

	mu       sync.Mutex
	state    writeState
	closeErr error
	token    uintptr
}

// NewWriteDriver constructs a write driver with the given buffer capacity
// (spec §6's configuration shapes).
func NewWriteDriver[T any](handle OverlappedHandle, encoder Encoder[T], capacity int) *WriteDriver[T] {
	return &WriteDriver[T]{
		handle:  handle,
		encoder: encoder,
		buf:     NewFrameBuffer(capacity),
		cb:      CompletionBlock{Dir: DirWrite},
		notify:  make(chan struct{}, 1),
	}
}

// Ready reports whether at least need bytes of buffer room remain, without
// mutating anything — the non-blocking "poll_ready" half of the push
// protocol (spec §4.2).
func (d *WriteDriver[T]) Ready(need int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != writeDone && need <= d.buf.Room()
}

// PushEncodable encodes item into the pending buffer and kicks off a write
// if the driver was idle. Returns SinkErrBufferFull if there isn't room —
// the caller is expected to Flush (or otherwise drain) and retry, mirroring
// a Sink's start_send requiring a prior successful poll_ready.
func (d *WriteDriver[T]) PushEncodable(token uintptr, item T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == writeDone {
		return d.pushAfterDoneErrLocked()
	}
	need := d.encoder.EncodedLen(item)
	if need > d.buf.Room() {
		return &SinkError{Kind: SinkErrBufferFull}
	}
	if err := d.encoder.Encode(item, d.buf); err != nil {
		return &SinkError{Kind: SinkErrEncode, EncodeError: err}
	}
	d.token = token
	d.pumpLocked()
	return nil
}

// Completion processes a kernel-reported write completion (kernel-thread
// context).
func (d *WriteDriver[T]) Completion(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.failLocked(err)
		return
	}
	d.buf.Consume(n)
	d.cb.advance(n)
	d.state = writeInert
	d.pumpLocked()
}

// pumpLocked issues writes for as long as there are buffered bytes and the
// kernel keeps completing them synchronously.
func (d *WriteDriver[T]) pumpLocked() {
	if d.state == writeWriting {
		return
	}
	for d.buf.Len() > 0 {
		n, err := d.handle.StartWrite(&d.cb, d.buf.Bytes(), d.token)
		if err != nil {
			if errors.Is(err, ErrIOPending) {
				d.state = writeWriting
				return
			}
			d.failLocked(err)
			return
		}
		d.buf.Consume(n)
		d.cb.advance(n)
	}
	d.state = writeInert
	d.notifyWaiters()
}

func (d *WriteDriver[T]) failLocked(err error) {
	d.state = writeDone
	d.closeErr = &SinkError{Kind: SinkErrOverlapped, Overlapped: asOverlappedError(err)}
	d.notifyWaiters()
}

// pushAfterDoneErrLocked is returned to a push attempt after the driver has
// gone terminal, whether by failure or by a clean Close.
func (d *WriteDriver[T]) pushAfterDoneErrLocked() error {
	if d.closeErr != nil {
		return d.closeErr
	}
	return &SinkError{Kind: SinkErrClosed}
}

func (d *WriteDriver[T]) notifyWaiters() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Flush blocks until every previously pushed item has been written and
// acknowledged by the kernel, or the driver has failed terminally.
func (d *WriteDriver[T]) Flush(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.state == writeDone {
			err := d.closeErr
			d.mu.Unlock()
			return err
		}
		if d.state == writeInert && d.buf.Len() == 0 {
			d.mu.Unlock()
			return nil
		}
		d.mu.Unlock()
		select {
		case <-d.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close flushes remaining buffered bytes, then marks the driver permanently
// terminal. A driver that already failed returns its failure, not nil — a
// close can't paper over a prior write error (spec §4.2).
func (d *WriteDriver[T]) Close(ctx context.Context) error {
	if err := d.Flush(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = writeDone
	return d.closeErr
}
