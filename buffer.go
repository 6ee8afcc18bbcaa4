package cio

// FrameBuffer is a fixed-capacity byte buffer whose head holds decoded-but-
// not-yet-consumed bytes and whose tail is uninitialised space the kernel is
// granted temporary, exclusive write access to between a read's Start and its
// Completion (spec §5 Data model, read driver; §9 drop-order notes).
//
// Logical length never exceeds capacity: the kernel only ever extends it by
// the byte count it reports, and Consume only ever shrinks it.
type FrameBuffer struct {
	buf    []byte
	length int
}

// NewFrameBuffer allocates a FrameBuffer with the given fixed capacity C.
func NewFrameBuffer(capacity int) *FrameBuffer {
	return &FrameBuffer{buf: make([]byte, capacity)}
}

// Cap returns the fixed capacity C.
func (b *FrameBuffer) Cap() int { return len(b.buf) }

// Len returns the logical length of valid, unconsumed data.
func (b *FrameBuffer) Len() int { return b.length }

// Bytes returns the valid prefix of the buffer. The returned slice aliases
// the buffer's storage and is invalidated by the next Grow or Consume.
func (b *FrameBuffer) Bytes() []byte { return b.buf[:b.length] }

// Tail returns the uninitialised suffix available for the kernel to write
// into on the next read attempt.
func (b *FrameBuffer) Tail() []byte { return b.buf[b.length:] }

// Room reports how many bytes remain in the uninitialised tail.
func (b *FrameBuffer) Room() int { return len(b.buf) - b.length }

// Grow extends the logical length by n, called after a read (synchronous or
// via completion) reports n bytes written into Tail().
func (b *FrameBuffer) Grow(n int) {
	b.length += n
	if b.length > len(b.buf) {
		// The handle contract guarantees n <= Room(); a violation here is a
		// programming error in the OverlappedHandle implementation.
		panic("cio: read overran frame buffer capacity")
	}
}

// Consume drops n bytes from the head (the framing bytes a Decoder reports
// having consumed), shifting the remainder down.
func (b *FrameBuffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n > b.length {
		panic("cio: decoder consumed more bytes than were buffered")
	}
	copy(b.buf, b.buf[n:b.length])
	b.length -= n
}

// Reset empties the buffer without reallocating.
func (b *FrameBuffer) Reset() { b.length = 0 }
