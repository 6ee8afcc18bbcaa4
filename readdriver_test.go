package cio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultQueue_ForcePushesSentinelOnOverflow(t *testing.T) {
	q := newResultQueue[int](2)
	q.push(readResult[int]{item: 1})
	q.push(readResult[int]{item: 2})
	q.push(readResult[int]{item: 3}) // overflow: forced sentinel instead

	r1, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, 1, r1.item)

	r2, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, 2, r2.item)

	r3, ok := q.pop()
	require.True(t, ok)
	assert.True(t, r3.end)
	require.Error(t, r3.err)
	se, ok := r3.err.(*StreamError)
	require.True(t, ok)
	assert.Equal(t, StreamErrQueueFull, se.Kind)

	_, ok = q.pop()
	assert.False(t, ok, "queue is terminal; nothing more should ever be popped")
}

func TestResultQueue_PanicsUnderMinimumCapacity(t *testing.T) {
	assert.Panics(t, func() { newResultQueue[int](1) })
}

func TestReadDriver_DecodesLinesAcrossAttempts(t *testing.T) {
	handle := &fakeHandle{
		reads: []fakeResult{
			{n: 2, data: []byte("ab")},
			{n: 2, data: []byte("\r\n")},
		},
	}
	d := NewReadDriver[Line](handle, &LineDecoder{}, 64, 4)
	d.Start(0)

	r, err := d.next(context.Background())
	require.NoError(t, err)
	assert.NoError(t, r.err)
	assert.False(t, r.end)
	assert.Equal(t, Line("ab"), r.item)
}

func TestReadDriver_CleanEOFEndsStream(t *testing.T) {
	handle := &fakeHandle{
		reads: []fakeResult{
			{err: &OverlappedError{Kind: OverlappedEOF}},
		},
	}
	d := NewReadDriver[Line](handle, &LineDecoder{}, 64, 4)
	d.Start(0)

	r, err := d.next(context.Background())
	require.NoError(t, err)
	assert.True(t, r.end)
	assert.NoError(t, r.err)
}

func TestReadDriver_KernelErrorSurfacesButDoesNotEndStream(t *testing.T) {
	handle := &fakeHandle{
		reads: []fakeResult{
			{err: WrapOSError(5)},
		},
	}
	d := NewReadDriver[Line](handle, &LineDecoder{}, 64, 4)
	d.Start(0)

	r, err := d.next(context.Background())
	require.NoError(t, err)
	assert.False(t, r.end)
	require.Error(t, r.err)
	se, ok := r.err.(*StreamError)
	require.True(t, ok)
	assert.Equal(t, StreamErrOverlapped, se.Kind)

	// Driver left in-flight state clean; an explicit Start restarts it.
	handle.reads = append(handle.reads, fakeResult{n: 2, data: []byte("x\n")})
	d.Start(0)
	r2, err := d.next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Line("x"), r2.item)
}

func TestReadDriver_DecodeErrorDoesNotEndStream(t *testing.T) {
	bad := []byte{0xff, 0xfe, '\n'}
	good := []byte("ok\n")
	handle := &fakeHandle{
		reads: []fakeResult{
			{n: len(bad) + len(good), data: append(append([]byte{}, bad...), good...)},
		},
	}
	d := NewReadDriver[Line](handle, &LineDecoder{}, 64, 4)
	d.Start(0)

	r1, err := d.next(context.Background())
	require.NoError(t, err)
	assert.False(t, r1.end)
	require.Error(t, r1.err)
	se, ok := r1.err.(*StreamError)
	require.True(t, ok)
	assert.Equal(t, StreamErrDecode, se.Kind)

	r2, err := d.next(context.Background())
	require.NoError(t, err)
	assert.NoError(t, r2.err)
	assert.Equal(t, Line("ok"), r2.item)
}

func TestReadStream_ReportsEndExactlyOnceAfterQueueFull(t *testing.T) {
	handle := &fakeHandle{
		reads: []fakeResult{
			{n: 1, data: []byte("\n")},
			{n: 1, data: []byte("\n")},
			{n: 1, data: []byte("\n")},
		},
	}
	d := NewReadDriver[Line](handle, &LineDecoder{}, 64, 2)
	r := NewReader[Line](d, 0)

	stream, err := r.Stream(context.Background())
	require.NoError(t, err)

	_, _, ok := stream.Next(context.Background())
	require.True(t, ok)
	_, _, ok = stream.Next(context.Background())
	require.True(t, ok)

	_, qerr, ok := stream.Next(context.Background())
	require.True(t, ok)
	se, ok := qerr.(*StreamError)
	require.True(t, ok)
	assert.Equal(t, StreamErrQueueFull, se.Kind)

	_, _, ok = stream.Next(context.Background())
	assert.False(t, ok, "stream must end right after the queue-full sentinel")
}
