package cio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineDecoder_CRLFStripsBothBytes(t *testing.T) {
	b := NewFrameBuffer(32)
	n := copy(b.Tail(), "hello\r\n")
	b.Grow(n)

	d := &LineDecoder{}
	line, ok, err := d.Decode(b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Line("hello"), line)
	assert.Equal(t, 0, b.Len())
}

func TestLineDecoder_BareLFKeepsInteriorCR(t *testing.T) {
	// Resolves the open question: a bare-LF framed payload carrying 0x0D
	// before its last byte must not be truncated by a blind two-byte trim.
	b := NewFrameBuffer(32)
	n := copy(b.Tail(), "a\rb\n")
	b.Grow(n)

	d := &LineDecoder{}
	line, ok, err := d.Decode(b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Line("a\rb"), line)
}

func TestLineDecoder_IncompleteLineWaitsForMoreData(t *testing.T) {
	b := NewFrameBuffer(32)
	n := copy(b.Tail(), "partial")
	b.Grow(n)

	d := &LineDecoder{}
	_, ok, err := d.Decode(b)
	require.NoError(t, err)
	assert.False(t, ok)

	more := copy(b.Tail(), " line\n")
	b.Grow(more)
	line, ok, err := d.Decode(b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Line("partial line"), line)
}

func TestLineDecoder_InvalidUTF8ReportsErrorButConsumesFraming(t *testing.T) {
	b := NewFrameBuffer(32)
	n := copy(b.Tail(), []byte{0xff, 0xfe, '\n'})
	b.Grow(n)

	d := &LineDecoder{}
	_, ok, err := d.Decode(b)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, 0, b.Len(), "bad line's framing bytes must still be consumed")

	more := copy(b.Tail(), "next\n")
	b.Grow(more)
	line, ok, err := d.Decode(b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Line("next"), line)
}
