package cio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameBuffer_GrowAndConsume(t *testing.T) {
	b := NewFrameBuffer(8)
	assert.Equal(t, 8, b.Cap())
	assert.Equal(t, 8, b.Room())

	n := copy(b.Tail(), "abcd")
	b.Grow(n)
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, "abcd", string(b.Bytes()))
	assert.Equal(t, 4, b.Room())

	b.Consume(2)
	assert.Equal(t, "cd", string(b.Bytes()))
	assert.Equal(t, 6, b.Room())
}

func TestFrameBuffer_GrowPastCapacityPanics(t *testing.T) {
	b := NewFrameBuffer(2)
	assert.Panics(t, func() { b.Grow(3) })
}

func TestFrameBuffer_ConsumePastLengthPanics(t *testing.T) {
	b := NewFrameBuffer(4)
	b.Grow(2)
	assert.Panics(t, func() { b.Consume(3) })
}

func TestFrameBuffer_Reset(t *testing.T) {
	b := NewFrameBuffer(4)
	b.Grow(4)
	b.Reset()
	require.Equal(t, 0, b.Len())
	assert.Equal(t, 4, b.Room())
}
