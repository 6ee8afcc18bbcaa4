package cio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneshot_WaitUnblocksOnSet(t *testing.T) {
	sender, receiver := NewOneshot()
	go func() {
		time.Sleep(time.Millisecond)
		sender.Set()
	}()
	require.NoError(t, receiver.Wait(context.Background()))
}

func TestOneshot_SetIsIdempotent(t *testing.T) {
	sender, receiver := NewOneshot()
	sender.Set()
	assert.NotPanics(t, sender.Set)
	require.NoError(t, receiver.Wait(context.Background()))
}

func TestOneshot_WaitRespectsContext(t *testing.T) {
	_, receiver := NewOneshot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, receiver.Wait(ctx))
}
