package cio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnceCell_RunClaimsExactlyOnce(t *testing.T) {
	var calls int
	c := newOnceCell(func() { calls++ })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.run()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestOnceCell_CancelBeforeRunWins(t *testing.T) {
	var calls int
	c := newOnceCell(func() { calls++ })

	assert.True(t, c.cancel())
	c.run()
	assert.Equal(t, 0, calls)
	assert.False(t, c.cancel(), "a second cancel has nothing left to claim")
}

func TestWorkOnce_CancelWithRunsSubstituteOnlyIfItWinsTheRace(t *testing.T) {
	var ran, cancelled int
	w := newWorkOnce(func() { ran++ })

	won := w.CancelWith(func() { cancelled++ })
	assert.True(t, won)
	assert.Equal(t, 0, ran)
	assert.Equal(t, 1, cancelled)

	// The original closure must never run after losing the race.
	w.cell.run()
	assert.Equal(t, 0, ran)
}

func TestWorkOnce_CancelWithAfterRunLoses(t *testing.T) {
	var ran, cancelled int
	w := newWorkOnce(func() { ran++ })

	w.cell.run()
	won := w.CancelWith(func() { cancelled++ })
	assert.False(t, won)
	assert.Equal(t, 1, ran)
	assert.Equal(t, 0, cancelled)
}
