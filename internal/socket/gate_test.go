package socket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_ReleaseOnce(t *testing.T) {
	g := NewGate()
	assert.False(t, g.Released())

	assert.True(t, g.Release(), "first release performs the release")
	assert.False(t, g.Release(), "second release is a no-op")
	assert.True(t, g.Released())
}

func TestGate_WaitZeroTimeoutPolls(t *testing.T) {
	g := NewGate()
	assert.False(t, g.Wait(0))
	assert.False(t, g.Wait(-time.Second))

	g.Release()
	assert.True(t, g.Wait(0))
}

func TestGate_WaitTimesOut(t *testing.T) {
	g := NewGate()
	start := time.Now()
	assert.False(t, g.Wait(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestGate_WakesAllWaiters(t *testing.T) {
	g := NewGate()

	const waiters = 8
	results := make(chan bool, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.Wait(5 * time.Second)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	g.Release()
	wg.Wait()
	close(results)

	for r := range results {
		assert.True(t, r)
	}
}

func TestGate_WaitContext(t *testing.T) {
	g := NewGate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, g.WaitContext(ctx), context.DeadlineExceeded)

	g.Release()
	require.NoError(t, g.WaitContext(context.Background()))
}
