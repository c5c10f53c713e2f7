package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS = 1 token every 100ms, burst 1 means the first call is free.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "files.example.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "files.example.com"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "a.example.com"))

	// Host B should not be blocked by A.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "B.example.com"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "slow"))
}

func TestLimiter_NilAndUnlimited(t *testing.T) {
	t.Parallel()

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "x"))

	l := New(Config{})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), ""))
	}
}
