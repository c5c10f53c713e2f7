package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCloserPool(t *testing.T, size int32) (*ObjectPool[*closer], *[]*closer) {
	t.Helper()

	var made []*closer
	reg := NewMapRegistry()
	require.NoError(t, reg.Prototype("closer", func() (any, error) {
		c := &closer{}
		made = append(made, c)
		return c, nil
	}))
	f, err := NewFactory[*closer](reg, "closer")
	require.NoError(t, err)
	p, err := NewObjectPool(f, size, nil)
	require.NoError(t, err)
	return p, &made
}

func TestObjectPoolReusesReleasedObjects(t *testing.T) {
	t.Parallel()

	p, made := newCloserPool(t, 2)
	defer p.Close()

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := r1.Object()
	r1.Release()

	r2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, r2.Object())
	r2.Release()
	assert.Len(t, *made, 1)
	assert.Equal(t, int64(2), p.Stat().Acquires)
}

func TestObjectPoolDestroyClosesObject(t *testing.T) {
	t.Parallel()

	p, _ := newCloserPool(t, 1)
	defer p.Close()

	r, err := p.Acquire(context.Background())
	require.NoError(t, err)
	obj := r.Object()
	r.Destroy()
	require.Eventually(t, func() bool { return obj.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestObjectPoolAcquireBlocksWhenExhausted(t *testing.T) {
	t.Parallel()

	p, _ := newCloserPool(t, 1)
	defer p.Close()

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), p.Stat().Acquired)
}

func TestObjectPoolCloseDestroysIdle(t *testing.T) {
	t.Parallel()

	p, made := newCloserPool(t, 2)
	r, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r.Release()
	p.Close()
	require.Len(t, *made, 1)
	assert.Equal(t, int32(1), (*made)[0].closed.Load())
}
