package pool

import (
	"context"
	"fmt"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"
)

// DefaultMaxObjects bounds an ObjectPool when no size is given.
const DefaultMaxObjects = 8

// ObjectPool is a bounded pool of factory-built components.
type ObjectPool[T any] struct {
	factory *Factory[T]
	pool    *puddle.Pool[*PooledObject[T]]
	logger  *zap.Logger
}

// Resource is an object checked out of an ObjectPool.
type Resource[T any] struct {
	res *puddle.Resource[*PooledObject[T]]
}

// Object returns the checked-out payload.
func (r *Resource[T]) Object() T {
	return r.res.Value().Object()
}

// Release returns the object to the pool.
func (r *Resource[T]) Release() {
	r.res.Release()
}

// Destroy removes the object from the pool and destroys it.
func (r *Resource[T]) Destroy() {
	r.res.Destroy()
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Total    int32
	Acquired int32
	Idle     int32
	Max      int32
	Acquires int64
}

// NewObjectPool builds a pool holding at most maxSize objects created by f.
func NewObjectPool[T any](f *Factory[T], maxSize int32, logger *zap.Logger) (*ObjectPool[T], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxObjects
	}
	op := &ObjectPool[T]{factory: f, logger: logger.Named("objectpool").With(zap.String("component", f.Name()))}
	p, err := puddle.NewPool(&puddle.Config[*PooledObject[T]]{
		Constructor: func(context.Context) (*PooledObject[T], error) {
			obj, err := f.Create()
			if err != nil {
				return nil, err
			}
			return f.Wrap(obj), nil
		},
		Destructor: func(p *PooledObject[T]) {
			if err := f.DestroyObject(p); err != nil {
				op.logger.Warn("destroy pooled object", zap.Error(err))
			}
		},
		MaxSize: maxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("new object pool for %q: %w", f.Name(), err)
	}
	op.pool = p
	return op, nil
}

// Acquire checks out an object, creating one if none is idle and the pool
// has room. It blocks until ctx is done when the pool is exhausted.
func (p *ObjectPool[T]) Acquire(ctx context.Context) (*Resource[T], error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire %q: %w", p.factory.Name(), err)
	}
	return &Resource[T]{res: res}, nil
}

// Stat reports current occupancy.
func (p *ObjectPool[T]) Stat() Stats {
	s := p.pool.Stat()
	return Stats{
		Total:    s.TotalResources(),
		Acquired: s.AcquiredResources(),
		Idle:     s.IdleResources(),
		Max:      s.MaxResources(),
		Acquires: s.AcquireCount(),
	}
}

// Close destroys idle objects and waits for acquired ones to be returned.
func (p *ObjectPool[T]) Close() {
	p.pool.Close()
}
