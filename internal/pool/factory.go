package pool

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
)

// PooledObject is the pool-managed wrapper around a component instance.
// Every call to Wrap yields a distinct wrapper, even for the same payload.
type PooledObject[T any] struct {
	object T
}

// Object returns the wrapped payload.
func (p *PooledObject[T]) Object() T {
	return p.object
}

// DestroyListener is told about an object before it is closed.
type DestroyListener[T any] func(p *PooledObject[T]) error

// FactoryOption configures a Factory.
type FactoryOption[T any] func(*Factory[T])

// WithDestroyListener registers fn to run before each destroyed object is closed.
func WithDestroyListener[T any](fn DestroyListener[T]) FactoryOption[T] {
	return func(f *Factory[T]) { f.onDestroy = fn }
}

// WithFactoryLogger sets the logger used for swallowed listener failures.
func WithFactoryLogger[T any](logger *zap.Logger) FactoryOption[T] {
	return func(f *Factory[T]) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Factory creates, wraps and destroys instances of a named registry
// component. It holds no mutable state once built.
type Factory[T any] struct {
	registry  Registry
	name      string
	onDestroy DestroyListener[T]
	logger    *zap.Logger
}

// NewFactory binds the component called name in reg.
func NewFactory[T any](reg Registry, name string, opts ...FactoryOption[T]) (*Factory[T], error) {
	if reg == nil {
		return nil, fmt.Errorf("pooled object factory: registry is nil: %w", crawler.ErrInvalidArgument)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("pooled object factory: component name is blank: %w", crawler.ErrInvalidArgument)
	}
	f := &Factory[T]{registry: reg, name: name, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("pool").With(zap.String("component", name))
	return f, nil
}

// Name returns the bound component name.
func (f *Factory[T]) Name() string {
	return f.name
}

// Create looks up a new (or shared) instance of the component.
func (f *Factory[T]) Create() (T, error) {
	var zero T
	c, err := f.registry.Lookup(f.name)
	if err != nil {
		return zero, err
	}
	obj, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("component %q is %T, want %s: %w",
			f.name, c, reflect.TypeFor[T](), crawler.ErrInvalidArgument)
	}
	return obj, nil
}

// Wrap returns a fresh wrapper around obj.
func (f *Factory[T]) Wrap(obj T) *PooledObject[T] {
	return &PooledObject[T]{object: obj}
}

// DestroyObject runs the destroy listener, then closes the payload if it is
// an io.Closer. Listener failures are logged; close errors are returned.
// A nil wrapper or payload is a no-op.
func (f *Factory[T]) DestroyObject(p *PooledObject[T]) error {
	if p == nil || isNil(p.object) {
		return nil
	}
	if f.onDestroy != nil {
		f.notify(p)
	}
	if c, ok := any(p.object).(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close component %q: %w", f.name, err)
		}
	}
	return nil
}

func (f *Factory[T]) notify(p *PooledObject[T]) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Warn("destroy listener panicked", zap.Any("panic", r))
		}
	}()
	if err := f.onDestroy(p); err != nil {
		f.logger.Warn("destroy listener failed", zap.Error(err))
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
