package bundle

import (
	"fmt"

	"github.com/gogpu/bundle/allocator"
	"github.com/gogpu/bundle/buffer"
)

// DefaultBufferCount is the pool size of a Factory created without
// WithBufferCount.
const DefaultBufferCount = 2

// SwapperFactory constructs Swappers, either over a fresh buffer set or
// over the buffers handed off by a retired Swapper.
type SwapperFactory interface {
	// NewBuffers allocates a buffer set for requested and returns a
	// Swapper of the given kind together with the realized properties.
	// Callers must use the realized properties from then on.
	NewBuffers(requested buffer.Properties, kind Kind) (Swapper, buffer.Properties, error)

	// ReuseBuffers returns a Swapper of the given kind that takes
	// ownership of h. On error h is still owned by the caller.
	ReuseBuffers(props buffer.Properties, h Handoff, kind Kind) (Swapper, error)
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithBufferCount sets the number of buffers NewBuffers allocates.
func WithBufferCount(n int) FactoryOption {
	return func(f *Factory) {
		f.count = n
	}
}

// WithAllocator sets the allocator. Without it NewFactory picks the best
// available backend from the allocator registry.
func WithAllocator(a allocator.Allocator) FactoryOption {
	return func(f *Factory) {
		f.alloc = a
	}
}

// Factory is the SwapperFactory backed by an allocator.Allocator.
type Factory struct {
	alloc allocator.Allocator
	count int
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) (*Factory, error) {
	f := &Factory{count: DefaultBufferCount}
	for _, opt := range opts {
		opt(f)
	}
	if f.count < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBufferCount, f.count)
	}
	if f.alloc == nil {
		a, err := allocator.New()
		if err != nil {
			return nil, fmt.Errorf("bundle: select allocator: %w", err)
		}
		f.alloc = a
	}
	return f, nil
}

// Allocator returns the allocator buffers are created with.
func (f *Factory) Allocator() allocator.Allocator { return f.alloc }

// BufferCount returns the number of buffers NewBuffers allocates.
func (f *Factory) BufferCount() int { return f.count }

// NewBuffers implements SwapperFactory.
func (f *Factory) NewBuffers(requested buffer.Properties, kind Kind) (Swapper, buffer.Properties, error) {
	if err := checkKind(kind); err != nil {
		return nil, buffer.Properties{}, err
	}
	props, err := f.alloc.Realize(requested)
	if err != nil {
		return nil, buffer.Properties{}, fmt.Errorf("bundle: realize %s: %w", requested, err)
	}

	bufs := make([]*buffer.Buffer, 0, f.count)
	for i := range f.count {
		b, err := f.alloc.Allocate(props)
		if err != nil {
			for _, ok := range bufs {
				ok.Unref()
			}
			return nil, buffer.Properties{}, fmt.Errorf("bundle: allocate buffer %d of %d: %w", i+1, f.count, err)
		}
		bufs = append(bufs, b)
	}

	h := NewHandoff(bufs)
	s, err := newSwapper(kind, h)
	if err != nil {
		h.Release()
		return nil, buffer.Properties{}, err
	}
	Logger().Debug("bundle: allocated buffers",
		"allocator", f.alloc.Name(), "count", f.count, "properties", props.String(), "kind", kind.String())
	return s, props, nil
}

// ReuseBuffers implements SwapperFactory. Every buffer in h must carry props.
func (f *Factory) ReuseBuffers(props buffer.Properties, h Handoff, kind Kind) (Swapper, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	for _, s := range h.Slots {
		if s.Buffer != nil && s.Buffer.Properties() != props {
			return nil, fmt.Errorf("%w: %s does not match %s", ErrInvalidHandoff, s.Buffer, props)
		}
	}
	return newSwapper(kind, h)
}

// checkKind returns ErrUnknownKind for anything but the two disciplines.
func checkKind(kind Kind) error {
	switch kind {
	case KindSynchronous, KindFrameDropping:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// newSwapper seeds a Swapper of the given kind with h.
func newSwapper(kind Kind, h Handoff) (Swapper, error) {
	switch kind {
	case KindSynchronous:
		s, err := NewSynchronous(h)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindFrameDropping:
		s, err := NewFrameDropping(h)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

var _ SwapperFactory = (*Factory)(nil)
