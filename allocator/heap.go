package allocator

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"go.uber.org/atomic"

	"github.com/gogpu/bundle/buffer"
)

// HeapBackend is the registry name of the heap allocator.
const HeapBackend = "heap"

// Heap defaults.
const (
	// DefaultMaxDimension is the largest width or height a heap buffer may have.
	DefaultMaxDimension = 8192

	// DefaultRowAlignment is the row stride alignment in bytes.
	DefaultRowAlignment = 64

	// DefaultRetain is how many released slices are kept per layout.
	DefaultRetain = 8
)

// HeapStats contains heap allocator counters.
type HeapStats struct {
	// Live is the number of buffers not yet released.
	Live int64

	// Allocated is the total number of buffers created.
	Allocated uint64

	// Recycled is the number of allocations served from released memory.
	Recycled uint64
}

// String returns a human-readable string of heap stats.
func (s HeapStats) String() string {
	return fmt.Sprintf("Heap[%d live, %d allocated, %d recycled]", s.Live, s.Allocated, s.Recycled)
}

// Heap allocates buffers in CPU memory.
//
// Realize fills in gputypes.TextureFormatRGBA8Unorm and buffer.DefaultUsage
// when a request leaves them empty and clamps dimensions to the maximum.
// Rows are padded to the row alignment. Released pixel memory is zeroed
// and reused by later allocations of the same layout.
//
// Heap is safe for concurrent use.
type Heap struct {
	maxDimension int
	rowAlignment int
	pool         *recycler

	live      atomic.Int64
	allocated atomic.Uint64
	recycled  atomic.Uint64
}

// HeapOption configures a Heap.
type HeapOption func(*Heap)

// WithMaxDimension sets the largest width or height. Values <= 0 disable clamping.
func WithMaxDimension(n int) HeapOption {
	return func(h *Heap) {
		h.maxDimension = n
	}
}

// WithRowAlignment sets the row stride alignment in bytes.
func WithRowAlignment(n int) HeapOption {
	return func(h *Heap) {
		h.rowAlignment = n
	}
}

// WithRetain sets how many released slices are kept per layout.
// Zero means unlimited.
func WithRetain(n int) HeapOption {
	return func(h *Heap) {
		h.pool = newRecycler(n)
	}
}

// NewHeap creates a heap allocator.
func NewHeap(opts ...HeapOption) *Heap {
	h := &Heap{
		maxDimension: DefaultMaxDimension,
		rowAlignment: DefaultRowAlignment,
		pool:         newRecycler(DefaultRetain),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns HeapBackend.
func (h *Heap) Name() string { return HeapBackend }

// Realize returns the properties Allocate will produce for requested.
func (h *Heap) Realize(requested buffer.Properties) (buffer.Properties, error) {
	if err := requested.Validate(); err != nil {
		return buffer.Properties{}, err
	}

	realized := requested
	if realized.Format == gputypes.TextureFormatUndefined {
		realized.Format = gputypes.TextureFormatRGBA8Unorm
	}
	if realized.Usage == 0 {
		realized.Usage = buffer.DefaultUsage
	}
	realized.Width = clampDimension(realized.Width, h.maxDimension)
	realized.Height = clampDimension(realized.Height, h.maxDimension)

	if realized != requested {
		Logger().Debug("allocator: heap adjusted request",
			"requested", requested.String(), "realized", realized.String())
	}
	return realized, nil
}

// Allocate creates a buffer backed by zeroed CPU memory.
func (h *Heap) Allocate(props buffer.Properties) (*buffer.Buffer, error) {
	if err := props.ValidateRealized(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForeignProperties, err)
	}
	if h.maxDimension > 0 && (props.Width > h.maxDimension || props.Height > h.maxDimension) {
		return nil, fmt.Errorf("%w: %s exceeds %d", ErrForeignProperties, props, h.maxDimension)
	}

	stride := buffer.AlignedStride(props.Format, props.Width, h.rowAlignment)
	key := layoutKey{
		width:  props.Width,
		height: props.Height,
		format: props.Format,
		stride: stride,
	}

	pix := h.pool.get(key)
	if pix != nil {
		h.recycled.Inc()
	} else {
		pix = make([]byte, stride*props.Height)
	}

	h.allocated.Inc()
	h.live.Inc()
	return buffer.New(props,
		buffer.WithPixels(pix, stride),
		buffer.WithRelease(func(b *buffer.Buffer) {
			h.live.Dec()
			h.pool.put(key, b.Pixels())
		}),
	), nil
}

// Stats returns current allocation counters.
func (h *Heap) Stats() HeapStats {
	return HeapStats{
		Live:      h.live.Load(),
		Allocated: h.allocated.Load(),
		Recycled:  h.recycled.Load(),
	}
}
