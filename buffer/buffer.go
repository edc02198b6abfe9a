// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package buffer

import (
	"fmt"

	"go.uber.org/atomic"
)

// ID identifies a buffer for the lifetime of the process. IDs are never reused.
type ID uint64

// nextID hands out buffer IDs, starting at 1.
var nextID atomic.Uint64

// Buffer is an opaque, reference-counted handle to one graphics buffer.
//
// A Buffer is shared between whoever currently holds it (client,
// compositor) and the pool that owns it. Every holder owns one reference;
// when the last reference is dropped the release hook returns the backing
// storage to its allocator and the Buffer must not be used again.
//
// Buffer methods are safe for concurrent use. The pixel contents are not
// synchronized: only the current holder may write them.
type Buffer struct {
	id     ID
	props  Properties
	stride int
	pixels []byte
	handle any

	refs    atomic.Int32
	release func(*Buffer)
}

// Option configures a Buffer created by New.
type Option func(*Buffer)

// WithPixels attaches CPU-visible pixel storage and its row stride.
func WithPixels(pixels []byte, stride int) Option {
	return func(b *Buffer) {
		b.pixels = pixels
		b.stride = stride
	}
}

// WithHandle attaches a backend handle such as a GPU texture.
func WithHandle(h any) Option {
	return func(b *Buffer) {
		b.handle = h
	}
}

// WithRelease sets the hook run once when the last reference is dropped.
func WithRelease(fn func(*Buffer)) Option {
	return func(b *Buffer) {
		b.release = fn
	}
}

// New creates a Buffer with one reference, owned by the caller.
// Allocators call New; bundle code never creates buffers itself.
func New(props Properties, opts ...Option) *Buffer {
	b := &Buffer{
		id:    ID(nextID.Inc()),
		props: props,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.stride == 0 {
		b.stride = RowBytes(props.Format, props.Width)
	}
	b.refs.Store(1)
	return b
}

// ID returns the buffer identity.
func (b *Buffer) ID() ID { return b.id }

// Properties returns the properties the buffer was allocated with.
func (b *Buffer) Properties() Properties { return b.props }

// Stride returns the number of bytes per row, including padding.
func (b *Buffer) Stride() int { return b.stride }

// Pixels returns the CPU-visible pixel storage, or nil for GPU-only buffers.
func (b *Buffer) Pixels() []byte { return b.pixels }

// Handle returns the backend handle, or nil.
func (b *Buffer) Handle() any { return b.handle }

// Refs returns the current reference count. Intended for tests and stats.
func (b *Buffer) Refs() int32 { return b.refs.Load() }

// Released reports whether the last reference has been dropped.
func (b *Buffer) Released() bool { return b.refs.Load() <= 0 }

// Ref adds a reference and returns b.
// Ref panics when called on a released buffer.
func (b *Buffer) Ref() *Buffer {
	if b.refs.Inc() <= 1 {
		panic(fmt.Sprintf("buffer: Ref on released buffer %d", b.id))
	}
	return b
}

// Unref drops a reference. Dropping the last reference runs the release
// hook. Unref panics if the count goes negative.
func (b *Buffer) Unref() {
	n := b.refs.Dec()
	switch {
	case n == 0:
		if b.release != nil {
			b.release(b)
		}
	case n < 0:
		panic(fmt.Sprintf("buffer: Unref on released buffer %d", b.id))
	}
}

// String returns e.g. "buffer#3(64x48 rgba8888)".
func (b *Buffer) String() string {
	return fmt.Sprintf("buffer#%d(%s)", b.id, b.props)
}
