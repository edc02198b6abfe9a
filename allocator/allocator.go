// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package allocator

import (
	"errors"

	"github.com/gogpu/bundle/buffer"
)

// Allocator creates the buffers of a pool.
//
// Realize turns requested properties into the properties the allocator
// will actually produce: defaults are filled in and dimensions may be
// clamped. Callers must use the realized value from then on. Allocate
// creates one buffer for realized properties; the buffer starts with a
// single reference and its release hook returns the storage to the
// allocator.
//
// Implementations must be safe for concurrent use.
type Allocator interface {
	// Name returns the backend name (e.g., "heap", "device").
	Name() string

	// Realize validates requested and returns the realized properties.
	Realize(requested buffer.Properties) (buffer.Properties, error)

	// Allocate creates one buffer for properties returned by Realize.
	Allocate(props buffer.Properties) (*buffer.Buffer, error)
}

// Allocation errors.
var (
	// ErrAllocationFailed is returned when backing storage cannot be created.
	ErrAllocationFailed = errors.New("allocator: allocation failed")

	// ErrUnsupportedFormat is returned when no format can be chosen for a request.
	ErrUnsupportedFormat = errors.New("allocator: unsupported format")

	// ErrForeignProperties is returned when Allocate receives properties
	// that Realize would not have produced.
	ErrForeignProperties = errors.New("allocator: properties not realized by this allocator")

	// ErrNoBackendAvailable is returned when no allocator backends are
	// registered or available on the current system.
	ErrNoBackendAvailable = errors.New("allocator: no backend available")

	// ErrNilProvider is returned when a nil device provider is passed.
	ErrNilProvider = errors.New("allocator: nil DeviceProvider")
)

// BackendNotFoundError indicates a named backend is not registered.
type BackendNotFoundError struct {
	Name string
}

func (e *BackendNotFoundError) Error() string {
	return "allocator: backend not found: " + e.Name
}

// BackendUnavailableError indicates a backend exists but is not available.
type BackendUnavailableError struct {
	Name string
}

func (e *BackendUnavailableError) Error() string {
	return "allocator: backend unavailable: " + e.Name
}

// clampDimension limits v to limit when limit is positive.
func clampDimension(v, limit int) int {
	if limit > 0 && v > limit {
		return limit
	}
	return v
}
