// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package allocator

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"go.uber.org/atomic"

	"github.com/gogpu/bundle/buffer"
)

// DeviceBackend is the registry name used for device allocators.
const DeviceBackend = "device"

// TextureCreator creates a GPU texture from RGBA pixel data.
// This matches the texture creation method of gogpu renderers.
type TextureCreator interface {
	NewTextureFromRGBA(width, height int, data []byte) (any, error)
}

// textureDestroyer is the interface for destroying textures.
// This matches the gogpu.Texture.Destroy signature.
type textureDestroyer interface {
	Destroy()
}

// Device allocates buffers for a host GPU context.
//
// The host application owns the GPU device and passes its
// gpucontext.DeviceProvider in. A request with an undefined format gets the
// provider's surface format, so client buffers match what the compositor
// presents. When a TextureCreator is configured each buffer also carries a
// GPU texture handle, destroyed when the buffer is released.
//
// Device is safe for concurrent use if the TextureCreator is.
type Device struct {
	provider     gpucontext.DeviceProvider
	creator      TextureCreator
	maxDimension int

	live atomic.Int64
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithTextureCreator makes every buffer carry a texture created by c.
func WithTextureCreator(c TextureCreator) DeviceOption {
	return func(d *Device) {
		d.creator = c
	}
}

// WithDeviceMaxDimension sets the largest width or height.
func WithDeviceMaxDimension(n int) DeviceOption {
	return func(d *Device) {
		d.maxDimension = n
	}
}

// NewDevice creates an allocator sharing the host's GPU context.
func NewDevice(provider gpucontext.DeviceProvider, opts ...DeviceOption) (*Device, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	d := &Device{
		provider:     provider,
		maxDimension: DefaultMaxDimension,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RegisterDevice registers a device allocator for provider in the global
// registry under DeviceBackend, preferred over the heap.
func RegisterDevice(provider gpucontext.DeviceProvider, opts ...DeviceOption) {
	Register(DeviceBackend, 100, func() (Allocator, error) {
		return NewDevice(provider, opts...)
	}, func() bool { return provider != nil })
}

// Name returns DeviceBackend.
func (d *Device) Name() string { return DeviceBackend }

// Realize resolves the format from the host surface when undefined.
// Only 4-byte color formats can be uploaded as RGBA textures.
func (d *Device) Realize(requested buffer.Properties) (buffer.Properties, error) {
	if err := requested.Validate(); err != nil {
		return buffer.Properties{}, err
	}

	realized := requested
	if realized.Format == gputypes.TextureFormatUndefined {
		realized.Format = d.provider.SurfaceFormat()
	}
	info, ok := buffer.LookupFormat(realized.Format)
	if !ok || info.BytesPerPixel != 4 {
		return buffer.Properties{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, buffer.FormatName(realized.Format))
	}
	if realized.Usage == 0 {
		realized.Usage = buffer.DefaultUsage
	}
	realized.Width = clampDimension(realized.Width, d.maxDimension)
	realized.Height = clampDimension(realized.Height, d.maxDimension)
	return realized, nil
}

// Allocate creates a buffer with a staging pixel slice and, when a
// TextureCreator is configured, a GPU texture handle.
func (d *Device) Allocate(props buffer.Properties) (*buffer.Buffer, error) {
	if err := props.ValidateRealized(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForeignProperties, err)
	}
	if d.maxDimension > 0 && (props.Width > d.maxDimension || props.Height > d.maxDimension) {
		return nil, fmt.Errorf("%w: %s exceeds %d", ErrForeignProperties, props, d.maxDimension)
	}

	stride := buffer.RowBytes(props.Format, props.Width)
	pix := make([]byte, stride*props.Height)

	var handle any
	if d.creator != nil {
		tex, err := d.creator.NewTextureFromRGBA(props.Width, props.Height, pix)
		if err != nil {
			return nil, fmt.Errorf("%w: NewTextureFromRGBA: %w", ErrAllocationFailed, err)
		}
		handle = tex
	}

	d.live.Inc()
	return buffer.New(props,
		buffer.WithPixels(pix, stride),
		buffer.WithHandle(handle),
		buffer.WithRelease(func(b *buffer.Buffer) {
			d.live.Dec()
			if destroyer, ok := b.Handle().(textureDestroyer); ok {
				destroyer.Destroy()
			}
		}),
	), nil
}

// Live returns the number of buffers not yet released.
func (d *Device) Live() int64 { return d.live.Load() }
