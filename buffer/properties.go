package buffer

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// DefaultUsage is the usage applied when a request leaves Usage empty:
// the client renders into the buffer and the compositor samples it.
const DefaultUsage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding

// Properties describes the buffers of one pool.
//
// Properties is a comparable value type. Every buffer of a bundle carries
// the same Properties for the whole lifetime of the bundle.
type Properties struct {
	// Width is the buffer width in pixels.
	Width int

	// Height is the buffer height in pixels.
	Height int

	// Format is the pixel format. gputypes.TextureFormatUndefined in a
	// request lets the allocator choose.
	Format gputypes.TextureFormat

	// Usage lists how the buffer will be used. Zero in a request means
	// DefaultUsage.
	Usage gputypes.TextureUsage
}

// NewProperties returns Properties for a width×height buffer of format f
// with DefaultUsage.
func NewProperties(width, height int, f gputypes.TextureFormat) Properties {
	return Properties{
		Width:  width,
		Height: height,
		Format: f,
		Usage:  DefaultUsage,
	}
}

// Validate reports whether p describes a buffer that can be allocated.
// Requests may leave Format undefined and Usage empty; realized properties
// returned by an allocator always pass ValidateRealized.
func (p Properties) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, p.Width, p.Height)
	}
	if p.Format == gputypes.TextureFormatUndefined {
		return nil
	}
	if _, ok := LookupFormat(p.Format); !ok {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, p.Format)
	}
	return nil
}

// ValidateRealized is Validate plus the requirement that Format and Usage
// are set.
func (p Properties) ValidateRealized() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Format == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: format undefined", ErrUnsupportedFormat)
	}
	if p.Usage == 0 {
		return ErrNoUsage
	}
	return nil
}

// SizeBytes returns the unpadded pixel storage size of one buffer.
func (p Properties) SizeBytes() int {
	return RowBytes(p.Format, p.Width) * p.Height
}

// String returns a compact description, e.g. "64x48 rgba8888".
func (p Properties) String() string {
	return fmt.Sprintf("%dx%d %s", p.Width, p.Height, FormatName(p.Format))
}
