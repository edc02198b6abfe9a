package buffer

import (
	"strings"

	"github.com/gogpu/gputypes"
)

// FormatInfo contains metadata about a buffer pixel format.
type FormatInfo struct {
	// Name is the short lowercase name used in logs and flags.
	Name string

	// BytesPerPixel is the number of bytes per pixel.
	BytesPerPixel int

	// Channels is the number of color channels.
	Channels int

	// HasAlpha indicates if the format has an alpha channel.
	HasAlpha bool
}

// formatInfoTable lists the formats a bundle buffer may use.
// Depth and stencil formats are not valid buffer formats.
var formatInfoTable = map[gputypes.TextureFormat]FormatInfo{
	gputypes.TextureFormatRGBA8Unorm: {
		Name:          "rgba8888",
		BytesPerPixel: 4,
		Channels:      4,
		HasAlpha:      true,
	},
	gputypes.TextureFormatBGRA8Unorm: {
		Name:          "bgra8888",
		BytesPerPixel: 4,
		Channels:      4,
		HasAlpha:      true,
	},
	gputypes.TextureFormatR8Unorm: {
		Name:          "r8",
		BytesPerPixel: 1,
		Channels:      1,
		HasAlpha:      false,
	},
}

// formatAliases maps alternative spellings onto table names.
var formatAliases = map[string]string{
	"rgba_8888": "rgba8888",
	"abgr_8888": "rgba8888",
	"rgba8":     "rgba8888",
	"bgra_8888": "bgra8888",
	"argb_8888": "bgra8888",
	"bgra8":     "bgra8888",
	"gray8":     "r8",
}

// LookupFormat returns the FormatInfo for f.
// The boolean is false for formats a buffer cannot carry, including
// gputypes.TextureFormatUndefined.
func LookupFormat(f gputypes.TextureFormat) (FormatInfo, bool) {
	info, ok := formatInfoTable[f]
	return info, ok
}

// BytesPerPixel returns the number of bytes per pixel for f, or 0 if the
// format is not supported.
func BytesPerPixel(f gputypes.TextureFormat) int {
	return formatInfoTable[f].BytesPerPixel
}

// FormatName returns the short name of f, or "undefined"/"unknown".
func FormatName(f gputypes.TextureFormat) string {
	if f == gputypes.TextureFormatUndefined {
		return "undefined"
	}
	if info, ok := formatInfoTable[f]; ok {
		return info.Name
	}
	return "unknown"
}

// ParseFormat resolves a format name such as "rgba8888" or "rgba_8888".
// The empty string and "undefined" resolve to gputypes.TextureFormatUndefined,
// which asks the allocator to pick a format.
func ParseFormat(name string) (gputypes.TextureFormat, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" || n == "undefined" {
		return gputypes.TextureFormatUndefined, nil
	}
	if alias, ok := formatAliases[n]; ok {
		n = alias
	}
	for f, info := range formatInfoTable {
		if info.Name == n {
			return f, nil
		}
	}
	return gputypes.TextureFormatUndefined, &UnknownFormatError{Name: name}
}

// RowBytes returns the unpadded number of bytes for a row of width pixels.
func RowBytes(f gputypes.TextureFormat, width int) int {
	return width * BytesPerPixel(f)
}

// AlignedStride returns the row stride for width pixels rounded up to a
// multiple of align bytes. An align of 0 or 1 returns the unpadded row size.
func AlignedStride(f gputypes.TextureFormat, width, align int) int {
	row := RowBytes(f, width)
	if align <= 1 {
		return row
	}
	return (row + align - 1) / align * align
}
