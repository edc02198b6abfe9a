package buffer

import "errors"

// Common errors for buffer descriptions.
var (
	// ErrInvalidDimensions is returned when width or height is non-positive.
	ErrInvalidDimensions = errors.New("buffer: invalid dimensions")

	// ErrUnsupportedFormat is returned for formats a buffer cannot carry.
	ErrUnsupportedFormat = errors.New("buffer: unsupported format")

	// ErrNoUsage is returned when realized properties carry no usage flags.
	ErrNoUsage = errors.New("buffer: no usage flags")
)

// UnknownFormatError is returned by ParseFormat for names it does not know.
type UnknownFormatError struct {
	Name string
}

func (e *UnknownFormatError) Error() string {
	return "buffer: unknown format name: " + e.Name
}

// Unwrap lets errors.Is match ErrUnsupportedFormat.
func (e *UnknownFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}
