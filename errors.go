package bundle

import (
	"errors"
	"fmt"

	"github.com/gogpu/bundle/buffer"
)

// Errors.
var (
	// ErrForcedCompletion matches every *ForcedCompletionError.
	ErrForcedCompletion = errors.New("bundle: forced completion")

	// ErrBundleClosed is returned by acquires after ForceClientCompletion
	// or Close, and by AllowFramedropping on such a bundle.
	ErrBundleClosed = errors.New("bundle: bundle closed")

	// ErrSwapperRetired is returned by a Swapper after EndResponsibility.
	ErrSwapperRetired = errors.New("bundle: swapper retired")

	// ErrNotOwned is matched by *BufferStateError.
	ErrNotOwned = errors.New("bundle: buffer not owned by caller")

	// ErrInvalidHandoff is returned when a Handoff cannot seed a Swapper.
	ErrInvalidHandoff = errors.New("bundle: invalid handoff")

	// ErrNoFrameAvailable is returned by a frame-dropping CompositorAcquire
	// when every buffer is with the client.
	ErrNoFrameAvailable = errors.New("bundle: no frame available")

	// ErrUnknownKind is returned for an unrecognized Kind.
	ErrUnknownKind = errors.New("bundle: unknown swapper kind")

	// ErrInvalidBufferCount is returned by NewFactory for a pool of fewer
	// than one buffer.
	ErrInvalidBufferCount = errors.New("bundle: invalid buffer count")

	// ErrNilFactory is returned when New is given a nil SwapperFactory.
	ErrNilFactory = errors.New("bundle: nil swapper factory")
)

// ForcedCompletionError is returned by a Swapper acquire that was cut
// short by ForceClientCompletion.
type ForcedCompletionError struct {
	Mode Completion
}

func (e *ForcedCompletionError) Error() string {
	return "bundle: forced completion (" + e.Mode.String() + ")"
}

// Is reports whether target is ErrForcedCompletion.
func (e *ForcedCompletionError) Is(target error) bool {
	return target == ErrForcedCompletion
}

// Retryable reports whether the waiter should retry on a replacement Swapper.
func (e *ForcedCompletionError) Retryable() bool {
	return e.Mode == CompletionRetry
}

// BufferStateError reports a release of a buffer the caller does not hold.
type BufferStateError struct {
	// Op is the failing operation, e.g. "ClientRelease".
	Op string

	// Buffer is the ID of the offending buffer.
	Buffer buffer.ID

	// Want is the residency the operation requires.
	Want Residency

	// Got is the buffer's residency; meaningless when Known is false.
	Got Residency

	// Known is false when the buffer does not belong to the pool at all.
	Known bool
}

func (e *BufferStateError) Error() string {
	if !e.Known {
		return fmt.Sprintf("bundle: %s: buffer %d does not belong to this pool", e.Op, e.Buffer)
	}
	return fmt.Sprintf("bundle: %s: buffer %d is %s, want %s", e.Op, e.Buffer, e.Got, e.Want)
}

// Unwrap lets errors.Is match ErrNotOwned.
func (e *BufferStateError) Unwrap() error {
	return ErrNotOwned
}
