// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bundle

import (
	"fmt"

	"github.com/gogpu/bundle/buffer"
)

// Kind selects the queueing discipline of a Swapper.
type Kind uint8

const (
	// KindSynchronous hands every completed frame to the compositor and
	// lets the client hold at most one buffer at a time.
	KindSynchronous Kind = iota

	// KindFrameDropping never makes the compositor wait: it always gets
	// the newest completed frame and superseded frames are dropped.
	KindFrameDropping
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSynchronous:
		return "synchronous"
	case KindFrameDropping:
		return "framedropping"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Completion selects what a forced completion means to the waiter.
type Completion uint8

const (
	// completionNone is the state of a Swapper that has not been forced.
	completionNone Completion = iota

	// CompletionRetry unblocks waiters so they retry against the Swapper
	// that replaces this one.
	CompletionRetry

	// CompletionTerminal unblocks waiters for good; the surface is going away.
	CompletionTerminal
)

// String returns the completion mode name.
func (c Completion) String() string {
	switch c {
	case completionNone:
		return "none"
	case CompletionRetry:
		return "retry"
	case CompletionTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("Completion(%d)", uint8(c))
	}
}

// Swapper owns a fixed set of buffers and implements the acquire/release
// protocol between one client and one compositor.
//
// Each buffer is in exactly one Residency at any time. The client moves
// buffers Free → ClientOwned → CompositorPending; the compositor moves
// them CompositorPending → CompositorOwned → Free. Releasing a buffer the
// caller does not hold returns a *BufferStateError.
//
// All methods are safe for concurrent use.
type Swapper interface {
	// ClientAcquire returns a buffer for the client to render into,
	// blocking until one is available. After ForceClientCompletion it
	// returns a *ForcedCompletionError instead of blocking.
	ClientAcquire() (*buffer.Buffer, error)

	// ClientRelease hands a rendered buffer on to the compositor.
	ClientRelease(b *buffer.Buffer) error

	// CompositorAcquire returns the buffer to display next.
	CompositorAcquire() (*buffer.Buffer, error)

	// CompositorRelease returns a displayed buffer to the pool.
	CompositorRelease(b *buffer.Buffer) error

	// ForceClientCompletion wakes every goroutine blocked in an acquire
	// and makes later acquires that would block fail with a
	// *ForcedCompletionError carrying mode. A terminal mode is never
	// downgraded to retry.
	ForceClientCompletion(mode Completion)

	// EndResponsibility hands every buffer, with its residency, to the
	// caller. The Swapper never touches them again; later calls fail
	// with ErrSwapperRetired.
	EndResponsibility() Handoff

	// Kind returns the queueing discipline.
	Kind() Kind

	// Count returns the number of buffers the Swapper is responsible for.
	Count() int
}

// Residency is the ownership state of one buffer.
type Residency uint8

const (
	// Free buffers wait for the client.
	Free Residency = iota

	// ClientOwned buffers are being rendered by the client.
	ClientOwned

	// CompositorPending buffers hold a completed frame not yet displayed.
	CompositorPending

	// CompositorOwned buffers are being displayed by the compositor.
	CompositorOwned
)

// String returns the residency name.
func (r Residency) String() string {
	switch r {
	case Free:
		return "free"
	case ClientOwned:
		return "client"
	case CompositorPending:
		return "pending"
	case CompositorOwned:
		return "compositor"
	default:
		return fmt.Sprintf("Residency(%d)", uint8(r))
	}
}

// Slot is one buffer of a Handoff.
type Slot struct {
	Buffer    *buffer.Buffer
	Residency Residency

	// Holds is the number of outstanding compositor acquisitions of a
	// CompositorOwned buffer, and 0 for every other residency.
	Holds int
}

// Handoff is the complete buffer set of a retired Swapper.
//
// Free slots come first in reuse order, then CompositorPending slots
// oldest first, then outstanding buffers. The Handoff owns the pool
// reference of every buffer; passing it to SwapperFactory.ReuseBuffers
// transfers that ownership to the new Swapper.
type Handoff struct {
	Slots []Slot

	// Shown is the buffer the compositor acquired last, or nil if it has
	// never acquired one. It is one of the buffers in Slots.
	Shown *buffer.Buffer
}

// NewHandoff returns a Handoff in which every buffer is Free.
func NewHandoff(bufs []*buffer.Buffer) Handoff {
	slots := make([]Slot, len(bufs))
	for i, b := range bufs {
		slots[i] = Slot{Buffer: b, Residency: Free}
	}
	return Handoff{Slots: slots}
}

// Count returns the number of buffers.
func (h Handoff) Count() int { return len(h.Slots) }

// Buffers returns the buffers in slot order.
func (h Handoff) Buffers() []*buffer.Buffer {
	bufs := make([]*buffer.Buffer, len(h.Slots))
	for i, s := range h.Slots {
		bufs[i] = s.Buffer
	}
	return bufs
}

// Release drops the pool reference of every buffer. Buffers still held
// by a client or compositor stay alive until their holders release them.
func (h Handoff) Release() {
	for _, s := range h.Slots {
		if s.Buffer != nil {
			s.Buffer.Unref()
		}
	}
}
