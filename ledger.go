package bundle

import (
	"fmt"
	"slices"

	"github.com/gogpu/bundle/buffer"
)

// ledgerEntry is the state of one buffer in a ledger.
type ledgerEntry struct {
	res   Residency
	holds int
}

// ledger tracks the residency of every buffer of a Swapper.
//
// The ledger owns one pool reference per buffer and adds a holder
// reference for every client or compositor acquisition. It is not
// synchronized; Swappers call it with their own mutex held.
type ledger struct {
	entries map[*buffer.Buffer]*ledgerEntry
	order   []*buffer.Buffer // seeding order, for stable handoffs
	free    []*buffer.Buffer // FIFO
	pending []*buffer.Buffer // oldest first
	client  int              // number of ClientOwned buffers
	shown   *buffer.Buffer   // last buffer handed to the compositor
	retired bool
}

// newLedger validates h and builds a ledger from it.
func newLedger(h Handoff) (*ledger, error) {
	if h.Count() == 0 {
		return nil, fmt.Errorf("%w: no buffers", ErrInvalidHandoff)
	}

	l := &ledger{
		entries: make(map[*buffer.Buffer]*ledgerEntry, h.Count()),
		order:   make([]*buffer.Buffer, 0, h.Count()),
	}
	var props buffer.Properties
	for i, s := range h.Slots {
		if s.Buffer == nil {
			return nil, fmt.Errorf("%w: slot %d has no buffer", ErrInvalidHandoff, i)
		}
		if s.Buffer.Released() {
			return nil, fmt.Errorf("%w: %s already released", ErrInvalidHandoff, s.Buffer)
		}
		if _, dup := l.entries[s.Buffer]; dup {
			return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidHandoff, s.Buffer)
		}
		if i == 0 {
			props = s.Buffer.Properties()
		} else if s.Buffer.Properties() != props {
			return nil, fmt.Errorf("%w: %s does not match %s", ErrInvalidHandoff, s.Buffer, props)
		}

		wantHolds := s.Residency == CompositorOwned
		if wantHolds != (s.Holds > 0) || s.Holds < 0 {
			return nil, fmt.Errorf("%w: %s is %s with %d holds", ErrInvalidHandoff, s.Buffer, s.Residency, s.Holds)
		}

		switch s.Residency {
		case Free:
			l.free = append(l.free, s.Buffer)
		case CompositorPending:
			l.pending = append(l.pending, s.Buffer)
		case ClientOwned:
			l.client++
		case CompositorOwned:
		default:
			return nil, fmt.Errorf("%w: %s has residency %s", ErrInvalidHandoff, s.Buffer, s.Residency)
		}
		l.entries[s.Buffer] = &ledgerEntry{res: s.Residency, holds: s.Holds}
		l.order = append(l.order, s.Buffer)
	}
	if h.Shown != nil {
		if _, ok := l.entries[h.Shown]; !ok {
			return nil, fmt.Errorf("%w: shown %s is not in the handoff", ErrInvalidHandoff, h.Shown)
		}
		l.shown = h.Shown
	}
	return l, nil
}

// count returns the number of buffers in the ledger.
func (l *ledger) count() int { return len(l.order) }

// residency returns the state of b and whether b belongs to the ledger.
func (l *ledger) residency(b *buffer.Buffer) (Residency, bool) {
	e, ok := l.entries[b]
	if !ok {
		return 0, false
	}
	return e.res, true
}

// check returns a *BufferStateError unless b is in residency want.
func (l *ledger) check(op string, b *buffer.Buffer, want Residency) (*ledgerEntry, error) {
	if b == nil {
		return nil, &BufferStateError{Op: op, Want: want}
	}
	e, ok := l.entries[b]
	if !ok {
		return nil, &BufferStateError{Op: op, Buffer: b.ID(), Want: want}
	}
	if e.res != want {
		return nil, &BufferStateError{Op: op, Buffer: b.ID(), Want: want, Got: e.res, Known: true}
	}
	return e, nil
}

// takeFree moves a free buffer to the client. It prefers any buffer
// other than avoid and returns nil when no buffer is free.
func (l *ledger) takeFree(avoid *buffer.Buffer) *buffer.Buffer {
	if len(l.free) == 0 {
		return nil
	}
	i := 0
	if l.free[0] == avoid && len(l.free) > 1 {
		i = 1
	}
	b := l.free[i]
	l.free = slices.Delete(l.free, i, i+1)
	l.entries[b].res = ClientOwned
	l.client++
	return b.Ref()
}

// clientRelease moves a ClientOwned buffer to the back of the pending queue.
func (l *ledger) clientRelease(b *buffer.Buffer) error {
	e, err := l.check("ClientRelease", b, ClientOwned)
	if err != nil {
		return err
	}
	e.res = CompositorPending
	l.pending = append(l.pending, b)
	l.client--
	b.Unref()
	return nil
}

// popPending hands the oldest pending buffer to the compositor.
func (l *ledger) popPending() *buffer.Buffer {
	if len(l.pending) == 0 {
		return nil
	}
	b := l.pending[0]
	l.pending = slices.Delete(l.pending, 0, 1)
	e := l.entries[b]
	e.res = CompositorOwned
	e.holds = 1
	l.shown = b
	return b.Ref()
}

// dropOldestPending returns the oldest pending buffer to the free queue
// without displaying it.
func (l *ledger) dropOldestPending() *buffer.Buffer {
	if len(l.pending) == 0 {
		return nil
	}
	b := l.pending[0]
	l.pending = slices.Delete(l.pending, 0, 1)
	l.entries[b].res = Free
	l.free = append(l.free, b)
	return b
}

// holdAgain adds a compositor acquisition to a buffer that is either
// CompositorOwned or Free and marks it shown. It reports false for any
// other residency.
func (l *ledger) holdAgain(b *buffer.Buffer) bool {
	e, ok := l.entries[b]
	if !ok {
		return false
	}
	switch e.res {
	case CompositorOwned:
		e.holds++
	case Free:
		i := slices.Index(l.free, b)
		l.free = slices.Delete(l.free, i, i+1)
		e.res = CompositorOwned
		e.holds = 1
	default:
		return false
	}
	l.shown = b
	b.Ref()
	return true
}

// compositorRelease drops one compositor hold; the last one frees b.
func (l *ledger) compositorRelease(b *buffer.Buffer) error {
	e, err := l.check("CompositorRelease", b, CompositorOwned)
	if err != nil {
		return err
	}
	e.holds--
	if e.holds == 0 {
		e.res = Free
		l.free = append(l.free, b)
	}
	b.Unref()
	return nil
}

// handoff retires the ledger and returns its buffer set.
func (l *ledger) handoff() Handoff {
	slots := make([]Slot, 0, len(l.order))
	for _, b := range l.free {
		slots = append(slots, Slot{Buffer: b, Residency: Free})
	}
	for _, b := range l.pending {
		slots = append(slots, Slot{Buffer: b, Residency: CompositorPending})
	}
	for _, b := range l.order {
		e := l.entries[b]
		if e.res == ClientOwned || e.res == CompositorOwned {
			slots = append(slots, Slot{Buffer: b, Residency: e.res, Holds: e.holds})
		}
	}

	h := Handoff{Slots: slots, Shown: l.shown}

	l.entries = nil
	l.order = nil
	l.free = nil
	l.pending = nil
	l.client = 0
	l.shown = nil
	l.retired = true
	return h
}
