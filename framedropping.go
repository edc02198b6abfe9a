package bundle

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/gogpu/bundle/buffer"
)

// FrameDropping is the Swapper that never makes the compositor wait.
//
// Only the newest completed frame is kept for the compositor; a release
// that supersedes an undisplayed frame returns the older buffer to the
// free queue and counts it as dropped. When no buffer is free the client
// takes over the oldest undisplayed frame instead of waiting.
//
// CompositorAcquire never blocks. Without a new frame it serves the last
// displayed buffer again, or the oldest free buffer before the first
// frame. With more than one buffer the client may hold at most Count()-1
// of them so there is always something to display.
type FrameDropping struct {
	mu         sync.Mutex
	clientCond *sync.Cond
	l          *ledger
	forced     Completion
	dropped    atomic.Uint64
}

// NewFrameDropping creates a frame-dropping Swapper that takes ownership
// of h. Of the pending frames in h only the newest is kept. Until a new
// frame arrives the compositor is served h.Shown again.
func NewFrameDropping(h Handoff) (*FrameDropping, error) {
	l, err := newLedger(h)
	if err != nil {
		return nil, err
	}
	s := &FrameDropping{l: l}
	s.clientCond = sync.NewCond(&s.mu)

	for len(l.pending) > 1 {
		l.dropOldestPending()
		s.dropped.Inc()
	}
	if l.shown == nil {
		for _, slot := range h.Slots {
			if slot.Residency == CompositorOwned {
				l.shown = slot.Buffer
				break
			}
		}
	}
	return s, nil
}

// clientMayAcquire reports whether the client reserve allows another
// client buffer.
func (s *FrameDropping) clientMayAcquire() bool {
	n := s.l.count()
	return n == 1 || s.l.client < n-1
}

// ClientAcquire implements Swapper.
func (s *FrameDropping) ClientAcquire() (*buffer.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.l.retired {
			return nil, ErrSwapperRetired
		}
		if s.clientMayAcquire() {
			if len(s.l.free) == 0 && s.l.dropOldestPending() != nil {
				s.dropped.Inc()
			}
			if b := s.l.takeFree(s.l.shown); b != nil {
				return b, nil
			}
		}
		if s.forced != completionNone {
			return nil, &ForcedCompletionError{Mode: s.forced}
		}
		s.clientCond.Wait()
	}
}

// ClientRelease implements Swapper.
func (s *FrameDropping) ClientRelease(b *buffer.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.l.retired {
		return ErrSwapperRetired
	}
	if err := s.l.clientRelease(b); err != nil {
		return err
	}
	if len(s.l.pending) > 1 {
		s.l.dropOldestPending()
		s.dropped.Inc()
	}
	s.clientCond.Signal()
	return nil
}

// CompositorAcquire implements Swapper. It returns ErrNoFrameAvailable
// only when the client holds every buffer.
func (s *FrameDropping) CompositorAcquire() (*buffer.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.l.retired {
		return nil, ErrSwapperRetired
	}
	if b := s.l.popPending(); b != nil {
		return b, nil
	}
	if b := s.l.shown; b != nil && s.l.holdAgain(b) {
		return b, nil
	}
	if len(s.l.free) > 0 {
		b := s.l.free[0]
		s.l.holdAgain(b)
		return b, nil
	}
	return nil, ErrNoFrameAvailable
}

// CompositorRelease implements Swapper.
func (s *FrameDropping) CompositorRelease(b *buffer.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.l.retired {
		return ErrSwapperRetired
	}
	if err := s.l.compositorRelease(b); err != nil {
		return err
	}
	s.clientCond.Signal()
	return nil
}

// ForceClientCompletion implements Swapper. The compositor side never
// blocks, so only client waiters are woken.
func (s *FrameDropping) ForceClientCompletion(mode Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode > s.forced {
		s.forced = mode
	}
	s.clientCond.Broadcast()
}

// EndResponsibility implements Swapper.
func (s *FrameDropping) EndResponsibility() Handoff {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.l.retired {
		return Handoff{}
	}
	h := s.l.handoff()
	s.clientCond.Broadcast()
	return h
}

// Kind returns KindFrameDropping.
func (s *FrameDropping) Kind() Kind { return KindFrameDropping }

// Count implements Swapper.
func (s *FrameDropping) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.l.count()
}

// Dropped returns the number of completed frames that were never displayed.
func (s *FrameDropping) Dropped() uint64 {
	return s.dropped.Load()
}

var _ Swapper = (*FrameDropping)(nil)
