package bundle

import (
	"sync"

	"github.com/gogpu/bundle/buffer"
)

// Synchronous is the Swapper that never drops a frame.
//
// The client holds at most one buffer at a time: ClientAcquire blocks
// while the client already holds one or while no buffer is free.
// Completed frames are displayed in order; CompositorAcquire blocks until
// the client has completed a frame the compositor has not taken yet.
type Synchronous struct {
	mu             sync.Mutex
	clientCond     *sync.Cond
	compositorCond *sync.Cond
	l              *ledger
	forced         Completion
}

// NewSynchronous creates a synchronous Swapper that takes ownership of h.
// Outstanding buffers in h stay with their holders; pending frames are
// displayed in their original order.
func NewSynchronous(h Handoff) (*Synchronous, error) {
	l, err := newLedger(h)
	if err != nil {
		return nil, err
	}
	s := &Synchronous{l: l}
	s.clientCond = sync.NewCond(&s.mu)
	s.compositorCond = sync.NewCond(&s.mu)
	return s, nil
}

// ClientAcquire implements Swapper.
func (s *Synchronous) ClientAcquire() (*buffer.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.l.retired {
			return nil, ErrSwapperRetired
		}
		if s.l.client == 0 {
			if b := s.l.takeFree(nil); b != nil {
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
func (s *Synchronous) ClientRelease(b *buffer.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.l.retired {
		return ErrSwapperRetired
	}
	if err := s.l.clientRelease(b); err != nil {
		return err
	}
	s.compositorCond.Signal()
	// Another client goroutine may be waiting for the client slot.
	s.clientCond.Signal()
	return nil
}

// CompositorAcquire implements Swapper.
func (s *Synchronous) CompositorAcquire() (*buffer.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.l.retired {
			return nil, ErrSwapperRetired
		}
		if b := s.l.popPending(); b != nil {
			return b, nil
		}
		if s.forced != completionNone {
			return nil, &ForcedCompletionError{Mode: s.forced}
		}
		s.compositorCond.Wait()
	}
}

// CompositorRelease implements Swapper.
func (s *Synchronous) CompositorRelease(b *buffer.Buffer) error {
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

// ForceClientCompletion implements Swapper.
func (s *Synchronous) ForceClientCompletion(mode Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode > s.forced {
		s.forced = mode
	}
	s.clientCond.Broadcast()
	s.compositorCond.Broadcast()
}

// EndResponsibility implements Swapper.
func (s *Synchronous) EndResponsibility() Handoff {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.l.retired {
		return Handoff{}
	}
	h := s.l.handoff()
	s.clientCond.Broadcast()
	s.compositorCond.Broadcast()
	return h
}

// Kind returns KindSynchronous.
func (s *Synchronous) Kind() Kind { return KindSynchronous }

// Count implements Swapper.
func (s *Synchronous) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.l.count()
}

var _ Swapper = (*Synchronous)(nil)
