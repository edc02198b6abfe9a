// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bundle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/gogpu/bundle/buffer"
)

// orphan is a buffer still held by a client or compositor when the
// bundle was closed.
type orphan struct {
	res   Residency
	holds int
}

// SwitchingBundle is the buffer pool of one surface. It forwards client
// and compositor calls to the active Swapper and replaces that Swapper
// when the frame-dropping policy changes, without losing buffers or
// leaving waiters parked.
//
// Buffer operations share a read lock and run concurrently. A policy swap
// takes the write lock, so it waits for in-flight operations and blocks
// new ones until the replacement is installed. Acquires cut short by a
// swap wait for the replacement and retry against it.
//
// SwitchingBundle is safe for concurrent use.
type SwitchingBundle struct {
	factory SwapperFactory
	props   buffer.Properties
	log     *slog.Logger

	// swapMu serializes AllowFramedropping and Close.
	swapMu sync.Mutex

	mu      sync.RWMutex
	cond    *sync.Cond // L is mu.RLocker(); signalled on every install
	swapper Swapper    // nil once closed
	kind    Kind
	count   int
	gen     uint64
	closed  bool

	// terminated latches the first terminal forced completion.
	terminated atomic.Bool

	orphanMu sync.Mutex
	orphans  map[*buffer.Buffer]*orphan

	swaps   atomic.Uint64
	forced  atomic.Uint64
	retries atomic.Uint64
	dropped atomic.Uint64 // from retired frame-dropping swappers
}

// New creates a bundle with a synchronous Swapper over a fresh buffer set
// allocated by factory for requested. Properties reports the realized
// properties.
func New(factory SwapperFactory, requested buffer.Properties, opts ...Option) (*SwitchingBundle, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	var o bundleOptions
	for _, opt := range opts {
		opt(&o)
	}

	s, props, err := factory.NewBuffers(requested, KindSynchronous)
	if err != nil {
		return nil, fmt.Errorf("bundle: create: %w", err)
	}

	b := &SwitchingBundle{
		factory: factory,
		props:   props,
		log:     o.log(),
		swapper: s,
		kind:    s.Kind(),
		count:   s.Count(),
	}
	b.cond = sync.NewCond(b.mu.RLocker())
	b.log.Info("bundle: created",
		"properties", props.String(), "buffers", b.count, "kind", b.kind.String())
	return b, nil
}

// Properties returns the realized buffer properties. They do not change
// for the lifetime of the bundle.
func (b *SwitchingBundle) Properties() buffer.Properties {
	return b.props
}

// ClientAcquire returns a buffer for the client to render into, blocking
// until one is available. It fails with ErrBundleClosed once the bundle
// is closed or ForceClientCompletion has been called.
func (b *SwitchingBundle) ClientAcquire() (*buffer.Buffer, error) {
	return b.acquire("ClientAcquire", Swapper.ClientAcquire)
}

// CompositorAcquire returns the buffer to display next. Under the
// synchronous policy it blocks until the client completes a frame. It
// fails like ClientAcquire once the bundle is closed or terminated.
func (b *SwitchingBundle) CompositorAcquire() (*buffer.Buffer, error) {
	return b.acquire("CompositorAcquire", Swapper.CompositorAcquire)
}

// acquire runs fn against the active Swapper under the read lock. A
// retryable forced completion parks the caller until a replacement
// Swapper is installed and then retries against it.
func (b *SwitchingBundle) acquire(op string, fn func(Swapper) (*buffer.Buffer, error)) (*buffer.Buffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for {
		if b.closed {
			return nil, ErrBundleClosed
		}
		if b.terminated.Load() {
			return nil, fmt.Errorf("%w: %w", ErrBundleClosed, &ForcedCompletionError{Mode: CompletionTerminal})
		}
		gen := b.gen
		buf, err := fn(b.swapper)
		if err == nil {
			return buf, nil
		}

		var fe *ForcedCompletionError
		switch {
		case errors.As(err, &fe):
			if !fe.Retryable() || b.terminated.Load() {
				return nil, fmt.Errorf("%w: %w", ErrBundleClosed, err)
			}
		case errors.Is(err, ErrSwapperRetired):
		default:
			return nil, err
		}

		b.retries.Inc()
		b.log.Debug("bundle: waiting for replacement swapper", "op", op)
		for b.gen == gen && !b.closed && !b.terminated.Load() {
			b.cond.Wait()
		}
	}
}

// ClientRelease hands a rendered buffer on to the compositor.
func (b *SwitchingBundle) ClientRelease(buf *buffer.Buffer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return b.releaseOrphan("ClientRelease", buf, ClientOwned)
	}
	return b.swapper.ClientRelease(buf)
}

// CompositorRelease returns a displayed buffer to the pool.
func (b *SwitchingBundle) CompositorRelease(buf *buffer.Buffer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return b.releaseOrphan("CompositorRelease", buf, CompositorOwned)
	}
	return b.swapper.CompositorRelease(buf)
}

// ForceClientCompletion unblocks every goroutine waiting in an acquire
// for good: they, and every later acquire, fail with ErrBundleClosed.
// Releases keep working. Use it when the surface is destroyed. A later
// AllowFramedropping cannot undo it.
func (b *SwitchingBundle) ForceClientCompletion() {
	b.forced.Inc()
	first := b.terminated.CompareAndSwap(false, true)

	b.mu.RLock()
	if b.swapper != nil {
		b.swapper.ForceClientCompletion(CompletionTerminal)
	}
	b.mu.RUnlock()

	// Waiters in the retry loop hold no Swapper wait; wake them under the
	// write lock so none can miss the latch.
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()

	if first {
		b.log.Debug("bundle: terminal forced completion")
	}
}

// AllowFramedropping replaces the active Swapper with a frame-dropping
// one when allow is true and with a synchronous one otherwise. The new
// Swapper takes over exactly the buffers of the old one, with their
// ownership intact.
//
// If the replacement cannot be built, a Swapper of the previous kind is
// reinstated over the same buffers and the error is returned.
func (b *SwitchingBundle) AllowFramedropping(allow bool) error {
	b.swapMu.Lock()
	defer b.swapMu.Unlock()

	if b.closed || b.terminated.Load() {
		return ErrBundleClosed
	}
	kind := KindSynchronous
	if allow {
		kind = KindFrameDropping
	}

	b.mu.RLock()
	b.swapper.ForceClientCompletion(CompletionRetry)
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.swapper
	h := old.EndResponsibility()
	b.collectDropped(old)

	next, err := b.factory.ReuseBuffers(b.props, h, kind)
	if err == nil && next.Count() != h.Count() {
		err = fmt.Errorf("%w: %s swapper took %d of %d buffers", ErrInvalidHandoff, kind, next.Count(), h.Count())
		// next was never installed, so h still describes every buffer.
		next.EndResponsibility()
	}
	if err != nil {
		err = fmt.Errorf("bundle: switch to %s: %w", kind, err)
		restored, rerr := newSwapper(old.Kind(), h)
		if rerr != nil {
			b.closeLocked(h)
			b.log.Error("bundle: swap failed, bundle closed", "err", err, "reinstate_err", rerr)
			return errors.Join(err, fmt.Errorf("bundle: reinstate %s: %w", old.Kind(), rerr))
		}
		b.install(restored)
		b.log.Warn("bundle: swap failed, previous policy reinstated", "kind", old.Kind().String(), "err", err)
		return err
	}

	b.install(next)
	b.swaps.Inc()
	b.log.Info("bundle: policy changed", "from", old.Kind().String(), "to", kind.String(), "buffers", h.Count())
	return nil
}

// install makes s the active Swapper and wakes retrying waiters.
// b.mu must be held for writing.
func (b *SwitchingBundle) install(s Swapper) {
	b.swapper = s
	b.kind = s.Kind()
	b.count = s.Count()
	b.gen++
	if b.terminated.Load() {
		s.ForceClientCompletion(CompletionTerminal)
	}
	b.cond.Broadcast()
}

// droppedCounter is implemented by Swappers that drop frames.
type droppedCounter interface {
	Dropped() uint64
}

// collectDropped folds the drop count of a retired Swapper into the bundle.
func (b *SwitchingBundle) collectDropped(s Swapper) {
	if dc, ok := s.(droppedCounter); ok {
		b.dropped.Add(dc.Dropped())
	}
}

// Close tears the bundle down: waiters are released with ErrBundleClosed
// and the pool references of all buffers are dropped. Buffers still held
// by the client or compositor are freed when they are released. Close is
// idempotent.
func (b *SwitchingBundle) Close() error {
	b.swapMu.Lock()
	defer b.swapMu.Unlock()

	if b.closed {
		return nil
	}
	b.ForceClientCompletion()

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.swapper.EndResponsibility()
	b.collectDropped(b.swapper)
	b.closeLocked(h)
	b.log.Info("bundle: closed", "buffers", h.Count(), "outstanding", b.outstanding())
	return nil
}

// closeLocked marks the bundle closed, keeps track of the outstanding
// buffers of h and drops its pool references. b.mu must be held for writing.
func (b *SwitchingBundle) closeLocked(h Handoff) {
	b.orphanMu.Lock()
	for _, s := range h.Slots {
		switch s.Residency {
		case ClientOwned:
			b.addOrphan(s.Buffer, ClientOwned, 1)
		case CompositorOwned:
			b.addOrphan(s.Buffer, CompositorOwned, s.Holds)
		}
	}
	b.orphanMu.Unlock()

	h.Release()
	b.terminated.Store(true)
	b.swapper = nil
	b.closed = true
	b.gen++
	b.cond.Broadcast()
}

// addOrphan records holds outstanding holder references. b.orphanMu must be held.
func (b *SwitchingBundle) addOrphan(buf *buffer.Buffer, res Residency, holds int) {
	if b.orphans == nil {
		b.orphans = make(map[*buffer.Buffer]*orphan)
	}
	b.orphans[buf] = &orphan{res: res, holds: holds}
}

// outstanding returns the number of buffers still held after close.
func (b *SwitchingBundle) outstanding() int {
	b.orphanMu.Lock()
	defer b.orphanMu.Unlock()

	return len(b.orphans)
}

// releaseOrphan drops the holder reference of a buffer released after close.
func (b *SwitchingBundle) releaseOrphan(op string, buf *buffer.Buffer, want Residency) error {
	b.orphanMu.Lock()
	defer b.orphanMu.Unlock()

	o, ok := b.orphans[buf]
	if !ok {
		var id buffer.ID
		if buf != nil {
			id = buf.ID()
		}
		return &BufferStateError{Op: op, Buffer: id, Want: want}
	}
	if o.res != want {
		return &BufferStateError{Op: op, Buffer: buf.ID(), Want: want, Got: o.res, Known: true}
	}

	o.holds--
	if o.holds == 0 {
		delete(b.orphans, buf)
	}
	buf.Unref()
	b.log.Warn("bundle: buffer released after close", "op", op, "buffer", uint64(buf.ID()))
	return nil
}

// Kind returns the active queueing discipline, or the last one once closed.
func (b *SwitchingBundle) Kind() Kind {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.kind
}

// Stats returns the bundle counters.
func (b *SwitchingBundle) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Kind:    b.kind,
		Buffers: b.count,
		Swaps:   b.swaps.Load(),
		Forced:  b.forced.Load(),
		Retries: b.retries.Load(),
		Dropped: b.dropped.Load(),
		Closed:  b.closed,
	}
	if dc, ok := b.swapper.(droppedCounter); ok {
		st.Dropped += dc.Dropped()
	}
	return st
}
