package bundle

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/bundle/allocator"
	"github.com/gogpu/bundle/buffer"
)

var errReuse = errors.New("reuse refused")

// flakyFactory wraps a Factory and can sabotage ReuseBuffers.
type flakyFactory struct {
	*Factory
	failReuse  bool
	shortReuse bool
}

func (f *flakyFactory) ReuseBuffers(props buffer.Properties, h Handoff, kind Kind) (Swapper, error) {
	switch {
	case f.failReuse:
		return nil, errReuse
	case f.shortReuse:
		return NewSynchronous(Handoff{Slots: h.Slots[:1]})
	default:
		return f.Factory.ReuseBuffers(props, h, kind)
	}
}

func newTestBundle(t *testing.T, n int, opts ...Option) (*SwitchingBundle, *allocator.Heap) {
	t.Helper()
	heap := allocator.NewHeap()
	f, err := NewFactory(WithBufferCount(n), WithAllocator(heap))
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	b, err := New(f, testProps, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, heap
}

// bufferSet returns the residency of every buffer of the active swapper.
func bufferSet(t *testing.T, b *SwitchingBundle) map[buffer.ID]Residency {
	t.Helper()
	b.mu.RLock()
	defer b.mu.RUnlock()

	var (
		mu *sync.Mutex
		l  *ledger
	)
	switch s := b.swapper.(type) {
	case *Synchronous:
		mu, l = &s.mu, s.l
	case *FrameDropping:
		mu, l = &s.mu, s.l
	default:
		t.Fatalf("active swapper is %T", b.swapper)
	}
	mu.Lock()
	defer mu.Unlock()

	set := make(map[buffer.ID]Residency, len(l.entries))
	for buf, e := range l.entries {
		set[buf.ID()] = e.res
	}
	return set
}

func sameBuffers(a, b map[buffer.ID]Residency) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, testProps); !errors.Is(err, ErrNilFactory) {
		t.Errorf("New(nil) error = %v, want ErrNilFactory", err)
	}

	f, err := NewFactory(WithAllocator(&failingAllocator{Heap: allocator.NewHeap()}))
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	if _, err := New(f, testProps); !errors.Is(err, allocator.ErrAllocationFailed) {
		t.Errorf("New() error = %v, want ErrAllocationFailed", err)
	}
}

func TestSwitchingBundle_RoundTrip(t *testing.T) {
	b, _ := newTestBundle(t, 1)

	a := mustAcquire(t, "ClientAcquire", b.ClientAcquire)
	mustRelease(t, "ClientRelease", b.ClientRelease, a)
	if got := mustAcquire(t, "CompositorAcquire", b.CompositorAcquire); got != a {
		t.Fatalf("CompositorAcquire() = %v, want %v", got, a)
	}
	mustRelease(t, "CompositorRelease", b.CompositorRelease, a)
	if got := mustAcquire(t, "ClientAcquire", b.ClientAcquire); got != a {
		t.Errorf("second ClientAcquire() = %v, want %v", got, a)
	}
	if b.Kind() != KindSynchronous {
		t.Errorf("Kind() = %s, want synchronous", b.Kind())
	}
}

func TestSwitchingBundle_PropertiesRealized(t *testing.T) {
	f, err := NewFactory(WithAllocator(allocator.NewHeap()))
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	b, err := New(f, buffer.Properties{Width: 64, Height: 48})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()

	want := testProps
	if got := b.Properties(); got != want {
		t.Fatalf("Properties() = %s, want %s", got, want)
	}
	for _, allow := range []bool{true, false, true} {
		if err := b.AllowFramedropping(allow); err != nil {
			t.Fatalf("AllowFramedropping(%v) error = %v", allow, err)
		}
		if got := b.Properties(); got != want {
			t.Errorf("Properties() after swap = %s, want %s", got, want)
		}
	}
}

func TestSwitchingBundle_AllowFramedroppingUnblocksClient(t *testing.T) {
	b, _ := newTestBundle(t, 2)

	var frames []*buffer.Buffer
	for range 2 {
		buf := mustAcquire(t, "ClientAcquire", b.ClientAcquire)
		mustRelease(t, "ClientRelease", b.ClientRelease, buf)
		frames = append(frames, buf)
	}

	blocked := goAcquire(b.ClientAcquire)
	mustBlock(t, blocked)

	if err := within(t, "AllowFramedropping", func() error { return b.AllowFramedropping(true) }); err != nil {
		t.Fatalf("AllowFramedropping(true) error = %v", err)
	}

	r := mustReceive(t, blocked)
	if r.err != nil {
		t.Fatalf("blocked ClientAcquire() error = %v", r.err)
	}
	if r.buf != frames[0] {
		t.Errorf("ClientAcquire() = %v, want dropped frame %v", r.buf, frames[0])
	}
	if got := mustAcquire(t, "CompositorAcquire", b.CompositorAcquire); got != frames[1] {
		t.Errorf("CompositorAcquire() = %v, want newest frame %v", got, frames[1])
	}

	st := b.Stats()
	if st.Kind != KindFrameDropping || st.Swaps != 1 || st.Retries == 0 || st.Dropped != 1 {
		t.Errorf("Stats() = %s", st)
	}
}

func TestSwitchingBundle_RetryThenTerminal(t *testing.T) {
	b, _ := newTestBundle(t, 1)
	mustAcquire(t, "ClientAcquire", b.ClientAcquire)

	blocked := goAcquire(b.ClientAcquire)
	mustBlock(t, blocked)

	// The replacement is still exhausted, so the waiter parks again.
	if err := within(t, "AllowFramedropping", func() error { return b.AllowFramedropping(false) }); err != nil {
		t.Fatalf("AllowFramedropping(false) error = %v", err)
	}
	mustBlock(t, blocked)

	b.ForceClientCompletion()
	r := mustReceive(t, blocked)
	if !errors.Is(r.err, ErrBundleClosed) || !errors.Is(r.err, ErrForcedCompletion) {
		t.Fatalf("ClientAcquire() error = %v, want ErrBundleClosed", r.err)
	}
	if r.buf != nil {
		t.Errorf("ClientAcquire() returned %v with error", r.buf)
	}

	if err := b.AllowFramedropping(true); !errors.Is(err, ErrBundleClosed) {
		t.Errorf("AllowFramedropping() after terminal force error = %v, want ErrBundleClosed", err)
	}
	if _, err := b.ClientAcquire(); !errors.Is(err, ErrBundleClosed) {
		t.Errorf("ClientAcquire() after terminal force error = %v, want ErrBundleClosed", err)
	}
	st := b.Stats()
	if st.Retries == 0 || st.Forced != 1 || st.Kind != KindSynchronous {
		t.Errorf("Stats() = %s", st)
	}
}

func TestSwitchingBundle_AcquireAfterTerminalForce(t *testing.T) {
	b, _ := newTestBundle(t, 2)

	a := mustAcquire(t, "ClientAcquire", b.ClientAcquire)
	mustRelease(t, "ClientRelease", b.ClientRelease, a)
	held := mustAcquire(t, "ClientAcquire", b.ClientAcquire)

	b.ForceClientCompletion()

	// A frame is pending and a buffer is held; neither acquire may succeed.
	for name, fn := range map[string]func() (*buffer.Buffer, error){
		"ClientAcquire":     b.ClientAcquire,
		"CompositorAcquire": b.CompositorAcquire,
	} {
		buf, err := fn()
		if !errors.Is(err, ErrBundleClosed) || !errors.Is(err, ErrForcedCompletion) {
			t.Errorf("%s() error = %v, want ErrBundleClosed", name, err)
		}
		if buf != nil {
			t.Errorf("%s() returned %v with error", name, buf)
		}
	}
	mustRelease(t, "ClientRelease", b.ClientRelease, held)
}

func TestSwitchingBundle_ForceReleasesCompositor(t *testing.T) {
	b, _ := newTestBundle(t, 2)

	comp := goAcquire(b.CompositorAcquire)
	mustBlock(t, comp)

	b.ForceClientCompletion()
	if r := mustReceive(t, comp); !errors.Is(r.err, ErrBundleClosed) {
		t.Errorf("CompositorAcquire() error = %v, want ErrBundleClosed", r.err)
	}
}

func TestSwitchingBundle_FrameDroppingKeepsLastShown(t *testing.T) {
	b, _ := newTestBundle(t, 3)

	a := mustAcquire(t, "ClientAcquire", b.ClientAcquire)
	a.Pixels()[0] = 0xAA
	mustRelease(t, "ClientRelease", b.ClientRelease, a)
	mustRelease(t, "CompositorRelease", b.CompositorRelease, mustAcquire(t, "CompositorAcquire", b.CompositorAcquire))

	// Synchronous to frame-dropping, then frame-dropping to frame-dropping.
	for i := range 2 {
		if err := b.AllowFramedropping(true); err != nil {
			t.Fatalf("swap %d: AllowFramedropping(true) error = %v", i, err)
		}
		got := mustAcquire(t, "CompositorAcquire", b.CompositorAcquire)
		if got != a || got.Pixels()[0] != 0xAA {
			t.Fatalf("swap %d: CompositorAcquire() = %v pixel0=%#x, want %v", i, got, got.Pixels()[0], a)
		}
		mustRelease(t, "CompositorRelease", b.CompositorRelease, got)
	}
}

func TestSwitchingBundle_Conservation(t *testing.T) {
	b, _ := newTestBundle(t, 3)
	original := bufferSet(t, b)

	c1 := mustAcquire(t, "ClientAcquire", b.ClientAcquire)
	mustRelease(t, "ClientRelease", b.ClientRelease, c1)
	shown := mustAcquire(t, "CompositorAcquire", b.CompositorAcquire)
	held := mustAcquire(t, "ClientAcquire", b.ClientAcquire)

	for i := range 6 {
		allow := i%2 == 0
		if err := b.AllowFramedropping(allow); err != nil {
			t.Fatalf("AllowFramedropping(%v) error = %v", allow, err)
		}
		set := bufferSet(t, b)
		if !sameBuffers(set, original) {
			t.Fatalf("swap %d: buffers = %v, want %v", i, set, original)
		}
		if set[held.ID()] != ClientOwned || set[shown.ID()] != CompositorOwned {
			t.Errorf("swap %d: held is %s, shown is %s", i, set[held.ID()], set[shown.ID()])
		}
	}
	if held.Refs() != 2 || shown.Refs() != 2 {
		t.Errorf("Refs() = %d/%d, want 2/2", held.Refs(), shown.Refs())
	}
	mustRelease(t, "ClientRelease", b.ClientRelease, held)
	mustRelease(t, "CompositorRelease", b.CompositorRelease, shown)
	if got := b.Stats().Swaps; got != 6 {
		t.Errorf("Swaps = %d, want 6", got)
	}
}

func TestSwitchingBundle_SynchronousExclusivity(t *testing.T) {
	b, _ := newTestBundle(t, 3)

	var (
		held    atomic.Int32
		maxHeld atomic.Int32
	)
	var clients errgroup.Group
	for range 2 {
		clients.Go(func() error {
			for range 50 {
				buf, err := b.ClientAcquire()
				if err != nil {
					return err
				}
				n := held.Inc()
				if n > maxHeld.Load() {
					maxHeld.Store(n)
				}
				held.Dec()
				if err := b.ClientRelease(buf); err != nil {
					return err
				}
			}
			return nil
		})
	}

	var comp errgroup.Group
	comp.Go(func() error {
		for {
			buf, err := b.CompositorAcquire()
			if errors.Is(err, ErrBundleClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := b.CompositorRelease(buf); err != nil {
				return err
			}
		}
	})

	if err := within(t, "clients", clients.Wait); err != nil {
		t.Errorf("client error = %v", err)
	}
	b.Close()
	if err := within(t, "compositor", comp.Wait); err != nil {
		t.Errorf("compositor error = %v", err)
	}
	if got := maxHeld.Load(); got > 1 {
		t.Errorf("client held %d buffers at once, want at most 1", got)
	}
}

func TestSwitchingBundle_FrameDroppingNonBlocking(t *testing.T) {
	b, _ := newTestBundle(t, 3)
	if err := b.AllowFramedropping(true); err != nil {
		t.Fatalf("AllowFramedropping(true) error = %v", err)
	}

	r := mustReceive(t, goAcquire(b.CompositorAcquire))
	if r.err != nil {
		t.Fatalf("CompositorAcquire() before any frame error = %v", r.err)
	}
	mustRelease(t, "CompositorRelease", b.CompositorRelease, r.buf)

	var last *buffer.Buffer
	for range 5 {
		last = mustAcquire(t, "ClientAcquire", b.ClientAcquire)
		mustRelease(t, "ClientRelease", b.ClientRelease, last)
	}
	r = mustReceive(t, goAcquire(b.CompositorAcquire))
	if r.err != nil || r.buf != last {
		t.Errorf("CompositorAcquire() = (%v, %v), want newest (%v, nil)", r.buf, r.err, last)
	}
	if got := b.Stats().Dropped; got != 4 {
		t.Errorf("Dropped = %d, want 4", got)
	}
}

func TestSwitchingBundle_Close(t *testing.T) {
	b, heap := newTestBundle(t, 2)

	a := mustAcquire(t, "ClientAcquire", b.ClientAcquire)
	mustRelease(t, "ClientRelease", b.ClientRelease, a)
	shown := mustAcquire(t, "CompositorAcquire", b.CompositorAcquire)
	held := mustAcquire(t, "ClientAcquire", b.ClientAcquire)

	blocked := goAcquire(b.ClientAcquire)
	mustBlock(t, blocked)

	if err := within(t, "Close", b.Close); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if r := mustReceive(t, blocked); !errors.Is(r.err, ErrBundleClosed) {
		t.Errorf("blocked ClientAcquire() error = %v, want ErrBundleClosed", r.err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if live := heap.Stats().Live; live != 2 {
		t.Errorf("heap Live = %d with two held buffers, want 2", live)
	}

	if _, err := b.ClientAcquire(); !errors.Is(err, ErrBundleClosed) {
		t.Errorf("ClientAcquire() after Close error = %v, want ErrBundleClosed", err)
	}
	if _, err := b.CompositorAcquire(); !errors.Is(err, ErrBundleClosed) {
		t.Errorf("CompositorAcquire() after Close error = %v, want ErrBundleClosed", err)
	}
	if err := b.AllowFramedropping(true); !errors.Is(err, ErrBundleClosed) {
		t.Errorf("AllowFramedropping() after Close error = %v, want ErrBundleClosed", err)
	}

	if err := b.CompositorRelease(held); !errors.Is(err, ErrNotOwned) {
		t.Errorf("CompositorRelease(client buffer) after Close error = %v, want ErrNotOwned", err)
	}
	mustRelease(t, "ClientRelease", b.ClientRelease, held)
	if err := b.ClientRelease(held); !errors.Is(err, ErrNotOwned) {
		t.Errorf("second ClientRelease() after Close error = %v, want ErrNotOwned", err)
	}
	mustRelease(t, "CompositorRelease", b.CompositorRelease, shown)
	if live := heap.Stats().Live; live != 0 {
		t.Errorf("heap Live = %d after releases, want 0", live)
	}

	st := b.Stats()
	if !st.Closed || st.Buffers != 2 {
		t.Errorf("Stats() = %s", st)
	}
	if b.Properties() != testProps {
		t.Errorf("Properties() after Close = %s", b.Properties())
	}
}

func TestSwitchingBundle_SwapFailureReinstates(t *testing.T) {
	tests := []struct {
		name    string
		flaky   flakyFactory
		wantErr error
	}{
		{"reuse error", flakyFactory{failReuse: true}, errReuse},
		{"lost buffers", flakyFactory{shortReuse: true}, ErrInvalidHandoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFactory(WithBufferCount(2), WithAllocator(allocator.NewHeap()))
			if err != nil {
				t.Fatalf("NewFactory() error = %v", err)
			}
			flaky := tt.flaky
			flaky.Factory = f
			b, err := New(&flaky, testProps)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer b.Close()
			original := bufferSet(t, b)

			held := mustAcquire(t, "ClientAcquire", b.ClientAcquire)
			blocked := goAcquire(b.ClientAcquire)
			mustBlock(t, blocked)

			err = within(t, "AllowFramedropping", func() error { return b.AllowFramedropping(true) })
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AllowFramedropping(true) error = %v, want %v", err, tt.wantErr)
			}
			if b.Kind() != KindSynchronous {
				t.Errorf("Kind() = %s after failed swap, want synchronous", b.Kind())
			}
			if set := bufferSet(t, b); !sameBuffers(set, original) || set[held.ID()] != ClientOwned {
				t.Errorf("buffers after failed swap = %v, want %v", set, original)
			}

			// The waiter retries against the reinstated swapper.
			mustBlock(t, blocked)
			mustRelease(t, "ClientRelease", b.ClientRelease, held)
			if r := mustReceive(t, blocked); r.err != nil {
				t.Fatalf("ClientAcquire() error = %v", r.err)
			}

			flaky.failReuse, flaky.shortReuse = false, false
			if err := b.AllowFramedropping(true); err != nil {
				t.Fatalf("AllowFramedropping(true) retry error = %v", err)
			}
			if b.Stats().Swaps != 1 {
				t.Errorf("Swaps = %d, want 1", b.Stats().Swaps)
			}
		})
	}
}

func TestSwitchingBundle_ConcurrentTraffic(t *testing.T) {
	b, heap := newTestBundle(t, 3)
	const (
		frames  = 200
		toggles = 20
	)

	var submitted atomic.Int64
	var producers errgroup.Group
	producers.Go(func() error {
		for range frames {
			buf, err := b.ClientAcquire()
			if err != nil {
				return err
			}
			buf.Pixels()[0]++
			if err := b.ClientRelease(buf); err != nil {
				return err
			}
			submitted.Inc()
		}
		return nil
	})
	producers.Go(func() error {
		for i := range toggles {
			if err := b.AllowFramedropping(i%2 == 0); err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})

	var consumer errgroup.Group
	consumer.Go(func() error {
		for {
			buf, err := b.CompositorAcquire()
			if errors.Is(err, ErrBundleClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			time.Sleep(100 * time.Microsecond)
			if err := b.CompositorRelease(buf); err != nil {
				return err
			}
		}
	})

	if err := within(t, "producers", producers.Wait); err != nil {
		t.Fatalf("producer error = %v", err)
	}
	b.Close()
	if err := within(t, "consumer", consumer.Wait); err != nil {
		t.Fatalf("consumer error = %v", err)
	}

	if got := submitted.Load(); got != frames {
		t.Errorf("submitted %d frames, want %d", got, frames)
	}
	st := b.Stats()
	if st.Swaps != toggles || !st.Closed || st.Buffers != 3 {
		t.Errorf("Stats() = %s", st)
	}
	if live := heap.Stats().Live; live != 0 {
		t.Errorf("heap Live = %d after teardown, want 0", live)
	}
}

func TestSwitchingBundle_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b, _ := newTestBundle(t, 2, WithLogger(logger), WithName("main"))

	if err := b.AllowFramedropping(true); err != nil {
		t.Fatalf("AllowFramedropping(true) error = %v", err)
	}
	b.Close()

	out := buf.String()
	for _, want := range []string{
		"bundle: created",
		"bundle: policy changed",
		"to=framedropping",
		"bundle: closed",
		"surface=main",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestStatsString(t *testing.T) {
	st := Stats{Kind: KindFrameDropping, Buffers: 3, Swaps: 2, Forced: 1, Retries: 4, Dropped: 5}
	want := "Bundle[open, framedropping, 3 buffers, 2 swaps, 1 forced, 4 retries, 5 dropped]"
	if got := st.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	st.Closed = true
	if got := st.String(); !strings.HasPrefix(got, "Bundle[closed,") {
		t.Errorf("String() = %q, want closed prefix", got)
	}
}
