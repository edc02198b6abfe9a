package bundle

import (
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"go.uber.org/atomic"

	"github.com/gogpu/bundle/buffer"
)

var testProps = buffer.NewProperties(64, 48, gputypes.TextureFormatRGBA8Unorm)

const (
	// testTimeout bounds every wait that is expected to finish.
	testTimeout = 2 * time.Second

	// blockWindow is how long an acquire must stay parked to count as blocked.
	blockWindow = 50 * time.Millisecond
)

// testPool is a set of buffers that counts releases.
type testPool struct {
	bufs     []*buffer.Buffer
	released atomic.Int32
}

func newTestPool(n int) *testPool {
	p := &testPool{}
	for range n {
		p.bufs = append(p.bufs, buffer.New(testProps, buffer.WithRelease(func(*buffer.Buffer) {
			p.released.Inc()
		})))
	}
	return p
}

func (p *testPool) handoff() Handoff { return NewHandoff(p.bufs) }

type acquireResult struct {
	buf *buffer.Buffer
	err error
}

// goAcquire runs fn in a goroutine and delivers its result on the channel.
func goAcquire(fn func() (*buffer.Buffer, error)) <-chan acquireResult {
	ch := make(chan acquireResult, 1)
	go func() {
		b, err := fn()
		ch <- acquireResult{buf: b, err: err}
	}()
	return ch
}

func mustBlock(t *testing.T, ch <-chan acquireResult) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("acquire returned (%v, %v), want it blocked", r.buf, r.err)
	case <-time.After(blockWindow):
	}
}

func mustReceive(t *testing.T, ch <-chan acquireResult) acquireResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testTimeout):
		t.Fatal("acquire did not return in time")
	}
	return acquireResult{}
}

func mustAcquire(t *testing.T, what string, fn func() (*buffer.Buffer, error)) *buffer.Buffer {
	t.Helper()
	b, err := fn()
	if err != nil {
		t.Fatalf("%s() error = %v", what, err)
	}
	return b
}

func mustRelease(t *testing.T, what string, fn func(*buffer.Buffer) error, b *buffer.Buffer) {
	t.Helper()
	if err := fn(b); err != nil {
		t.Fatalf("%s(%s) error = %v", what, b, err)
	}
}

// within runs fn and fails the test if it does not return in time.
func within(t *testing.T, what string, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatalf("%s did not return in time", what)
	}
	return nil
}
