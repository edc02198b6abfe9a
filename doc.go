// Package bundle provides the buffer-swapping pool that sits between a
// client application and a compositor.
//
// # Overview
//
// A surface owns one SwitchingBundle. The client renders into buffers it
// gets from ClientAcquire and submits them with ClientRelease; the
// compositor displays them between CompositorAcquire and
// CompositorRelease. Buffers are opaque, reference-counted handles from
// the buffer package, allocated once by a SwapperFactory.
//
// # Quick Start
//
//	factory, err := bundle.NewFactory(bundle.WithBufferCount(3))
//	if err != nil {
//	    return err
//	}
//	b, err := bundle.New(factory, buffer.NewProperties(640, 480, gputypes.TextureFormatRGBA8Unorm))
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	// client goroutine
//	buf, err := b.ClientAcquire()
//	// ... render into buf.Pixels() ...
//	err = b.ClientRelease(buf)
//
//	// compositor goroutine
//	buf, err := b.CompositorAcquire()
//	// ... display buf ...
//	err = b.CompositorRelease(buf)
//
// # Policies
//
// Two Swappers implement the queueing discipline:
//   - Synchronous: every frame is displayed, the client holds at most one
//     buffer and the compositor waits for the client.
//   - FrameDropping: the compositor never waits and always gets the newest
//     frame; superseded frames are dropped.
//
// AllowFramedropping switches between them at runtime. The new Swapper
// takes over the buffers of the old one with their ownership intact, and
// goroutines blocked in an acquire retry against it.
//
// # Teardown
//
// ForceClientCompletion and Close release every blocked goroutine with
// ErrBundleClosed. Buffers still held when the bundle closes are freed
// when their holders release them.
//
// # Logging
//
// The package is silent by default. SetLogger installs a *slog.Logger for
// bundle and the allocator package; WithLogger overrides it per bundle.
package bundle
