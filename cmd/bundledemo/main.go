// Command bundledemo drives a buffer bundle with a client and a
// compositor goroutine and toggles frame dropping while they run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gogpu/bundle"
	"github.com/gogpu/bundle/allocator"
	"github.com/gogpu/bundle/buffer"
)

func main() {
	var (
		width       = flag.Int("width", 640, "buffer width")
		height      = flag.Int("height", 480, "buffer height")
		format      = flag.String("format", "rgba8888", "pixel format")
		buffers     = flag.Int("buffers", 3, "pool size")
		frames      = flag.Int("frames", 300, "frames to render")
		refresh     = flag.Float64("refresh", 120, "compositor refresh rate in Hz (0 = unpaced)")
		name        = flag.String("name", "", "surface name (default: random)")
		backend     = flag.String("allocator", "", "allocator backend (default: best available)")
		toggleEvery = flag.Int("toggle-every", 60, "toggle frame dropping every N frames (0 disables)")
		verbose     = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	bundle.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	f, err := buffer.ParseFormat(*format)
	if err != nil {
		log.Fatalf("Invalid format: %v", err)
	}
	alloc, err := newAllocator(*backend)
	if err != nil {
		log.Fatalf("Failed to select allocator: %v", err)
	}
	factory, err := bundle.NewFactory(bundle.WithBufferCount(*buffers), bundle.WithAllocator(alloc))
	if err != nil {
		log.Fatalf("Failed to create factory: %v", err)
	}
	if *name == "" {
		*name = uuid.NewString()
	}
	b, err := bundle.New(factory, buffer.NewProperties(*width, *height, f), bundle.WithName(*name))
	if err != nil {
		log.Fatalf("Failed to create bundle: %v", err)
	}

	start := time.Now()
	limit := rate.Inf
	if *refresh > 0 {
		limit = rate.Limit(*refresh)
	}
	composited, err := run(b, *frames, *toggleEvery, rate.NewLimiter(limit, 1))
	if err != nil {
		log.Fatalf("Demo failed: %v", err)
	}

	props := b.Properties()
	log.Printf("Rendered %d frames, composited %d in %v using %s (%s, %s pool)\n",
		*frames, composited, time.Since(start).Round(time.Millisecond), alloc.Name(), props,
		units.BytesSize(float64(props.SizeBytes()*factory.BufferCount())))
	log.Printf("%s\n", b.Stats())
}

func newAllocator(name string) (allocator.Allocator, error) {
	if name == "" {
		return allocator.New()
	}
	a, err := allocator.NewByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(allocator.Available(), ", "))
	}
	return a, nil
}

// run renders frames on a client goroutine, displays them on a compositor
// goroutine paced by refresh and flips the policy every toggleEvery frames.
// It closes b and returns the number of compositor acquisitions.
func run(b *bundle.SwitchingBundle, frames, toggleEvery int, refresh *rate.Limiter) (int, error) {
	var g errgroup.Group
	progress := make(chan int, frames)

	g.Go(func() error {
		defer close(progress)
		for i := range frames {
			buf, err := b.ClientAcquire()
			if err != nil {
				return err
			}
			fill(buf, byte(i))
			if err := b.ClientRelease(buf); err != nil {
				return err
			}
			progress <- i + 1
		}
		return nil
	})

	g.Go(func() error {
		dropping := false
		for n := range progress {
			if toggleEvery <= 0 || n%toggleEvery != 0 {
				continue
			}
			dropping = !dropping
			if err := b.AllowFramedropping(dropping); err != nil {
				return err
			}
		}
		return nil
	})

	composited := 0
	var comp errgroup.Group
	comp.Go(func() error {
		for {
			buf, err := b.CompositorAcquire()
			if errors.Is(err, bundle.ErrBundleClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			composited++
			werr := refresh.Wait(context.Background())
			if err := b.CompositorRelease(buf); err != nil {
				return err
			}
			if werr != nil {
				return werr
			}
		}
	})

	err := g.Wait()
	if cerr := b.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if cerr := comp.Wait(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return composited, err
}

// fill paints every pixel byte of CPU-visible buffers with v.
func fill(buf *buffer.Buffer, v byte) {
	pix := buf.Pixels()
	for i := range pix {
		pix[i] = v
	}
}
