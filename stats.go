package bundle

import "fmt"

// Stats contains SwitchingBundle counters.
type Stats struct {
	// Kind is the active queueing discipline.
	Kind Kind

	// Buffers is the number of buffers in the pool.
	Buffers int

	// Swaps is the number of completed policy swaps.
	Swaps uint64

	// Forced is the number of forced completions issued on the bundle.
	Forced uint64

	// Retries is the number of acquires retried on a replacement Swapper.
	Retries uint64

	// Dropped is the number of frames dropped by frame-dropping Swappers.
	Dropped uint64

	// Closed reports whether the bundle was torn down.
	Closed bool
}

// String returns a human-readable string of bundle stats.
func (s Stats) String() string {
	state := "open"
	if s.Closed {
		state = "closed"
	}
	return fmt.Sprintf("Bundle[%s, %s, %d buffers, %d swaps, %d forced, %d retries, %d dropped]",
		state, s.Kind, s.Buffers, s.Swaps, s.Forced, s.Retries, s.Dropped)
}
