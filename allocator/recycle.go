package allocator

import (
	"sync"

	"github.com/gogpu/gputypes"
)

// recycler is a thread-safe store of released pixel slices.
//
// Slices are grouped by the layout they were allocated for, so a slice
// is only reused by a buffer with identical width, height, format and
// stride.
type recycler struct {
	mu      sync.Mutex
	buckets map[layoutKey][][]byte
	maxSize int // max slices per bucket; 0 means unlimited
}

// layoutKey identifies a bucket of identical pixel layouts.
type layoutKey struct {
	width  int
	height int
	format gputypes.TextureFormat
	stride int
}

func newRecycler(maxPerBucket int) *recycler {
	return &recycler{
		buckets: make(map[layoutKey][][]byte),
		maxSize: maxPerBucket,
	}
}

// get pops a slice for key, or returns nil when the bucket is empty.
// Slices are zeroed when they are put back, so callers get clean memory.
func (r *recycler) get(key layoutKey) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[key]
	if len(bucket) == 0 {
		return nil
	}
	pix := bucket[len(bucket)-1]
	bucket[len(bucket)-1] = nil
	r.buckets[key] = bucket[:len(bucket)-1]
	return pix
}

// put clears pix and stores it for reuse. It reports false when the
// bucket is full and the slice was discarded.
func (r *recycler) put(key layoutKey, pix []byte) bool {
	if pix == nil {
		return false
	}
	clear(pix)

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[key]
	if r.maxSize > 0 && len(bucket) >= r.maxSize {
		return false
	}
	r.buckets[key] = append(bucket, pix)
	return true
}

// len returns the number of slices held for key.
func (r *recycler) len(key layoutKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.buckets[key])
}
