package bitset

import (
	"errors"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"
)

// ErrStorageExhausted is returned when a factory cannot allocate a segment.
var ErrStorageExhausted = errors.New("bitset: segment storage exhausted")

// Factory allocates, persists and reloads segments.
type Factory interface {
	// Open returns a new empty segment for owner covering id.
	Open(owner, id uint64) (*Segment, error)
	// Close releases the segment and discards any persisted copy.
	Close(seg *Segment) error
	// Get returns the existing segments of owner in ascending start order.
	Get(owner uint64) ([]*Segment, error)
	// Sync persists the current contents of seg.
	Sync(seg *Segment) error
	// Release drops in-memory references without discarding persisted state.
	Release(seg *Segment)
	SegmentSize() uint64
}

// OwnerID derives a stable owner id from a name.
func OwnerID(name string) uint64 { return xxh3.HashString(name) }

// MemoryFactory keeps segments on the heap. Released segments are kept on a
// free list and reused by later Open calls.
type MemoryFactory struct {
	mu          sync.Mutex
	size        uint64
	maxSegments int
	live        map[uint64]map[uint64]*Segment
	free        []*Segment
	allocated   int
}

// NewMemoryFactory returns an unbounded memory factory.
func NewMemoryFactory(size uint64) *MemoryFactory {
	return &MemoryFactory{size: size, live: make(map[uint64]map[uint64]*Segment)}
}

// WithMaxSegments bounds the number of simultaneously live segments.
func (f *MemoryFactory) WithMaxSegments(n int) *MemoryFactory {
	f.maxSegments = n
	return f
}

func (f *MemoryFactory) SegmentSize() uint64 { return f.size }

func (f *MemoryFactory) Open(owner, id uint64) (*Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := StartOf(id, f.size)
	if segs, ok := f.live[owner]; ok {
		if seg, ok := segs[start]; ok {
			return seg, nil
		}
	}
	if f.maxSegments > 0 && f.allocated >= f.maxSegments {
		return nil, ErrStorageExhausted
	}
	var seg *Segment
	if n := len(f.free); n > 0 {
		seg = f.free[n-1]
		f.free = f.free[:n-1]
		seg.Reset(owner, start)
	} else {
		seg = newSegment(owner, start, f.size)
	}
	segs := f.live[owner]
	if segs == nil {
		segs = make(map[uint64]*Segment)
		f.live[owner] = segs
	}
	segs[start] = seg
	f.allocated++
	return seg, nil
}

func (f *MemoryFactory) Close(seg *Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	segs := f.live[seg.owner]
	if cur, ok := segs[seg.start]; !ok || cur != seg {
		return nil
	}
	delete(segs, seg.start)
	if len(segs) == 0 {
		delete(f.live, seg.owner)
	}
	f.allocated--
	seg.Reset(0, 0)
	f.free = append(f.free, seg)
	return nil
}

func (f *MemoryFactory) Get(owner uint64) ([]*Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	segs := f.live[owner]
	out := make([]*Segment, 0, len(segs))
	for _, s := range segs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out, nil
}

func (f *MemoryFactory) Sync(*Segment) error { return nil }

// Release is a no-op: the heap copy is the only copy and stays reachable via Get.
func (f *MemoryFactory) Release(*Segment) {}

// Live returns the number of allocated segments.
func (f *MemoryFactory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocated
}
