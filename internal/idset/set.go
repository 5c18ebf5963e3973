// Package idset implements an ordered set of 64-bit message identifiers
// backed by fixed-range bitset segments.
//
// A segment exists in the set iff it holds at least one identifier.
// Segments are opened lazily from a bitset.Factory on first insert into
// their range and closed back to the factory once they become empty.
// Iteration is always ascending.
package idset

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
)

// ErrAllocate wraps a factory failure. It is fatal for the set: the caller
// must not continue delivering from it.
var ErrAllocate = errors.New("idset: segment allocation failed")

// Set is an ascending set of identifiers. It is not safe for concurrent use.
type Set struct {
	owner    uint64
	factory  bitset.Factory
	size     uint64
	segments map[uint64]*bitset.Segment
	starts   []uint64
	count    int
}

// New returns an empty set that allocates from factory.
func New(owner uint64, factory bitset.Factory) *Set {
	return &Set{
		owner:    owner,
		factory:  factory,
		size:     factory.SegmentSize(),
		segments: make(map[uint64]*bitset.Segment),
	}
}

// Open returns a set preloaded with every segment the factory already holds
// for owner. Empty persisted segments are closed on load.
func Open(owner uint64, factory bitset.Factory) (*Set, error) {
	s := New(owner, factory)
	segs, err := factory.Get(owner)
	if err != nil {
		return nil, fmt.Errorf("idset: reload owner %x: %w", owner, err)
	}
	for _, seg := range segs {
		if seg.IsEmpty() {
			if err := factory.Close(seg); err != nil {
				return nil, err
			}
			continue
		}
		s.insertSegment(seg)
		s.count += seg.Count()
	}
	return s, nil
}

func (s *Set) Owner() uint64 { return s.owner }
func (s *Set) Len() int      { return s.count }
func (s *Set) IsEmpty() bool { return s.count == 0 }

// Segments returns the number of open segments.
func (s *Set) Segments() int { return len(s.starts) }

func (s *Set) startOf(id uint64) uint64 { return bitset.StartOf(id, s.size) }

func (s *Set) insertSegment(seg *bitset.Segment) {
	s.segments[seg.Start()] = seg
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] >= seg.Start() })
	s.starts = append(s.starts, 0)
	copy(s.starts[i+1:], s.starts[i:])
	s.starts[i] = seg.Start()
}

func (s *Set) dropSegment(seg *bitset.Segment) error {
	delete(s.segments, seg.Start())
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] >= seg.Start() })
	if i < len(s.starts) && s.starts[i] == seg.Start() {
		s.starts = append(s.starts[:i], s.starts[i+1:]...)
	}
	return s.factory.Close(seg)
}

// Add inserts id and reports whether it was absent.
func (s *Set) Add(id uint64) (bool, error) {
	start := s.startOf(id)
	seg, ok := s.segments[start]
	if !ok {
		var err error
		seg, err = s.factory.Open(s.owner, id)
		if err != nil {
			return false, fmt.Errorf("%w: owner %x id %d: %v", ErrAllocate, s.owner, id, err)
		}
		s.insertSegment(seg)
	}
	if !seg.Set(id) {
		return false, nil
	}
	s.count++
	if err := s.factory.Sync(seg); err != nil {
		return true, fmt.Errorf("idset: sync segment %d: %w", start, err)
	}
	return true, nil
}

// Remove deletes id and reports whether it was present. A segment left
// empty is closed back to the factory.
func (s *Set) Remove(id uint64) (bool, error) {
	seg, ok := s.segments[s.startOf(id)]
	if !ok || !seg.Clear(id) {
		return false, nil
	}
	s.count--
	if seg.IsEmpty() {
		return true, s.dropSegment(seg)
	}
	return true, s.factory.Sync(seg)
}

// Contains reports membership.
func (s *Set) Contains(id uint64) bool {
	seg, ok := s.segments[s.startOf(id)]
	return ok && seg.Test(id)
}

// First returns the smallest identifier.
func (s *Set) First() (uint64, bool) {
	return s.next(0)
}

// next returns the smallest identifier >= from.
func (s *Set) next(from uint64) (uint64, bool) {
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] >= from || from-s.starts[i] < s.size })
	for ; i < len(s.starts); i++ {
		if id, ok := s.segments[s.starts[i]].NextSet(from); ok {
			return id, true
		}
	}
	return 0, false
}

// Each visits identifiers in ascending order until fn returns false.
// fn must not mutate the set; use an Iterator for removal.
func (s *Set) Each(fn func(id uint64) bool) {
	for _, start := range s.starts {
		seg := s.segments[start]
		for id, ok := seg.NextSet(start); ok; id, ok = seg.NextSet(id + 1) {
			if !fn(id) {
				return
			}
		}
	}
}

// Slice returns all identifiers in ascending order.
func (s *Set) Slice() []uint64 {
	out := make([]uint64, 0, s.count)
	s.Each(func(id uint64) bool {
		out = append(out, id)
		return true
	})
	return out
}

// AddAll ORs other into s segment by segment. Both sets must share a segment size.
func (s *Set) AddAll(other *Set) error {
	if other.size != s.size {
		return fmt.Errorf("idset: segment size mismatch %d vs %d", s.size, other.size)
	}
	for _, start := range other.starts {
		src := other.segments[start]
		dst, ok := s.segments[start]
		if !ok {
			var err error
			dst, err = s.factory.Open(s.owner, start)
			if err != nil {
				return fmt.Errorf("%w: owner %x start %d: %v", ErrAllocate, s.owner, start, err)
			}
			s.insertSegment(dst)
		}
		before := dst.Count()
		dst.Union(src)
		s.count += dst.Count() - before
		if err := s.factory.Sync(dst); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll clears every identifier of other from s (AND-NOT per segment).
func (s *Set) RemoveAll(other *Set) error {
	if other.size != s.size {
		return fmt.Errorf("idset: segment size mismatch %d vs %d", s.size, other.size)
	}
	for _, start := range other.starts {
		dst, ok := s.segments[start]
		if !ok {
			continue
		}
		before := dst.Count()
		dst.Difference(other.segments[start])
		s.count -= before - dst.Count()
		var err error
		if dst.IsEmpty() {
			err = s.dropSegment(dst)
		} else {
			err = s.factory.Sync(dst)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CopyTo returns a new set owned by owner on factory holding the same ids.
func (s *Set) CopyTo(owner uint64, factory bitset.Factory) (*Set, error) {
	out := New(owner, factory)
	if err := out.AddAll(s); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear removes every identifier and closes all segments.
func (s *Set) Clear() error {
	var first error
	for _, start := range append([]uint64(nil), s.starts...) {
		if err := s.dropSegment(s.segments[start]); err != nil && first == nil {
			first = err
		}
	}
	s.count = 0
	return first
}

// Close drops the in-memory segments. Persisted segments stay with the
// factory and are returned by a later Open for the same owner.
func (s *Set) Close() {
	for _, start := range s.starts {
		s.factory.Release(s.segments[start])
	}
	s.segments = make(map[uint64]*bitset.Segment)
	s.starts = nil
	s.count = 0
}

// Iterator walks the set in ascending order and supports removal of the
// current identifier. Identifiers added behind the cursor are not visited.
type Iterator struct {
	set     *Set
	cur     uint64
	next    uint64
	started bool
	valid   bool
	done    bool
}

// Iterator returns an iterator positioned before the first identifier.
func (s *Set) Iterator() *Iterator { return &Iterator{set: s} }

// Next advances and reports whether an identifier is available.
func (it *Iterator) Next() bool {
	if it.done {
		it.valid = false
		return false
	}
	from := it.next
	if !it.started {
		from = 0
		it.started = true
	}
	id, ok := it.set.next(from)
	it.valid = ok
	if !ok {
		return false
	}
	it.cur = id
	it.next = id + 1
	it.done = id == math.MaxUint64
	return true
}

// Value returns the current identifier.
func (it *Iterator) Value() uint64 { return it.cur }

// Remove deletes the current identifier through the owning set, releasing
// its segment if that leaves it empty.
func (it *Iterator) Remove() error {
	if !it.valid {
		return errors.New("idset: iterator has no current element")
	}
	it.valid = false
	_, err := it.set.Remove(it.cur)
	return err
}
