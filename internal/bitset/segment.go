package bitset

import (
	"fmt"
	"math"

	bits "github.com/bits-and-blooms/bitset"
)

// Segment is a bitmap over the identifiers [Start, Start+Size).
// Segments are not safe for concurrent use; the owning set serializes access.
type Segment struct {
	owner uint64
	start uint64
	size  uint64
	bits  *bits.BitSet
}

func newSegment(owner, start, size uint64) *Segment {
	return &Segment{owner: owner, start: start, size: size, bits: bits.New(uint(size))}
}

// StartOf returns the start of the segment covering id.
func StartOf(id, size uint64) uint64 { return id / size * size }

func (s *Segment) Owner() uint64 { return s.owner }
func (s *Segment) Start() uint64 { return s.start }
func (s *Segment) Size() uint64  { return s.size }

// End is exclusive. The segment holding math.MaxUint64 reports
// math.MaxUint64; use Covers for range checks.
func (s *Segment) End() uint64 {
	if s.start > math.MaxUint64-s.size {
		return math.MaxUint64
	}
	return s.start + s.size
}

// Covers reports whether id falls inside the segment range.
func (s *Segment) Covers(id uint64) bool { return id >= s.start && id-s.start < s.size }

// Set marks id and reports whether it was previously clear.
func (s *Segment) Set(id uint64) bool {
	i := uint(id - s.start)
	if s.bits.Test(i) {
		return false
	}
	s.bits.Set(i)
	return true
}

// Clear unmarks id and reports whether it was previously set.
func (s *Segment) Clear(id uint64) bool {
	i := uint(id - s.start)
	if !s.bits.Test(i) {
		return false
	}
	s.bits.Clear(i)
	return true
}

// Test reports whether id is set. Ids outside the range are never set.
func (s *Segment) Test(id uint64) bool {
	if !s.Covers(id) {
		return false
	}
	return s.bits.Test(uint(id - s.start))
}

func (s *Segment) IsEmpty() bool { return s.bits.None() }
func (s *Segment) Count() int    { return int(s.bits.Count()) }

// NextSet returns the first set id >= from inside this segment.
func (s *Segment) NextSet(from uint64) (uint64, bool) {
	if from < s.start {
		from = s.start
	}
	if !s.Covers(from) {
		return 0, false
	}
	i, ok := s.bits.NextSet(uint(from - s.start))
	if !ok || uint64(i) >= s.size {
		return 0, false
	}
	return s.start + uint64(i), true
}

// Union ORs o into s. Both segments must cover the same range.
func (s *Segment) Union(o *Segment) {
	s.mustMatch(o)
	s.bits.InPlaceUnion(o.bits)
}

// Difference clears every bit of s that is set in o (AND-NOT).
func (s *Segment) Difference(o *Segment) {
	s.mustMatch(o)
	s.bits.InPlaceDifference(o.bits)
}

// Reset clears all bits and rebinds the segment to a new owner/range.
func (s *Segment) Reset(owner, start uint64) {
	s.owner = owner
	s.start = start
	s.bits.ClearAll()
}

// Clone returns an independent copy owned by owner.
func (s *Segment) Clone(owner uint64) *Segment {
	return &Segment{owner: owner, start: s.start, size: s.size, bits: s.bits.Clone()}
}

func (s *Segment) mustMatch(o *Segment) {
	if s.start != o.start || s.size != o.size {
		panic(fmt.Sprintf("bitset: segment range mismatch [%d,+%d) vs [%d,+%d)", s.start, s.size, o.start, o.size))
	}
}

// MarshalBinary encodes the bitmap (not the owner/range, which live in the key).
func (s *Segment) MarshalBinary() ([]byte, error) { return s.bits.MarshalBinary() }

func (s *Segment) unmarshalBits(b []byte) error {
	bs := &bits.BitSet{}
	if err := bs.UnmarshalBinary(b); err != nil {
		return err
	}
	if bs.Len() != uint(s.size) {
		return fmt.Errorf("bitset: stored segment length %d does not match size %d", bs.Len(), s.size)
	}
	s.bits = bs
	return nil
}

func (s *Segment) String() string {
	return fmt.Sprintf("segment{owner=%x start=%d size=%d count=%d}", s.owner, s.start, s.size, s.Count())
}
