package idset

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

func TestAddRemoveContains(t *testing.T) {
	f := bitset.NewMemoryFactory(64)
	s := New(1, f)
	for _, id := range []uint64{5, 64, 63, 1000} {
		if added, err := s.Add(id); err != nil || !added {
			t.Fatalf("add %d: %v %v", id, added, err)
		}
	}
	if added, _ := s.Add(5); added {
		t.Fatalf("duplicate add should report false")
	}
	if s.Len() != 4 || s.Segments() != 3 {
		t.Fatalf("len=%d segments=%d", s.Len(), s.Segments())
	}
	if removed, _ := s.Remove(1000); !removed {
		t.Fatalf("remove 1000")
	}
	if s.Segments() != 2 || f.Live() != 2 {
		t.Fatalf("empty segment should be released: set=%d factory=%d", s.Segments(), f.Live())
	}
	if s.Contains(1000) || !s.Contains(63) {
		t.Fatalf("membership wrong")
	}
	if removed, _ := s.Remove(999); removed {
		t.Fatalf("removing absent id should report false")
	}
}

func TestRoundTripRandomOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	f := bitset.NewMemoryFactory(128)
	s := New(2, f)
	want := map[uint64]bool{}
	for i := 0; i < 2000; i++ {
		id := uint64(rng.Intn(5000))
		if rng.Intn(3) == 0 {
			_, _ = s.Remove(id)
			delete(want, id)
		} else {
			_, _ = s.Add(id)
			want[id] = true
		}
	}
	for id := uint64(0); id < 5000; id++ {
		if s.Contains(id) != want[id] {
			t.Fatalf("contains(%d) = %v want %v", id, s.Contains(id), want[id])
		}
	}
	got := s.Slice()
	if len(got) != len(want) || s.Len() != len(want) {
		t.Fatalf("len mismatch got=%d len=%d want=%d", len(got), s.Len(), len(want))
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) {
		t.Fatalf("iteration not ascending")
	}
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Fatalf("duplicate %d", got[i])
		}
	}
	ids := s.Slice()
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	for _, id := range ids {
		_, _ = s.Remove(id)
	}
	if !s.IsEmpty() || s.Segments() != 0 || f.Live() != 0 {
		t.Fatalf("set should be empty with no segments: len=%d segs=%d live=%d", s.Len(), s.Segments(), f.Live())
	}
}

func TestIteratorRemove(t *testing.T) {
	f := bitset.NewMemoryFactory(64)
	s := New(3, f)
	for _, id := range []uint64{1, 2, 70, 71, 200} {
		_, _ = s.Add(id)
	}
	var seen []uint64
	it := s.Iterator()
	for it.Next() {
		seen = append(seen, it.Value())
		if it.Value()%2 == 0 || it.Value() == 71 {
			if err := it.Remove(); err != nil {
				t.Fatalf("remove: %v", err)
			}
		}
	}
	if len(seen) != 5 || seen[0] != 1 || seen[4] != 200 {
		t.Fatalf("seen %v", seen)
	}
	if got := s.Slice(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("remaining %v", got)
	}
	if s.Segments() != 1 {
		t.Fatalf("segments for removed ranges should be released, have %d", s.Segments())
	}
	if err := it.Remove(); err == nil {
		t.Fatalf("remove past end should fail")
	}
}

func TestLastSegment(t *testing.T) {
	s := New(1, bitset.NewMemoryFactory(64))
	for _, id := range []uint64{math.MaxUint64, math.MaxUint64 - 1, 7} {
		if _, err := s.Add(id); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	if id, ok := s.next(8); !ok || id != math.MaxUint64-1 {
		t.Fatalf("next(8) = %d,%v", id, ok)
	}
	if id, ok := s.next(math.MaxUint64); !ok || id != math.MaxUint64 {
		t.Fatalf("next(max) = %d,%v", id, ok)
	}
	var got []uint64
	for it := s.Iterator(); it.Next(); {
		got = append(got, it.Value())
	}
	if len(got) != 3 || got[0] != 7 || got[2] != math.MaxUint64 {
		t.Fatalf("iterated %v", got)
	}
}

func TestAddAllRemoveAll(t *testing.T) {
	f := bitset.NewMemoryFactory(64)
	a := New(10, f)
	b := New(11, f)
	for _, id := range []uint64{1, 2, 100} {
		_, _ = a.Add(id)
	}
	for _, id := range []uint64{2, 3, 300} {
		_, _ = b.Add(id)
	}
	if err := a.AddAll(b); err != nil {
		t.Fatalf("addAll: %v", err)
	}
	if a.Len() != 5 {
		t.Fatalf("union len %d: %v", a.Len(), a.Slice())
	}
	if err := a.RemoveAll(b); err != nil {
		t.Fatalf("removeAll: %v", err)
	}
	if got := a.Slice(); len(got) != 2 || got[0] != 1 || got[1] != 100 {
		t.Fatalf("difference = %v", got)
	}
	if a.Segments() != 2 {
		t.Fatalf("segment for 300 should be released, have %d", a.Segments())
	}
	if b.Len() != 3 {
		t.Fatalf("source must be untouched")
	}
}

func TestAllocationFailureIsPropagated(t *testing.T) {
	f := bitset.NewMemoryFactory(64).WithMaxSegments(1)
	s := New(4, f)
	if _, err := s.Add(1); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := s.Add(1000)
	if !errors.Is(err, ErrAllocate) {
		t.Fatalf("expected ErrAllocate, got %v", err)
	}
	if s.Contains(1000) || s.Len() != 1 {
		t.Fatalf("failed add must not change the set")
	}
}

func TestReloadFromPebble(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	f := bitset.NewPebbleFactory(db, 64)
	owner := bitset.OwnerID("q/alias")
	s := New(owner, f)
	for _, id := range []uint64{3, 65, 500} {
		_, _ = s.Add(id)
	}
	_, _ = s.Remove(65)
	s.Close()

	reloaded, err := Open(owner, f)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Slice(); len(got) != 2 || got[0] != 3 || got[1] != 500 {
		t.Fatalf("reloaded %v", got)
	}
	if err := reloaded.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	again, _ := Open(owner, f)
	if !again.IsEmpty() {
		t.Fatalf("cleared set should not reload ids")
	}
}
