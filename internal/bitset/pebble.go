package bitset

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

// Keyspace:
//   - seg/{owner_be8}/{start_be8} -> bitset.MarshalBinary
var segPrefix = []byte("seg/")

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyOwnerPrefix returns the key prefix covering every segment of owner.
func KeyOwnerPrefix(owner uint64) []byte {
	k := make([]byte, 0, len(segPrefix)+9)
	k = append(k, segPrefix...)
	k = appendBE8(k, owner)
	return append(k, '/')
}

// KeySegment builds the key of one segment.
func KeySegment(owner, start uint64) []byte {
	return appendBE8(KeyOwnerPrefix(owner), start)
}

// PebbleFactory persists segments in pebble.
type PebbleFactory struct {
	db   *pebblestore.DB
	size uint64
}

// NewPebbleFactory returns a factory writing to db.
func NewPebbleFactory(db *pebblestore.DB, size uint64) *PebbleFactory {
	return &PebbleFactory{db: db, size: size}
}

func (f *PebbleFactory) SegmentSize() uint64 { return f.size }

// Open allocates the segment and writes its empty image so that storage
// failures surface here rather than on a later Sync.
func (f *PebbleFactory) Open(owner, id uint64) (*Segment, error) {
	seg := newSegment(owner, StartOf(id, f.size), f.size)
	if err := f.Sync(seg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageExhausted, err)
	}
	return seg, nil
}

func (f *PebbleFactory) Close(seg *Segment) error {
	if err := f.db.Delete(KeySegment(seg.owner, seg.start)); err != nil {
		return fmt.Errorf("bitset: delete segment %d/%d: %w", seg.owner, seg.start, err)
	}
	return nil
}

func (f *PebbleFactory) Sync(seg *Segment) error {
	b, err := seg.MarshalBinary()
	if err != nil {
		return err
	}
	return f.db.Set(KeySegment(seg.owner, seg.start), b)
}

func (f *PebbleFactory) Release(*Segment) {}

func (f *PebbleFactory) Get(owner uint64) ([]*Segment, error) {
	prefix := KeyOwnerPrefix(owner)
	it, err := f.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: pebblestore.PrefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []*Segment
	for ok := it.First(); ok; ok = it.Next() {
		key := it.Key()
		if len(key) != len(prefix)+8 {
			continue
		}
		start := binary.BigEndian.Uint64(key[len(prefix):])
		seg := newSegment(owner, start, f.size)
		if err := seg.unmarshalBits(it.Value()); err != nil {
			return nil, fmt.Errorf("bitset: load segment %d/%d: %w", owner, start, err)
		}
		out = append(out, seg)
	}
	return out, it.Error()
}

// OwnerStats summarizes the persisted segments of one owner.
type OwnerStats struct {
	Owner    uint64
	Segments int
	Bits     int
}

// Owners scans every persisted segment and aggregates per owner.
func (f *PebbleFactory) Owners() ([]OwnerStats, error) {
	it, err := f.db.NewIter(&pebble.IterOptions{LowerBound: segPrefix, UpperBound: pebblestore.PrefixUpperBound(segPrefix)})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []OwnerStats
	for ok := it.First(); ok; ok = it.Next() {
		key := it.Key()
		if len(key) != len(segPrefix)+17 {
			continue
		}
		owner := binary.BigEndian.Uint64(key[len(segPrefix):])
		seg := newSegment(owner, 0, f.size)
		if err := seg.unmarshalBits(it.Value()); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Owner != owner {
			out = append(out, OwnerStats{Owner: owner})
		}
		out[len(out)-1].Segments++
		out[len(out)-1].Bits += seg.Count()
	}
	return out, it.Error()
}
