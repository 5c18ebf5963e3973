package eventlog

import (
	"github.com/cockroachdb/pebble"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
)

// ReadOptions bounds a scan. A zero Start begins at the first entry
// (or the last one when Reverse is set).
type ReadOptions struct {
	Start   uint64
	Limit   int
	Reverse bool
}

// Read returns up to Limit messages starting at Start (inclusive) and the
// identifier to resume from, zero when the scan reached the end.
// Entries that fail to decode are skipped.
func (l *Log) Read(opts ReadOptions) ([]*message.Message, uint64, error) {
	low, hi := entryBounds(l.destination)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	out := make([]*message.Message, 0, max(1, opts.Limit))
	var ok bool
	switch {
	case opts.Reverse && opts.Start == 0:
		ok = iter.Last()
	case opts.Reverse:
		ok = iter.SeekLT(KeyEntry(l.destination, opts.Start+1))
	case opts.Start == 0:
		ok = iter.First()
	default:
		ok = iter.SeekGE(KeyEntry(l.destination, opts.Start))
	}
	for ok && (opts.Limit == 0 || len(out) < opts.Limit) {
		if m, err := decodeEntry(idFromKey(iter.Key()), iter.Value()); err == nil {
			out = append(out, m)
		}
		if opts.Reverse {
			ok = iter.Prev()
		} else {
			ok = iter.Next()
		}
	}
	var next uint64
	if ok {
		next = idFromKey(iter.Key())
	}
	return out, next, iter.Error()
}

// Identifiers returns every stored identifier in ascending order without
// decoding entries.
func (l *Log) Identifiers() ([]uint64, error) {
	low, hi := entryBounds(l.destination)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var ids []uint64
	for ok := iter.First(); ok; ok = iter.Next() {
		ids = append(ids, idFromKey(iter.Key()))
	}
	return ids, iter.Error()
}
