package eventlog

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
)

// TrimExpired deletes entries whose header expiry is at or before now.
// Deletes are committed in batches of up to batchLimit keys. Expiry is not
// ordered by identifier, so the whole destination is scanned.
// Returns the deleted identifiers in ascending order.
func (l *Log) TrimExpired(ctx context.Context, now time.Time, batchLimit int) ([]uint64, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	low, hi := entryBounds(l.destination)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	cutoff := now.UnixMilli()
	var deleted []uint64
	b := l.db.NewBatch()
	n := 0
	flush := func() error {
		if n == 0 {
			return nil
		}
		err := l.db.CommitBatch(ctx, b)
		b.Close()
		b = l.db.NewBatch()
		n = 0
		return err
	}
	defer func() { b.Close() }()

	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		hdr, _, okFrame := unframe(iter.Value())
		if !okFrame {
			continue
		}
		exp, has := message.ExpiryOf(hdr)
		if !has || exp > cutoff {
			continue
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return deleted, err
		}
		deleted = append(deleted, idFromKey(iter.Key()))
		n++
		if n >= batchLimit {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	return deleted, flush()
}
