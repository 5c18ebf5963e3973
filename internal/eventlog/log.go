package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

// ErrNotFound is returned for identifiers that are not (or no longer) stored.
var ErrNotFound = errors.New("eventlog: message not found")

// Log is the append-only message store of one destination.
type Log struct {
	db          *pebblestore.DB
	destination string

	mu     sync.Mutex
	lastID uint64
}

// Open initializes a Log and loads the last identifier from metadata.
func Open(db *pebblestore.DB, destination string) (*Log, error) {
	l := &Log{db: db, destination: destination}
	meta, err := db.Get(KeyMeta(destination))
	switch {
	case err == nil && len(meta) >= 8:
		l.lastID = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, pebble.ErrNotFound):
		return nil, fmt.Errorf("eventlog: load meta %s: %w", destination, err)
	}
	return l, nil
}

// Destination returns the destination name the log belongs to.
func (l *Log) Destination() string { return l.destination }

// LastID returns the last assigned identifier.
func (l *Log) LastID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastID
}

// Append stores msgs as a single atomic batch, assigning ascending
// identifiers into each message. Returns the assigned identifiers.
func (l *Log) Append(ctx context.Context, msgs []*message.Message) ([]uint64, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	next := l.lastID
	ids := make([]uint64, len(msgs))
	for i, m := range msgs {
		next++
		m.ID = next
		val, err := encodeEntry(m)
		if err != nil {
			return nil, err
		}
		if err := b.Set(KeyEntry(l.destination, next), val, nil); err != nil {
			return nil, err
		}
		ids[i] = next
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], next)
	if err := b.Set(KeyMeta(l.destination), meta[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastID = next
	return ids, nil
}

// Get loads one message.
func (l *Log) Get(id uint64) (*message.Message, error) {
	val, err := l.db.Get(KeyEntry(l.destination, id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeEntry(id, val)
}

// Delete removes the given identifiers in one batch. Missing ids are ignored.
func (l *Log) Delete(ctx context.Context, ids ...uint64) error {
	if len(ids) == 0 {
		return nil
	}
	b := l.db.NewBatch()
	defer b.Close()
	for _, id := range ids {
		if err := b.Delete(KeyEntry(l.destination, id), nil); err != nil {
			return err
		}
	}
	return l.db.CommitBatch(ctx, b)
}

// Purge removes every entry and the metadata of the destination.
func (l *Log) Purge(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	low, hi := entryBounds(l.destination)
	b := l.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(low, hi, nil); err != nil {
		return err
	}
	if err := b.Delete(KeyMeta(l.destination), nil); err != nil {
		return err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	l.lastID = 0
	return nil
}
