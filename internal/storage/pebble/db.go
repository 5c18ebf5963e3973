package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = pebble.ErrNotFound

// Options configures the store.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	// Metrics observes read/write/commit latencies and sizes. Optional.
	Metrics MetricsHook
}

// MetricsHook is the storage observation surface.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(time.Duration, int)            {}
func (NoopMetrics) ObserveRead(time.Duration, int)             {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// DB is the broker's single Pebble instance. Message logs, bitset segments
// and the catalog share it, separated by key prefix.
type DB struct {
	inner   *pebble.DB
	wo      *pebble.WriteOptions
	metrics MetricsHook
}

// Open creates or opens the database under opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	wo := opts.Fsync.apply(po, opts.FsyncInterval)
	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", opts.DataDir, err)
	}
	db := &DB{inner: inner, wo: wo, metrics: opts.Metrics}
	if db.metrics == nil {
		db.metrics = NoopMetrics{}
	}
	return db, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// NewBatch creates a new batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits b with the configured fsync policy.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	ops, size := int(b.Count()), b.Len()
	err := b.Commit(db.wo)
	db.metrics.ObserveBatchCommit(time.Since(start), ops, size)
	return err
}

// Set writes one key respecting the fsync policy.
func (db *DB) Set(key, value []byte) error {
	start := time.Now()
	err := db.commitOne(func(b *pebble.Batch) error { return b.Set(key, value, nil) })
	if err == nil {
		db.metrics.ObserveWrite(time.Since(start), len(key)+len(value))
	}
	return err
}

// Delete removes one key respecting the fsync policy.
func (db *DB) Delete(key []byte) error {
	return db.commitOne(func(b *pebble.Batch) error { return b.Delete(key, nil) })
}

func (db *DB) commitOne(op func(b *pebble.Batch) error) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := op(b); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// Get copies the value for key. Absent keys return ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// NewIter creates a raw Pebble iterator with the provided options.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}

// Scan visits every key with prefix in order until fn returns false.
// Key and value are only valid during the callback.
func (db *DB) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: PrefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// DeletePrefix removes every key with prefix in one batch.
func (db *DB) DeletePrefix(ctx context.Context, prefix []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, PrefixUpperBound(prefix), nil); err != nil {
		return err
	}
	return db.CommitBatch(ctx, b)
}

// PrefixUpperBound returns the smallest key greater than every key with
// prefix, or nil when no such key exists.
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
