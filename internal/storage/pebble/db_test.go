package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

type countingHook struct {
	writes, reads, batches, batchOps int
}

func (h *countingHook) ObserveWrite(time.Duration, int) { h.writes++ }
func (h *countingHook) ObserveRead(time.Duration, int)  { h.reads++ }
func (h *countingHook) ObserveBatchCommit(_ time.Duration, ops, _ int) {
	h.batches++
	h.batchOps += ops
}

func openDB(t *testing.T, mode FsyncMode) (*DB, *countingHook) {
	t.Helper()
	hook := &countingHook{}
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: mode, FsyncInterval: 2 * time.Millisecond, Metrics: hook})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, hook
}

func newTestDB(t *testing.T) (*DB, *countingHook) { return openDB(t, FsyncModeInterval) }

func TestReadWriteAcrossFsyncModes(t *testing.T) {
	for _, mode := range []FsyncMode{FsyncModeAlways, FsyncModeInterval, FsyncModeNever} {
		t.Run(mode.String(), func(t *testing.T) {
			db, hook := openDB(t, mode)
			if err := db.Set([]byte("dest/orders"), []byte("queue")); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := db.Get([]byte("dest/orders"))
			if err != nil || string(got) != "queue" {
				t.Fatalf("get = %q, %v", got, err)
			}
			if err := db.Delete([]byte("dest/orders")); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := db.Get([]byte("dest/orders")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("after delete: %v", err)
			}
			if hook.writes != 1 || hook.batches != 2 || hook.reads == 0 {
				t.Fatalf("hook saw writes=%d batches=%d reads=%d", hook.writes, hook.batches, hook.reads)
			}
		})
	}
}

func TestCommitBatchReportsOps(t *testing.T) {
	db, hook := newTestDB(t)
	b := db.NewBatch()
	defer b.Close()
	for i := byte(0); i < 3; i++ {
		if err := b.Set([]byte{'k', i}, []byte{i}, nil); err != nil {
			t.Fatalf("batch set: %v", err)
		}
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if hook.batches != 1 || hook.batchOps != 3 {
		t.Fatalf("batches=%d ops=%d", hook.batches, hook.batchOps)
	}
	if _, err := db.Get([]byte{'k', 2}); err != nil {
		t.Fatalf("batched key missing: %v", err)
	}
}

func TestScanAndDeletePrefix(t *testing.T) {
	db, _ := newTestDB(t)
	for _, k := range []string{"a/1", "a/2", "ab", "b/1"} {
		if err := db.Set([]byte(k), []byte("v")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	var seen []string
	if err := db.Scan([]byte("a/"), func(k, _ []byte) bool {
		seen = append(seen, string(k))
		return true
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a/1" || seen[1] != "a/2" {
		t.Fatalf("scan saw %v", seen)
	}
	if err := db.DeletePrefix(context.Background(), []byte("a/")); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if _, err := db.Get([]byte("a/1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("a/1 survived: %v", err)
	}
	if _, err := db.Get([]byte("ab")); err != nil {
		t.Fatalf("ab removed: %v", err)
	}
}

func TestParseFsyncMode(t *testing.T) {
	for in, want := range map[string]FsyncMode{"": FsyncModeUnspecified, "Always": FsyncModeAlways, "interval": FsyncModeInterval, "never": FsyncModeNever} {
		got, err := ParseFsyncMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseFsyncMode(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseFsyncMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
	if !bytes.Equal(PrefixUpperBound([]byte{'a', 0xff}), []byte{'b'}) {
		t.Fatalf("upper bound")
	}
}
