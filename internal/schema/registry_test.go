package schema

import (
	"context"
	"errors"
	"testing"

	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

func TestLifecycle(t *testing.T) {
	r := NewRegistry(nil, nil)
	if _, err := r.Set("a", "json", nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("want ErrNotStarted, got %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	var got []Schema
	cancel, err := r.Subscribe("a", func(s Schema) { got = append(got, s) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := r.Set("a", "json", []byte(`{}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := r.Set("b", "json", nil); err != nil {
		t.Fatalf("set b: %v", err)
	}
	s2, _ := r.Set("a", "avro", nil)
	if len(got) != 2 || got[1].Version != 2 || s2.Format != "avro" {
		t.Fatalf("listener saw %+v", got)
	}
	cancel()
	_, _ = r.Set("a", "json", nil)
	if len(got) != 2 {
		t.Fatalf("listener called after cancel")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.Set("a", "json", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestPersistedAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r := NewRegistry(db, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	want, err := r.Set("sensors", "json", []byte(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = r.Close()

	r2 := NewRegistry(db, nil)
	if err := r2.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	got, ok := r2.Get("sensors")
	if !ok || got.ID != want.ID || string(got.Definition) != `{"type":"object"}` {
		t.Fatalf("reloaded %+v", got)
	}
	if len(r2.List()) != 1 {
		t.Fatalf("list %v", r2.List())
	}
}
