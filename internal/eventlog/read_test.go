package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
)

func seedLog(t *testing.T, n int) *Log {
	t.Helper()
	l := newTestLog(t)
	batch := make([]*message.Message, n)
	for i := range batch {
		batch[i] = &message.Message{Payload: []byte{byte(i)}}
	}
	if _, err := l.Append(context.Background(), batch); err != nil {
		t.Fatalf("append: %v", err)
	}
	return l
}

func TestReadForward(t *testing.T) {
	l := seedLog(t, 5)
	items, next, err := l.Read(ReadOptions{Limit: 3})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 3 || items[0].ID != 1 || items[2].ID != 3 {
		t.Fatalf("unexpected items")
	}
	if next != 4 {
		t.Fatalf("next=%d", next)
	}
	rest, next, _ := l.Read(ReadOptions{Start: next})
	if len(rest) != 2 || next != 0 {
		t.Fatalf("resume returned %d items next=%d", len(rest), next)
	}
}

func TestReadReverse(t *testing.T) {
	l := seedLog(t, 4)
	items, _, _ := l.Read(ReadOptions{Reverse: true, Limit: 2})
	if len(items) != 2 || items[0].ID != 4 || items[1].ID != 3 {
		t.Fatalf("unexpected reverse order")
	}
	items, _, _ = l.Read(ReadOptions{Reverse: true, Start: 2})
	if len(items) != 2 || items[0].ID != 2 {
		t.Fatalf("reverse seek failed")
	}
}

func TestTrimExpired(t *testing.T) {
	l := newTestLog(t)
	now := time.UnixMilli(10_000)
	batch := []*message.Message{
		{Payload: []byte("a"), Expiry: 5_000},
		{Payload: []byte("b")},
		{Payload: []byte("c"), Expiry: 10_000},
		{Payload: []byte("d"), Expiry: 20_000},
	}
	if _, err := l.Append(context.Background(), batch); err != nil {
		t.Fatalf("append: %v", err)
	}
	deleted, err := l.TrimExpired(context.Background(), now, 1)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != 1 || deleted[1] != 3 {
		t.Fatalf("deleted %v", deleted)
	}
	ids, _ := l.Identifiers()
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 4 {
		t.Fatalf("remaining %v", ids)
	}
}

func TestUnframeRejectsCorruption(t *testing.T) {
	b := frame([]byte("h"), []byte("payload"))
	if _, _, ok := unframe(b); !ok {
		t.Fatalf("valid frame rejected")
	}
	b[len(b)-5] ^= 0xff
	if _, _, ok := unframe(b); ok {
		t.Fatalf("corrupt frame accepted")
	}
	if _, err := decodeEntry(1, b); err != ErrCorrupt {
		t.Fatalf("want ErrCorrupt, got %v", err)
	}
}
