package catalog

import (
	"testing"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/subscription"
	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

func openDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestEnsureDestinationIdempotent(t *testing.T) {
	db := openDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	c := New(db)

	m1, err := c.EnsureDestination("orders", "queue")
	if err != nil {
		t.Fatalf("ensure1: %v", err)
	}
	m2, err := c.EnsureDestination("orders", "topic")
	if err != nil {
		t.Fatalf("ensure2: %v", err)
	}
	if m1 != m2 || m2.Kind != "queue" {
		t.Fatalf("not idempotent: %+v vs %+v", m1, m2)
	}
	if _, err := c.EnsureDestination("alerts", "topic"); err != nil {
		t.Fatalf("ensure alerts: %v", err)
	}
	all, err := c.Destinations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].Name != "alerts" || all[1].Name != "orders" {
		t.Fatalf("unexpected destinations %+v", all)
	}
}

func TestSubscriptionsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	c := New(db)
	sc := subscription.Context{
		Destination:    "orders",
		Alias:          "durable",
		SessionID:      "s1",
		Filter:         "qty > 10",
		AckMode:        ack.Client,
		ReceiveMaximum: 8,
		Persistent:     true,
	}
	if err := c.SaveSubscription("a", sc); err != nil {
		t.Fatalf("save: %v", err)
	}
	other := sc
	other.Destination = "alerts"
	if err := c.SaveSubscription("b", other); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db = openDB(t, dir)
	t.Cleanup(func() { _ = db.Close() })
	c = New(db)
	got, err := c.Subscriptions("orders")
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(got) != 1 || got["a"] != sc {
		t.Fatalf("unexpected contexts %+v", got)
	}

	if _, err := c.EnsureDestination("orders", "queue"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := c.RemoveDestination("orders"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ = c.Subscriptions("orders")
	all, _ := c.Destinations()
	if len(got) != 0 || len(all) != 0 {
		t.Fatalf("remove left %d contexts and %d destinations", len(got), len(all))
	}
	if left, _ := c.Subscriptions("alerts"); len(left) != 1 {
		t.Fatalf("remove touched another destination: %+v", left)
	}
}
