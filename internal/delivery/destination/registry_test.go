package destination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/catalog"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/config"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/subscription"
	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

func TestRegistryHandles(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	t.Cleanup(func() { _ = r.Close(ctx) })

	a, err := r.Open(ctx, "a", Topic)
	require.NoError(t, err)
	b, err := r.Open(ctx, "b", Queue)
	require.NoError(t, err)
	again, err := r.Open(ctx, " a ", Queue)
	require.NoError(t, err)
	require.Same(t, a, again)
	require.Equal(t, Topic, again.Kind())
	require.Equal(t, 2, r.Len())

	got, ok := r.Resolve(b.Handle())
	require.True(t, ok)
	require.Same(t, b, got)

	stale := a.Handle()
	require.NoError(t, r.Remove(ctx, "a"))
	require.True(t, a.IsClosed())
	_, ok = r.Get("a")
	require.False(t, ok)

	c, err := r.Open(ctx, "c", Topic)
	require.NoError(t, err)
	require.Equal(t, stale.slot(), c.Handle().slot(), "freed slot is reused")
	_, ok = r.Resolve(stale)
	require.False(t, ok, "stale handle must not resolve to the new occupant")

	_, err = r.Open(ctx, "  ", Topic)
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestRegistryListFilter(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	t.Cleanup(func() { _ = r.Close(ctx) })
	for _, n := range []string{"orders", "alerts"} {
		_, err := r.Open(ctx, n, Topic)
		require.NoError(t, err)
	}
	q, err := r.Open(ctx, "jobs", Queue)
	require.NoError(t, err)
	_, err = q.Subscribe(ctx, subscription.Context{Alias: "w"}, &recorder{})
	require.NoError(t, err)

	names := func(infos []Info) []string {
		out := make([]string, len(infos))
		for i, in := range infos {
			out[i] = in.Name
		}
		return out
	}
	require.Equal(t, []string{"alerts", "jobs", "orders"}, names(r.List("")))
	require.Equal(t, []string{"jobs"}, names(r.List("kind = 'queue'")))
	require.Equal(t, []string{"jobs"}, names(r.List("subscriptions > 0")))
	require.Equal(t, []string{"alerts", "orders"}, names(r.List("name LIKE '%er%'")))
	// a malformed listing filter lists everything
	require.Len(t, r.List("kind = = 'queue'"), 3)
}

func TestRegistryClosed(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	d, err := r.Open(ctx, "a", Topic)
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))
	require.True(t, d.IsClosed())
	_, err = r.Open(ctx, "b", Topic)
	require.ErrorIs(t, err, ErrClosed)
}

type durableNode struct {
	db  *pebblestore.DB
	reg *Registry
}

func openNode(t *testing.T, dir string) *durableNode {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	cfg := config.Default().Delivery
	cfg.SegmentSize = 64
	cat := catalog.New(db)
	b := subscription.NewBuilder(subscription.Options{
		Config:  cfg,
		Durable: bitset.NewPebbleFactory(db, uint64(cfg.SegmentSize)),
		Store:   cat,
	})
	reg := NewRegistry(RegistryOptions{DB: db, Catalog: cat, Builder: b})
	require.NoError(t, reg.OpenAll(context.Background()))
	return &durableNode{db: db, reg: reg}
}

func (n *durableNode) close(t *testing.T) {
	t.Helper()
	require.NoError(t, n.reg.Close(context.Background()))
	require.NoError(t, n.db.Close())
}

func TestPersistentSubscriptionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := subscription.Context{
		Destination:    "orders",
		Alias:          "durable",
		SessionID:      "client-1",
		AckMode:        ack.Client,
		ReceiveMaximum: 1,
		Persistent:     true,
	}

	node := openNode(t, dir)
	d, err := node.reg.Open(ctx, "orders", Topic)
	require.NoError(t, err)
	first := &recorder{}
	sub, err := d.Subscribe(ctx, c, first)
	require.NoError(t, err)
	publish(t, d, 3)
	first.waitFor(t, 1)
	sub.AckReceived(1)
	first.waitFor(t, 2)
	node.close(t)

	node = openNode(t, dir)
	t.Cleanup(func() { node.close(t) })
	d, ok := node.reg.Get("orders")
	require.True(t, ok, "catalog reopens the destination")
	restored, ok := d.Subscription(sub.ID())
	require.True(t, ok)
	require.Equal(t, subscription.Hibernating, restored.State())
	st, err := restored.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, st.Pending, "the unacked in-flight id is back at rest")
	require.Equal(t, 2, storedCount(t, d))

	second := &recorder{}
	again, err := d.Subscribe(ctx, c, second)
	require.NoError(t, err)
	require.Same(t, restored, again)
	second.waitFor(t, 1)
	require.Equal(t, []uint64{2}, second.got())

	require.NoError(t, d.DeleteSubscription(ctx, sub.ID()))
	require.Equal(t, 0, storedCount(t, d))
	require.NoError(t, node.reg.Remove(ctx, "orders"))
	_, ok = node.reg.Get("orders")
	require.False(t, ok)
}
