package subscription

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/config"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
)

// steppingClock advances by step on every read, so a backfill slice of
// one step examines exactly one identifier.
func steppingClock(step time.Duration) func() time.Time {
	var n atomic.Int64
	base := time.Unix(1_700_000_000, 0)
	return func() time.Time { return base.Add(time.Duration(n.Add(1)) * step) }
}

func sliceBuilder() *Builder {
	cfg := config.Default().Delivery
	cfg.SegmentSize = 64
	cfg.BrowserSliceMs = 1
	return NewBuilder(Options{Config: cfg, Now: steppingClock(time.Millisecond)})
}

func numbered(h *testHost, t *testing.T, n int) {
	for i := 1; i <= n; i++ {
		h.publish(t, msg(map[string]any{"n": i}))
	}
}

func TestBrowserSnapshotIsIsolated(t *testing.T) {
	h := newTestHost(t)
	b := newBuilder(nil)
	consumed := &recorder{}
	parent := h.build(t, b, Context{Destination: "orders", Alias: "main", AckMode: ack.Client, ReceiveMaximum: 1}, consumed)
	numbered(h, t, 5)
	consumed.waitFor(t, 1)

	browsed := &recorder{}
	br := h.build(t, b, Context{Destination: "orders", Alias: "peek", Browser: true, Parent: "main", AckMode: ack.Client, ReceiveMaximum: 10}, browsed)
	browsed.waitFor(t, 5)
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, browsed.ids())

	br.AckReceived(5)
	parent.AckReceived(1)
	settle(t, h)

	require.Equal(t, uint64(5), stats(t, br).Acked)
	st := stats(t, parent)
	require.Equal(t, uint64(1), st.Acked)
	require.Equal(t, 3, st.Pending)
	require.Equal(t, 1, st.InFlight)
	// browser acks never release messages
	require.Equal(t, 4, h.stored(t))

	h.publish(t, msg(map[string]any{"n": 6}))
	settle(t, h)
	require.Equal(t, 5, browsed.len(), "live messages are not browsed")
}

func TestBrowserFilteredBackfill(t *testing.T) {
	h := newTestHost(t)
	b := sliceBuilder()
	h.build(t, b, Context{Destination: "orders", Alias: "main", AckMode: ack.Client, ReceiveMaximum: 1}, nil)
	numbered(h, t, 5)

	browsed := &recorder{}
	br := h.build(t, b, Context{Destination: "orders", Browser: true, Parent: "main", Filter: "n > 2", AckMode: ack.Auto, ReceiveMaximum: 10}, browsed)
	browsed.waitFor(t, 3)
	settle(t, h)
	require.Equal(t, []uint64{3, 4, 5}, browsed.ids())

	st := stats(t, br)
	require.Equal(t, uint64(3), st.Registered)
	require.Equal(t, uint64(2), st.Ignored)
	require.Equal(t, 5, h.stored(t))
}

func TestBrowserBackfillSkipsVanishedMessages(t *testing.T) {
	h := newTestHost(t)
	b := sliceBuilder()
	// no subscription holds them, so store directly
	h.do(t, func() error {
		for i := uint64(1); i <= 5; i++ {
			m := msg(map[string]any{"n": int(i)})
			m.ID = i
			h.msgs[i] = m
		}
		return nil
	})

	browsed := &recorder{}
	h.do(t, func() error {
		c := Context{Destination: "orders", Browser: true, Filter: "n >= 2", AckMode: ack.Auto, ReceiveMaximum: 10}
		if _, err := b.Build(h, "browse", c, browsed); err != nil {
			return err
		}
		delete(h.msgs, 4)
		return nil
	})
	browsed.waitFor(t, 3)
	settle(t, h)
	require.Equal(t, []uint64{2, 3, 5}, browsed.ids())
}

func TestBrowserBackfillStopsOnClose(t *testing.T) {
	h := newTestHost(t)
	b := sliceBuilder()
	h.build(t, b, Context{Destination: "orders", Alias: "main"}, nil)
	numbered(h, t, 10)

	browsed := &recorder{}
	var br *Browser
	h.do(t, func() error {
		sub, err := b.Build(h, "browse", Context{Destination: "orders", Browser: true, Parent: "main", Filter: "n > 0"}, browsed)
		if err != nil {
			return err
		}
		br = sub.(*Browser)
		return br.close()
	})
	settle(t, h)
	var backfilling bool
	h.do(t, func() error {
		backfilling = br.Backfilling()
		return nil
	})
	require.False(t, backfilling)
	require.Zero(t, browsed.len())
	require.NoError(t, br.Close(context.Background()))
}

func TestBrowserUnknownParent(t *testing.T) {
	h := newTestHost(t)
	var err error
	h.do(t, func() error {
		_, err = newBuilder(nil).Build(h, "x", Context{Destination: "orders", Browser: true, Parent: "missing"}, &recorder{})
		return nil
	})
	require.ErrorIs(t, err, ErrNoParent)
}

func TestNeedsBackfill(t *testing.T) {
	a := selector.MustCompile("a > 1")
	a2 := selector.MustCompile("a>1")
	other := selector.MustCompile("b = 2")

	require.False(t, needsBackfill(nil, nil))
	require.False(t, needsBackfill(a, nil))
	require.True(t, needsBackfill(nil, a))
	require.False(t, needsBackfill(a, a2))
	require.True(t, needsBackfill(a, other))
}
