package destination

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/subscription"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
)

const (
	defaultWait = 5 * time.Second
	tick        = 5 * time.Millisecond
)

type recorder struct {
	mu  sync.Mutex
	ids []uint64
}

func (r *recorder) SendMessage(d subscription.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, d.Message.ID)
	return nil
}

func (r *recorder) got() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.ids...)
}

func (r *recorder) waitFor(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.got()) >= n }, defaultWait, tick, "want %d deliveries", n)
}

func newDest(t *testing.T, kind Kind) *Destination {
	t.Helper()
	d := New("orders", Options{Kind: kind})
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func publish(t *testing.T, d *Destination, n int) []uint64 {
	t.Helper()
	msgs := make([]*message.Message, n)
	for i := range msgs {
		msgs[i] = &message.Message{Priority: message.DefaultPriority, Payload: []byte(fmt.Sprintf("m%d", i))}
	}
	ids, err := d.Publish(context.Background(), msgs...)
	require.NoError(t, err)
	return ids
}

func storedCount(t *testing.T, d *Destination) int {
	t.Helper()
	st, err := d.Stats(context.Background())
	require.NoError(t, err)
	return st.Stored
}

func TestPublishFansOutAndCompletes(t *testing.T) {
	d := newDest(t, Topic)
	ctx := context.Background()
	a, b := &recorder{}, &recorder{}
	_, err := d.Subscribe(ctx, subscription.Context{Alias: "a", AckMode: ack.Auto, ReceiveMaximum: 10}, a)
	require.NoError(t, err)
	_, err = d.Subscribe(ctx, subscription.Context{Alias: "b", AckMode: ack.Auto, ReceiveMaximum: 10}, b)
	require.NoError(t, err)

	ids := publish(t, d, 3)
	require.Equal(t, []uint64{1, 2, 3}, ids)
	a.waitFor(t, 3)
	b.waitFor(t, 3)
	require.Equal(t, ids, a.got())
	require.Equal(t, ids, b.got())
	require.Eventually(t, func() bool { return storedCount(t, d) == 0 }, defaultWait, tick)
}

func TestTopicDropsUnconsumedMessages(t *testing.T) {
	d := newDest(t, Topic)
	publish(t, d, 2)
	require.Equal(t, 0, storedCount(t, d))
}

func TestQueueRetainsUntilConsumerJoins(t *testing.T) {
	d := newDest(t, Queue)
	publish(t, d, 3)
	require.Equal(t, 3, storedCount(t, d))

	r := &recorder{}
	_, err := d.Subscribe(context.Background(), subscription.Context{Alias: "late", AckMode: ack.Auto, ReceiveMaximum: 10}, r)
	require.NoError(t, err)
	r.waitFor(t, 3)
	require.Equal(t, []uint64{1, 2, 3}, r.got())
	require.Eventually(t, func() bool { return storedCount(t, d) == 0 }, defaultWait, tick)
}

func TestQueueSeedsSharedGroupOnce(t *testing.T) {
	d := newDest(t, Queue)
	publish(t, d, 4)

	a, b := &recorder{}, &recorder{}
	for i, r := range []*recorder{a, b} {
		c := subscription.Context{
			Alias:          "workers",
			SessionID:      fmt.Sprintf("s%d", i),
			SharedName:     "workers",
			AckMode:        ack.Auto,
			ReceiveMaximum: 10,
		}
		_, err := d.Subscribe(context.Background(), c, r)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(a.got())+len(b.got()) == 4 }, defaultWait, tick)
	require.ElementsMatch(t, []uint64{1, 2, 3, 4}, append(a.got(), b.got()...))
}

func TestSubscribeRejectsForeignDestination(t *testing.T) {
	d := newDest(t, Topic)
	_, err := d.Subscribe(context.Background(), subscription.Context{Destination: "other"}, &recorder{})
	require.ErrorIs(t, err, subscription.ErrInvalidContext)
}

func TestUnsubscribe(t *testing.T) {
	d := newDest(t, Topic)
	ctx := context.Background()
	sub, err := d.Subscribe(ctx, subscription.Context{Alias: "a"}, &recorder{})
	require.NoError(t, err)
	require.Len(t, d.Subscriptions(), 1)

	require.NoError(t, d.Unsubscribe(ctx, sub.ID()))
	require.Empty(t, d.Subscriptions())
	require.Equal(t, subscription.Closed, sub.State())
	require.ErrorIs(t, d.Unsubscribe(ctx, sub.ID()), ErrUnknownSubscription)
}

func TestClosedDestinationRejectsWork(t *testing.T) {
	d := New("orders", Options{})
	require.NoError(t, d.Close(context.Background()))
	require.True(t, d.IsClosed())
	_, err := d.Publish(context.Background(), &message.Message{})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, d.Close(context.Background()))
}

func TestTrimExpired(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	d := New("orders", Options{Kind: Queue, Now: func() time.Time { return now }})
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	_, err := d.Publish(context.Background(),
		&message.Message{Expiry: now.Add(-time.Second).UnixMilli()},
		&message.Message{},
		&message.Message{Expiry: now.UnixMilli()},
	)
	require.NoError(t, err)
	n, err := d.TrimExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, storedCount(t, d))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ids, err := s.Append(ctx, []*message.Message{{}, {}, {}})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, ids)

	require.NoError(t, s.Delete(ctx, 2, 9))
	got, err := s.Identifiers()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3}, got)

	_, err = s.Get(2)
	require.Error(t, err)
	require.NoError(t, s.Purge(ctx))
	got, _ = s.Identifiers()
	require.Empty(t, got)
}
