package subscription

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/config"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/taskqueue"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
)

const (
	defaultWait = 5 * time.Second
	tick        = 5 * time.Millisecond
)

// testHost is an in-memory destination. Its maps are owned by the queue.
type testHost struct {
	name    string
	q       *taskqueue.Queue
	msgs    map[uint64]*message.Message
	entries []Entry
	shares  *SharedRegistry
	nextID  uint64
	deleted []uint64
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	h := &testHost{
		name:   "orders",
		q:      taskqueue.New("orders", nil),
		msgs:   make(map[uint64]*message.Message),
		shares: NewSharedRegistry(),
	}
	t.Cleanup(h.q.Close)
	return h
}

func (h *testHost) Name() string                                 { return h.name }
func (h *testHost) Submit(task taskqueue.Task) *taskqueue.Future { return h.q.Submit(task) }
func (h *testHost) IsClosed() bool                               { return h.q.IsClosed() }
func (h *testHost) Shares() *SharedRegistry                      { return h.shares }

func (h *testHost) Message(id uint64) (*message.Message, bool) {
	m, ok := h.msgs[id]
	return m, ok
}

func (h *testHost) Identifiers() []uint64 {
	out := make([]uint64, 0, len(h.msgs))
	for id := range h.msgs {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (h *testHost) Complete(ids ...uint64) {
	for _, id := range ids {
		if _, ok := h.msgs[id]; !ok || h.held(id) {
			continue
		}
		delete(h.msgs, id)
		h.deleted = append(h.deleted, id)
	}
}

func (h *testHost) held(id uint64) bool {
	for _, e := range h.entries {
		if e.HasMessage(id) {
			return true
		}
	}
	return false
}

func (h *testHost) Attach(e Entry) { h.entries = append(h.entries, e) }

func (h *testHost) Detach(e Entry) {
	h.entries = slices.DeleteFunc(h.entries, func(x Entry) bool { return x == e })
}

func (h *testHost) Lookup(name string) (Entry, bool) {
	for _, e := range h.entries {
		if (e.Kind() == KindStandard || e.Kind() == KindShared) && e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// do runs fn on the queue and waits for it.
func (h *testHost) do(t *testing.T, fn func() error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.q.Submit(func(context.Context) error { return fn() }).Wait(ctx))
}

// publish stores msgs and offers them to every entry.
func (h *testHost) publish(t *testing.T, msgs ...*message.Message) {
	t.Helper()
	h.do(t, func() error {
		for _, m := range msgs {
			h.nextID++
			m.ID = h.nextID
			h.msgs[m.ID] = m
			for _, e := range h.entries {
				if _, err := e.Register(m); err != nil {
					return err
				}
			}
			h.Complete(m.ID)
		}
		return nil
	})
}

func (h *testHost) stored(t *testing.T) int {
	var n int
	h.do(t, func() error {
		n = len(h.msgs)
		return nil
	})
	return n
}

func (h *testHost) build(t *testing.T, b *Builder, c Context, sink Sink) Subscription {
	t.Helper()
	var sub Subscription
	h.do(t, func() error {
		var err error
		sub, err = b.Build(h, SubscriptionID(c), c, sink)
		return err
	})
	return sub
}

// recorder is a Sink remembering every delivery.
type recorder struct {
	mu  sync.Mutex
	got []Delivery
}

func (r *recorder) SendMessage(d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
	return nil
}

func (r *recorder) ids() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.got))
	for _, d := range r.got {
		out = append(out, d.Message.ID)
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder) waitFor(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.len() >= n }, defaultWait, tick, "want %d deliveries", n)
}

// settle waits until every task queued so far, and the deliveries they
// schedule, have run.
func settle(t *testing.T, h *testHost) {
	t.Helper()
	for range 3 {
		h.do(t, func() error { return nil })
	}
}

func newBuilder(mutate func(*config.DeliveryConfig)) *Builder {
	cfg := config.Default().Delivery
	cfg.SegmentSize = 64
	if mutate != nil {
		mutate(&cfg)
	}
	return NewBuilder(Options{Config: cfg})
}

func msg(props map[string]any) *message.Message {
	return &message.Message{Priority: message.DefaultPriority, Properties: props}
}

func stats(t *testing.T, s Subscription) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	return st
}
