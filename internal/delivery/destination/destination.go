package destination

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/subscription"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/taskqueue"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/eventlog"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

var (
	ErrClosed              = errors.New("destination: closed")
	ErrUnknownSubscription = errors.New("destination: unknown subscription")
	ErrInvalidName         = errors.New("destination: invalid name")
)

// Kind selects how a destination treats messages nobody consumes.
type Kind int

const (
	// Topic drops a message as soon as no subscription holds it.
	Topic Kind = iota
	// Queue retains messages while it has no consumers and hands them to
	// the first subscription or shared group that joins.
	Queue
)

func (k Kind) String() string {
	switch k {
	case Topic:
		return "topic"
	case Queue:
		return "queue"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts topic or queue.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "topic":
		return Topic, nil
	case "queue":
		return Queue, nil
	}
	return Topic, fmt.Errorf("destination: unknown kind %q", s)
}

// Options configure a Destination.
type Options struct {
	Kind  Kind
	Store Store
	// Builder constructs subscriptions. Nil uses a builder with defaults.
	Builder *subscription.Builder
	Logger  log.Logger
	Now     func() time.Time
	// Created overrides the creation time of a destination reopened from the catalog.
	Created time.Time
}

// Stats is a point-in-time view of a destination.
type Stats struct {
	Name          string
	Handle        Handle
	Kind          Kind
	Stored        int
	Subscriptions int
	Entries       int
	SharedGroups  int
}

// Destination implements subscription.Host.
type Destination struct {
	name    string
	handle  Handle
	kind    Kind
	created time.Time

	q       *taskqueue.Queue
	store   Store
	builder *subscription.Builder
	shares  *subscription.SharedRegistry
	logger  log.Logger
	now     func() time.Time

	// owned by q
	entries []subscription.Entry

	subs *xsync.Map[string, subscription.Subscription]
}

var _ subscription.Host = (*Destination)(nil)

// New starts a destination. The caller owns Close.
func New(name string, opts Options) *Destination {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Builder == nil {
		opts.Builder = subscription.NewBuilder(subscription.Options{})
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Created.IsZero() {
		opts.Created = opts.Now()
	}
	logger := opts.Logger.With(log.Component("destination"), log.Str("destination", name))
	return &Destination{
		name:    name,
		kind:    opts.Kind,
		created: opts.Created,
		q:       taskqueue.New(name, opts.Logger),
		store:   opts.Store,
		builder: opts.Builder,
		shares:  subscription.NewSharedRegistry(),
		logger:  logger,
		now:     opts.Now,
		subs:    xsync.NewMap[string, subscription.Subscription](),
	}
}

func (d *Destination) Name() string                         { return d.name }
func (d *Destination) Handle() Handle                       { return d.handle }
func (d *Destination) Kind() Kind                           { return d.kind }
func (d *Destination) Created() time.Time                   { return d.created }
func (d *Destination) IsClosed() bool                       { return d.q.IsClosed() }
func (d *Destination) Shares() *subscription.SharedRegistry { return d.shares }

func (d *Destination) Submit(task taskqueue.Task) *taskqueue.Future { return d.q.Submit(task) }

func (d *Destination) Message(id uint64) (*message.Message, bool) {
	m, err := d.store.Get(id)
	if err != nil {
		if !errors.Is(err, eventlog.ErrNotFound) {
			d.logger.Warn("message load failed", log.Uint64("id", id), log.Err(err))
		}
		return nil, false
	}
	return m, true
}

func (d *Destination) Identifiers() []uint64 {
	ids, err := d.store.Identifiers()
	if err != nil {
		d.logger.Error("identifier scan failed", log.Err(err))
	}
	return ids
}

// Complete deletes the messages no attached entry holds. A queue without
// consumers keeps everything.
func (d *Destination) Complete(ids ...uint64) {
	if d.kind == Queue && !d.hasConsumers() {
		return
	}
	drop := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if !d.held(id) {
			drop = append(drop, id)
		}
	}
	if len(drop) == 0 {
		return
	}
	if err := d.store.Delete(context.Background(), drop...); err != nil {
		d.logger.Error("message delete failed", log.Int("count", len(drop)), log.Err(err))
	}
}

func (d *Destination) held(id uint64) bool {
	for _, e := range d.entries {
		if e.HasMessage(id) {
			return true
		}
	}
	return false
}

func (d *Destination) hasConsumers() bool {
	return slices.ContainsFunc(d.entries, isConsumer)
}

func isConsumer(e subscription.Entry) bool {
	return e.Kind() == subscription.KindStandard || e.Kind() == subscription.KindShared
}

func (d *Destination) Attach(e subscription.Entry) { d.entries = append(d.entries, e) }

func (d *Destination) Detach(e subscription.Entry) {
	d.entries = slices.DeleteFunc(d.entries, func(x subscription.Entry) bool { return x == e })
}

// Lookup finds a standard subscription by alias or a shared group by share name.
func (d *Destination) Lookup(name string) (subscription.Entry, bool) {
	for _, e := range d.entries {
		if isConsumer(e) && e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// run submits fn and waits for it. A closed queue reports ErrClosed.
func (d *Destination) run(ctx context.Context, fn taskqueue.Task) error {
	err := d.q.Run(ctx, fn)
	if errors.Is(err, taskqueue.ErrClosed) {
		return fmt.Errorf("%w: %s", ErrClosed, d.name)
	}
	return err
}

// Publish stores msgs and offers each to every attached subscription.
// Identifiers are assigned into the messages and returned in order.
func (d *Destination) Publish(ctx context.Context, msgs ...*message.Message) ([]uint64, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	var ids []uint64
	err := d.run(ctx, func(qctx context.Context) error {
		now := d.now().UnixMilli()
		for _, m := range msgs {
			if m.Timestamp == 0 {
				m.Timestamp = now
			}
			m.Priority = message.ClampPriority(m.Priority)
		}
		var err error
		if ids, err = d.store.Append(qctx, msgs); err != nil {
			return fmt.Errorf("destination %s: append: %w", d.name, err)
		}
		for _, m := range msgs {
			if err := d.fanOut(m); err != nil {
				return err
			}
			d.Complete(m.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *Destination) fanOut(m *message.Message) error {
	for _, e := range d.entries {
		if _, err := e.Register(m); err != nil {
			return fmt.Errorf("destination %s: register %d with %s %q: %w", d.name, m.ID, e.Kind(), e.Name(), err)
		}
	}
	return nil
}

// Subscribe builds the subscription c selects and starts delivery to sink.
// An existing subscription with the same id (a persistent one being
// reattached) is resumed with sink instead.
func (d *Destination) Subscribe(ctx context.Context, c subscription.Context, sink subscription.Sink) (subscription.Subscription, error) {
	switch c.Destination {
	case "":
		c.Destination = d.name
	case d.name:
	default:
		return nil, fmt.Errorf("%w: context names %q, not %q", subscription.ErrInvalidContext, c.Destination, d.name)
	}
	id := subscription.SubscriptionID(c)
	var sub subscription.Subscription
	err := d.run(ctx, func(context.Context) error {
		if existing, ok := d.subs.Load(id); ok && existing.State() != subscription.Closed {
			existing.Resume(sink)
			sub = existing
			return nil
		}
		s, err := d.builder.Build(d, id, c, sink)
		if err != nil {
			return err
		}
		d.subs.Store(id, s)
		if err := d.seed(s); err != nil {
			return fmt.Errorf("destination %s: seed %s: %w", d.name, id, err)
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Debug("subscribed", log.Str("subscription", id), log.Str("kind", sub.Kind().String()))
	return sub, nil
}

// seed hands retained queue messages to a newly built consumer.
func (d *Destination) seed(s subscription.Subscription) error {
	if d.kind != Queue || s.Context().Persistent {
		return nil
	}
	var e subscription.Entry
	switch x := s.(type) {
	case *subscription.Standard:
		e = x
	case *subscription.Member:
		if len(x.Group().Members()) > 1 {
			return nil
		}
		e = x.Group()
	default:
		return nil
	}
	for _, id := range d.Identifiers() {
		m, ok := d.Message(id)
		if !ok {
			continue
		}
		if _, err := e.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Restore rebuilds persisted subscriptions. They start hibernating until
// Subscribe reattaches a consumer. Contexts that fail are logged and skipped.
func (d *Destination) Restore(ctx context.Context, contexts map[string]subscription.Context) error {
	ids := make([]string, 0, len(contexts))
	for id := range contexts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var restored int
	err := d.run(ctx, func(context.Context) error {
		var errs []error
		for _, id := range ids {
			s, err := d.builder.Restore(d, id, contexts[id])
			if err != nil {
				d.logger.Warn("restore failed", log.Str("subscription", id), log.Err(err))
				errs = append(errs, fmt.Errorf("restore %s: %w", id, err))
				continue
			}
			d.subs.Store(id, s)
			restored++
		}
		return errors.Join(errs...)
	})
	d.logger.Info("subscriptions restored", log.Int("restored", restored), log.Int("persisted", len(ids)))
	return err
}

// Subscription returns a live subscription by id.
func (d *Destination) Subscription(id string) (subscription.Subscription, bool) {
	return d.subs.Load(id)
}

// Subscriptions returns every live subscription ordered by id.
func (d *Destination) Subscriptions() []subscription.Subscription {
	out := make([]subscription.Subscription, 0, d.subs.Size())
	d.subs.Range(func(_ string, s subscription.Subscription) bool {
		out = append(out, s)
		return true
	})
	slices.SortFunc(out, func(a, b subscription.Subscription) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// Unsubscribe closes a subscription. Persistent state is kept, so a later
// Subscribe with the same context picks up where it left off.
func (d *Destination) Unsubscribe(ctx context.Context, id string) error {
	s, ok := d.subs.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	return s.Close(ctx)
}

// DeleteSubscription closes a subscription and drops its persisted state.
func (d *Destination) DeleteSubscription(ctx context.Context, id string) error {
	s, ok := d.subs.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	return s.Delete(ctx)
}

// TrimExpired deletes expired messages from the store. Subscriptions
// drop the identifiers lazily when they next try to deliver them.
func (d *Destination) TrimExpired(ctx context.Context) (int, error) {
	var n int
	err := d.run(ctx, func(qctx context.Context) error {
		ids, err := d.store.TrimExpired(qctx, d.now(), 0)
		n = len(ids)
		return err
	})
	if n > 0 {
		d.logger.Debug("expired messages trimmed", log.Int("count", n))
	}
	return n, err
}

func (d *Destination) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := d.run(ctx, func(context.Context) error {
		st = Stats{
			Name:          d.name,
			Handle:        d.handle,
			Kind:          d.kind,
			Stored:        len(d.Identifiers()),
			Subscriptions: d.subs.Size(),
			Entries:       len(d.entries),
			SharedGroups:  len(d.shares.Groups()),
		}
		return nil
	})
	return st, err
}

// Close shuts every subscription down and stops the queue. Persistent
// subscription state and stored messages are kept.
func (d *Destination) Close(ctx context.Context) error {
	err := d.q.Run(ctx, func(context.Context) error {
		for _, e := range d.entries {
			e.Shutdown()
		}
		d.entries = nil
		d.subs.Range(func(id string, _ subscription.Subscription) bool {
			d.subs.Delete(id)
			return true
		})
		d.q.Close()
		return nil
	})
	if err != nil && !errors.Is(err, taskqueue.ErrClosed) {
		return err
	}
	select {
	case <-d.q.Stopped():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drop deletes persistent subscriptions and then purges the store.
func (d *Destination) drop(ctx context.Context) error {
	var errs []error
	for _, s := range d.Subscriptions() {
		d.subs.Delete(s.ID())
		if err := s.Delete(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, d.Close(ctx))
	errs = append(errs, d.store.Purge(ctx))
	return errors.Join(errs...)
}
