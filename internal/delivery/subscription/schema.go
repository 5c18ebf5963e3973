package subscription

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/idset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/metrics"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/schema"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// Schema meta keys set on schema deliveries.
const (
	MetaSchemaVersion = "schema.version"
	MetaSchemaFormat  = "schema.format"
)

// SchemaSubscription forwards schema changes of its destination. It holds
// no identifiers.
type SchemaSubscription struct {
	id       string
	c        Context
	host     Host
	registry *schema.Registry
	rec      metrics.Recorder
	logger   log.Logger

	status atomic.Int32
	cancel func()
	sink   Sink
	sent   uint64
}

var (
	_ Subscription = (*SchemaSubscription)(nil)
	_ Entry        = (*SchemaSubscription)(nil)
)

func (s *SchemaSubscription) ID() string                { return s.id }
func (s *SchemaSubscription) Context() Context          { return s.c }
func (s *SchemaSubscription) Kind() Kind                { return KindSchema }
func (s *SchemaSubscription) Name() string              { return s.c.Alias }
func (s *SchemaSubscription) State() State              { return State(s.status.Load()) }
func (s *SchemaSubscription) Filter() selector.Executor { return nil }

func (s *SchemaSubscription) Register(*message.Message) (bool, error) { return false, nil }
func (s *SchemaSubscription) HasMessage(uint64) bool                  { return false }

func (s *SchemaSubscription) Snapshot(owner uint64, factory bitset.Factory) (*idset.Set, error) {
	return idset.New(owner, factory), nil
}

// start listens for changes and sends the current schema, if any.
// It runs on the destination queue.
func (s *SchemaSubscription) start() error {
	cancel, err := s.registry.Subscribe(s.c.Destination, func(sc schema.Schema) {
		s.host.Submit(func(context.Context) error {
			s.send(sc)
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.cancel = cancel
	s.sendCurrent()
	return nil
}

func (s *SchemaSubscription) sendCurrent() {
	if sc, ok := s.registry.Get(s.c.Destination); ok {
		s.send(sc)
	}
}

func (s *SchemaSubscription) send(sc schema.Schema) {
	if s.State() != Active || s.sink == nil || s.host.IsClosed() {
		return
	}
	msg := &message.Message{
		Priority:    message.DefaultPriority,
		Payload:     sc.Definition,
		ContentType: sc.Format,
		SchemaID:    sc.ID,
		Timestamp:   sc.Updated.UnixMilli(),
		Meta: map[string]string{
			MetaSchemaVersion: strconv.Itoa(sc.Version),
			MetaSchemaFormat:  sc.Format,
		},
	}
	if err := s.sink.SendMessage(Delivery{SubscriptionID: s.id, Destination: s.c.Destination, Alias: s.c.Alias, Message: msg}); err != nil {
		s.logger.Warn("schema delivery failed", log.Str("schema", sc.ID), log.Err(err))
		return
	}
	s.sent++
	s.rec.Sent(s.c.Destination, KindSchema.String())
}

// Schema updates are not acknowledged and carry no credit.
func (s *SchemaSubscription) AckReceived(uint64)      {}
func (s *SchemaSubscription) RollbackReceived(uint64) {}
func (s *SchemaSubscription) UpdateCredit(int)        {}
func (s *SchemaSubscription) Pause()                  {}
func (s *SchemaSubscription) Unpause()                {}

func (s *SchemaSubscription) Hibernate() {
	s.host.Submit(func(context.Context) error {
		if s.State() == Active {
			s.status.Store(int32(Hibernating))
			s.sink = nil
		}
		return nil
	})
}

// Resume reattaches sink and sends the current schema.
func (s *SchemaSubscription) Resume(sink Sink) {
	s.host.Submit(func(context.Context) error {
		if s.State() == Closed {
			return nil
		}
		s.sink = sink
		s.status.Store(int32(Active))
		s.sendCurrent()
		return nil
	})
}

func (s *SchemaSubscription) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	f := s.host.Submit(func(context.Context) error {
		out = Stats{ID: s.id, Destination: s.c.Destination, Alias: s.c.Alias, Kind: KindSchema, State: s.State(), Sent: s.sent}
		return nil
	})
	if err := f.Wait(ctx); err != nil {
		return Stats{}, err
	}
	return out, nil
}

func (s *SchemaSubscription) Shutdown() {
	if s.State() == Closed {
		return
	}
	s.status.Store(int32(Closed))
	s.sink = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.rec.Subscriptions(s.c.Destination, KindSchema.String(), -1)
}

func (s *SchemaSubscription) Close(ctx context.Context) error {
	return await(ctx, s.host.Submit(func(context.Context) error {
		if s.State() == Closed {
			return nil
		}
		s.host.Detach(s)
		s.Shutdown()
		return nil
	}))
}

func (s *SchemaSubscription) Delete(ctx context.Context) error { return s.Close(ctx) }
