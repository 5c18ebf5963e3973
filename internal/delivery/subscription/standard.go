package subscription

import (
	"context"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/state"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/idset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// Standard is a single-consumer subscription with its own identifier sets.
type Standard struct {
	core
	mgr   *state.Manager
	store Store
}

var (
	_ Subscription = (*Standard)(nil)
	_ Entry        = (*Standard)(nil)
)

func newStandard(mgr *state.Manager, store Store) *Standard {
	s := &Standard{mgr: mgr, store: store}
	s.tracker = mgr
	s.completes = true
	s.kick = s.deliver
	s.ready = s.canDeliver
	return s
}

func (s *Standard) Name() string { return s.c.Alias }

// Register takes m unless the subscription is closed, m was published by
// this session and noLocal is set, the subscription hibernates and m is
// not stored offline, or the filter rejects m.
func (s *Standard) Register(m *message.Message) (bool, error) {
	switch {
	case s.State() == Closed:
		return false, nil
	case s.c.NoLocal && m.SessionID != "" && m.SessionID == s.c.SessionID:
		s.ignore("nolocal")
		return false, nil
	case s.State() == Hibernating && !m.StoreOffline:
		s.ignore("hibernating")
		return false, nil
	case !s.matches(m):
		s.ignore("filter")
		return false, nil
	}
	added, err := s.mgr.Register(m.ID, m.Priority)
	if err != nil || !added {
		return false, err
	}
	s.counts.registered++
	s.rec.Registered(s.c.Destination, s.kind.String())
	s.schedule()
	return true, nil
}

func (s *Standard) HasMessage(id uint64) bool {
	return s.State() != Closed && s.mgr.Has(id)
}

func (s *Standard) Snapshot(owner uint64, factory bitset.Factory) (*idset.Set, error) {
	return s.mgr.Snapshot(owner, factory)
}

// Shutdown is called by a closing destination: state is released, not deleted.
func (s *Standard) Shutdown() {
	if s.State() == Closed {
		return
	}
	s.setState(Closed)
	if err := s.unwind(); err != nil {
		s.logger.Warn("unwind on shutdown", log.Err(err))
	}
	s.mgr.Close()
	s.rec.Subscriptions(s.c.Destination, s.kind.String(), -1)
}

func (s *Standard) Close(ctx context.Context) error {
	return await(ctx, s.submit(func(context.Context) error { return s.close(false) }))
}

func (s *Standard) Delete(ctx context.Context) error {
	return await(ctx, s.submit(func(context.Context) error { return s.close(true) }))
}

// close unwinds outstanding ids, detaches from the host and releases the
// manager. Non-persistent state, or any state when del is set, is dropped
// and its ids completed.
func (s *Standard) close(del bool) error {
	s.setState(Closed)
	s.host.Detach(s)
	s.sink = nil
	if err := s.unwind(); err != nil {
		return err
	}
	s.rec.Subscriptions(s.c.Destination, s.kind.String(), -1)
	if s.c.Persistent && !del {
		s.mgr.Close()
		s.logger.Debug("subscription closed, state kept")
		return nil
	}
	held := s.mgr.All()
	if err := s.mgr.Delete(); err != nil {
		return err
	}
	s.host.Complete(held...)
	if s.c.Persistent && s.store != nil {
		if err := s.store.DeleteSubscription(s.id); err != nil {
			return err
		}
	}
	s.logger.Debug("subscription deleted", log.Int("released", len(held)))
	return nil
}
