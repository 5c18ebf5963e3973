package subscription

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/state"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/idset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/metrics"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// SharedRegistry holds the shared groups of one destination by share name.
// Lookups are safe from any goroutine; mutations happen on the destination queue.
type SharedRegistry struct {
	shares *xsync.Map[string, *SharedManager]
}

func NewSharedRegistry() *SharedRegistry {
	return &SharedRegistry{shares: xsync.NewMap[string, *SharedManager]()}
}

// Get returns the manager for share.
func (r *SharedRegistry) Get(share string) (*SharedManager, bool) { return r.shares.Load(share) }

// Len returns the number of share names with at least one group.
func (r *SharedRegistry) Len() int { return r.shares.Size() }

// Groups returns every live group.
func (r *SharedRegistry) Groups() []*Shared {
	var out []*Shared
	r.shares.Range(func(_ string, m *SharedManager) bool {
		out = append(out, m.Groups()...)
		return true
	})
	return out
}

func (r *SharedRegistry) manager(share string) *SharedManager {
	m, _ := r.shares.LoadOrStore(share, &SharedManager{name: share, groups: xsync.NewMap[string, *Shared]()})
	return m
}

// SharedManager holds the groups under one share name, one per distinct filter.
type SharedManager struct {
	name   string
	groups *xsync.Map[string, *Shared]
}

func (m *SharedManager) Name() string { return m.name }

func (m *SharedManager) Groups() []*Shared {
	var out []*Shared
	m.groups.Range(func(_ string, g *Shared) bool {
		out = append(out, g)
		return true
	})
	return out
}

// lookupKey names the group of share for filter f. Members only share a
// group when their filters are equal.
func lookupKey(share string, f selector.Executor) string {
	var key string
	if f != nil {
		key = fmt.Sprintf("%s_selector_%x", share, f.Hash())
	} else {
		key = share + "_normal"
	}
	key = strings.NewReplacer("/", "", "\\", "").Replace(key)
	return strings.TrimSpace(key)
}

// memberList keeps members in join order with a round-robin cursor.
type memberList struct {
	order []*Member
	byID  map[string]*Member
	idx   int
}

func newMemberList() memberList {
	return memberList{byID: make(map[string]*Member), idx: -1}
}

func (l *memberList) len() int { return len(l.order) }

func (l *memberList) add(m *Member) {
	if _, ok := l.byID[m.id]; ok {
		return
	}
	l.byID[m.id] = m
	l.order = append(l.order, m)
}

func (l *memberList) remove(m *Member) bool {
	if _, ok := l.byID[m.id]; !ok {
		return false
	}
	delete(l.byID, m.id)
	i := slices.Index(l.order, m)
	l.order = slices.Delete(l.order, i, i+1)
	if len(l.order) == 0 {
		l.idx = -1
	} else {
		l.idx %= len(l.order)
	}
	return true
}

func (l *memberList) pollNext() *Member {
	if len(l.order) == 0 {
		return nil
	}
	l.idx = (l.idx + 1) % len(l.order)
	return l.order[l.idx]
}

// pick advances the cursor until it finds a member that can take a message,
// trying each member at most once.
func (l *memberList) pick() *Member {
	for range len(l.order) {
		if m := l.pollNext(); m.canTake() {
			return m
		}
	}
	return nil
}

func (l *memberList) anyCanTake() bool {
	return slices.ContainsFunc(l.order, (*Member).canTake)
}

func (l *memberList) allHibernating() bool {
	for _, m := range l.order {
		if m.State() == Active {
			return false
		}
	}
	return true
}

// Shared is a group of members consuming one identifier set. Each
// identifier goes to exactly one member.
type Shared struct {
	key        string
	share      string
	host       Host
	mgr        *state.Manager
	credit     ack.CreditManager
	filter     selector.Executor
	persistent bool

	registry *SharedRegistry
	rec      metrics.Recorder
	logger   log.Logger
	now      func() time.Time

	status    atomic.Int32
	scheduled atomic.Bool
	members   memberList
	counts    counters
	failed    bool
}

var _ Entry = (*Shared)(nil)

func (g *Shared) Name() string              { return g.share }
func (g *Shared) Key() string               { return g.key }
func (g *Shared) Kind() Kind                { return KindShared }
func (g *Shared) State() State              { return State(g.status.Load()) }
func (g *Shared) Filter() selector.Executor { return g.filter }

func (g *Shared) matches(m *message.Message) bool {
	return g.filter == nil || g.filter.Evaluate(m.View())
}

func (g *Shared) Register(m *message.Message) (bool, error) {
	switch {
	case g.State() == Closed:
		return false, nil
	case g.State() == Hibernating && !m.StoreOffline:
		g.ignore("hibernating")
		return false, nil
	case !g.matches(m):
		g.ignore("filter")
		return false, nil
	}
	added, err := g.mgr.Register(m.ID, m.Priority)
	if err != nil || !added {
		return false, err
	}
	g.counts.registered++
	g.rec.Registered(g.host.Name(), KindShared.String())
	g.schedule()
	return true, nil
}

func (g *Shared) ignore(reason string) {
	g.counts.ignored++
	g.rec.Ignored(g.host.Name(), KindShared.String(), reason)
}

func (g *Shared) HasMessage(id uint64) bool {
	return g.State() != Closed && g.mgr.Has(id)
}

func (g *Shared) Snapshot(owner uint64, factory bitset.Factory) (*idset.Set, error) {
	return g.mgr.Snapshot(owner, factory)
}

// ready is the group's own readiness and that of at least one member.
func (g *Shared) ready() bool {
	return g.State() == Active &&
		!g.failed &&
		g.mgr.HasAtRest() &&
		g.mgr.InFlight() < g.credit.Limit() &&
		g.members.anyCanTake()
}

func (g *Shared) schedule() {
	if g.host.IsClosed() || g.State() == Closed {
		return
	}
	if !g.scheduled.CompareAndSwap(false, true) {
		return
	}
	g.host.Submit(func(ctx context.Context) error {
		g.scheduled.Store(false)
		return g.check(g.deliver(ctx))
	})
}

// check halts the group when err reports exhausted identifier storage.
// Members keep their outstanding ids; nothing more is handed out.
func (g *Shared) check(err error) error {
	if !g.failed && errors.Is(err, idset.ErrAllocate) {
		g.halt(err)
	}
	return err
}

func (g *Shared) halt(err error) {
	if g.failed {
		return
	}
	g.failed = true
	g.logger.Error("identifier storage exhausted, group delivery halted", log.Str("group", g.key), log.Err(err))
}

func (g *Shared) deliver(ctx context.Context) error {
	if g.State() == Closed {
		return nil
	}
	for n := 0; n < deliverBatch && g.ready(); n++ {
		if ctx.Err() != nil {
			return nil
		}
		id, ok := g.mgr.Next()
		if !ok {
			break
		}
		msg, ok := g.host.Message(id)
		if !ok || msg.Expired(g.now()) {
			if err := g.mgr.Remove(id); err != nil {
				return err
			}
			g.counts.expired++
			g.rec.Expired(g.host.Name(), KindShared.String())
			g.host.Complete(id)
			continue
		}
		m := g.members.pick()
		if m == nil {
			break
		}
		if err := m.send(id, msg); err != nil {
			return err
		}
	}
	if g.ready() {
		g.schedule()
	}
	return nil
}

func (g *Shared) addMember(m *Member) {
	g.members.add(m)
	g.refresh()
	g.schedule()
}

// removeMember drops m and closes the group once it is empty.
func (g *Shared) removeMember(m *Member, del bool) error {
	if !g.members.remove(m) {
		return nil
	}
	if g.members.len() > 0 {
		g.refresh()
		g.schedule()
		return nil
	}
	return g.close(del)
}

// refresh hibernates the group when no member is active and wakes it otherwise.
func (g *Shared) refresh() {
	if g.State() == Closed {
		return
	}
	if g.members.allHibernating() {
		g.status.Store(int32(Hibernating))
	} else {
		g.status.Store(int32(Active))
	}
}

func (g *Shared) close(del bool) error {
	if g.State() == Closed {
		return nil
	}
	g.status.Store(int32(Closed))
	g.host.Detach(g)
	if mgr, ok := g.registry.Get(g.share); ok {
		mgr.groups.Delete(g.key)
		if mgr.groups.Size() == 0 {
			g.registry.shares.Delete(g.share)
		}
	}
	if g.persistent && !del {
		g.mgr.Close()
		g.logger.Debug("shared group closed, state kept")
		return nil
	}
	held := g.mgr.All()
	if err := g.mgr.Delete(); err != nil {
		return err
	}
	g.host.Complete(held...)
	g.logger.Debug("shared group deleted", log.Int("released", len(held)))
	return nil
}

// Shutdown is called by a closing destination.
func (g *Shared) Shutdown() {
	if g.State() == Closed {
		return
	}
	g.status.Store(int32(Closed))
	for _, m := range g.members.order {
		m.setState(Closed)
		if err := m.unwind(); err != nil {
			g.logger.Warn("unwind on shutdown", log.Err(err))
		}
		m.rec.Subscriptions(m.c.Destination, KindShared.String(), -1)
	}
	g.mgr.Close()
}

// Members returns the group's member ids in join order.
func (g *Shared) Members() []string {
	out := make([]string, 0, g.members.len())
	for _, m := range g.members.order {
		out = append(out, m.id)
	}
	return out
}

// Member is one consumer of a shared group. It drives the group's manager
// through a state.Proxy and has its own credit and ack controller.
type Member struct {
	core
	group *Shared
	store Store
}

var _ Subscription = (*Member)(nil)

func newMember(g *Shared, store Store) *Member {
	m := &Member{group: g, store: store}
	m.tracker = state.NewProxy(g.mgr)
	m.completes = true
	m.kick = g.deliver
	m.ready = g.ready
	m.onFail = g.halt
	return m
}

// Group returns the group m belongs to.
func (m *Member) Group() *Shared { return m.group }

func (m *Member) canTake() bool {
	return m.State() == Active && !m.paused && !m.failed && m.sink != nil && m.ctl.CanSend()
}

func (m *Member) Hibernate() {
	m.submit(func(context.Context) error {
		if err := m.hibernate(); err != nil {
			return err
		}
		m.group.refresh()
		m.group.schedule()
		return nil
	})
}

func (m *Member) Resume(sink Sink) {
	m.submit(func(context.Context) error {
		m.sink = sink
		m.setState(Active)
		m.group.refresh()
		m.group.schedule()
		return nil
	})
}

func (m *Member) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	f := m.host.Submit(func(context.Context) error {
		out = m.stats()
		out.Members = m.group.members.len()
		out.Failed = out.Failed || m.group.failed
		return nil
	})
	if err := f.Wait(ctx); err != nil {
		return Stats{}, err
	}
	return out, nil
}

func (m *Member) Close(ctx context.Context) error {
	return await(ctx, m.submit(func(context.Context) error { return m.leave(false) }))
}

func (m *Member) Delete(ctx context.Context) error {
	return await(ctx, m.submit(func(context.Context) error { return m.leave(true) }))
}

// leave rolls the member's outstanding ids back into the group, removes it
// and closes the group when it was the last member.
func (m *Member) leave(del bool) error {
	m.setState(Closed)
	m.sink = nil
	// a failed unwind leaves ids in flight on the group; the member still leaves
	uerr := m.unwind()
	m.rec.Subscriptions(m.c.Destination, KindShared.String(), -1)
	if del && m.c.Persistent && m.store != nil {
		if err := m.store.DeleteSubscription(m.id); err != nil {
			return errors.Join(uerr, err)
		}
	}
	return errors.Join(uerr, m.group.removeMember(m, del))
}
