package destination

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/catalog"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/subscription"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/eventlog"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// Handle references a destination in a Registry. The low 32 bits are the
// arena slot plus one, the high 32 bits the slot generation, so a handle
// kept past Remove never resolves to the slot's next occupant.
type Handle uint64

func makeHandle(slot int, gen uint32) Handle { return Handle(uint64(gen)<<32 | uint64(slot+1)) }

func (h Handle) slot() int      { return int(uint32(h)) - 1 }
func (h Handle) gen() uint32    { return uint32(h >> 32) }
func (h Handle) String() string { return fmt.Sprintf("%d@%d", h.slot(), h.gen()) }

// RegistryOptions configure a Registry. A nil DB keeps messages in memory
// and a nil Catalog persists neither destinations nor subscriptions.
type RegistryOptions struct {
	DB      *pebblestore.DB
	Catalog *catalog.Catalog
	Builder *subscription.Builder
	Logger  log.Logger
	Now     func() time.Time
}

type slot struct {
	d   *Destination
	gen uint32
}

// Registry is the arena of open destinations.
type Registry struct {
	opts   RegistryOptions
	logger log.Logger

	mu     sync.Mutex
	slots  []slot
	free   []int
	closed bool

	names *xsync.Map[string, Handle]
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Builder == nil {
		opts.Builder = subscription.NewBuilder(subscription.Options{Logger: opts.Logger, Now: opts.Now})
	}
	return &Registry{
		opts:   opts,
		logger: opts.Logger.With(log.Component("destinations")),
		names:  xsync.NewMap[string, Handle](),
	}
}

// Open returns the named destination, creating it with kind if needed. An
// existing destination keeps the kind it was created with. Persisted
// subscriptions of a newly opened destination are restored hibernating.
func (r *Registry) Open(ctx context.Context, name string, kind Kind) (*Destination, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if h, ok := r.names.Load(name); ok {
		return r.slots[h.slot()].d, nil
	}

	var store Store = NewMemoryStore()
	if r.opts.DB != nil {
		l, err := eventlog.Open(r.opts.DB, name)
		if err != nil {
			return nil, err
		}
		store = l
	}
	var created time.Time
	var persisted map[string]subscription.Context
	if r.opts.Catalog != nil {
		meta, err := r.opts.Catalog.EnsureDestination(name, kind.String())
		if err != nil {
			return nil, err
		}
		if kind, err = ParseKind(meta.Kind); err != nil {
			return nil, err
		}
		created = time.UnixMilli(meta.CreatedAtMs)
		if persisted, err = r.opts.Catalog.Subscriptions(name); err != nil {
			return nil, err
		}
	}

	d := New(name, Options{Kind: kind, Store: store, Builder: r.opts.Builder, Logger: r.opts.Logger, Now: r.opts.Now, Created: created})
	d.handle = r.alloc(d)
	r.names.Store(name, d.handle)
	if len(persisted) > 0 {
		if err := d.Restore(ctx, persisted); err != nil {
			r.logger.Warn("destination opened with unrestorable subscriptions", log.Str("destination", name), log.Err(err))
		}
	}
	r.logger.Info("destination opened", log.Str("destination", name), log.Str("kind", kind.String()), log.Str("handle", d.handle.String()))
	return d, nil
}

// alloc places d in a free slot. Caller holds mu.
func (r *Registry) alloc(d *Destination) Handle {
	if n := len(r.free); n > 0 {
		i := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[i].d = d
		r.slots[i].gen++
		return makeHandle(i, r.slots[i].gen)
	}
	r.slots = append(r.slots, slot{d: d})
	return makeHandle(len(r.slots)-1, 0)
}

// OpenAll opens every destination recorded in the catalog.
func (r *Registry) OpenAll(ctx context.Context) error {
	if r.opts.Catalog == nil {
		return nil
	}
	metas, err := r.opts.Catalog.Destinations()
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range metas {
		kind, err := ParseKind(m.Kind)
		if err == nil {
			_, err = r.Open(ctx, m.Name, kind)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", m.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the destination h refers to.
func (r *Registry) Resolve(h Handle) (*Destination, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := h.slot()
	if i < 0 || i >= len(r.slots) || r.slots[i].gen != h.gen() || r.slots[i].d == nil {
		return nil, false
	}
	return r.slots[i].d, true
}

// Get returns an open destination by name.
func (r *Registry) Get(name string) (*Destination, bool) {
	h, ok := r.names.Load(name)
	if !ok {
		return nil, false
	}
	return r.Resolve(h)
}

func (r *Registry) Len() int { return r.names.Size() }

// Info describes a destination in a listing.
type Info struct {
	Name          string
	Handle        Handle
	Kind          Kind
	Created       time.Time
	Subscriptions int
}

func (i Info) props() map[string]any {
	return map[string]any{
		"name":          i.Name,
		"kind":          i.Kind.String(),
		"created":       i.Created.UnixMilli(),
		"subscriptions": int64(i.Subscriptions),
	}
}

// List returns the open destinations matching filter, ordered by name.
// The filter sees name, kind, created and subscriptions. Listing is
// advisory, so a filter that does not compile lists everything.
func (r *Registry) List(filter string) []Info {
	f, err := selector.Compile(filter)
	if err != nil {
		r.logger.Warn("ignoring malformed listing filter", log.Str("filter", filter), log.Err(err))
		f = nil
	}
	var out []Info
	r.names.Range(func(_ string, h Handle) bool {
		d, ok := r.Resolve(h)
		if !ok {
			return true
		}
		info := Info{Name: d.name, Handle: h, Kind: d.kind, Created: d.created, Subscriptions: d.subs.Size()}
		if f.Evaluate(selector.MapResolver{Props: info.props()}) {
			out = append(out, info)
		}
		return true
	})
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Remove closes the destination and deletes its messages, subscriptions
// and catalog record.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	h, ok := r.names.LoadAndDelete(name)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("destination: %s not open", name)
	}
	i := h.slot()
	d := r.slots[i].d
	r.slots[i].d = nil
	r.free = append(r.free, i)
	r.mu.Unlock()

	var errs []error
	if r.opts.Catalog != nil {
		// persistent subscriptions closed by their consumers are not live;
		// bring them back so their segments are deleted with them
		persisted, err := r.opts.Catalog.Subscriptions(name)
		if err != nil {
			errs = append(errs, err)
		}
		for id := range persisted {
			if _, live := d.Subscription(id); live {
				delete(persisted, id)
			}
		}
		if len(persisted) > 0 {
			errs = append(errs, d.Restore(ctx, persisted))
		}
	}
	errs = append(errs, d.drop(ctx))
	if r.opts.Catalog != nil {
		errs = append(errs, r.opts.Catalog.RemoveDestination(name))
	}
	r.logger.Info("destination removed", log.Str("destination", name))
	return errors.Join(errs...)
}

// Close closes every destination. Stored state is kept.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var open []*Destination
	for _, s := range r.slots {
		if s.d != nil {
			open = append(open, s.d)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, d := range open {
		if err := d.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", d.name, err))
		}
	}
	return errors.Join(errs...)
}
