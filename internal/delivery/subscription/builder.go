package subscription

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/config"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/state"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/metrics"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/schema"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// Options configure a Builder. Zero values select defaults.
type Options struct {
	Config   config.DeliveryConfig
	Compiler *selector.Compiler
	// Memory backs non-persistent subscriptions, browsers and scans.
	Memory bitset.Factory
	// Durable backs persistent subscriptions. Nil falls back to Memory.
	Durable bitset.Factory
	Schemas *schema.Registry
	Store   Store
	Metrics metrics.Recorder
	Logger  log.Logger
	Now     func() time.Time
}

// Builder is the single constructor of subscriptions. Build and Restore
// must run on the host's queue.
type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	if opts.Config.SegmentSize == 0 {
		opts.Config = config.Default().Delivery
	}
	if opts.Compiler == nil {
		opts.Compiler = selector.Default()
	}
	if opts.Memory == nil {
		opts.Memory = bitset.NewMemoryFactory(uint64(opts.Config.SegmentSize))
	}
	if opts.Durable == nil {
		opts.Durable = opts.Memory
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Builder{opts: opts}
}

// SubscriptionID returns the id of the subscription c describes. Persistent
// subscriptions get a stable id so that a reconnecting session finds its state.
func SubscriptionID(c Context) string {
	if !c.Persistent {
		return uuid.NewString()
	}
	name := strings.Join([]string{c.Destination, c.SessionID, c.Alias, c.SharedName}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Validate rejects contexts no kind can serve.
func Validate(c Context) error {
	switch {
	case c.Destination == "":
		return fmt.Errorf("%w: destination is required", ErrInvalidContext)
	case c.Schema && (c.Browser || c.SharedName != ""):
		return fmt.Errorf("%w: schema subscriptions cannot browse or share", ErrInvalidContext)
	case c.Browser && c.SharedName != "":
		return fmt.Errorf("%w: browsers cannot join a shared group", ErrInvalidContext)
	case c.Browser && c.Persistent:
		return fmt.Errorf("%w: browsers are never persistent", ErrInvalidContext)
	case c.NoLocal && c.SharedName != "":
		return fmt.Errorf("%w: noLocal is not allowed on shared subscriptions", ErrInvalidContext)
	case c.ReceiveMaximum < 0:
		return fmt.Errorf("%w: negative receive maximum", ErrInvalidContext)
	}
	return nil
}

// Compile compiles the filter of c. A blank filter compiles to nil.
// Parse errors are returned as is so callers can report their position.
func (b *Builder) Compile(c Context) (selector.Executor, error) {
	if strings.TrimSpace(c.Filter) == "" {
		return nil, nil
	}
	switch strings.ToLower(c.FilterLanguage) {
	case "", "sql":
		f, err := b.opts.Compiler.Compile(c.Filter)
		if err != nil || f == nil {
			return nil, err
		}
		return f, nil
	case "cel":
		f, err := selector.CompileCEL(c.Filter)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: unknown filter language %q", ErrInvalidContext, c.FilterLanguage)
	}
}

// Build creates the subscription c selects, attaches it to host and starts
// delivery to sink.
func (b *Builder) Build(host Host, id string, c Context, sink Sink) (Subscription, error) {
	return b.build(host, id, c, sink, false)
}

// Restore rebuilds a persisted subscription. It starts hibernating with no
// sink; Resume reattaches a consumer.
func (b *Builder) Restore(host Host, id string, c Context) (Subscription, error) {
	if !c.Persistent {
		return nil, fmt.Errorf("%w: only persistent subscriptions can be restored", ErrInvalidContext)
	}
	return b.build(host, id, c, nil, true)
}

func (b *Builder) build(host Host, id string, c Context, sink Sink, restore bool) (Subscription, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	if host.IsClosed() {
		return nil, ErrClosed
	}
	filter, err := b.Compile(c)
	if err != nil {
		return nil, err
	}
	kind := KindOf(c)
	save := c.Persistent && !restore && b.opts.Store != nil
	if save {
		if err := b.opts.Store.SaveSubscription(id, c); err != nil {
			return nil, err
		}
	}
	var sub Subscription
	switch kind {
	case KindStandard:
		sub, err = b.standard(host, id, c, filter, sink, restore)
	case KindShared:
		sub, err = b.member(host, id, c, filter, sink, restore)
	case KindBrowser:
		sub, err = b.browser(host, id, c, filter, sink)
	case KindSchema:
		sub, err = b.schema(host, id, c, sink)
	}
	if err != nil {
		if save {
			err = errors.Join(err, b.opts.Store.DeleteSubscription(id))
		}
		return nil, err
	}
	b.opts.Metrics.Subscriptions(c.Destination, kind.String(), 1)
	return sub, nil
}

func (b *Builder) logger(id string, c Context, kind Kind) log.Logger {
	return b.opts.Logger.With(
		log.Component("subscription"),
		log.Str("destination", c.Destination),
		log.Str("subscription", id),
		log.Str("kind", kind.String()),
	)
}

func (b *Builder) controller(c Context) *ack.Controller {
	credit := c.ReceiveMaximum
	if credit <= 0 {
		credit = b.opts.Config.DefaultReceiveMaximum
	}
	return ack.New(c.AckMode, ack.NewClientCredit(max(credit, 1)))
}

func (b *Builder) stateOptions() state.Options {
	return state.Options{RollbackIncrement: b.opts.Config.RollbackPriorityIncrement}
}

// manager opens the state of a persistent view, reloading whatever the
// durable factory holds, or creates an empty one.
func (b *Builder) manager(name string, persistent bool) (*state.Manager, error) {
	if persistent {
		return state.Open(name, b.opts.Durable, b.stateOptions())
	}
	return state.New(name, b.opts.Memory, b.stateOptions()), nil
}

func (b *Builder) wire(c *core, host Host, id string, ctx Context, kind Kind, filter selector.Executor) {
	c.id = id
	c.c = ctx
	c.kind = kind
	c.host = host
	c.ctl = b.controller(ctx)
	c.filter = filter
	c.rec = b.opts.Metrics
	c.logger = b.logger(id, ctx, kind)
	c.maxRedeliveries = b.opts.Config.MaxRedeliveries
	c.now = b.opts.Now
	c.setState(Active)
}

func (b *Builder) standard(host Host, id string, c Context, filter selector.Executor, sink Sink, restore bool) (*Standard, error) {
	mgr, err := b.manager("sub_"+id, c.Persistent)
	if err != nil {
		return nil, err
	}
	s := newStandard(mgr, b.opts.Store)
	b.wire(&s.core, host, id, c, KindStandard, filter)
	if restore {
		s.setState(Hibernating)
	} else {
		s.sink = sink
	}
	host.Attach(s)
	s.schedule()
	return s, nil
}

// group returns the shared group c joins, creating it on first use.
func (b *Builder) group(host Host, c Context, filter selector.Executor) (*Shared, error) {
	key := lookupKey(c.SharedName, filter)
	sm := host.Shares().manager(c.SharedName)
	if g, ok := sm.groups.Load(key); ok && g.State() != Closed {
		return g, nil
	}
	mgr, err := b.manager("shared_"+host.Name()+"_"+key, c.Persistent)
	if err != nil {
		return nil, err
	}
	g := &Shared{
		key:        key,
		share:      c.SharedName,
		host:       host,
		mgr:        mgr,
		credit:     ack.NewFixedCredit(b.opts.Config.SharedGroupCredit),
		filter:     filter,
		persistent: c.Persistent,
		registry:   host.Shares(),
		rec:        b.opts.Metrics,
		logger:     b.opts.Logger.With(log.Component("shared"), log.Str("destination", host.Name()), log.Str("group", key)),
		now:        b.opts.Now,
		members:    newMemberList(),
	}
	sm.groups.Store(key, g)
	host.Attach(g)
	g.logger.Debug("shared group created", log.Int("pending", mgr.Pending()))
	return g, nil
}

func (b *Builder) member(host Host, id string, c Context, filter selector.Executor, sink Sink, restore bool) (*Member, error) {
	g, err := b.group(host, c, filter)
	if err != nil {
		return nil, err
	}
	m := newMember(g, b.opts.Store)
	b.wire(&m.core, host, id, c, KindShared, filter)
	if restore {
		m.setState(Hibernating)
	} else {
		m.sink = sink
	}
	g.addMember(m)
	return m, nil
}

func (b *Builder) browser(host Host, id string, c Context, filter selector.Executor, sink Sink) (*Browser, error) {
	var parent Entry
	if c.Parent != "" {
		e, ok := host.Lookup(c.Parent)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoParent, c.Parent)
		}
		parent = e
	}
	mgr := state.New("browser_"+id, b.opts.Memory, b.stateOptions())
	br := newBrowser(mgr, b.opts.Memory, parent, b.opts.Config.BrowserSlice())
	b.wire(&br.core, host, id, c, KindBrowser, filter)
	br.sink = sink
	host.Attach(br)
	if err := br.start(); err != nil {
		host.Detach(br)
		_ = mgr.Delete()
		return nil, err
	}
	return br, nil
}

func (b *Builder) schema(host Host, id string, c Context, sink Sink) (*SchemaSubscription, error) {
	if b.opts.Schemas == nil {
		return nil, fmt.Errorf("%w: no schema registry configured", ErrInvalidContext)
	}
	s := &SchemaSubscription{
		id:       id,
		c:        c,
		host:     host,
		registry: b.opts.Schemas,
		rec:      b.opts.Metrics,
		logger:   b.logger(id, c, KindSchema),
		sink:     sink,
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	host.Attach(s)
	return s, nil
}
