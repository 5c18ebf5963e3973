package subscription

import (
	"context"
	"time"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/state"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/idset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// Browser walks a copy of another subscription's identifiers, or of the
// whole destination, without consuming them. Its acks only advance its
// own view.
type Browser struct {
	core
	mgr     *state.Manager
	factory bitset.Factory
	parent  Entry
	slice   time.Duration

	// scan holds ids still to be filtered by backfill; nil once done.
	scan *idset.Set
}

var (
	_ Subscription = (*Browser)(nil)
	_ Entry        = (*Browser)(nil)
)

func newBrowser(mgr *state.Manager, factory bitset.Factory, parent Entry, slice time.Duration) *Browser {
	b := &Browser{mgr: mgr, factory: factory, parent: parent, slice: slice}
	b.tracker = mgr
	b.kick = b.deliver
	b.ready = b.canDeliver
	return b
}

func (b *Browser) Name() string { return b.c.Alias }

// Register never takes live messages: a browser only sees its snapshot.
func (b *Browser) Register(*message.Message) (bool, error) { return false, nil }

func (b *Browser) HasMessage(uint64) bool { return false }

func (b *Browser) Snapshot(owner uint64, factory bitset.Factory) (*idset.Set, error) {
	return b.mgr.Snapshot(owner, factory)
}

// needsBackfill reports whether the browser must filter the source itself.
// A browser without its own filter, or with the parent's filter, sees
// exactly the parent's identifiers.
func needsBackfill(parent, own selector.Executor) bool {
	switch {
	case own == nil:
		return false
	case parent == nil:
		return true
	default:
		return !parent.Equal(own)
	}
}

// start copies the source identifiers. It runs on the destination queue.
func (b *Browser) start() error {
	owner := bitset.OwnerID("browse_scan_" + b.id)
	var (
		src       *idset.Set
		parentSel selector.Executor
		err       error
	)
	if b.parent != nil {
		parentSel = b.parent.Filter()
		if src, err = b.parent.Snapshot(owner, b.factory); err != nil {
			return err
		}
	} else {
		src = idset.New(owner, b.factory)
		for _, id := range b.host.Identifiers() {
			if _, err := src.Add(id); err != nil {
				_ = src.Clear()
				return err
			}
		}
	}
	if needsBackfill(parentSel, b.filter) {
		b.scan = src
		b.continueBackfill()
		return nil
	}
	defer func() { _ = src.Clear() }()
	if err := b.mgr.AddAll(src, message.DefaultPriority); err != nil {
		return err
	}
	b.counts.registered += uint64(src.Len())
	b.schedule()
	return nil
}

// backfill filters one time slice worth of scan and resubmits itself until
// scan is exhausted, the browser is closed or the destination closes.
func (b *Browser) backfill(ctx context.Context) error {
	if b.scan == nil {
		return nil
	}
	if b.State() == Closed || b.host.IsClosed() || ctx.Err() != nil {
		b.dropScan()
		return nil
	}
	start := b.now()
	scanned := 0
	it := b.scan.Iterator()
	for it.Next() {
		if err := b.offer(it.Value()); err != nil {
			return err
		}
		if err := it.Remove(); err != nil {
			return err
		}
		scanned++
		if b.now().Sub(start) >= b.slice {
			break
		}
	}
	b.rec.BackfillSlice(b.c.Destination, b.now().Sub(start).Seconds(), scanned)
	if b.scan.IsEmpty() {
		b.scan = nil
		b.logger.Debug("browser backfill complete", log.Uint64("registered", b.counts.registered))
	} else {
		b.continueBackfill()
	}
	b.schedule()
	return nil
}

func (b *Browser) continueBackfill() {
	b.host.Submit(func(ctx context.Context) error { return b.check(b.backfill(ctx)) })
}

// offer registers id when its message still exists, is still held by the
// parent and passes the browser's filter.
func (b *Browser) offer(id uint64) error {
	if b.parent != nil && !b.parent.HasMessage(id) {
		return nil
	}
	msg, ok := b.host.Message(id)
	if !ok {
		return nil
	}
	if !b.matches(msg) {
		b.ignore("filter")
		return nil
	}
	added, err := b.mgr.Register(id, msg.Priority)
	if err != nil {
		return err
	}
	if added {
		b.counts.registered++
		b.rec.Registered(b.c.Destination, KindBrowser.String())
	}
	return nil
}

func (b *Browser) dropScan() {
	if b.scan != nil {
		_ = b.scan.Clear()
		b.scan = nil
	}
}

// Backfilling reports whether the filtered copy is still being built.
// Call on the destination queue.
func (b *Browser) Backfilling() bool { return b.scan != nil }

func (b *Browser) Shutdown() {
	if b.State() == Closed {
		return
	}
	b.setState(Closed)
	b.dropScan()
	b.mgr.Close()
	b.rec.Subscriptions(b.c.Destination, KindBrowser.String(), -1)
}

func (b *Browser) Close(ctx context.Context) error {
	return await(ctx, b.submit(func(context.Context) error { return b.close() }))
}

// Delete is Close: browsers hold no persistent state.
func (b *Browser) Delete(ctx context.Context) error { return b.Close(ctx) }

func (b *Browser) close() error {
	b.setState(Closed)
	b.host.Detach(b)
	b.sink = nil
	b.ctl.Clear()
	b.dropScan()
	b.rec.Subscriptions(b.c.Destination, KindBrowser.String(), -1)
	return b.mgr.Delete()
}
