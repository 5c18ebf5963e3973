package subscription

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/state"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/taskqueue"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/idset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/metrics"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// deliverBatch bounds the sends of one delivery task so other work on the
// destination queue is not starved.
const deliverBatch = 64

type counters struct {
	registered uint64
	ignored    uint64
	sent       uint64
	acked      uint64
	rolledBack uint64
	expired    uint64
}

// core is the delivery machinery shared by standard subscriptions and
// browsers. Fields other than status and scheduled are owned by the
// destination queue.
type core struct {
	id   string
	c    Context
	kind Kind
	host Host

	tracker state.Tracker
	ctl     *ack.Controller
	filter  selector.Executor

	rec             metrics.Recorder
	logger          log.Logger
	maxRedeliveries int
	// completes is false for browsers: their acks never release messages.
	completes bool
	now       func() time.Time

	status    atomic.Int32
	scheduled atomic.Bool
	paused    bool
	sink      Sink
	counts    counters
	// failed is set once identifier storage could not be allocated.
	// Delivery stops; tracked ids stay where they are.
	failed bool
	onFail func(err error)

	// kick is the delivery task; set by the embedding type.
	kick func(ctx context.Context) error
	// ready reports whether kick would send anything; set by the embedding type.
	ready func() bool
}

func (c *core) ID() string                { return c.id }
func (c *core) Context() Context          { return c.c }
func (c *core) Kind() Kind                { return c.kind }
func (c *core) State() State              { return State(c.status.Load()) }
func (c *core) setState(s State)          { c.status.Store(int32(s)) }
func (c *core) Filter() selector.Executor { return c.filter }

func (c *core) matches(m *message.Message) bool {
	return c.filter == nil || c.filter.Evaluate(m.View())
}

// canDeliver is the readiness of a single consumer.
func (c *core) canDeliver() bool {
	return c.State() == Active && !c.paused && !c.failed && c.sink != nil && c.tracker.HasAtRest() && c.ctl.CanSend()
}

// schedule submits one delivery task unless one is already queued.
func (c *core) schedule() {
	if c.host.IsClosed() || c.State() == Closed {
		return
	}
	if !c.scheduled.CompareAndSwap(false, true) {
		return
	}
	c.host.Submit(func(ctx context.Context) error {
		c.scheduled.Store(false)
		return c.check(c.kick(ctx))
	})
}

// check halts delivery when err reports exhausted identifier storage.
func (c *core) check(err error) error {
	if c.failed || !errors.Is(err, idset.ErrAllocate) {
		return err
	}
	c.failed = true
	c.logger.Error("identifier storage exhausted, delivery halted", log.Err(err))
	if c.onFail != nil {
		c.onFail(err)
	}
	return err
}

// submit runs fn on the destination queue unless the subscription or the
// destination has closed, in which case the work is dropped.
func (c *core) submit(fn func(ctx context.Context) error) *taskqueue.Future {
	return c.host.Submit(func(ctx context.Context) error {
		if c.State() == Closed || c.host.IsClosed() {
			return nil
		}
		return c.check(fn(ctx))
	})
}

// await waits for f, treating a closed destination queue as done.
func await(ctx context.Context, f *taskqueue.Future) error {
	err := f.Wait(ctx)
	if errors.Is(err, taskqueue.ErrClosed) {
		return nil
	}
	return err
}

// deliver drains at-rest ids to the sink while ready.
func (c *core) deliver(ctx context.Context) error {
	for n := 0; n < deliverBatch && c.ready(); n++ {
		if ctx.Err() != nil {
			return nil
		}
		id, ok := c.tracker.Next()
		if !ok {
			break
		}
		msg, ok := c.host.Message(id)
		if !ok || msg.Expired(c.now()) {
			if err := c.tracker.Remove(id); err != nil {
				return err
			}
			c.expire(id)
			continue
		}
		if err := c.send(id, msg); err != nil {
			return err
		}
	}
	if c.ready() {
		c.schedule()
	}
	return nil
}

func (c *core) send(id uint64, msg *message.Message) error {
	if err := c.tracker.Allocate(id); err != nil {
		return err
	}
	committed, err := c.ctl.Sent(id)
	if err != nil {
		_, rerr := c.tracker.Release(id)
		return rerr
	}
	c.counts.sent++
	c.rec.Sent(c.c.Destination, c.kind.String())
	if err := c.sink.SendMessage(Delivery{SubscriptionID: c.id, Destination: c.c.Destination, Alias: c.c.Alias, Message: msg}); err != nil {
		c.logger.Warn("sink rejected message", log.Uint64("id", id), log.Err(err))
		c.ctl.Rollback(id)
		return c.rollbackOutstanding(id)
	}
	if committed {
		return c.commit(id)
	}
	return nil
}

func (c *core) commit(ids ...uint64) error {
	n := 0
	for _, id := range ids {
		ok, err := c.tracker.Commit(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n++
		if c.completes {
			c.host.Complete(id)
		}
	}
	if n > 0 {
		c.counts.acked += uint64(n)
		c.rec.Acked(c.c.Destination, c.kind.String(), n)
	}
	return nil
}

// rollback returns id to rest, discarding it once it exceeds the
// redelivery bound.
func (c *core) rollback(id uint64) error {
	n, err := c.tracker.Rollback(id)
	if err != nil || n == 0 {
		return err
	}
	c.counts.rolledBack++
	c.rec.RolledBack(c.c.Destination, c.kind.String())
	if c.maxRedeliveries > 0 && n > c.maxRedeliveries {
		c.logger.Debug("redelivery bound exceeded", log.Uint64("id", id), log.Int("attempts", n))
		if err := c.tracker.Remove(id); err != nil {
			return err
		}
		c.expire(id)
	}
	return nil
}

// rollbackOutstanding rolls back an id just taken off the ack controller.
// If the id cannot be moved it is still in flight, so it stays outstanding.
func (c *core) rollbackOutstanding(id uint64) error {
	err := c.rollback(id)
	if errors.Is(err, idset.ErrAllocate) {
		c.ctl.Restore(id)
	}
	return err
}

func (c *core) expire(id uint64) {
	c.counts.expired++
	c.rec.Expired(c.c.Destination, c.kind.String())
	if c.completes {
		c.host.Complete(id)
	}
}

// unwind returns every outstanding id to rest. Ids that cannot be moved
// stay in flight and are reported in the returned error.
func (c *core) unwind() error {
	var errs []error
	for _, id := range c.ctl.Clear() {
		n, err := c.tracker.Rollback(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			c.counts.rolledBack++
			c.rec.RolledBack(c.c.Destination, c.kind.String())
		}
	}
	return errors.Join(errs...)
}

func (c *core) AckReceived(id uint64) {
	c.submit(func(context.Context) error {
		if err := c.commit(c.ctl.Ack(id)...); err != nil {
			return err
		}
		c.schedule()
		return nil
	})
}

func (c *core) RollbackReceived(id uint64) {
	c.submit(func(context.Context) error {
		if !c.ctl.Rollback(id) {
			return nil
		}
		if err := c.rollbackOutstanding(id); err != nil {
			return err
		}
		c.schedule()
		return nil
	})
}

// UpdateCredit changes the consumer's credit. Lowering it below the number
// outstanding blocks further sends until enough acks arrive.
func (c *core) UpdateCredit(n int) {
	c.submit(func(context.Context) error {
		c.ctl.Credit().Update(n)
		c.schedule()
		return nil
	})
}

func (c *core) Pause() {
	c.submit(func(context.Context) error {
		c.paused = true
		return nil
	})
}

func (c *core) Unpause() {
	c.submit(func(context.Context) error {
		c.paused = false
		c.schedule()
		return nil
	})
}

// Hibernate detaches the sink and returns outstanding ids to rest.
// Registration continues for messages stored offline.
func (c *core) Hibernate() {
	c.submit(func(context.Context) error { return c.hibernate() })
}

func (c *core) hibernate() error {
	if c.State() != Active {
		return nil
	}
	c.setState(Hibernating)
	c.sink = nil
	return c.unwind()
}

// Resume attaches sink and restarts delivery.
func (c *core) Resume(sink Sink) {
	c.submit(func(context.Context) error {
		c.sink = sink
		c.setState(Active)
		c.schedule()
		return nil
	})
}

func (c *core) stats() Stats {
	return Stats{
		ID:          c.id,
		Destination: c.c.Destination,
		Alias:       c.c.Alias,
		Kind:        c.kind,
		State:       c.State(),
		Pending:     c.tracker.Pending(),
		InFlight:    c.tracker.InFlight(),
		Outstanding: c.ctl.Outstanding(),
		Credit:      c.ctl.Credit().Limit(),
		Registered:  c.counts.registered,
		Ignored:     c.counts.ignored,
		Sent:        c.counts.sent,
		Acked:       c.counts.acked,
		RolledBack:  c.counts.rolledBack,
		Expired:     c.counts.expired,
		Failed:      c.failed,
	}
}

// Stats is computed on the destination queue.
func (c *core) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	f := c.host.Submit(func(context.Context) error {
		out = c.stats()
		return nil
	})
	if err := f.Wait(ctx); err != nil {
		return Stats{}, err
	}
	return out, nil
}

func (c *core) ignore(reason string) {
	c.counts.ignored++
	c.rec.Ignored(c.c.Destination, c.kind.String(), reason)
}
