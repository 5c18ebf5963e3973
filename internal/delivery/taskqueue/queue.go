// Package taskqueue runs tasks one at a time, in submission order, on a
// dedicated goroutine. Each destination owns one queue; every mutation of
// its subscriptions' identifier sets goes through it.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// ErrClosed completes futures of tasks submitted to, or pending in, a closed queue.
var ErrClosed = errors.New("taskqueue: closed")

// Task is one unit of work. ctx is cancelled when the queue closes.
type Task func(ctx context.Context) error

// Future completes when its task has run (or been discarded).
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type entry struct {
	task   Task
	future *Future
	// waited tasks hand their error to the caller instead of the log
	waited bool
}

// Queue is a single-worker FIFO.
type Queue struct {
	name   string
	logger log.Logger

	mu      sync.Mutex
	pending []entry
	signal  chan struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a queue. name appears in logs.
func New(name string, logger log.Logger) *Queue {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:   name,
		logger: logger.With(log.Component("taskqueue"), log.Str("queue", name)),
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit enqueues t. On a closed queue the future completes with ErrClosed.
// A task error is logged as well as set on the future.
func (q *Queue) Submit(t Task) *Future { return q.enqueue(t, false) }

// Run enqueues t and waits for it. The task error is returned, not logged.
func (q *Queue) Run(ctx context.Context, t Task) error {
	return q.enqueue(t, true).Wait(ctx)
}

func (q *Queue) enqueue(t Task, waited bool) *Future {
	f := newFuture()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.complete(ErrClosed)
		return f
	}
	q.pending = append(q.pending, entry{task: t, future: f, waited: waited})
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return f
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops the worker after the running task. Pending tasks are
// discarded with ErrClosed. Close does not wait; use Stopped for that.
// It is safe to call from inside a task.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	for _, e := range dropped {
		e.future.complete(ErrClosed)
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Stopped is closed once the worker goroutine has exited.
func (q *Queue) Stopped() <-chan struct{} { return q.done }

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.signal
			continue
		}
		e := q.pending[0]
		q.pending[0] = entry{}
		q.pending = q.pending[1:]
		q.mu.Unlock()
		e.future.complete(q.exec(e))
	}
}

func (q *Queue) exec(e entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("taskqueue %s: task panicked: %v", q.name, r)
			q.logger.Error("task panicked", log.Any("panic", r))
		}
	}()
	err = e.task(q.ctx)
	if err != nil && !e.waited && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		q.logger.Error("task failed", log.Err(err))
	}
	return err
}
