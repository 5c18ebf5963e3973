package taskqueue

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

func TestRunsInSubmissionOrder(t *testing.T) {
	q := New("test", nil)
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var last *Future
	for i := 0; i < 100; i++ {
		i := i
		last = q.Submit(func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := last.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestFutureCarriesTaskError(t *testing.T) {
	q := New("test", nil)
	defer q.Close()
	boom := errors.New("boom")
	f := q.Submit(func(context.Context) error { return boom })
	if err := f.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	p := q.Submit(func(context.Context) error { panic("bad") })
	if err := p.Wait(context.Background()); err == nil {
		t.Fatalf("panic not reported")
	}
	// queue survives a panicking task
	ok := q.Submit(func(context.Context) error { return nil })
	if err := ok.Wait(context.Background()); err != nil {
		t.Fatalf("after panic: %v", err)
	}
}

func TestCloseDiscardsPending(t *testing.T) {
	q := New("test", nil)
	release := make(chan struct{})
	started := make(chan struct{})
	first := q.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return ctx.Err()
	})
	<-started
	second := q.Submit(func(context.Context) error { return nil })
	q.Close()
	close(release)

	if err := second.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("pending task: want ErrClosed, got %v", err)
	}
	if err := first.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("running task should see cancellation, got %v", err)
	}
	<-q.Stopped()
	if err := q.Submit(func(context.Context) error { return nil }).Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close: %v", err)
	}
	if !q.IsClosed() {
		t.Fatalf("IsClosed false")
	}
}

func TestCloseFromTask(t *testing.T) {
	q := New("test", nil)
	f := q.Submit(func(context.Context) error {
		q.Close()
		return nil
	})
	if err := f.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	select {
	case <-q.Stopped():
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestFailedTaskIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewLogger(log.WithLevel(log.ErrorLevel), log.WithFormatter(&log.TextFormatter{}), log.WithOutput(log.NewWriterOutput(&buf)))
	q := New("orders", logger)
	defer q.Close()

	f := q.Submit(func(context.Context) error { return errors.New("segment storage exhausted") })
	if err := f.Wait(context.Background()); err == nil {
		t.Fatalf("expected task error")
	}
	quiet := q.Submit(func(context.Context) error { return ErrClosed })
	_ = quiet.Wait(context.Background())
	if err := q.Run(context.Background(), func(context.Context) error { return errors.New("bad filter") }); err == nil {
		t.Fatalf("Run must return the task error")
	}

	out := buf.String()
	if !strings.Contains(out, "task failed") || !strings.Contains(out, "segment storage exhausted") {
		t.Fatalf("failure not logged: %q", out)
	}
	if strings.Count(out, "task failed") != 1 {
		t.Fatalf("only the submitted failure is logged: %q", out)
	}
}
