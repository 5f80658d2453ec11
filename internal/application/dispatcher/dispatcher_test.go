package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/spend-approval/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func newSubmitted() *event.Event {
	return event.NewEvent(event.TypeRequestSubmitted, 1, "alice", nil)
}

func TestSubscribe(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		d.Subscribe(event.TypeRequestSubmitted, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 1)
			return nil
		})
		d.Subscribe(event.TypeRequestSubmitted, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 2)
			return nil
		})

		if err := d.Dispatch(context.Background(), newSubmitted()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("expected handlers to run in order [1, 2], got %v", order)
		}
	})

	t.Run("auto names stay unique after unsubscribe", func(t *testing.T) {
		d := NewDispatcher()
		noop := func(ctx context.Context, evt *event.Event) error { return nil }

		d.Subscribe(event.TypeRequestSubmitted, noop)
		d.Subscribe(event.TypeRequestSubmitted, noop)
		d.Unsubscribe(event.TypeRequestSubmitted, "handler-0")
		d.Subscribe(event.TypeRequestSubmitted, noop)

		handlers := d.ListHandlers(event.TypeRequestSubmitted)
		if len(handlers) != 2 {
			t.Fatalf("expected 2 handlers, got %d", len(handlers))
		}
		if handlers[0].Name == handlers[1].Name {
			t.Errorf("expected distinct names, got %q twice", handlers[0].Name)
		}
	})

	t.Run("logs registration", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.SubscribeNamed(event.TypeRequestSubmitted, "audit", func(ctx context.Context, evt *event.Event) error { return nil })

		if !logger.HasInfo("Handler registered") {
			t.Error("expected registration to be logged")
		}
	})
}

func TestWildcardSubscription(t *testing.T) {
	d := NewDispatcher()
	var seen []event.Type

	d.SubscribeNamed(event.TypeRequestRejected, "specific", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, "specific")
		return nil
	})
	d.SubscribeNamed(AnyType, "all", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, evt.Type)
		return nil
	})

	_ = d.Dispatch(context.Background(), event.NewEvent(event.TypeRequestRejected, 1, "", nil))
	_ = d.Dispatch(context.Background(), event.NewEvent(event.TypeRequestReopened, 1, "", nil))

	want := []event.Type{"specific", event.TypeRequestRejected, event.TypeRequestReopened}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("seen = %v, want %v", seen, want)
	}
}

func TestDispatch(t *testing.T) {
	t.Run("returns first error and stops", func(t *testing.T) {
		d := NewDispatcher()
		veto := errors.New("artifact is locked")
		called := false

		d.SubscribeNamed(event.TypeArtifactCancelRequest, "registry", func(ctx context.Context, evt *event.Event) error {
			return veto
		})
		d.Subscribe(event.TypeArtifactCancelRequest, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), event.NewEvent(event.TypeArtifactCancelRequest, 1, "", nil))
		if !errors.Is(err, veto) {
			t.Errorf("expected error to wrap %v, got %v", veto, err)
		}
		if called {
			t.Error("expected second handler not to be called after first error")
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeRequestSubmitted, func(ctx context.Context, evt *event.Event) error {
			panic("test panic")
		})

		if err := d.Dispatch(context.Background(), newSubmitted()); err == nil {
			t.Fatal("expected error from panic recovery")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected panic to be logged as error")
		}
	})

	t.Run("returns error when dispatcher is closed", func(t *testing.T) {
		d := NewDispatcher()
		_ = d.Close()

		if err := d.Dispatch(context.Background(), newSubmitted()); err == nil {
			t.Fatal("expected error when dispatching to closed dispatcher")
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("close waits for handlers", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32

		for i := 0; i < 2; i++ {
			d.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
				time.Sleep(10 * time.Millisecond)
				called.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeStatusChanged, 1, "", nil))

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if called.Load() != 2 {
			t.Errorf("expected 2 handlers to be called, got %d", called.Load())
		}
	})

	t.Run("handlers outlive the caller context", func(t *testing.T) {
		d := NewDispatcher()
		var ctxErr atomic.Value

		d.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
			time.Sleep(10 * time.Millisecond)
			ctxErr.Store(fmt.Sprint(ctx.Err()))
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, event.NewEvent(event.TypeStatusChanged, 1, "", nil))
		cancel()
		_ = d.Close()

		if got := ctxErr.Load(); got != "<nil>" {
			t.Errorf("handler context error = %v, want <nil>", got)
		}
	})

	t.Run("logs handler errors", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
			return errors.New("handler error")
		})

		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeStatusChanged, 1, "", nil))
		_ = d.Close()

		if logger.ErrorCount() == 0 {
			t.Error("expected error to be logged")
		}
	})

	t.Run("does not dispatch when closed", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32

		d.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})
		_ = d.Close()

		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeStatusChanged, 1, "", nil))
		time.Sleep(20 * time.Millisecond)

		if called.Load() > 0 {
			t.Error("expected handler not to be called after close")
		}
	})
}

func TestListHandlers(t *testing.T) {
	d := NewDispatcher()

	d.SubscribeNamed(event.TypeRequestSubmitted, "audit", func(ctx context.Context, evt *event.Event) error { return nil })

	handlers := d.ListHandlers(event.TypeRequestSubmitted)
	if len(handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(handlers))
	}
	if handlers[0].Name != "audit" || handlers[0].EventType != event.TypeRequestSubmitted {
		t.Errorf("unexpected handler info %+v", handlers[0])
	}
	if handlers[0].Handler != nil {
		t.Error("expected handler function not to be exposed")
	}
}

func TestClose_Twice(t *testing.T) {
	d := NewDispatcher()
	if err := d.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := d.Close(); err == nil {
		t.Fatal("expected error on second close")
	}
}

func TestConcurrentDispatch(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32

	d.Subscribe(event.TypeRequestSubmitted, func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newSubmitted())
		}()
	}
	wg.Wait()

	if called.Load() != 10 {
		t.Errorf("expected 10 handler calls, got %d", called.Load())
	}
}
