package events

import (
	"context"
	"testing"
	"time"
)

func TestBusLocalSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()

	if err := bus.Publish(ctx, Event{Type: TypeRouteCompleted, Data: RouteSummary{Event: "Stop", ExitCode: 2}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.ID == "" || evt.Timestamp.IsZero() {
			t.Fatalf("expected id and timestamp to be stamped: %+v", evt)
		}
		summary, ok := evt.Data.(RouteSummary)
		if !ok || summary.ExitCode != 2 {
			t.Fatalf("unexpected data %+v", evt.Data)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe := bus.Subscribe(ctx)

	cancel()
	unsubscribe()

	select {
	case _, open := <-ch:
		if open {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}

	if err := bus.Publish(context.Background(), Event{Type: TypeRouteCompleted}); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
}

func TestWatchWithoutRedis(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	if err := bus.Watch(context.Background(), func(Event) {}); err == nil {
		t.Fatalf("expected error without redis client")
	}
}
