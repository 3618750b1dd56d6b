package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/ol-hook-router/internal/logutil"
)

// DefaultChannel is the Redis pub/sub channel routed events are announced on.
const DefaultChannel = "hookrouter-events"

// TypeRouteCompleted is published once per routed event.
const TypeRouteCompleted = "route.completed"

// Event is a notification emitted by the router.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// RouteSummary is the Data of a route.completed event.
type RouteSummary struct {
	Invocation string `json:"invocation"`
	Client     string `json:"client"`
	Event      string `json:"event"`
	Variant    string `json:"variant,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	ExitCode   int    `json:"exitCode"`
	Handlers   int    `json:"handlers"`
	Timeouts   int    `json:"timeouts"`
	DurationMs int64  `json:"durationMs"`
}

// Bus fans events out to in-process subscribers and, when a client is
// configured, to a Redis channel.
type Bus struct {
	client redis.UniversalClient
	ch     string

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// Options configure the bus.
type Options struct {
	Client  redis.UniversalClient
	Channel string
}

// NewBus creates a new event bus.
func NewBus(opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{
		client:      opts.Client,
		ch:          channel,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Publish broadcasts an event to local subscribers and Redis.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.broadcast(evt)

	if b.client != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := b.client.Publish(ctx, b.ch, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}
	return nil
}

// Subscribe registers a local subscriber. The channel is closed when ctx is
// done or cancel is called.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			close(ch)
			b.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel
}

// Watch relays events from the Redis channel to fn until ctx is done.
func (b *Bus) Watch(ctx context.Context, fn func(Event)) error {
	if b.client == nil {
		return fmt.Errorf("event bus has no redis client")
	}
	pubsub := b.client.Subscribe(ctx, b.ch)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("redis subscribe %s: %w", b.ch, err)
		}
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			logutil.Warn("events_invalid_payload", map[string]interface{}{"error": err.Error()})
			continue
		}
		fn(evt)
	}
}

func (b *Bus) broadcast(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			logutil.Warn("events_dropped", map[string]interface{}{"id": evt.ID})
		}
	}
}
