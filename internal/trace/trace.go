// Package trace records the phase transitions of one dispatch so the
// async-first ordering can be observed, tested and shipped elsewhere.
package trace

import (
	"context"
	"sync"
	"time"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
	"github.com/oremus-labs/ol-hook-router/internal/logutil"
)

// Kind names a dispatch phase transition.
type Kind string

const (
	AsyncStart   Kind = "async_start"
	SyncStart    Kind = "sync_start"
	SyncDone     Kind = "sync_done"
	AsyncCollect Kind = "async_collect"
	AsyncDone    Kind = "async_done"
	Timeout      Kind = "timeout"
)

// Event is one entry of a dispatch trace.
type Event struct {
	Invocation string        `json:"invocation"`
	Kind       Kind          `json:"kind"`
	Handler    string        `json:"handler"`
	At         time.Time     `json:"at"`
	ExitCode   int           `json:"exitCode"`
	Outcome    hook.Outcome  `json:"outcome,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
}

// Recorder receives trace events. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	Record(Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(Event) {}

// Memory keeps events in arrival order.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Record(e Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Events returns a snapshot of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Index returns the position of the first event with kind and handler, or -1.
func (m *Memory) Index(kind Kind, handler string) int {
	for i, e := range m.Events() {
		if e.Kind == kind && e.Handler == handler {
			return i
		}
	}
	return -1
}

// Log writes each event as a debug line.
type Log struct{}

func (Log) Record(e Event) {
	logutil.Debug("dispatch_trace", map[string]interface{}{
		"invocation": e.Invocation,
		"kind":       string(e.Kind),
		"handler":    e.Handler,
		"exitCode":   e.ExitCode,
		"outcome":    string(e.Outcome),
		"elapsedMs":  e.Elapsed.Milliseconds(),
	})
}

// Multi fans events out to several recorders.
type Multi []Recorder

func (m Multi) Record(e Event) {
	for _, r := range m {
		if r != nil {
			r.Record(e)
		}
	}
}

type invocationKey struct{}

// WithInvocation tags ctx with the id stamped on every recorded event.
func WithInvocation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationFrom returns the id set by WithInvocation, if any.
func InvocationFrom(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}
