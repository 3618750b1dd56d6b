// Package router is the single entry point for one host event: read the
// envelope, resolve handlers, dispatch, merge, and produce the reply and
// exit status the host runtime expects.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/oremus-labs/ol-hook-router/internal/audit"
	"github.com/oremus-labs/ol-hook-router/internal/dispatch"
	"github.com/oremus-labs/ol-hook-router/internal/events"
	"github.com/oremus-labs/ol-hook-router/internal/hook"
	"github.com/oremus-labs/ol-hook-router/internal/logutil"
	"github.com/oremus-labs/ol-hook-router/internal/merge"
	"github.com/oremus-labs/ol-hook-router/internal/metrics"
	"github.com/oremus-labs/ol-hook-router/internal/registry"
	"github.com/oremus-labs/ol-hook-router/internal/trace"
)

// MaxEnvelopeBytes caps how much of stdin is read as the event envelope.
const MaxEnvelopeBytes = 1 << 20

// sideChannelTimeout bounds trace flushing and journaling after the reply
// has been computed.
const sideChannelTimeout = time.Second

// Journal receives one entry per routed event.
type Journal interface {
	Append(ctx context.Context, e *audit.Entry) error
}

// Flusher ships buffered trace events somewhere durable.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Publisher announces routed events.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// Options configure a Router.
type Options struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	// Client labels journal entries ("claude", "gemini").
	Client          string
	Journal         Journal
	Trace           Flusher
	Events          Publisher
	MetricsTextfile string
	// HostTimeout is the host's outer budget for the whole invocation.
	// Events whose worst-case latency exceeds it are logged.
	HostTimeout time.Duration
}

// Router routes events. It holds no per-event state and may be reused.
type Router struct {
	registry        *registry.Registry
	dispatcher      *dispatch.Dispatcher
	client          string
	journal         Journal
	trace           Flusher
	events          Publisher
	metricsTextfile string
	hostTimeout     time.Duration
}

// Reply is the outcome of routing one event.
type Reply struct {
	Invocation   string
	Event        string
	Variant      string
	Consolidated hook.Consolidated
	Results      []hook.Result
	ExitCode     int
	// Body is the JSON document written to stdout.
	Body []byte
}

// New creates a Router. A nil registry routes nothing; a nil dispatcher gets
// default options.
func New(opts Options) *Router {
	if opts.Dispatcher == nil {
		hookDir := ""
		if opts.Registry != nil {
			hookDir = opts.Registry.HookDir()
		}
		opts.Dispatcher = dispatch.New(dispatch.Options{HookDir: hookDir})
	}
	if opts.Client == "" {
		opts.Client = "claude"
	}
	return &Router{
		registry:        opts.Registry,
		dispatcher:      opts.Dispatcher,
		client:          opts.Client,
		journal:         opts.Journal,
		trace:           opts.Trace,
		events:          opts.Events,
		metricsTextfile: opts.MetricsTextfile,
		hostTimeout:     opts.HostTimeout,
	}
}

// ReadEnvelope reads at most MaxEnvelopeBytes from in. Read failures are
// treated like absent input.
func ReadEnvelope(in io.Reader) []byte {
	if in == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(in, MaxEnvelopeBytes))
	if err != nil {
		logutil.Warn("envelope_read_failed", map[string]interface{}{
			"error": err.Error(),
			"bytes": len(data),
		})
		return nil
	}
	return data
}

// Route reads one envelope from in and routes it.
func (r *Router) Route(ctx context.Context, in io.Reader) (Reply, error) {
	return r.RouteEnvelope(ctx, hook.ParseEnvelope(ReadEnvelope(in)))
}

// RouteEnvelope routes an already decoded envelope. A returned error is a
// fault in the router itself; handler failures never surface here.
func (r *Router) RouteEnvelope(ctx context.Context, env hook.Envelope) (Reply, error) {
	start := time.Now()
	reply := Reply{
		Invocation: uuid.NewString(),
		Event:      env.EventKind,
		Variant:    env.Variant,
	}
	ctx = trace.WithInvocation(ctx, reply.Invocation)

	handlers := r.registry.Lookup(env.EventKind, env.Variant)
	if len(handlers) > 0 && r.hostTimeout > 0 {
		if worst := registry.WorstCaseLatency(handlers); worst > r.hostTimeout {
			logutil.Warn("handlers_exceed_host_timeout", map[string]interface{}{
				"event":       env.EventKind,
				"worstCaseMs": worst.Milliseconds(),
				"hostMs":      r.hostTimeout.Milliseconds(),
			})
		}
	}

	reply.Results = r.dispatcher.Run(ctx, handlers, env)
	reply.Consolidated = merge.Merge(reply.Results)
	reply.ExitCode = reply.Consolidated.ExitCode

	body, err := hook.Encode(env.EventKind, reply.Consolidated)
	if err != nil {
		return Reply{}, fmt.Errorf("encode reply for %q: %w", env.EventKind, err)
	}
	reply.Body = body

	elapsed := time.Since(start)
	logutil.Info("event_routed", map[string]interface{}{
		"invocation": reply.Invocation,
		"event":      env.EventKind,
		"variant":    env.Variant,
		"handlers":   len(handlers),
		"exitCode":   reply.ExitCode,
		"durationMs": elapsed.Milliseconds(),
	})
	r.sideChannels(ctx, env, handlers, reply, elapsed)
	return reply, nil
}

func (r *Router) sideChannels(ctx context.Context, env hook.Envelope, handlers []hook.Descriptor, reply Reply, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideChannelTimeout)
	defer cancel()

	if r.trace != nil {
		if err := r.trace.Flush(ctx); err != nil {
			logutil.Warn("trace_flush_failed", map[string]interface{}{
				"invocation": reply.Invocation,
				"error":      err.Error(),
			})
		}
	}

	if r.metricsTextfile != "" {
		modes := modesByLabel(handlers)
		for _, res := range reply.Results {
			metrics.ObserveHandler(env.EventKind, modes[res.Handler], res)
		}
		metrics.ObserveRoute(env.EventKind, reply.ExitCode, elapsed)
		if err := metrics.WriteTextfile(r.metricsTextfile); err != nil {
			logutil.Warn("metrics_write_failed", map[string]interface{}{
				"path":  r.metricsTextfile,
				"error": err.Error(),
			})
		}
	}

	if r.events != nil {
		evt := events.Event{
			ID:   reply.Invocation,
			Type: events.TypeRouteCompleted,
			Data: events.RouteSummary{
				Invocation: reply.Invocation,
				Client:     r.client,
				Event:      env.EventKind,
				Variant:    env.Variant,
				SessionID:  env.SessionID,
				ExitCode:   reply.ExitCode,
				Handlers:   len(reply.Results),
				Timeouts:   countOutcome(reply.Results, hook.OutcomeTimeout),
				DurationMs: elapsed.Milliseconds(),
			},
		}
		if err := r.events.Publish(ctx, evt); err != nil {
			logutil.Warn("event_publish_failed", map[string]interface{}{
				"invocation": reply.Invocation,
				"error":      err.Error(),
			})
		}
	}

	if r.journal != nil {
		entry := &audit.Entry{
			ID:         reply.Invocation,
			Client:     r.client,
			Event:      env.EventKind,
			Variant:    env.Variant,
			SessionID:  env.SessionID,
			ExitCode:   reply.ExitCode,
			Reply:      string(bytes.TrimSpace(reply.Body)),
			Handlers:   handlerRecords(handlers, reply.Results),
			DurationMs: elapsed.Milliseconds(),
		}
		if err := r.journal.Append(ctx, entry); err != nil {
			logutil.Warn("audit_append_failed", map[string]interface{}{
				"invocation": reply.Invocation,
				"error":      err.Error(),
			})
		}
	}
}

func countOutcome(results []hook.Result, outcome hook.Outcome) int {
	n := 0
	for _, res := range results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

func modesByLabel(handlers []hook.Descriptor) map[string]hook.Mode {
	modes := make(map[string]hook.Mode, len(handlers))
	for _, h := range handlers {
		modes[h.Label()] = h.Mode()
	}
	return modes
}

func handlerRecords(handlers []hook.Descriptor, results []hook.Result) []audit.HandlerRecord {
	modes := modesByLabel(handlers)
	records := make([]audit.HandlerRecord, 0, len(results))
	for _, res := range results {
		records = append(records, audit.HandlerRecord{
			Handler:    res.Handler,
			Mode:       string(modes[res.Handler]),
			ExitCode:   res.ExitCode,
			Outcome:    string(res.Outcome),
			DurationMs: res.Duration.Milliseconds(),
		})
	}
	return records
}
