package router

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oremus-labs/ol-hook-router/internal/audit"
	"github.com/oremus-labs/ol-hook-router/internal/dispatch"
	"github.com/oremus-labs/ol-hook-router/internal/events"
	"github.com/oremus-labs/ol-hook-router/internal/hook"
	"github.com/oremus-labs/ol-hook-router/internal/merge"
	"github.com/oremus-labs/ol-hook-router/internal/registry"
	"github.com/oremus-labs/ol-hook-router/internal/trace"
)

type memoryJournal struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (m *memoryJournal) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return m.err
}

type countingFlusher struct {
	calls int
	err   error
}

func (c *countingFlusher) Flush(context.Context) error {
	c.calls++
	return c.err
}

func emitting(name, json string, exit int) hook.Descriptor {
	script := "printf '%s' '" + json + "'"
	if exit != 0 {
		script += "; exit " + strconv.Itoa(exit)
	}
	return hook.Descriptor{Name: name, Command: []string{"sh", "-c", script}, TimeoutMs: 5000}
}

func newRouter(entries map[string][]hook.Descriptor, opts Options) *Router {
	opts.Registry = registry.New(entries, "")
	return New(opts)
}

func TestRouteEndToEndExample(t *testing.T) {
	t.Parallel()

	r := newRouter(map[string][]hook.Descriptor{
		"E": {
			emitting("A", `{"hookSpecificOutput":{"additionalContext":"A"}}`, 0),
			emitting("B", `{"hookSpecificOutput":{"additionalContext":"B"}}`, 0),
		},
	}, Options{})

	reply, err := r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"E"}`))
	require.NoError(t, err)

	assert.Equal(t, "E", reply.Event)
	assert.Equal(t, "A"+merge.ContextSeparator+"B", reply.Consolidated.AdditionalContext)
	assert.Zero(t, reply.ExitCode)
	assert.Len(t, reply.Results, 2)
	assert.NotEmpty(t, reply.Invocation)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(reply.Body, &body))
	assert.Equal(t, "A\n\n---\n\nB", body["systemMessage"], "E takes no hookSpecificOutput")
	assert.NotContains(t, body, "hookSpecificOutput")
}

func TestRouteReplyShapeFollowsEventKind(t *testing.T) {
	t.Parallel()

	contextOnly := []hook.Descriptor{emitting("ctx", `{"hookSpecificOutput":{"additionalContext":"ctx"},"decision":"block"}`, 0)}
	r := newRouter(map[string][]hook.Descriptor{
		"Stop":             contextOnly,
		"UserPromptSubmit": contextOnly,
	}, Options{})

	reply, err := r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"Stop"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"systemMessage":"ctx","decision":"block"}`, string(reply.Body))

	reply, err = r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"UserPromptSubmit"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hookSpecificOutput":{"hookEventName":"UserPromptSubmit","additionalContext":"ctx"}}`, string(reply.Body))
}

func TestRouteUnknownEventIsIdentity(t *testing.T) {
	t.Parallel()

	journal := &memoryJournal{}
	r := New(Options{Registry: registry.Default(registry.Options{}), Journal: journal})

	for _, input := range []string{
		`{"hook_event_name":"NoSuchEvent"}`,
		``,
		`not json at all`,
		`["PreToolUse"]`,
	} {
		reply, err := r.Route(context.Background(), strings.NewReader(input))
		require.NoError(t, err, input)
		assert.Equal(t, "{}", string(reply.Body), input)
		assert.Zero(t, reply.ExitCode, input)
		assert.Equal(t, hook.Identity(), reply.Consolidated, input)
		assert.Empty(t, reply.Results, input)
	}
	assert.Len(t, journal.entries, 4)
}

func TestRouteBlockingVerdict(t *testing.T) {
	t.Parallel()

	r := newRouter(map[string][]hook.Descriptor{
		"PreToolUse": {
			emitting("allow", `{"hookSpecificOutput":{"permissionDecision":"allow"}}`, 0),
			emitting("deny", `{"hookSpecificOutput":{"permissionDecision":"deny"},"systemMessage":"no rm -rf"}`, 2),
		},
	}, Options{})

	reply, err := r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"PreToolUse","tool_name":"Bash"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, reply.ExitCode)
	assert.Equal(t, hook.PermissionDeny, reply.Consolidated.Permission)
	assert.Equal(t, "Bash", reply.Variant)
	assert.JSONEq(t, `{
		"systemMessage":"no rm -rf",
		"hookSpecificOutput":{"hookEventName":"PreToolUse","permissionDecision":"deny"}
	}`, string(reply.Body))
}

func TestRouteUsesVariantEntry(t *testing.T) {
	t.Parallel()

	r := newRouter(map[string][]hook.Descriptor{
		"PostToolUse":           {emitting("generic", `{"systemMessage":"generic"}`, 0)},
		"PostToolUse:TodoWrite": {emitting("todo", `{"systemMessage":"todo"}`, 0)},
	}, Options{})

	reply, err := r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"PostToolUse","tool_name":"TodoWrite"}`))
	require.NoError(t, err)
	assert.Equal(t, "todo", reply.Consolidated.SystemMessage)

	reply, err = r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"PostToolUse","tool_name":"Read"}`))
	require.NoError(t, err)
	assert.Equal(t, "generic", reply.Consolidated.SystemMessage)
}

func TestRouteUsesPreToolUseVariantEntry(t *testing.T) {
	t.Parallel()

	r := newRouter(map[string][]hook.Descriptor{
		"PreToolUse":      {emitting("allow", `{"hookSpecificOutput":{"permissionDecision":"allow"}}`, 0)},
		"PreToolUse:Bash": {emitting("shell-guard", `{"hookSpecificOutput":{"permissionDecision":"deny"}}`, 2)},
	}, Options{})

	reply, err := r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"PreToolUse","tool_name":"Bash"}`))
	require.NoError(t, err)
	assert.Equal(t, "Bash", reply.Variant)
	assert.Equal(t, hook.PermissionDeny, reply.Consolidated.Permission)
	assert.Equal(t, 2, reply.ExitCode)

	reply, err = r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"PreToolUse","tool_name":"Read"}`))
	require.NoError(t, err)
	assert.Equal(t, hook.PermissionAllow, reply.Consolidated.Permission)
	assert.Zero(t, reply.ExitCode)
}

func TestRouteSideChannels(t *testing.T) {
	t.Parallel()

	rec := &trace.Memory{}
	journal := &memoryJournal{err: errors.New("disk full")}
	flusher := &countingFlusher{err: errors.New("redis down")}
	textfile := filepath.Join(t.TempDir(), "hookrouter.prom")

	entries := map[string][]hook.Descriptor{
		"Stop": {
			emitting("reflect", `{"decision":"block","reason":"tests failing"}`, 0),
			{Name: "logger", Command: []string{"sh", "-c", "cat > /dev/null"}, Async: true, TimeoutMs: 5000},
		},
	}
	r := New(Options{
		Registry:        registry.New(entries, ""),
		Dispatcher:      dispatch.New(dispatch.Options{Recorder: rec}),
		Client:          "gemini",
		Journal:         journal,
		Trace:           flusher,
		MetricsTextfile: textfile,
	})

	reply, err := r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"Stop","session_id":"s-9"}`))
	require.NoError(t, err, "side channel failures must not fail the route")
	assert.JSONEq(t, `{"decision":"block","reason":"tests failing"}`, string(reply.Body))

	assert.Equal(t, 1, flusher.calls)
	require.Len(t, journal.entries, 1)
	entry := journal.entries[0]
	assert.Equal(t, reply.Invocation, entry.ID)
	assert.Equal(t, "gemini", entry.Client)
	assert.Equal(t, "s-9", entry.SessionID)
	require.Len(t, entry.Handlers, 2)

	modes := map[string]string{}
	for _, h := range entry.Handlers {
		modes[h.Handler] = h.Mode
	}
	assert.Equal(t, map[string]string{"reflect": "sync", "logger": "async"}, modes)

	for _, e := range rec.Events() {
		assert.Equal(t, reply.Invocation, e.Invocation)
	}

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hookrouter_route_exit_total")
	assert.Contains(t, string(data), `handler="reflect"`)
}

func TestRouteTimeoutDoesNotBlockReply(t *testing.T) {
	t.Parallel()

	r := newRouter(map[string][]hook.Descriptor{
		"SessionStart": {
			{Name: "hung", Command: []string{"sleep", "2"}, TimeoutMs: 20},
			emitting("setup", `{"hookSpecificOutput":{"additionalContext":"ready"}}`, 0),
		},
	}, Options{HostTimeout: 10 * time.Millisecond})

	start := time.Now()
	reply, err := r.Route(context.Background(), strings.NewReader(`{"hook_event_name":"SessionStart"}`))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.Equal(t, dispatch.DefaultTimeoutExitCode, reply.ExitCode)
	assert.Equal(t, "ready", reply.Consolidated.AdditionalContext)
}

func TestReadEnvelopeCapsInput(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", MaxEnvelopeBytes+10)
	assert.Len(t, ReadEnvelope(strings.NewReader(big)), MaxEnvelopeBytes)
	assert.Nil(t, ReadEnvelope(nil))
}

func TestRoutePublishesCompletion(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(events.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()

	r := newRouter(map[string][]hook.Descriptor{
		"SubagentStop": {{Name: "hung", Command: []string{"sleep", "1"}, TimeoutMs: 10, Async: true}},
	}, Options{Events: bus})

	reply, err := r.Route(ctx, strings.NewReader(`{"hook_event_name":"SubagentStop","session_id":"s-2"}`))
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, events.TypeRouteCompleted, evt.Type)
		assert.Equal(t, reply.Invocation, evt.ID)
		summary, ok := evt.Data.(events.RouteSummary)
		require.True(t, ok)
		assert.Equal(t, "SubagentStop", summary.Event)
		assert.Equal(t, "s-2", summary.SessionID)
		assert.Equal(t, 1, summary.Timeouts)
		assert.Equal(t, reply.ExitCode, summary.ExitCode)
	case <-time.After(time.Second):
		t.Fatalf("route.completed not published")
	}
}
