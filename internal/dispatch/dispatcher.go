// Package dispatch runs the handlers registered for an event as independent
// child processes and normalizes whatever they produce into hook.Results.
//
// The order of operations is the package's central contract:
//
//  1. every async handler is started, in registration order, without
//     waiting on it;
//  2. every sync handler is started and awaited, in registration order;
//  3. every async handler is collected.
//
// Each handler's budget runs from the moment it was started, so async
// handlers overlap the whole sync phase. Handler failures (crashes, hangs,
// unparsable output, missing executables) are converted to neutral results
// and never abort sibling handlers.
package dispatch

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
	"github.com/oremus-labs/ol-hook-router/internal/logutil"
	"github.com/oremus-labs/ol-hook-router/internal/trace"
)

const (
	// CrashExitCode is reported for handlers that could not be started or
	// died from a signal.
	CrashExitCode = 1
	// DefaultTimeoutExitCode is the exit status synthesized for a handler
	// that overran its budget. Under the host contract 1 is "warn": a hung
	// handler is surfaced but never blocks the action.
	DefaultTimeoutExitCode = 1
	// DefaultMaxOutputBytes caps how much of a handler's stdout is kept.
	DefaultMaxOutputBytes = 1 << 20
	// DefaultWaitDelay bounds how long pipes are drained after a handler
	// exits or is killed.
	DefaultWaitDelay = 250 * time.Millisecond
)

// Options configure a Dispatcher.
type Options struct {
	HookDir string
	Env     []string
	// TimeoutExitCode overrides DefaultTimeoutExitCode when set; 0 is a
	// valid override.
	TimeoutExitCode *int
	MaxOutputBytes  int
	WaitDelay       time.Duration
	Recorder        trace.Recorder
	// Diagnostics receives handler stderr. Defaults to os.Stderr.
	Diagnostics io.Writer
}

// Dispatcher runs handler lists under the async-first discipline.
type Dispatcher struct {
	hookDir         string
	env             []string
	timeoutExitCode int
	maxOutputBytes  int
	waitDelay       time.Duration
	recorder        trace.Recorder

	diagMu sync.Mutex
	diag   io.Writer
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	timeoutExitCode := DefaultTimeoutExitCode
	if opts.TimeoutExitCode != nil {
		timeoutExitCode = *opts.TimeoutExitCode
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = DefaultWaitDelay
	}
	if opts.Recorder == nil {
		opts.Recorder = trace.Nop{}
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = os.Stderr
	}
	return &Dispatcher{
		hookDir:         opts.HookDir,
		env:             opts.Env,
		timeoutExitCode: timeoutExitCode,
		maxOutputBytes:  opts.MaxOutputBytes,
		waitDelay:       opts.WaitDelay,
		recorder:        opts.Recorder,
		diag:            opts.Diagnostics,
	}
}

// Run executes handlers against env and returns one Result per handler. The
// order of the returned slice carries no meaning.
func (d *Dispatcher) Run(ctx context.Context, handlers []hook.Descriptor, env hook.Envelope) []hook.Result {
	results := make([]hook.Result, 0, len(handlers))
	if len(handlers) == 0 {
		return results
	}

	var pending []*Task
	for _, h := range handlers {
		if h.Mode() == hook.ModeAsync {
			pending = append(pending, d.StartNonBlocking(ctx, h, env.Raw))
		}
	}

	for _, h := range handlers {
		if h.Mode() != hook.ModeSync {
			continue
		}
		t := d.StartBlocking(ctx, h, env.Raw)
		res := t.Await()
		d.record(ctx, doneKind(trace.SyncDone, res), t, &res)
		results = append(results, res)
	}

	for _, t := range pending {
		d.record(ctx, trace.AsyncCollect, t, nil)
		res := t.Await()
		d.record(ctx, doneKind(trace.AsyncDone, res), t, &res)
		results = append(results, res)
	}
	return results
}

func doneKind(kind trace.Kind, res hook.Result) trace.Kind {
	if res.Outcome == hook.OutcomeTimeout {
		return trace.Timeout
	}
	return kind
}

func (d *Dispatcher) record(ctx context.Context, kind trace.Kind, t *Task, res *hook.Result) {
	e := trace.Event{
		Invocation: trace.InvocationFrom(ctx),
		Kind:       kind,
		Handler:    t.desc.Label(),
		At:         time.Now(),
	}
	if res != nil {
		e.ExitCode = res.ExitCode
		e.Outcome = res.Outcome
		e.Elapsed = res.Duration
	}
	d.recorder.Record(e)
}

func (d *Dispatcher) forwardStderr(desc hook.Descriptor, stderr []byte) {
	if len(stderr) == 0 {
		return
	}
	d.diagMu.Lock()
	defer d.diagMu.Unlock()
	if _, err := d.diag.Write(stderr); err != nil {
		logutil.Warn("handler_stderr_dropped", map[string]interface{}{
			"handler": desc.Label(),
			"bytes":   len(stderr),
		})
	}
}

func (d *Dispatcher) logSpawnFailure(desc hook.Descriptor, err error) {
	logutil.Error("handler_spawn_failed", err, map[string]interface{}{
		"handler": desc.Label(),
		"hookDir": d.hookDir,
	})
}
