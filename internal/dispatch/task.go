package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
	"github.com/oremus-labs/ol-hook-router/internal/trace"
)

// Task is one running handler process. Blocking and non-blocking handlers
// share this type and are collected through the same Await call.
type Task struct {
	desc     hook.Descriptor
	started  time.Time
	deadline time.Time
	grace    time.Duration
	timeout  hook.Result

	mu   sync.Mutex
	cmd  *exec.Cmd
	once sync.Once
	done chan struct{}

	result hook.Result
}

// StartBlocking launches a handler the caller is about to wait on.
func (d *Dispatcher) StartBlocking(ctx context.Context, desc hook.Descriptor, payload []byte) *Task {
	t := d.launch(ctx, desc, payload)
	d.record(ctx, trace.SyncStart, t, nil)
	return t
}

// StartNonBlocking launches a handler that is collected later. Its budget
// runs from now, not from collection.
func (d *Dispatcher) StartNonBlocking(ctx context.Context, desc hook.Descriptor, payload []byte) *Task {
	t := d.launch(ctx, desc, payload)
	d.record(ctx, trace.AsyncStart, t, nil)
	return t
}

// Await blocks until the process exits or its budget, measured from start,
// is spent. A process still running at that point is killed and yields the
// neutral timeout result.
func (t *Task) Await() hook.Result {
	wait := time.Until(t.deadline) + t.grace
	if wait < 0 {
		wait = 0
	}
	guard := time.NewTimer(wait)
	defer guard.Stop()

	select {
	case <-t.done:
	case <-guard.C:
		t.kill()
		t.finish(t.timeout)
	}
	return t.result
}

// Descriptor returns the handler this task runs.
func (t *Task) Descriptor() hook.Descriptor {
	return t.desc
}

func (t *Task) finish(r hook.Result) {
	t.once.Do(func() {
		r.Handler = t.desc.Label()
		r.Duration = time.Since(t.started)
		t.result = r
		close(t.done)
	})
}

func (t *Task) kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil {
		_ = killGroup(t.cmd)
	}
}

func (d *Dispatcher) launch(parent context.Context, desc hook.Descriptor, payload []byte) *Task {
	now := time.Now()
	t := &Task{
		desc:     desc,
		started:  now,
		deadline: now.Add(desc.Timeout()),
		grace:    d.waitDelay * 2,
		timeout:  hook.Neutral(d.timeoutExitCode, hook.OutcomeTimeout),
		done:     make(chan struct{}),
	}

	argv, err := desc.Argv(d.hookDir)
	if err != nil {
		d.spawnFailed(t, err)
		return t
	}

	ctx, cancel := context.WithDeadline(parent, t.deadline)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if d.hookDir != "" {
		if info, statErr := os.Stat(d.hookDir); statErr == nil && info.IsDir() {
			cmd.Dir = d.hookDir
		}
	}
	cmd.Env = append(os.Environ(), d.env...)
	// The payload reader is drained into the child's stdin and the pipe
	// is closed as soon as it is exhausted.
	cmd.Stdin = bytes.NewReader(payload)
	stdout := &limitedBuffer{max: d.maxOutputBytes}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = d.waitDelay
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		cancel()
		d.spawnFailed(t, err)
		return t
	}
	t.mu.Lock()
	t.cmd = cmd
	t.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()
		ctxErr := ctx.Err()
		cancel()
		d.forwardStderr(desc, stderr.Bytes())
		t.finish(d.classify(cmd, waitErr, ctxErr, stdout.Bytes(), t.timeout))
	}()
	return t
}

func (d *Dispatcher) classify(cmd *exec.Cmd, waitErr, ctxErr error, stdout []byte, timeout hook.Result) hook.Result {
	if waitErr == nil {
		return hook.ParseResult(stdout, 0)
	}
	if ctxErr != nil {
		return timeout
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// Killed by a signal we did not send.
			return hook.Neutral(CrashExitCode, hook.OutcomeCrash)
		}
		return hook.ParseResult(stdout, code)
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		// The handler exited but left a descendant holding its pipes.
		return hook.ParseResult(stdout, cmd.ProcessState.ExitCode())
	}
	return hook.Neutral(CrashExitCode, hook.OutcomeCrash)
}

func (d *Dispatcher) spawnFailed(t *Task, err error) {
	d.logSpawnFailure(t.desc, err)
	t.finish(hook.Neutral(CrashExitCode, hook.OutcomeSpawnFailed))
}

// limitedBuffer keeps at most max bytes and silently drops the rest so a
// chatty handler never blocks on a full pipe.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
