// Package hook defines the data exchanged between the router, the host
// runtime and the handler processes it fans out to.
package hook

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Mode selects how the dispatcher waits on a handler.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// DefaultTimeout applies to descriptors registered without a timeout.
const DefaultTimeout = 30 * time.Second

// Descriptor identifies one handler program inside the registry.
type Descriptor struct {
	Name        string   `json:"name,omitempty"`
	Script      string   `json:"script,omitempty"`
	Command     []string `json:"command,omitempty"`
	Interpreter string   `json:"interpreter,omitempty"`
	Async       bool     `json:"async,omitempty"`
	TimeoutMs   int      `json:"timeoutMs,omitempty"`
}

// Mode reports the execution mode of the descriptor.
func (d Descriptor) Mode() Mode {
	if d.Async {
		return ModeAsync
	}
	return ModeSync
}

// Timeout returns the handler budget, falling back to DefaultTimeout.
func (d Descriptor) Timeout() time.Duration {
	if d.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Label is the name used in logs, traces and metrics.
func (d Descriptor) Label() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.Script != "":
		return filepath.Base(d.Script)
	case len(d.Command) > 0:
		return filepath.Base(d.Command[0])
	default:
		return "unnamed"
	}
}

// Argv resolves the descriptor into an executable argument vector. Relative
// scripts are resolved against hookDir.
func (d Descriptor) Argv(hookDir string) ([]string, error) {
	if len(d.Command) > 0 {
		return append([]string(nil), d.Command...), nil
	}
	script := strings.TrimSpace(d.Script)
	if script == "" {
		return nil, fmt.Errorf("handler %q has neither script nor command", d.Label())
	}
	if !filepath.IsAbs(script) && hookDir != "" {
		script = filepath.Join(hookDir, script)
	}
	if d.Interpreter != "" {
		return []string{d.Interpreter, script}, nil
	}
	switch filepath.Ext(script) {
	case ".sh":
		return []string{"bash", script}, nil
	case ".py":
		return []string{"python3", script}, nil
	default:
		return []string{script}, nil
	}
}

// Permission is a handler's permission verdict. The zero value is unset and
// the numeric order is the merge precedence.
type Permission int

const (
	PermissionUnset Permission = iota
	PermissionAllow
	PermissionAsk
	PermissionDeny
)

// ParsePermission maps the wire value onto a Permission. Unknown values are
// treated as unset.
func ParsePermission(s string) Permission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return PermissionAllow
	case "ask":
		return PermissionAsk
	case "deny":
		return PermissionDeny
	default:
		return PermissionUnset
	}
}

func (p Permission) String() string {
	switch p {
	case PermissionAllow:
		return "allow"
	case PermissionAsk:
		return "ask"
	case PermissionDeny:
		return "deny"
	default:
		return ""
	}
}

// StopDecision is the top-level decision Stop and SubagentStop handlers may
// return. Ordered like Permission: block outranks approve.
type StopDecision int

const (
	DecisionUnset StopDecision = iota
	DecisionApprove
	DecisionBlock
)

// ParseStopDecision maps the wire value onto a StopDecision.
func ParseStopDecision(s string) StopDecision {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve":
		return DecisionApprove
	case "block":
		return DecisionBlock
	default:
		return DecisionUnset
	}
}

func (d StopDecision) String() string {
	switch d {
	case DecisionApprove:
		return "approve"
	case DecisionBlock:
		return "block"
	default:
		return ""
	}
}

// Outcome classifies how a handler process ended.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeCrash       Outcome = "crash"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeSpawnFailed Outcome = "spawn_failed"
)
