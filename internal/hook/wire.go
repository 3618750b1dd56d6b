package hook

import "encoding/json"

// Consolidated is the fold of every Result produced for one event.
type Consolidated struct {
	AdditionalContext string
	SystemMessage     string
	Permission        Permission
	Continue          bool
	SuppressOutput    bool
	Decision          StopDecision
	Reason            string
	StopReason        string
	ExitCode          int
}

// Identity is the consolidated result of an event with no handlers.
func Identity() Consolidated {
	return Consolidated{Continue: true}
}

// hookSpecificEvents are the events whose reply may carry
// hookSpecificOutput. Context for any other event is delivered through
// systemMessage and a permission decision is dropped.
var hookSpecificEvents = map[string]bool{
	"PreToolUse":       true,
	"PostToolUse":      true,
	"UserPromptSubmit": true,
}

// stopEvents are the events whose reply carries decision, reason and
// stopReason.
var stopEvents = map[string]bool{
	"Stop":         true,
	"SubagentStop": true,
}

type wireReply struct {
	Continue           *bool         `json:"continue,omitempty"`
	SuppressOutput     *bool         `json:"suppressOutput,omitempty"`
	SystemMessage      string        `json:"systemMessage,omitempty"`
	Decision           string        `json:"decision,omitempty"`
	Reason             string        `json:"reason,omitempty"`
	StopReason         string        `json:"stopReason,omitempty"`
	HookSpecificOutput *wireSpecific `json:"hookSpecificOutput,omitempty"`
}

type wireSpecific struct {
	HookEventName      string `json:"hookEventName"`
	AdditionalContext  string `json:"additionalContext,omitempty"`
	PermissionDecision string `json:"permissionDecision,omitempty"`
}

// Encode renders c in the shape the host runtime reads from stdout. Fields
// holding their default value are omitted, so Identity encodes to {}.
func Encode(eventKind string, c Consolidated) ([]byte, error) {
	var reply wireReply
	reply.SystemMessage = c.SystemMessage
	if hookSpecificEvents[eventKind] {
		if c.AdditionalContext != "" || c.Permission != PermissionUnset {
			reply.HookSpecificOutput = &wireSpecific{
				HookEventName:      eventKind,
				AdditionalContext:  c.AdditionalContext,
				PermissionDecision: c.Permission.String(),
			}
		}
	} else if c.AdditionalContext != "" {
		if reply.SystemMessage != "" {
			reply.SystemMessage += "\n"
		}
		reply.SystemMessage += c.AdditionalContext
	}
	if !c.Continue {
		f := false
		reply.Continue = &f
	}
	if c.SuppressOutput {
		t := true
		reply.SuppressOutput = &t
	}
	if stopEvents[eventKind] {
		reply.Decision = c.Decision.String()
		reply.Reason = c.Reason
		reply.StopReason = c.StopReason
	}
	return json.Marshal(reply)
}
