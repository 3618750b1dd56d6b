package hook

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// emptyPayload is forwarded to handlers when the host sent nothing usable.
var emptyPayload = []byte("{}")

// Envelope is one event as received from the host runtime. Raw holds the
// exact bytes read from stdin and is what every handler receives.
type Envelope struct {
	EventKind      string
	Variant        string
	SessionID      string
	ToolName       string
	CWD            string
	TranscriptPath string
	Raw            []byte
}

// variantEvents lists the events whose tool_name selects a registry variant.
var variantEvents = map[string]bool{
	"PreToolUse":  true,
	"PostToolUse": true,
}

// ParseEnvelope decodes the host payload. Absent or malformed input is not an
// error: it yields an envelope with no event kind and an empty JSON object as
// payload.
func ParseEnvelope(raw []byte) Envelope {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) || !gjson.ParseBytes(trimmed).IsObject() {
		return Envelope{Raw: emptyPayload}
	}
	fields := gjson.GetManyBytes(trimmed, "hook_event_name", "session_id", "tool_name", "cwd", "transcript_path")
	env := Envelope{
		EventKind:      fields[0].String(),
		SessionID:      fields[1].String(),
		ToolName:       fields[2].String(),
		CWD:            fields[3].String(),
		TranscriptPath: fields[4].String(),
		Raw:            raw,
	}
	if variantEvents[env.EventKind] {
		env.Variant = env.ToolName
	}
	return env
}
