package hook

import (
	"bytes"
	"time"

	"github.com/tidwall/gjson"
)

// Result is one handler's contribution to an event.
type Result struct {
	AdditionalContext string
	SystemMessage     string
	Permission        Permission
	Continue          *bool
	SuppressOutput    *bool
	Decision          StopDecision
	Reason            string
	StopReason        string
	ExitCode          int

	// Diagnostics only; merging ignores them.
	Handler  string
	Outcome  Outcome
	Duration time.Duration
}

// Neutral returns the all-empty result carrying only an exit status.
func Neutral(exitCode int, outcome Outcome) Result {
	return Result{ExitCode: exitCode, Outcome: outcome}
}

// ParseResult normalizes a finished handler's stdout into a Result. Both the
// host shape (fields nested under hookSpecificOutput) and a flat shape are
// accepted. Empty output is a legitimate neutral reply; anything else that
// is not a JSON object is malformed and also becomes neutral.
func ParseResult(stdout []byte, exitCode int) Result {
	outcome := OutcomeOK
	if exitCode != 0 {
		outcome = OutcomeCrash
	}
	body := bytes.TrimSpace(stdout)
	if len(body) == 0 {
		return Neutral(exitCode, outcome)
	}
	if !gjson.ValidBytes(body) {
		return Neutral(exitCode, OutcomeMalformed)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Neutral(exitCode, OutcomeMalformed)
	}

	res := Result{
		AdditionalContext: firstString(doc, "hookSpecificOutput.additionalContext", "additionalContext"),
		SystemMessage:     doc.Get("systemMessage").String(),
		Permission:        ParsePermission(firstString(doc, "hookSpecificOutput.permissionDecision", "permissionDecision")),
		Continue:          optionalBool(doc.Get("continue")),
		SuppressOutput:    optionalBool(doc.Get("suppressOutput")),
		Decision:          ParseStopDecision(doc.Get("decision").String()),
		Reason:            doc.Get("reason").String(),
		StopReason:        doc.Get("stopReason").String(),
		ExitCode:          exitCode,
		Outcome:           outcome,
	}
	return res
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func optionalBool(v gjson.Result) *bool {
	if v.Type != gjson.True && v.Type != gjson.False {
		return nil
	}
	b := v.Bool()
	return &b
}
