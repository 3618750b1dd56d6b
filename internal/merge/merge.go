// Package merge folds the results of every handler run for an event into the
// single reply returned to the host runtime.
//
// Every rule is order-independent: text fields are sorted before they are
// joined, enumerations take the maximum of a fixed precedence, flags fold
// with AND/OR and exit codes with MAX. Merge therefore yields the same value
// for any permutation of its input.
package merge

import (
	"sort"
	"strings"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
)

const (
	// ContextSeparator joins additionalContext values. Part of the reply
	// contract with the host runtime.
	ContextSeparator = "\n\n---\n\n"
	// MessageSeparator joins systemMessage, reason and stopReason values.
	MessageSeparator = "\n"
)

// Merge returns the consolidated result for results. An empty slice yields
// hook.Identity.
func Merge(results []hook.Result) hook.Consolidated {
	out := hook.Identity()

	var contexts, messages, reasons, stopReasons []string
	for _, r := range results {
		contexts = appendNonEmpty(contexts, r.AdditionalContext)
		messages = appendNonEmpty(messages, r.SystemMessage)
		reasons = appendNonEmpty(reasons, r.Reason)
		stopReasons = appendNonEmpty(stopReasons, r.StopReason)

		if r.Permission > out.Permission {
			out.Permission = r.Permission
		}
		if r.Decision > out.Decision {
			out.Decision = r.Decision
		}
		if r.Continue != nil && !*r.Continue {
			out.Continue = false
		}
		if r.SuppressOutput != nil && *r.SuppressOutput {
			out.SuppressOutput = true
		}
		if r.ExitCode > out.ExitCode {
			out.ExitCode = r.ExitCode
		}
	}

	out.AdditionalContext = join(contexts, ContextSeparator)
	out.SystemMessage = join(messages, MessageSeparator)
	out.Reason = join(reasons, MessageSeparator)
	out.StopReason = join(stopReasons, MessageSeparator)
	return out
}

func appendNonEmpty(dst []string, s string) []string {
	if s == "" {
		return dst
	}
	return append(dst, s)
}

func join(values []string, sep string) string {
	sort.Strings(values)
	return strings.Join(values, sep)
}
