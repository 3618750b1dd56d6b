// Package registry holds the static table that maps an event, and optionally
// a variant of it, to the ordered list of handlers the router runs.
//
// A Registry is built once at startup and never mutated afterwards, so it is
// safe to share read-only. Extending the router means adding an entry to the
// table, never a code path.
package registry

import (
	"sort"
	"strings"
	"time"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
)

// Registry is an immutable event → handlers lookup table.
type Registry struct {
	entries map[string][]hook.Descriptor
	hookDir string
}

// New copies entries into a Registry. Keys are either "Event" or
// "Event:Variant".
func New(entries map[string][]hook.Descriptor, hookDir string) *Registry {
	copied := make(map[string][]hook.Descriptor, len(entries))
	for key, list := range entries {
		copied[key] = cloneList(list)
	}
	return &Registry{entries: copied, hookDir: hookDir}
}

// Key builds the table key for an event and optional variant.
func Key(eventKind, variant string) string {
	if variant == "" {
		return eventKind
	}
	return eventKind + ":" + variant
}

// Lookup returns the handlers registered for the event. A variant-specific
// entry takes precedence over the plain event entry. Unknown events resolve
// to an empty list; that is a no-op, not a fault.
func (r *Registry) Lookup(eventKind, variant string) []hook.Descriptor {
	if r == nil || eventKind == "" {
		return []hook.Descriptor{}
	}
	if variant != "" {
		if list, ok := r.entries[Key(eventKind, variant)]; ok {
			return cloneList(list)
		}
	}
	return cloneList(r.entries[eventKind])
}

// HookDir is the directory relative script references resolve against.
func (r *Registry) HookDir() string {
	if r == nil {
		return ""
	}
	return r.hookDir
}

// Keys returns every registered key in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Events returns the distinct event kinds with at least one entry.
func (r *Registry) Events() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range r.Keys() {
		event, _, _ := strings.Cut(k, ":")
		if !seen[event] {
			seen[event] = true
			out = append(out, event)
		}
	}
	return out
}

// WorstCaseLatency bounds the wall-clock time one dispatch of handlers can
// take, ignoring process start-up cost. Sync handlers run back to back while
// async budgets run from the moment they were started, so the bound is the
// larger of the summed sync timeouts and the longest async timeout.
func WorstCaseLatency(handlers []hook.Descriptor) time.Duration {
	var syncTotal, asyncMax time.Duration
	for _, h := range handlers {
		if h.Async {
			if h.Timeout() > asyncMax {
				asyncMax = h.Timeout()
			}
			continue
		}
		syncTotal += h.Timeout()
	}
	if asyncMax > syncTotal {
		return asyncMax
	}
	return syncTotal
}

func cloneList(list []hook.Descriptor) []hook.Descriptor {
	if len(list) == 0 {
		return []hook.Descriptor{}
	}
	out := make([]hook.Descriptor, len(list))
	for i, d := range list {
		d.Command = append([]string(nil), d.Command...)
		if len(d.Command) == 0 {
			d.Command = nil
		}
		out[i] = d
	}
	return out
}
