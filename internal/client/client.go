// Package client adapts the input and output conventions of each supported
// host runtime to the envelope and reply shape the router works with.
package client

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
)

// Names of the supported host runtimes.
const (
	NameClaude = "claude"
	NameGemini = "gemini"
)

// Adapter translates between one host runtime and the router.
type Adapter interface {
	Name() string
	// Prepare turns the host's raw stdin into the envelope to route. The
	// event argument is the event named on the command line, if any. When
	// route is false the event has no routed equivalent and the host gets
	// the empty reply with exit 0.
	Prepare(event string, raw []byte) (env hook.Envelope, route bool, err error)
	// Render rewrites the router's reply body for the host.
	Render(event string, body []byte) ([]byte, error)
}

// Options configure adapters.
type Options struct {
	GeminiSessionFile string
}

// ForName returns the adapter registered under name.
func ForName(name string, opts Options) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameClaude:
		return Claude{}, nil
	case NameGemini:
		return NewGemini(NewSessionStore(opts.GeminiSessionFile)), nil
	default:
		return nil, fmt.Errorf("unknown client %q (want %s or %s)", name, NameClaude, NameGemini)
	}
}

// Claude passes envelopes and replies through unchanged.
type Claude struct{}

func (Claude) Name() string { return NameClaude }

// Prepare forwards raw as-is. An event named on the command line only fills
// in hook_event_name when the payload lacks one.
func (Claude) Prepare(event string, raw []byte) (hook.Envelope, bool, error) {
	env := hook.ParseEnvelope(raw)
	if env.EventKind != "" || event == "" {
		return env, true, nil
	}
	patched, err := withEventName(env.Raw, event)
	if err != nil {
		return hook.Envelope{}, false, err
	}
	return hook.ParseEnvelope(patched), true, nil
}

func (Claude) Render(_ string, body []byte) ([]byte, error) {
	return body, nil
}

func withEventName(raw []byte, event string) ([]byte, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		raw = []byte("{}")
	}
	out, err := sjson.SetBytes(raw, "hook_event_name", event)
	if err != nil {
		return nil, fmt.Errorf("set hook_event_name: %w", err)
	}
	return out, nil
}
