package client

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
	"github.com/oremus-labs/ol-hook-router/internal/logutil"
)

// geminiEvents maps Gemini CLI event names to the routed event. An empty
// value marks a Gemini-only event that is acknowledged without routing.
var geminiEvents = map[string]string{
	"SessionStart":        "SessionStart",
	"BeforeTool":          "PreToolUse",
	"AfterTool":           "PostToolUse",
	"BeforeAgent":         "UserPromptSubmit",
	"AfterAgent":          "Stop",
	"SessionEnd":          "Stop",
	"BeforeModel":         "",
	"AfterModel":          "",
	"BeforeToolSelection": "",
	"PreCompress":         "",
}

// GeminiEvent returns the routed event for a Gemini event name.
func GeminiEvent(name string) (routed string, known bool) {
	routed, known = geminiEvents[name]
	return routed, known
}

// Gemini adapts the Gemini CLI: the event arrives as an argument, the
// payload lacks hook_event_name and usually session_id, and the reply uses
// a top-level decision instead of permissionDecision.
type Gemini struct {
	sessions *SessionStore
}

// NewGemini returns a Gemini adapter backed by sessions.
func NewGemini(sessions *SessionStore) *Gemini {
	return &Gemini{sessions: sessions}
}

func (g *Gemini) Name() string { return NameGemini }

func (g *Gemini) Prepare(event string, raw []byte) (hook.Envelope, bool, error) {
	if event == "" {
		return hook.Envelope{}, false, errors.New("gemini client requires the event name as an argument: hookrouter --client gemini <event>")
	}
	routed, known := geminiEvents[event]
	if !known {
		logutil.Warn("gemini_unknown_event", map[string]interface{}{"event": event})
		return hook.Envelope{}, false, nil
	}
	if routed == "" {
		return hook.Envelope{}, false, nil
	}

	payload, err := withEventName(bytes.TrimSpace(raw), routed)
	if err != nil {
		return hook.Envelope{}, false, err
	}
	if !gjson.GetBytes(payload, "session_id").Exists() {
		id := g.sessions.ID(event == "SessionStart")
		if payload, err = sjson.SetBytes(payload, "session_id", id); err != nil {
			return hook.Envelope{}, false, fmt.Errorf("set session_id: %w", err)
		}
	}
	return hook.ParseEnvelope(payload), true, nil
}

// Render renames hookEventName to the Gemini event and lifts
// permissionDecision to the top-level decision field.
func (g *Gemini) Render(event string, body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 || !gjson.ValidBytes(body) {
		return []byte("{}"), nil
	}
	specific := gjson.GetBytes(body, "hookSpecificOutput")
	if !specific.IsObject() {
		return body, nil
	}

	out, err := sjson.SetBytes(body, "hookSpecificOutput.hookEventName", event)
	if err != nil {
		return nil, fmt.Errorf("set hookEventName: %w", err)
	}
	if perm := specific.Get("permissionDecision").String(); perm != "" {
		if out, err = sjson.DeleteBytes(out, "hookSpecificOutput.permissionDecision"); err != nil {
			return nil, fmt.Errorf("drop permissionDecision: %w", err)
		}
		if out, err = sjson.SetBytes(out, "decision", perm); err != nil {
			return nil, fmt.Errorf("set decision: %w", err)
		}
	}
	return out, nil
}

// SessionStore persists the Gemini session id between hook invocations,
// since the Gemini CLI does not provide one.
type SessionStore struct {
	path string
	now  func() time.Time
}

// NewSessionStore returns a store backed by path. An empty path disables
// persistence, so every call mints a new id.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path, now: time.Now}
}

// ID returns the current session id. A new id is minted when fresh is set
// (session start) or when none is stored yet.
func (s *SessionStore) ID(fresh bool) string {
	if fresh {
		id := fmt.Sprintf("gemini-%s-%s", s.now().Format("20060102-150405"), shortID())
		s.save(id)
		return id
	}
	if id, err := s.load(); err == nil && id != "" {
		return id
	}
	id := "gemini-fallback-" + shortID()
	s.save(id)
	return id
}

func (s *SessionStore) load() (string, error) {
	if s.path == "" {
		return "", errors.New("no session file")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *SessionStore) save(id string) {
	if s.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		logutil.Warn("gemini_session_dir_failed", map[string]interface{}{"path": s.path, "error": err.Error()})
		return
	}
	if err := os.WriteFile(s.path, []byte(id), 0o600); err != nil {
		logutil.Warn("gemini_session_write_failed", map[string]interface{}{"path": s.path, "error": err.Error()})
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}
