package registry

import "github.com/oremus-labs/ol-hook-router/internal/hook"

// defaultEntries is the built-in table used when no registry file is
// configured. unified_logger only appends to a log and never shapes the
// reply, so it runs async everywhere.
func defaultEntries() map[string][]hook.Descriptor {
	logger := hook.Descriptor{Script: "unified_logger.py", Async: true}
	return map[string][]hook.Descriptor{
		"SessionStart": {
			{Script: "session_env_setup.sh"},
			{Script: "terminal_title.py"},
			{Script: "sessionstart_load_axioms.py"},
			logger,
		},
		"PreToolUse": {
			{Script: "policy_enforcer.py"},
			{Script: "criteria_gate.py"},
			logger,
		},
		"PostToolUse": {
			logger,
			{Script: "autocommit_state.py"},
			{Script: "fail_fast_watchdog.py"},
			{Script: "custodiet_gate.py"},
		},
		"PostToolUse:TodoWrite": {
			{Script: "request_scribe.py"},
		},
		"UserPromptSubmit": {
			{Script: "user_prompt_submit.py"},
			logger,
		},
		"SubagentStop": {
			logger,
		},
		"Stop": {
			logger,
			{Script: "request_scribe.py"},
			{Script: "session_reflect.py"},
		},
	}
}

// Default returns the built-in registry.
func Default(opts Options) *Registry {
	entries := defaultEntries()
	applyDefaultTimeout(entries, opts.DefaultTimeout)
	return New(entries, opts.HookDir)
}
