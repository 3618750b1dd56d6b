package merge

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
)

func boolPtr(b bool) *bool { return &b }

func perm(p hook.Permission) hook.Result { return hook.Result{Permission: p} }

func exit(code int) hook.Result { return hook.Result{ExitCode: code} }

func TestMergeEmptyIsIdentity(t *testing.T) {
	t.Parallel()

	got := Merge(nil)
	assert.Equal(t, hook.Identity(), got)
	assert.Equal(t, hook.PermissionUnset, got.Permission)
	assert.True(t, got.Continue)
	assert.False(t, got.SuppressOutput)
	assert.Zero(t, got.ExitCode)
	assert.Empty(t, got.AdditionalContext)
}

func TestMergeAdditionalContext(t *testing.T) {
	t.Parallel()

	got := Merge([]hook.Result{
		{AdditionalContext: "Context 1"},
		{},
		{AdditionalContext: "Context 2"},
	})
	assert.Equal(t, "Context 1"+ContextSeparator+"Context 2", got.AdditionalContext)
}

func TestMergeSystemMessage(t *testing.T) {
	t.Parallel()

	got := Merge([]hook.Result{{SystemMessage: "Message 1"}, {SystemMessage: "Message 2"}})
	assert.Equal(t, "Message 1\nMessage 2", got.SystemMessage)
}

func TestMergePermissionPrecedence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, hook.PermissionDeny, Merge([]hook.Result{
		perm(hook.PermissionAllow), perm(hook.PermissionDeny), perm(hook.PermissionAsk),
	}).Permission)
	assert.Equal(t, hook.PermissionAsk, Merge([]hook.Result{
		perm(hook.PermissionAllow), perm(hook.PermissionAsk),
	}).Permission)
	assert.Equal(t, hook.PermissionAllow, Merge([]hook.Result{
		perm(hook.PermissionAllow), {},
	}).Permission)
	assert.Equal(t, hook.PermissionUnset, Merge(nil).Permission)

	many := make([]hook.Result, 0, 21)
	for i := 0; i < 10; i++ {
		many = append(many, perm(hook.PermissionAllow))
	}
	many = append(many, perm(hook.PermissionDeny))
	for i := 0; i < 10; i++ {
		many = append(many, perm(hook.PermissionAllow))
	}
	assert.Equal(t, hook.PermissionDeny, Merge(many).Permission)
}

func TestMergeExitCodes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, Merge([]hook.Result{exit(0), exit(1), exit(0)}).ExitCode)
	assert.Equal(t, 2, Merge([]hook.Result{exit(0), exit(2), exit(1)}).ExitCode)
	assert.Equal(t, 0, Merge([]hook.Result{exit(0), exit(0)}).ExitCode)
	assert.Equal(t, 0, Merge(nil).ExitCode)
}

func TestMergeContinueAnd(t *testing.T) {
	t.Parallel()

	assert.True(t, Merge([]hook.Result{{Continue: boolPtr(true)}, {Continue: boolPtr(true)}}).Continue)
	assert.False(t, Merge([]hook.Result{{Continue: boolPtr(true)}, {Continue: boolPtr(false)}}).Continue)
	assert.True(t, Merge([]hook.Result{{}, {Continue: boolPtr(true)}}).Continue, "unset is neutral")
	assert.True(t, Merge(nil).Continue)
}

func TestMergeSuppressOr(t *testing.T) {
	t.Parallel()

	assert.False(t, Merge([]hook.Result{{SuppressOutput: boolPtr(false)}, {SuppressOutput: boolPtr(false)}}).SuppressOutput)
	assert.True(t, Merge([]hook.Result{{SuppressOutput: boolPtr(true)}, {SuppressOutput: boolPtr(false)}}).SuppressOutput)
	assert.False(t, Merge([]hook.Result{{}}).SuppressOutput)
}

func TestMergeStopFields(t *testing.T) {
	t.Parallel()

	got := Merge([]hook.Result{
		{Decision: hook.DecisionBlock, Reason: "Missing reflection"},
		{Decision: hook.DecisionApprove, Reason: "Uncommitted changes", StopReason: "Session blocked"},
		{},
	})
	assert.Equal(t, hook.DecisionBlock, got.Decision)
	assert.Contains(t, got.Reason, "Missing reflection")
	assert.Contains(t, got.Reason, "Uncommitted changes")
	assert.Equal(t, "Session blocked", got.StopReason)
}

func TestMergeIgnoresDiagnostics(t *testing.T) {
	t.Parallel()

	a := Merge([]hook.Result{{AdditionalContext: "x", Handler: "one", Outcome: hook.OutcomeTimeout}})
	b := Merge([]hook.Result{{AdditionalContext: "x", Handler: "two", Outcome: hook.OutcomeOK}})
	assert.Equal(t, a, b)
}

func sampleResults() []hook.Result {
	return []hook.Result{
		{AdditionalContext: "alpha", SystemMessage: "warn: disk", Permission: hook.PermissionAllow, ExitCode: 0},
		{AdditionalContext: "beta", Permission: hook.PermissionAsk, Continue: boolPtr(true), ExitCode: 1},
		{SystemMessage: "note", SuppressOutput: boolPtr(true), Decision: hook.DecisionApprove, Reason: "r1"},
		{Permission: hook.PermissionDeny, Continue: boolPtr(false), ExitCode: 2, StopReason: "stop"},
		{AdditionalContext: "gamma", Decision: hook.DecisionBlock, Reason: "r0", SuppressOutput: boolPtr(false)},
	}
}

func permutations(in []hook.Result) [][]hook.Result {
	if len(in) <= 1 {
		return [][]hook.Result{append([]hook.Result(nil), in...)}
	}
	var out [][]hook.Result
	for i := range in {
		rest := make([]hook.Result, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]hook.Result{in[i]}, p...))
		}
	}
	return out
}

func TestMergeCommutativeOverAllPermutations(t *testing.T) {
	t.Parallel()

	results := sampleResults()
	want := Merge(results)
	all := permutations(results)
	require.Len(t, all, 120)
	for _, p := range all {
		assert.Equal(t, want, Merge(p))
	}
}

func randomResult(rng *rand.Rand) hook.Result {
	texts := []string{"", "", "a", "b", "c", "long context\nwith lines"}
	r := hook.Result{
		AdditionalContext: texts[rng.Intn(len(texts))],
		SystemMessage:     texts[rng.Intn(len(texts))],
		Reason:            texts[rng.Intn(len(texts))],
		StopReason:        texts[rng.Intn(len(texts))],
		Permission:        hook.Permission(rng.Intn(4)),
		Decision:          hook.StopDecision(rng.Intn(3)),
		ExitCode:          rng.Intn(3),
	}
	switch rng.Intn(3) {
	case 1:
		r.Continue = boolPtr(true)
	case 2:
		r.Continue = boolPtr(false)
	}
	switch rng.Intn(3) {
	case 1:
		r.SuppressOutput = boolPtr(true)
	case 2:
		r.SuppressOutput = boolPtr(false)
	}
	return r
}

func TestMergeCommutativeRandomized(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rng.Intn(8)
		results := make([]hook.Result, n)
		for i := range results {
			results[i] = randomResult(rng)
		}
		want := Merge(results)

		shuffled := append([]hook.Result(nil), results...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, want, Merge(shuffled), "round %d", round)
	}
}
