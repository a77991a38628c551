package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), EngineOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	return engine
}

func TestDefaultResetPolicy(t *testing.T) {
	engine := newDefaultEngine(t)

	tests := []struct {
		name   string
		input  ResetInput
		allow  bool
		reason string
	}{
		{
			name:   "approved from degraded",
			input:  ResetInput{Mode: "degraded", Operator: "alice", Reason: "sensor swapped"},
			allow:  true,
			reason: "reset approved",
		},
		{
			name:   "missing operator",
			input:  ResetInput{Mode: "degraded", Reason: "sensor swapped"},
			reason: "operator is required",
		},
		{
			name:   "blank operator",
			input:  ResetInput{Mode: "degraded", Operator: "   ", Reason: "sensor swapped"},
			reason: "operator is required",
		},
		{
			name:   "missing reason",
			input:  ResetInput{Mode: "safe_fallback", Operator: "alice"},
			reason: "reason is required",
		},
		{
			name:   "fault without acknowledgement",
			input:  ResetInput{Mode: "internal_fault", Operator: "alice", Reason: "estimator replaced"},
			reason: "leaving internal_fault requires acknowledge_fault",
		},
		{
			name:   "fault acknowledged",
			input:  ResetInput{Mode: "internal_fault", Operator: "alice", Reason: "estimator replaced", AcknowledgeFault: true},
			allow:  true,
			reason: "reset approved",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.AuthorizeReset(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.allow, decision.Allow)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestCustomModuleOutputs(t *testing.T) {
	module := `package custom

import rego.v1

decision := {"allow": input.risk < 0.5, "reason": "risk gate", "ticket": "OPS-1"}
`
	engine, err := NewEngine(context.Background(), EngineOptions{
		Entrypoint: "custom/decision",
		Modules:    map[string]string{"custom.rego": module},
	})
	require.NoError(t, err)

	decision, err := engine.AuthorizeReset(context.Background(), ResetInput{Risk: 0.2})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
	assert.Equal(t, "OPS-1", decision.Outputs["ticket"])

	decision, err = engine.AuthorizeReset(context.Background(), ResetInput{Risk: 0.9})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
}

func TestPostureOnMalformedDecision(t *testing.T) {
	module := `package broken

import rego.v1

decision := {"allow": "yes"}
`
	for _, tt := range []struct {
		posture Posture
		allow   bool
	}{
		{PostureFailClosed, false},
		{PostureFailOpen, true},
	} {
		t.Run(string(tt.posture), func(t *testing.T) {
			engine, err := NewEngine(context.Background(), EngineOptions{
				Entrypoint: "broken/decision",
				Modules:    map[string]string{"broken.rego": module},
				Posture:    tt.posture,
			})
			require.NoError(t, err)

			decision, err := engine.AuthorizeReset(context.Background(), ResetInput{})
			assert.Error(t, err)
			assert.Equal(t, tt.allow, decision.Allow)
		})
	}
}

func TestNewEngineRejectsInvalidRego(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"bad.rego": "package x\n\nthis is not rego"},
	})
	assert.Error(t, err)
}

func TestParsePosture(t *testing.T) {
	p, err := ParsePosture("")
	require.NoError(t, err)
	assert.Equal(t, PostureFailClosed, p)

	p, err = ParsePosture(" Fail-Open ")
	require.NoError(t, err)
	assert.Equal(t, PostureFailOpen, p)

	_, err = ParsePosture("maybe")
	assert.Error(t, err)
}

func TestAllowAll(t *testing.T) {
	decision, err := AllowAll{}.AuthorizeReset(context.Background(), ResetInput{})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
}
