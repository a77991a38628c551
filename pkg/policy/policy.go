package policy

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed reset.rego
var defaultResetModule string

// DefaultEntrypoint is the decision document for reset requests.
const DefaultEntrypoint = "sentinel/reset/decision"

// DefaultModules returns the built-in reset policy.
func DefaultModules() map[string]string {
	return map[string]string{"reset.rego": defaultResetModule}
}

// Posture controls the outcome when the policy itself cannot be evaluated.
type Posture string

const (
	// PostureFailClosed denies the action when evaluation fails.
	PostureFailClosed Posture = "fail-closed"
	// PostureFailOpen allows the action when evaluation fails.
	PostureFailOpen Posture = "fail-open"
)

// ParsePosture normalises a configured posture. Empty selects fail-closed.
func ParsePosture(value string) (Posture, error) {
	switch Posture(strings.ToLower(strings.TrimSpace(value))) {
	case "", PostureFailClosed:
		return PostureFailClosed, nil
	case PostureFailOpen:
		return PostureFailOpen, nil
	default:
		return "", fmt.Errorf("unsupported policy posture %q", value)
	}
}

// ResetInput is the document passed to the reset policy as `input`.
type ResetInput struct {
	Mode             string  `json:"mode"`
	Operator         string  `json:"operator"`
	Reason           string  `json:"reason"`
	AcknowledgeFault bool    `json:"acknowledge_fault"`
	Risk             float64 `json:"risk"`
}

func (in ResetInput) toMap() map[string]any {
	return map[string]any{
		"mode":              in.Mode,
		"operator":          strings.TrimSpace(in.Operator),
		"reason":            strings.TrimSpace(in.Reason),
		"acknowledge_fault": in.AcknowledgeFault,
		"risk":              in.Risk,
	}
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow  bool
	Reason string
	// Outputs carries any extra fields the policy returned.
	Outputs map[string]any
}

// Authorizer decides whether a reset may proceed.
type Authorizer interface {
	AuthorizeReset(ctx context.Context, input ResetInput) (Decision, error)
}

// AllowAll is an Authorizer that approves every request. It is used when no
// policy is configured.
type AllowAll struct{}

func (AllowAll) AuthorizeReset(context.Context, ResetInput) (Decision, error) {
	return Decision{Allow: true, Reason: "no policy configured", Outputs: map[string]any{}}, nil
}
