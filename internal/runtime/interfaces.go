package runtime

import (
	"context"

	"github.com/polisai/sentinel/pkg/audit"
	"github.com/polisai/sentinel/pkg/domain"
)

// Source yields one synchronized plant sample and the planner intent that
// produced its command. Returning io.EOF ends Run cleanly.
type Source interface {
	Next(ctx context.Context) (domain.StepInput, domain.Intent, error)
}

// Actuator receives the safety-scaled command for the current tick.
type Actuator interface {
	Apply(ctx context.Context, command []float64) error
}

// Auditor seals and persists audit entries. *audit.Dispatcher satisfies it.
type Auditor interface {
	Submit(ctx context.Context, e audit.Entry) (audit.Record, error)
}

// ActuatorFunc adapts a function to the Actuator interface.
type ActuatorFunc func(ctx context.Context, command []float64) error

func (f ActuatorFunc) Apply(ctx context.Context, command []float64) error {
	return f(ctx, command)
}
