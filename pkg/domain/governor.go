package domain

import (
	"math"
	"time"
)

// StepInput is the synchronized plant sample supplied on every control tick.
// All vectors must have one entry per degree of freedom.
type StepInput struct {
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity"`
	Command  []float64 `json:"command"`
}

// Validate rejects samples that do not match dof or carry non-finite values.
func (in StepInput) Validate(dof int) error {
	fields := []struct {
		name   string
		values []float64
	}{
		{"position", in.Position},
		{"velocity", in.Velocity},
		{"command", in.Command},
	}
	for _, f := range fields {
		if len(f.values) != dof {
			return &InvalidInputError{Field: f.name, Index: -1, Reason: "length mismatch"}
		}
		for i, v := range f.values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &InvalidInputError{Field: f.name, Index: i, Reason: "non-finite value"}
			}
		}
	}
	return nil
}

// Clone returns a deep copy so callers can retain the sample past the tick.
func (in StepInput) Clone() StepInput {
	return StepInput{
		Position: append([]float64(nil), in.Position...),
		Velocity: append([]float64(nil), in.Velocity...),
		Command:  append([]float64(nil), in.Command...),
	}
}

// StabilityMatrix is a diagnostic snapshot of the linearised energy function
// V = xᵀPx. It is never used for mode decisions.
type StabilityMatrix struct {
	P                [2][2]float64 `json:"p"`
	Q                [2][2]float64 `json:"q"`
	Eigenvalues      [2]float64    `json:"eigenvalues"`
	PositiveDefinite bool          `json:"positiveDefinite"`
	Energy           float64       `json:"energy"`
}

// Estimates exposes the current parameter estimate.
type Estimates struct {
	Theta            []float64 `json:"theta"`
	CovarianceTrace  float64   `json:"covarianceTrace"`
	ForgettingFactor float64   `json:"forgettingFactor"`
}

// RobotHealth is a read-only projection of governor state.
type RobotHealth struct {
	Tick               uint64          `json:"tick"`
	Confidence         float64         `json:"confidence"`
	DriftScore         float64         `json:"driftScore"`
	RiskScore          float64         `json:"riskScore"`
	RedundancyError    float64         `json:"redundancyError"`
	Hazard             HazardLevel     `json:"hazard"`
	Mode               RuntimeMode     `json:"mode"`
	LastStepDurationMs float64         `json:"lastStepDurationMs"`
	Stability          StabilityMatrix `json:"stability"`
	Estimates          Estimates       `json:"estimates"`
	IntegrityTag       string          `json:"integrityTag"`
}

// HealthAdvisory is the only output an actuator layer should act on.
type HealthAdvisory struct {
	Scale           float64     `json:"scale"`
	RiskLevel       RiskLevel   `json:"riskLevel"`
	Hazard          HazardLevel `json:"hazard"`
	Mode            RuntimeMode `json:"mode"`
	AnomalyDetected bool        `json:"anomalyDetected"`
}

// ModeTransition records a single escalation or reset of the runtime mode.
type ModeTransition struct {
	Tick   uint64      `json:"tick"`
	From   RuntimeMode `json:"from"`
	To     RuntimeMode `json:"to"`
	Cause  string      `json:"cause"`
	At     time.Time   `json:"at"`
	Manual bool        `json:"manual"`
}
