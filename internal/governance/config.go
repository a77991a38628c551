package governance

import (
	"fmt"
	"time"

	"github.com/polisai/sentinel/pkg/domain"
)

// DefaultIntegrityTag identifies the governor build in every health report.
const DefaultIntegrityTag = "sentinel-governor/1.0.0+ef42a99b"

// NominalParams are the fixed reference physical parameters used by the
// redundancy channel and the drift score. They never change after construction.
type NominalParams struct {
	// Mass is the nominal command-to-response coefficient per channel.
	Mass float64
	// Friction only feeds the diagnostic stability matrix.
	Friction float64
}

// Config is the canonical threshold table for a Governor.
type Config struct {
	// DOF is the number of independently estimated channels.
	DOF int

	// ForgettingFactor is the RLS memory decay, in (0, 1).
	ForgettingFactor float64
	// InitialTheta seeds every channel's estimate.
	InitialTheta float64
	// InitialCovariance seeds every diagonal covariance entry.
	InitialCovariance float64
	// ThetaMin and ThetaMax bound the projected estimate.
	ThetaMin float64
	ThetaMax float64
	// ExcitationEpsilon is the smallest |command| that updates a channel.
	ExcitationEpsilon float64

	Nominal NominalParams

	// StabilityEnergyThreshold escalates to SafeFallback when exceeded.
	StabilityEnergyThreshold float64

	// RedundancyThreshold escalates to InternalFault when the smoothed
	// divergence exceeds it.
	RedundancyThreshold float64
	// RedundancySmoothing is the weight of the newest divergence sample.
	RedundancySmoothing float64

	// WCET is the per-tick execution budget.
	WCET time.Duration

	// CovarianceDegradedTrace and CovarianceFallbackTrace are the
	// ill-conditioning thresholds on the covariance trace.
	CovarianceDegradedTrace float64
	CovarianceFallbackTrace float64

	// ConfidenceCap is the covariance trace at which confidence reaches zero.
	ConfidenceCap float64
	// DriftGain converts the drift score into a risk contribution.
	DriftGain float64
	// DriftLowThreshold raises H1, DriftHighThreshold raises H3.
	DriftLowThreshold  float64
	DriftHighThreshold float64

	IntegrityTag string
}

// Per-channel covariance budgets. DefaultConfig multiplies them by the DOF
// so the seeded trace always sits below the degraded threshold.
const (
	channelDegradedTrace = 2000.0
	channelFallbackTrace = 5000.0
)

// DefaultConfig returns the reference threshold table for dof channels.
func DefaultConfig(dof int) Config {
	n := float64(max(dof, 1))
	return Config{
		DOF:                      dof,
		ForgettingFactor:         0.995,
		InitialTheta:             1.0,
		InitialCovariance:        1000.0,
		ThetaMin:                 0.1,
		ThetaMax:                 10.0,
		ExcitationEpsilon:        0.01,
		Nominal:                  NominalParams{Mass: 1.0, Friction: 0.1},
		StabilityEnergyThreshold: 8000.0,
		RedundancyThreshold:      15.0,
		RedundancySmoothing:      0.05,
		WCET:                     time.Millisecond,
		CovarianceDegradedTrace:  channelDegradedTrace * n,
		CovarianceFallbackTrace:  channelFallbackTrace * n,
		ConfidenceCap:            channelFallbackTrace * n,
		DriftGain:                0.5,
		DriftLowThreshold:        1.0,
		DriftHighThreshold:       2.5,
		IntegrityTag:             DefaultIntegrityTag,
	}
}

// Validate checks the invariants every component relies on.
func (c Config) Validate() error {
	switch {
	case c.DOF < 1:
		return fmt.Errorf("%w: dof must be >= 1, got %d", domain.ErrConfigInvalid, c.DOF)
	case c.ForgettingFactor <= 0 || c.ForgettingFactor >= 1:
		return fmt.Errorf("%w: forgetting factor must be in (0,1), got %v", domain.ErrConfigInvalid, c.ForgettingFactor)
	case c.ThetaMin <= 0:
		return fmt.Errorf("%w: theta min must be positive, got %v", domain.ErrConfigInvalid, c.ThetaMin)
	case c.ThetaMin >= c.ThetaMax:
		return fmt.Errorf("%w: theta min %v must be below theta max %v", domain.ErrConfigInvalid, c.ThetaMin, c.ThetaMax)
	case c.InitialTheta < c.ThetaMin || c.InitialTheta > c.ThetaMax:
		return fmt.Errorf("%w: initial theta %v outside [%v, %v]", domain.ErrConfigInvalid, c.InitialTheta, c.ThetaMin, c.ThetaMax)
	case c.InitialCovariance < 0:
		return fmt.Errorf("%w: initial covariance must be >= 0", domain.ErrConfigInvalid)
	case c.ExcitationEpsilon <= 0:
		return fmt.Errorf("%w: excitation epsilon must be positive", domain.ErrConfigInvalid)
	case c.Nominal.Mass <= 0:
		return fmt.Errorf("%w: nominal mass must be positive", domain.ErrConfigInvalid)
	case c.RedundancySmoothing <= 0 || c.RedundancySmoothing > 1:
		return fmt.Errorf("%w: redundancy smoothing must be in (0,1]", domain.ErrConfigInvalid)
	case c.RedundancyThreshold <= 0 || c.StabilityEnergyThreshold <= 0:
		return fmt.Errorf("%w: redundancy and stability thresholds must be positive", domain.ErrConfigInvalid)
	case c.WCET <= 0:
		return fmt.Errorf("%w: wcet must be positive", domain.ErrConfigInvalid)
	case c.CovarianceDegradedTrace >= c.CovarianceFallbackTrace:
		return fmt.Errorf("%w: degraded trace %v must be below fallback trace %v",
			domain.ErrConfigInvalid, c.CovarianceDegradedTrace, c.CovarianceFallbackTrace)
	case float64(c.DOF)*c.InitialCovariance >= c.CovarianceDegradedTrace:
		return fmt.Errorf("%w: seeded covariance trace %v must be below degraded trace %v",
			domain.ErrConfigInvalid, float64(c.DOF)*c.InitialCovariance, c.CovarianceDegradedTrace)
	case c.ConfidenceCap <= 0:
		return fmt.Errorf("%w: confidence cap must be positive", domain.ErrConfigInvalid)
	case c.DriftLowThreshold >= c.DriftHighThreshold:
		return fmt.Errorf("%w: drift low threshold must be below high threshold", domain.ErrConfigInvalid)
	}
	return nil
}
