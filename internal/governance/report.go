package governance

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/polisai/sentinel/pkg/domain"
)

// Advisory scale factors per posture.
const (
	ScaleFull     = 1.0
	ScaleReduced  = 0.5
	ScaleFallback = 0.1
	ScaleHalt     = 0.0
)

// stabilityWeight is the diagonal of the Q weighting matrix used by the
// diagnostic stability snapshot.
const stabilityWeight = 0.1

// BuildHealth projects a snapshot into a health report. It is pure and may be
// called at any frequency.
func BuildHealth(s *Snapshot, cfg Config) domain.RobotHealth {
	drift := driftScore(s.Theta, cfg.Nominal.Mass)

	normalizer := cfg.RedundancyThreshold
	if normalizer <= 0 {
		normalizer = 1
	}
	risk := clamp01(math.Max(drift*cfg.DriftGain, s.RedundancyEMA/normalizer))

	hazard := domain.HazardNone
	switch {
	case drift > cfg.DriftHighThreshold:
		hazard = domain.HazardAuthority
	case drift > cfg.DriftLowThreshold:
		hazard = domain.HazardDrift
	}

	mass := cfg.Nominal.Mass
	if len(s.Theta) > 0 {
		mass = s.Theta[0]
	}

	return domain.RobotHealth{
		Tick:               s.Tick,
		Confidence:         1 - math.Min(1, s.CovarianceTrace/cfg.ConfidenceCap),
		DriftScore:         drift,
		RiskScore:          risk,
		RedundancyError:    s.RedundancyEMA,
		Hazard:             hazard,
		Mode:               s.Mode,
		LastStepDurationMs: float64(s.LastStepDuration) / 1e6,
		Stability:          StabilitySnapshot(mass, cfg.Nominal.Friction, s.Energy),
		Estimates: domain.Estimates{
			Theta:            append([]float64(nil), s.Theta...),
			CovarianceTrace:  s.CovarianceTrace,
			ForgettingFactor: cfg.ForgettingFactor,
		},
		IntegrityTag: cfg.IntegrityTag,
	}
}

// BuildAdvisory maps a health report onto the command-scaling advisory.
func BuildAdvisory(h domain.RobotHealth) domain.HealthAdvisory {
	return domain.HealthAdvisory{
		Scale:           ScaleFor(h.Mode, h.RiskScore),
		RiskLevel:       RiskLevelFor(h.RiskScore),
		Hazard:          h.Hazard,
		Mode:            h.Mode,
		AnomalyDetected: h.Hazard != domain.HazardNone || h.Mode != domain.ModeNormal,
	}
}

// ScaleFor returns the envelope scale for a mode and risk score. The result
// is zero exactly when the mode is InternalFault.
func ScaleFor(mode domain.RuntimeMode, risk float64) float64 {
	switch {
	case mode == domain.ModeInternalFault:
		return ScaleHalt
	case mode == domain.ModeSafeFallback:
		return ScaleFallback
	case risk > 0.5:
		return ScaleReduced
	default:
		return ScaleFull
	}
}

// RiskLevelFor discretizes a risk score.
func RiskLevelFor(risk float64) domain.RiskLevel {
	switch {
	case risk > 0.7:
		return domain.RiskCritical
	case risk > 0.4:
		return domain.RiskHigh
	default:
		return domain.RiskNominal
	}
}

// StabilitySnapshot builds the diagnostic matrix P for the linearised plant
// A = [[0, 1], [0, -f/m]] with the decoupled approximation P00 = Q00,
// P11 = -Q11/(2*a22).
func StabilitySnapshot(mass, friction, energy float64) domain.StabilityMatrix {
	q := [2][2]float64{{stabilityWeight, 0}, {0, stabilityWeight}}

	var p [2][2]float64
	p[0][0] = q[0][0]
	if friction > 0 && mass > 0 {
		a22 := -friction / mass
		p[1][1] = -q[1][1] / (2 * a22)
	}

	out := domain.StabilityMatrix{P: p, Q: q, Energy: energy}

	sym := mat.NewSymDense(2, []float64{p[0][0], p[0][1], p[1][0], p[1][1]})
	var eig mat.EigenSym
	if eig.Factorize(sym, false) {
		values := eig.Values(nil)
		out.Eigenvalues = [2]float64{values[0], values[1]}
		out.PositiveDefinite = values[0] > 0 && values[1] > 0
	}
	return out
}

func driftScore(theta []float64, nominal float64) float64 {
	if len(theta) == 0 {
		return 0
	}
	var sum float64
	for _, v := range theta {
		sum += math.Abs(v - nominal)
	}
	return sum / float64(len(theta))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
