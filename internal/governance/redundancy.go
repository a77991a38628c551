package governance

import "gonum.org/v1/gonum/floats"

// RedundancyDetector compares the adaptive model's prediction (command/theta)
// against a fixed nominal model (command/nominal mass) and smooths the
// divergence with an exponential moving average. A self-consistent but
// physically wrong estimate shows up here long before it shows up in the
// stability proxy.
type RedundancyDetector struct {
	threshold   float64
	alpha       float64
	nominalMass float64

	ema        float64
	divergence float64
	scratch    []float64
}

// NewRedundancyDetector sizes the detector for cfg.DOF channels.
func NewRedundancyDetector(cfg Config) *RedundancyDetector {
	return &RedundancyDetector{
		threshold:   cfg.RedundancyThreshold,
		alpha:       cfg.RedundancySmoothing,
		nominalMass: cfg.Nominal.Mass,
		scratch:     make([]float64, cfg.DOF),
	}
}

// Check folds this tick's divergence into the average and reports whether
// the average exceeds the fault threshold. theta must be the estimate from
// before this tick's adaptation.
func (d *RedundancyDetector) Check(command, theta []float64) bool {
	for i, u := range command {
		d.scratch[i] = u/theta[i] - u/d.nominalMass
	}
	d.divergence = floats.Norm(d.scratch, 2)
	d.ema = (1-d.alpha)*d.ema + d.alpha*d.divergence
	return d.ema > d.threshold
}

// EMA returns the smoothed divergence.
func (d *RedundancyDetector) EMA() float64 { return d.ema }

// Divergence returns the raw divergence of the most recent Check.
func (d *RedundancyDetector) Divergence() float64 { return d.divergence }

func (d *RedundancyDetector) reset() {
	d.ema = 0
	d.divergence = 0
}
