package governance

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Estimator is a per-channel recursive least-squares identifier of the
// coefficient relating command to velocity response. Channels are decoupled:
// only the diagonal of the covariance is ever read or written.
type Estimator struct {
	theta   []float64
	cov     *mat.DiagDense
	lambda  float64
	epsilon float64
	min     float64
	max     float64
}

// NewEstimator builds an estimator seeded from cfg.
func NewEstimator(cfg Config) *Estimator {
	e := &Estimator{
		theta:   make([]float64, cfg.DOF),
		cov:     mat.NewDiagDense(cfg.DOF, nil),
		lambda:  cfg.ForgettingFactor,
		epsilon: cfg.ExcitationEpsilon,
		min:     cfg.ThetaMin,
		max:     cfg.ThetaMax,
	}
	e.Reset(cfg.InitialTheta, cfg.InitialCovariance)
	return e
}

// Reset reseeds every channel.
func (e *Estimator) Reset(theta, covariance float64) {
	for i := range e.theta {
		e.theta[i] = theta
		e.cov.SetDiag(i, covariance)
	}
	e.project()
}

// Update runs one RLS step. Channels whose command magnitude is below the
// excitation threshold are skipped; projection is applied to all channels.
func (e *Estimator) Update(velocity, command []float64) {
	for i, u := range command {
		if math.Abs(u) < e.epsilon {
			continue
		}
		p := e.cov.At(i, i)
		residual := velocity[i] - u/e.theta[i]
		gain := p * u / (e.lambda + u*u*p)
		e.theta[i] += gain * residual
		e.cov.SetDiag(i, math.Max(0, (p-gain*u*p)/e.lambda))
	}
	e.project()
}

// project clamps the estimate into the physically plausible band.
func (e *Estimator) project() {
	for i, v := range e.theta {
		e.theta[i] = math.Min(e.max, math.Max(e.min, v))
	}
}

// Theta copies the current estimate into dst (allocating when dst is short).
func (e *Estimator) Theta(dst []float64) []float64 {
	if cap(dst) < len(e.theta) {
		dst = make([]float64, len(e.theta))
	}
	dst = dst[:len(e.theta)]
	copy(dst, e.theta)
	return dst
}

// Covariance copies the covariance diagonal into dst.
func (e *Estimator) Covariance(dst []float64) []float64 {
	n := len(e.theta)
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = e.cov.At(i, i)
	}
	return dst
}

// CovarianceTrace is the sum of the covariance diagonal.
func (e *Estimator) CovarianceTrace() float64 {
	return mat.Trace(e.cov)
}
