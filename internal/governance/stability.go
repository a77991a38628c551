package governance

import "gonum.org/v1/gonum/floats"

// StabilityMonitor evaluates the kinetic-energy-like proxy
// E = 0.5*(‖position‖² + ‖velocity‖²) and flags when it exceeds the bound.
// It is a coarse stand-in for a Lyapunov function, not a stability proof.
type StabilityMonitor struct {
	threshold float64
	energy    float64
}

// NewStabilityMonitor returns a monitor with the given energy bound.
func NewStabilityMonitor(threshold float64) *StabilityMonitor {
	return &StabilityMonitor{threshold: threshold}
}

// Check computes the energy for this tick and reports whether it is violated.
func (m *StabilityMonitor) Check(position, velocity []float64) bool {
	m.energy = 0.5 * (floats.Dot(position, position) + floats.Dot(velocity, velocity))
	return m.energy > m.threshold
}

// Energy returns the proxy computed by the most recent Check.
func (m *StabilityMonitor) Energy() float64 {
	return m.energy
}

func (m *StabilityMonitor) reset() {
	m.energy = 0
}
