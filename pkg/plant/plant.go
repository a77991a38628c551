// Package plant simulates a multi-axis velocity servo so the governor can be
// exercised without hardware. Each axis follows its command without lag at
// velocity gain*u/(m*drift), where gain is the scaling last applied by the
// governor, and position integrates the applied velocity. The simulator is
// both the sample source and the actuator of a closed loop.
package plant

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/polisai/sentinel/pkg/domain"
)

const gainEpsilon = 1e-9

// Params describes the simulated plant and its command generator.
type Params struct {
	DOF int
	// NominalMass is the mass the governor's nominal model assumes.
	NominalMass float64
	// Drift multiplies NominalMass to give the true plant mass.
	Drift float64
	DT    float64
	// Amplitude of the sinusoidal command.
	Amplitude float64
	// SpikeProbability is the per-tick chance of a torque spike on an axis.
	SpikeProbability float64
	SpikeMagnitude   float64
	Seed             uint64
}

// DefaultParams returns a unit-mass plant without drift.
func DefaultParams(dof int) Params {
	return Params{
		DOF:              dof,
		NominalMass:      1.0,
		Drift:            1.0,
		DT:               0.1,
		Amplitude:        15,
		SpikeProbability: 0.01,
		SpikeMagnitude:   100,
		Seed:             1,
	}
}

// Validate rejects parameters that would make the integration meaningless.
func (p Params) Validate() error {
	switch {
	case p.DOF < 1:
		return fmt.Errorf("plant dof must be >= 1, got %d", p.DOF)
	case p.NominalMass <= 0 || p.Drift <= 0:
		return fmt.Errorf("plant mass and drift must be positive")
	case p.DT <= 0:
		return fmt.Errorf("plant dt must be positive")
	case p.SpikeProbability < 0 || p.SpikeProbability > 1:
		return fmt.Errorf("spike probability must be in [0,1]")
	}
	return nil
}

// Simulator models each axis as a zero-lag velocity servo: the measured
// velocity under a command u is gain*u/(mass*drift), where gain is the
// actuator scaling last applied. Next reports the planner's proposal and the
// velocity it produces; Apply integrates position from the command actually
// applied and draws the following proposal.
type Simulator struct {
	mu       sync.Mutex
	params   Params
	rng      *rand.Rand
	t        float64
	gain     float64
	position []float64
	velocity []float64
	pending  []float64
	spiked   bool
	estop    bool
}

// New builds a simulator at the origin with unit actuator gain.
func New(p Params) (*Simulator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		params:   p,
		rng:      rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15)),
		gain:     1,
		position: make([]float64, p.DOF),
		velocity: make([]float64, p.DOF),
		pending:  make([]float64, p.DOF),
	}
	s.proposeLocked()
	return s, nil
}

// SetDrift changes the true plant mass multiplier from the next proposal on.
func (s *Simulator) SetDrift(drift float64) {
	if drift <= 0 {
		return
	}
	s.mu.Lock()
	s.params.Drift = drift
	s.mu.Unlock()
}

// RequestEStop makes the next reported intent an emergency stop.
func (s *Simulator) RequestEStop() {
	s.mu.Lock()
	s.estop = true
	s.mu.Unlock()
}

func (s *Simulator) massLocked() float64 {
	return s.params.NominalMass * s.params.Drift
}

// proposeLocked advances the generator clock, draws the next command (a
// phase-shifted sinusoid per axis with occasional torque spikes) and measures
// the servo response to it.
func (s *Simulator) proposeLocked() {
	s.t += s.params.DT
	s.spiked = false
	mass := s.massLocked()
	for i := range s.pending {
		phase := float64(i) * math.Pi / float64(s.params.DOF)
		u := math.Sin(s.t+phase) * s.params.Amplitude
		if s.rng.Float64() < s.params.SpikeProbability {
			u += s.params.SpikeMagnitude
			s.spiked = true
		}
		s.pending[i] = u
		s.velocity[i] = s.gain * u / mass
	}
}

// Next returns the measured state and the planner's proposed command. It
// returns the same proposal until Apply is called.
func (s *Simulator) Next(ctx context.Context) (domain.StepInput, domain.Intent, error) {
	if err := ctx.Err(); err != nil {
		return domain.StepInput{}, domain.Intent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	intent := domain.Intent{
		Type:     domain.IntentOscillate,
		Target:   s.params.Amplitude,
		Priority: 1,
	}
	switch {
	case s.estop:
		intent = domain.Intent{Type: domain.IntentEStop, Priority: 10}
		s.estop = false
	case s.spiked:
		intent.Type = domain.IntentMoveTo
		intent.Priority = 2
	}

	return domain.StepInput{
		Position: append([]float64(nil), s.position...),
		Velocity: append([]float64(nil), s.velocity...),
		Command:  append([]float64(nil), s.pending...),
	}, intent, nil
}

// Apply drives every axis with command for one step (p += u/(m*drift)*dt),
// records the actuator gain implied by command relative to the proposal and
// draws the next proposal.
func (s *Simulator) Apply(ctx context.Context, command []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(command) != s.params.DOF {
		return fmt.Errorf("plant expects %d command channels, got %d", s.params.DOF, len(command))
	}

	mass := s.massLocked()
	ref := -1
	for i, u := range command {
		s.velocity[i] = u / mass
		s.position[i] += s.velocity[i] * s.params.DT
		if ref < 0 || math.Abs(s.pending[i]) > math.Abs(s.pending[ref]) {
			ref = i
		}
	}
	if math.Abs(s.pending[ref]) > gainEpsilon {
		s.gain = command[ref] / s.pending[ref]
	}
	s.proposeLocked()
	return nil
}

// State returns copies of the current position and the velocity measured
// for the pending proposal.
func (s *Simulator) State() (position, velocity []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.position...), append([]float64(nil), s.velocity...)
}
