package governance

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polisai/sentinel/pkg/clock"
	"github.com/polisai/sentinel/pkg/domain"
)

// Snapshot is the immutable view of governor state published at the end of
// every tick. Readers never see a partially updated tick.
type Snapshot struct {
	Tick             uint64
	Mode             domain.RuntimeMode
	Theta            []float64
	Covariance       []float64
	CovarianceTrace  float64
	RedundancyEMA    float64
	Divergence       float64
	Energy           float64
	LastStepDuration time.Duration
	Transitions      uint64
	LastTransition   domain.ModeTransition
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock injects the time source used by the watchdog and transition stamps.
func WithClock(c clock.Clock) Option {
	return func(g *Governor) {
		if c != nil {
			g.clock = c
		}
	}
}

// Governor owns the estimator, monitors and mode machine for one governed
// actuator. Step is serialized; Health, Advisory and Snapshot are lock-free
// reads of the last published snapshot and may be called from any goroutine.
type Governor struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock

	estimator  *Estimator
	stability  *StabilityMonitor
	redundancy *RedundancyDetector
	watchdog   *Watchdog
	arbiter    *ModeArbiter
	tick       uint64

	// scratch holds the pre-adaptation estimate for the redundancy channel.
	scratch []float64

	snapshot atomic.Pointer[Snapshot]
	active   atomic.Pointer[Config]
}

// New validates cfg and constructs a Governor in ModeNormal.
func New(cfg Config, opts ...Option) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Governor{clock: clock.Real()}
	for _, opt := range opts {
		opt(g)
	}
	g.build(cfg)
	g.publishLocked()
	return g, nil
}

func (g *Governor) build(cfg Config) {
	g.cfg = cfg
	g.active.Store(&cfg)
	g.estimator = NewEstimator(cfg)
	g.stability = NewStabilityMonitor(cfg.StabilityEnergyThreshold)
	g.redundancy = NewRedundancyDetector(cfg)
	g.watchdog = NewWatchdog(g.clock, cfg.WCET)
	g.arbiter = NewModeArbiter(cfg)
	g.scratch = make([]float64, cfg.DOF)
}

// Config returns the active threshold table.
func (g *Governor) Config() Config {
	return *g.active.Load()
}

// Step runs one control tick. Malformed input is rejected with an error
// matching domain.ErrInvalidInput and leaves all state untouched.
func (g *Governor) Step(in domain.StepInput) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := in.Validate(g.cfg.DOF); err != nil {
		return err
	}

	overrun := g.watchdog.Overrun()
	g.watchdog.Start()
	g.tick++

	theta := g.estimator.Theta(g.scratch)
	fault := g.redundancy.Check(in.Command, theta)

	if g.arbiter.Mode().AllowsAdaptation() {
		g.estimator.Update(in.Velocity, in.Command)
	}

	unstable := g.stability.Check(in.Position, in.Velocity)

	g.arbiter.Evaluate(g.tick, g.clock.Now(), Verdicts{
		Overrun:         overrun,
		CovarianceTrace: g.estimator.CovarianceTrace(),
		Unstable:        unstable,
		RedundancyFault: fault,
	})

	g.watchdog.Stop()

	g.publishLocked()
	return nil
}

// ResetOptions describe an explicit recovery request.
type ResetOptions struct {
	// Cause is recorded on the manual transition.
	Cause string
	// Config, when set, replaces the threshold table before reseeding.
	Config *Config
}

// Reset returns the governor to ModeNormal and reseeds the estimator,
// redundancy average and watchdog. This is the only path out of an
// escalated mode.
func (g *Governor) Reset(opts ResetOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cause := opts.Cause
	if cause == "" {
		cause = "manual_reset"
	}

	if opts.Config != nil {
		if err := opts.Config.Validate(); err != nil {
			return fmt.Errorf("staged config: %w", err)
		}
		count, _ := g.arbiter.Transitions()
		from := g.arbiter.Mode()
		g.build(*opts.Config)
		// Preserve the transition history across the rebuild.
		g.arbiter.mode = from
		g.arbiter.transitions = count
	} else {
		g.estimator.Reset(g.cfg.InitialTheta, g.cfg.InitialCovariance)
		g.stability.reset()
		g.redundancy.reset()
		g.watchdog.reset()
	}

	g.arbiter.Reset(g.tick, g.clock.Now(), cause)
	g.publishLocked()
	return nil
}

func (g *Governor) publishLocked() {
	count, last := g.arbiter.Transitions()
	g.snapshot.Store(&Snapshot{
		Tick:             g.tick,
		Mode:             g.arbiter.Mode(),
		Theta:            g.estimator.Theta(nil),
		Covariance:       g.estimator.Covariance(nil),
		CovarianceTrace:  g.estimator.CovarianceTrace(),
		RedundancyEMA:    g.redundancy.EMA(),
		Divergence:       g.redundancy.Divergence(),
		Energy:           g.stability.Energy(),
		LastStepDuration: g.watchdog.Last(),
		Transitions:      count,
		LastTransition:   last,
	})
}

// Snapshot returns the most recently published state.
func (g *Governor) Snapshot() *Snapshot {
	return g.snapshot.Load()
}

// Mode returns the mode as of the last published tick.
func (g *Governor) Mode() domain.RuntimeMode {
	return g.snapshot.Load().Mode
}

// Health projects the last published snapshot into a RobotHealth report.
func (g *Governor) Health() domain.RobotHealth {
	return BuildHealth(g.snapshot.Load(), *g.active.Load())
}

// Advisory derives the command-scaling advisory from the current health.
func (g *Governor) Advisory() domain.HealthAdvisory {
	return BuildAdvisory(g.Health())
}
