package governance

import (
	"time"

	"github.com/polisai/sentinel/pkg/domain"
)

// Transition causes recorded on escalation.
const (
	CauseTimingOverrun        = "timing_overrun"
	CauseCovarianceDegraded   = "covariance_degraded"
	CauseStabilityEnergy      = "stability_energy"
	CauseCovarianceFallback   = "covariance_fallback"
	CauseRedundancyDivergence = "redundancy_divergence"
)

// Verdicts are the per-tick findings the arbiter fuses into a mode.
type Verdicts struct {
	// Overrun is the watchdog verdict for the previous tick.
	Overrun         bool
	CovarianceTrace float64
	Unstable        bool
	RedundancyFault bool
}

// ModeArbiter is the runtime mode state machine. It only escalates; the only
// way back to ModeNormal is an explicit Reset.
type ModeArbiter struct {
	mode          domain.RuntimeMode
	degradedTrace float64
	fallbackTrace float64

	transitions    uint64
	lastTransition domain.ModeTransition
}

// NewModeArbiter starts in ModeNormal.
func NewModeArbiter(cfg Config) *ModeArbiter {
	return &ModeArbiter{
		mode:          domain.ModeNormal,
		degradedTrace: cfg.CovarianceDegradedTrace,
		fallbackTrace: cfg.CovarianceFallbackTrace,
	}
}

// Mode returns the current mode.
func (a *ModeArbiter) Mode() domain.RuntimeMode { return a.mode }

// Evaluate escalates the mode to the most severe target implied by v.
// It returns true when the mode changed.
func (a *ModeArbiter) Evaluate(tick uint64, now time.Time, v Verdicts) bool {
	target, cause := domain.ModeNormal, ""
	consider := func(m domain.RuntimeMode, c string) {
		if m.Severity() > target.Severity() {
			target, cause = m, c
		}
	}

	if v.Overrun {
		consider(domain.ModeDegraded, CauseTimingOverrun)
	}
	if v.CovarianceTrace > a.degradedTrace {
		consider(domain.ModeDegraded, CauseCovarianceDegraded)
	}
	if v.Unstable {
		consider(domain.ModeSafeFallback, CauseStabilityEnergy)
	}
	if v.CovarianceTrace > a.fallbackTrace {
		consider(domain.ModeSafeFallback, CauseCovarianceFallback)
	}
	if v.RedundancyFault {
		consider(domain.ModeInternalFault, CauseRedundancyDivergence)
	}

	if target.Severity() <= a.mode.Severity() {
		return false
	}
	a.transitionTo(target, tick, now, cause, false)
	return true
}

// Reset returns the arbiter to ModeNormal. It is the explicit external
// recovery path and is always recorded as a manual transition.
func (a *ModeArbiter) Reset(tick uint64, now time.Time, cause string) {
	a.transitionTo(domain.ModeNormal, tick, now, cause, true)
}

func (a *ModeArbiter) transitionTo(mode domain.RuntimeMode, tick uint64, now time.Time, cause string, manual bool) {
	a.lastTransition = domain.ModeTransition{
		Tick:   tick,
		From:   a.mode,
		To:     mode,
		Cause:  cause,
		At:     now,
		Manual: manual,
	}
	a.mode = mode
	a.transitions++
}

// Transitions returns the number of transitions so far and the latest one.
func (a *ModeArbiter) Transitions() (uint64, domain.ModeTransition) {
	return a.transitions, a.lastTransition
}
