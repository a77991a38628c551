package runtime

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/sentinel/internal/governance"
	"github.com/polisai/sentinel/pkg/domain"
	"github.com/polisai/sentinel/pkg/history"
)

// Failure event severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
	SeverityFatal    = "fatal"
)

// CauseEnvelopeViolation marks a raw command outside the actuator's torque
// envelope. It is reported as a failure event without changing the mode.
const CauseEnvelopeViolation = "envelope_violation"

// failureLog keeps a capped list of escalation events and suppresses
// repeats of the same type inside the dedupe window.
type failureLog struct {
	events *history.Ring[domain.FailureEvent]
	window time.Duration
}

func newFailureLog(capacity int, window time.Duration) *failureLog {
	return &failureLog{
		events: history.NewRing[domain.FailureEvent](capacity),
		window: window,
	}
}

// record stores ev unless an event of the same type was stored within the
// window before ev.Timestamp. It reports whether ev was kept.
func (f *failureLog) record(ev domain.FailureEvent) bool {
	if f.window > 0 {
		prev, ok := f.events.Find(func(e domain.FailureEvent) bool { return e.Type == ev.Type })
		if ok && ev.Timestamp.Sub(prev.Timestamp) < f.window {
			return false
		}
	}
	f.events.Add(ev)
	return true
}

// newestFirst returns the stored events, most recent first.
func (f *failureLog) newestFirst() []domain.FailureEvent {
	all := f.events.All()
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all
}

func severityFor(mode domain.RuntimeMode) string {
	switch mode {
	case domain.ModeDegraded:
		return SeverityWarning
	case domain.ModeSafeFallback:
		return SeverityCritical
	default:
		return SeverityFatal
	}
}

func describeCause(cause string) string {
	switch cause {
	case governance.CauseTimingOverrun:
		return "control step exceeded its worst-case execution time"
	case governance.CauseCovarianceDegraded:
		return "estimator covariance trace crossed the degraded threshold"
	case governance.CauseCovarianceFallback:
		return "estimator covariance trace crossed the fallback threshold"
	case governance.CauseStabilityEnergy:
		return "state energy exceeded the stability bound"
	case governance.CauseRedundancyDivergence:
		return "command diverged from the nominal model prediction"
	case CauseEnvelopeViolation:
		return "actuator torque exceeded the safe operational envelope"
	default:
		return fmt.Sprintf("mode escalation: %s", cause)
	}
}

func hazardFor(cause string) domain.HazardLevel {
	switch cause {
	case governance.CauseStabilityEnergy:
		return domain.HazardCatastrophic
	case governance.CauseRedundancyDivergence:
		return domain.HazardStability
	case governance.CauseCovarianceFallback, CauseEnvelopeViolation:
		return domain.HazardAuthority
	default:
		return domain.HazardDrift
	}
}

func newFailureEvent(t domain.ModeTransition, samples []domain.SampleEntry) domain.FailureEvent {
	return domain.FailureEvent{
		ID:          uuid.NewString(),
		Timestamp:   t.At,
		Type:        t.Cause,
		Severity:    severityFor(t.To),
		Hazard:      hazardFor(t.Cause),
		Mode:        t.To,
		Description: describeCause(t.Cause),
		Snapshot:    samples,
	}
}

// newEnvelopeEvent reports command[axis] exceeding limit while in mode.
func newEnvelopeEvent(at time.Time, mode domain.RuntimeMode, axis int, torque, limit float64, samples []domain.SampleEntry) domain.FailureEvent {
	desc := fmt.Sprintf("%s: axis %d commanded %.1f, limit %.1f",
		describeCause(CauseEnvelopeViolation), axis, torque, limit)
	return domain.FailureEvent{
		ID:          uuid.NewString(),
		Timestamp:   at,
		Type:        CauseEnvelopeViolation,
		Severity:    SeverityCritical,
		Hazard:      hazardFor(CauseEnvelopeViolation),
		Mode:        mode,
		Description: desc,
		Snapshot:    samples,
	}
}
