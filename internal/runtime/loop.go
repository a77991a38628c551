package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/sentinel/internal/governance"
	"github.com/polisai/sentinel/pkg/audit"
	"github.com/polisai/sentinel/pkg/clock"
	"github.com/polisai/sentinel/pkg/domain"
	"github.com/polisai/sentinel/pkg/history"
	"github.com/polisai/sentinel/pkg/policy"
	"github.com/polisai/sentinel/pkg/telemetry"
)

const (
	// DefaultTickInterval is the control cadence used when none is configured.
	DefaultTickInterval = 10 * time.Millisecond
	// failureSnapshotSize is the number of recent samples attached to a failure event.
	failureSnapshotSize = 10
	tracerName          = "sentinel.runtime"
)

// Options configures a Loop. Zero values select defaults.
type Options struct {
	Clock          clock.Clock
	Logger         *slog.Logger
	TickInterval   time.Duration
	HistorySize    int
	FailureHistory int
	// DedupWindow suppresses repeated failure events of the same type.
	DedupWindow time.Duration
	// Authorizer gates Reset. Nil approves every request.
	Authorizer policy.Authorizer
	// TorqueLimit is the actuator envelope on raw command magnitude. A tick
	// whose command exceeds it records an envelope failure event. Zero
	// disables the check.
	TorqueLimit float64
}

// TickResult summarizes one completed tick.
type TickResult struct {
	Tick        uint64
	Mode        domain.RuntimeMode
	Scale       float64
	SafeCommand []float64
	Rejected    bool
	// Transition is set when the tick escalated the mode.
	Transition *domain.ModeTransition
	// Record is the sealed audit record, zero when auditing is disabled.
	Record audit.Record
}

// ResetRequest is an operator's request to leave an escalated mode.
type ResetRequest struct {
	Operator         string `json:"operator"`
	Reason           string `json:"reason"`
	AcknowledgeFault bool   `json:"acknowledge_fault"`
}

// ResetResult reports the outcome of an approved reset.
type ResetResult struct {
	Decision      policy.Decision
	Transition    domain.ModeTransition
	ConfigApplied bool
}

// Stats are cumulative loop counters.
type Stats struct {
	Ticks              uint64             `json:"ticks"`
	Rejected           uint64             `json:"rejected"`
	EStops             uint64             `json:"estops"`
	Resets             uint64             `json:"resets"`
	EnvelopeViolations uint64             `json:"envelope_violations"`
	Failures           int                `json:"failures"`
	Mode               domain.RuntimeMode `json:"mode"`
}

// Loop runs the governor against a source and actuator. Tick and Reset are
// serialized; Failures, Stats and the governor's read methods may be called
// concurrently from other goroutines.
type Loop struct {
	mu         sync.Mutex
	gov        *governance.Governor
	source     Source
	actuator   Actuator
	auditor    Auditor
	authorizer policy.Authorizer
	clock      clock.Clock
	logger     *slog.Logger
	interval   time.Duration
	torque     float64

	epoch  time.Time
	lastTS int64
	seq    uint64

	samples *history.Ring[domain.SampleEntry]

	fmu      sync.RWMutex
	failures *failureLog

	staged atomic.Pointer[governance.Config]

	ticks     atomic.Uint64
	rejected  atomic.Uint64
	estops    atomic.Uint64
	resets    atomic.Uint64
	envelopes atomic.Uint64
}

// New wires a loop. auditor may be nil to run without an audit trail.
func New(gov *governance.Governor, source Source, actuator Actuator, auditor Auditor, opts Options) (*Loop, error) {
	if gov == nil {
		return nil, errors.New("runtime: governor is required")
	}
	if source == nil || actuator == nil {
		return nil, errors.New("runtime: source and actuator are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = failureSnapshotSize
	}
	if opts.FailureHistory <= 0 {
		opts.FailureHistory = 100
	}
	if opts.Authorizer == nil {
		opts.Authorizer = policy.AllowAll{}
	}

	return &Loop{
		gov:        gov,
		source:     source,
		actuator:   actuator,
		auditor:    auditor,
		authorizer: opts.Authorizer,
		clock:      opts.Clock,
		logger:     opts.Logger,
		interval:   opts.TickInterval,
		torque:     opts.TorqueLimit,
		epoch:      opts.Clock.Now(),
		samples:    history.NewRing[domain.SampleEntry](opts.HistorySize),
		failures:   newFailureLog(opts.FailureHistory, opts.DedupWindow),
	}, nil
}

// Governor returns the governed core.
func (l *Loop) Governor() *governance.Governor {
	return l.gov
}

// Run ticks at the configured cadence until ctx is cancelled or the source
// reports io.EOF. Audit, actuator and source failures stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("Runtime loop starting", "tick_interval", l.interval, "dof", l.gov.Config().DOF)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Runtime loop stopping", "ticks", l.ticks.Load())
			return nil
		case <-ticker.C:
			if _, err := l.Tick(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					l.logger.Info("Sample source exhausted", "ticks", l.ticks.Load())
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Drive runs up to n ticks back to back, without pacing. It returns the
// number of ticks completed.
func (l *Loop) Drive(ctx context.Context, n int) (int, error) {
	for i := 0; i < n; i++ {
		if _, err := l.Tick(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return i, nil
			}
			return i, err
		}
	}
	return n, nil
}

// Tick executes one control step: read, govern, scale, actuate, audit.
func (l *Loop) Tick(ctx context.Context) (TickResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.clock.Now()
	in, intent, err := l.source.Next(ctx)
	if err != nil {
		return TickResult{}, err
	}
	if intent.TimestampNS == 0 {
		intent.TimestampNS = start.UnixNano()
	}

	before := l.gov.Snapshot().Transitions
	if err := l.gov.Step(in); err != nil {
		var invalid *domain.InvalidInputError
		if errors.As(err, &invalid) {
			return l.rejectLocked(ctx, in, intent, invalid)
		}
		return TickResult{}, fmt.Errorf("governor step: %w", err)
	}

	snap := l.gov.Snapshot()
	scale := l.gov.Advisory().Scale
	if intent.Type == domain.IntentEStop {
		scale = 0
		l.estops.Add(1)
	}

	safe := make([]float64, len(in.Command))
	for i, u := range in.Command {
		safe[i] = u * scale
	}
	if err := l.actuator.Apply(ctx, safe); err != nil {
		return TickResult{}, fmt.Errorf("actuator: %w", err)
	}

	rec, err := l.auditLocked(ctx, audit.Entry{
		Tick:         snap.Tick,
		Intent:       intent,
		RawCommand:   append([]float64(nil), in.Command...),
		SafeCommand:  safe,
		SafetyFactor: scale,
		Mode:         snap.Mode,
	})
	if err != nil {
		return TickResult{}, err
	}

	l.seq++
	l.samples.Add(domain.SampleEntry{Sequence: l.seq, Timestamp: start, Input: in.Clone()})
	l.ticks.Add(1)

	res := TickResult{
		Tick:        snap.Tick,
		Mode:        snap.Mode,
		Scale:       scale,
		SafeCommand: safe,
		Record:      rec,
	}
	if snap.Transitions != before {
		t := snap.LastTransition
		res.Transition = &t
		l.onEscalation(ctx, t)
	}
	l.checkEnvelope(in.Command, snap.Mode, start)

	telemetry.RecordTick(ctx, telemetry.TickMetrics{
		Mode:     snap.Mode,
		Duration: snap.LastStepDuration,
		Scale:    scale,
	})
	return res, nil
}

// rejectLocked holds the actuator at zero for a malformed sample and records
// the rejection in the audit trail. Governor state is untouched.
func (l *Loop) rejectLocked(ctx context.Context, in domain.StepInput, intent domain.Intent, invalid *domain.InvalidInputError) (TickResult, error) {
	l.rejected.Add(1)
	telemetry.RecordRejected(ctx, invalid.Field)

	snap := l.gov.Snapshot()
	l.logger.Warn("Rejected malformed sample",
		"field", invalid.Field,
		"index", invalid.Index,
		"reason", invalid.Reason,
		"tick", snap.Tick)

	zero := make([]float64, l.gov.Config().DOF)
	if err := l.actuator.Apply(ctx, zero); err != nil {
		return TickResult{}, fmt.Errorf("actuator: %w", err)
	}

	rec, err := l.auditLocked(ctx, audit.Entry{
		Tick:        snap.Tick,
		Intent:      intent,
		RawCommand:  append([]float64(nil), in.Command...),
		SafeCommand: zero,
		Mode:        snap.Mode,
		Rejected:    true,
		Note:        invalid.Error(),
	})
	if err != nil {
		return TickResult{}, err
	}

	return TickResult{
		Tick:        snap.Tick,
		Mode:        snap.Mode,
		SafeCommand: zero,
		Rejected:    true,
		Record:      rec,
	}, nil
}

func (l *Loop) auditLocked(ctx context.Context, e audit.Entry) (audit.Record, error) {
	if l.auditor == nil {
		return audit.Record{}, nil
	}
	e.TimestampNS = l.timestampLocked()
	rec, err := l.auditor.Submit(ctx, e)
	if err != nil {
		return audit.Record{}, fmt.Errorf("audit submit: %w", err)
	}
	return rec, nil
}

// timestampLocked returns a strictly increasing nanosecond timestamp derived
// from the monotonic reading taken at construction.
func (l *Loop) timestampLocked() int64 {
	ts := l.epoch.UnixNano() + int64(l.clock.Since(l.epoch))
	if ts <= l.lastTS {
		ts = l.lastTS + 1
	}
	l.lastTS = ts
	return ts
}

func (l *Loop) onEscalation(ctx context.Context, t domain.ModeTransition) {
	telemetry.RecordTransition(ctx, t)
	l.logger.Warn("Runtime mode escalated",
		"from", t.From,
		"to", t.To,
		"cause", t.Cause,
		"tick", t.Tick)

	ev := newFailureEvent(t, l.samples.Last(failureSnapshotSize))
	l.fmu.Lock()
	kept := l.failures.record(ev)
	l.fmu.Unlock()
	if !kept {
		l.logger.Debug("Failure event suppressed", "type", ev.Type)
	}
}

// checkEnvelope records an envelope failure event for the largest raw
// command magnitude above the torque limit.
func (l *Loop) checkEnvelope(command []float64, mode domain.RuntimeMode, at time.Time) {
	if l.torque <= 0 {
		return
	}
	axis, peak := -1, l.torque
	for i, u := range command {
		if math.Abs(u) > peak {
			axis, peak = i, math.Abs(u)
		}
	}
	if axis < 0 {
		return
	}
	l.envelopes.Add(1)
	l.logger.Warn("Command outside actuator envelope",
		"axis", axis,
		"torque", command[axis],
		"limit", l.torque,
		"mode", mode)

	ev := newEnvelopeEvent(at, mode, axis, command[axis], l.torque, l.samples.Last(failureSnapshotSize))
	l.fmu.Lock()
	l.failures.record(ev)
	l.fmu.Unlock()
}

// Failures returns recorded failure events, newest first.
func (l *Loop) Failures() []domain.FailureEvent {
	l.fmu.RLock()
	defer l.fmu.RUnlock()
	return l.failures.newestFirst()
}

// Samples returns the recent sample history, oldest first.
func (l *Loop) Samples() []domain.SampleEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.samples.All()
}

// Stats returns cumulative counters.
func (l *Loop) Stats() Stats {
	l.fmu.RLock()
	failures := l.failures.events.Size()
	l.fmu.RUnlock()
	return Stats{
		Ticks:              l.ticks.Load(),
		Rejected:           l.rejected.Load(),
		EStops:             l.estops.Load(),
		Resets:             l.resets.Load(),
		EnvelopeViolations: l.envelopes.Load(),
		Failures:           failures,
		Mode:               l.gov.Mode(),
	}
}

// StageConfig validates cfg and holds it until the next approved reset.
// The width of the loop's source and actuator is fixed, so the DOF may not
// change.
func (l *Loop) StageConfig(cfg governance.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if current := l.gov.Config().DOF; cfg.DOF != current {
		return fmt.Errorf("%w: dof cannot change from %d to %d at runtime", domain.ErrConfigInvalid, current, cfg.DOF)
	}
	l.staged.Store(&cfg)
	l.logger.Info("Governor config staged for next reset", "dof", cfg.DOF)
	return nil
}

// Staged reports whether a config is waiting for the next reset.
func (l *Loop) Staged() bool {
	return l.staged.Load() != nil
}

// Reset asks the authorizer whether the operator may leave the current mode
// and, if approved, resets the governor and applies any staged config.
// Ticks are held off from the health read until the reset is applied, so the
// decision always covers the mode that is actually cleared.
func (l *Loop) Reset(ctx context.Context, req ResetRequest) (ResetResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sentinel.reset",
		trace.WithAttributes(attribute.String("sentinel.reset.operator", req.Operator)))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	health := l.gov.Health()
	decision, err := l.authorizer.AuthorizeReset(ctx, policy.ResetInput{
		Mode:             string(health.Mode),
		Operator:         req.Operator,
		Reason:           req.Reason,
		AcknowledgeFault: req.AcknowledgeFault,
		Risk:             health.RiskScore,
	})
	if err != nil {
		span.RecordError(err)
		l.logger.Warn("Reset policy evaluation failed", "error", err, "posture_allow", decision.Allow)
	}
	if !decision.Allow {
		telemetry.RecordReset(ctx, false)
		span.SetStatus(codes.Error, "reset denied")
		l.logger.Warn("Reset denied", "operator", req.Operator, "reason", decision.Reason, "mode", health.Mode)
		return ResetResult{Decision: decision}, &domain.ResetDeniedError{Reason: decision.Reason}
	}

	staged := l.staged.Swap(nil)
	cause := "operator_reset"
	if op := strings.TrimSpace(req.Operator); op != "" {
		cause = "operator_reset:" + op
	}
	if err := l.gov.Reset(governance.ResetOptions{Cause: cause, Config: staged}); err != nil {
		if staged != nil {
			l.staged.CompareAndSwap(nil, staged)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ResetResult{Decision: decision}, fmt.Errorf("governor reset: %w", err)
	}

	snap := l.gov.Snapshot()
	t := snap.LastTransition
	if _, err := l.auditLocked(ctx, audit.Entry{
		Tick:         snap.Tick,
		Intent:       domain.Intent{Type: domain.IntentIdle, TimestampNS: l.clock.Now().UnixNano()},
		SafetyFactor: l.gov.Advisory().Scale,
		Mode:         snap.Mode,
		Note:         fmt.Sprintf("reset from %s by %s: %s", t.From, req.Operator, req.Reason),
	}); err != nil {
		return ResetResult{Decision: decision, Transition: t, ConfigApplied: staged != nil}, err
	}

	l.resets.Add(1)
	telemetry.RecordReset(ctx, true)
	telemetry.RecordTransition(ctx, t)
	telemetry.RecordTransitionEvent(span, t)
	l.logger.Info("Governor reset",
		"operator", req.Operator,
		"reason", req.Reason,
		"from", t.From,
		"config_applied", staged != nil)

	return ResetResult{Decision: decision, Transition: t, ConfigApplied: staged != nil}, nil
}
