package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/sentinel/pkg/domain"
)

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	tickDuration        metric.Float64Histogram
	tickCounter         metric.Int64Counter
	rejectedCounter     metric.Int64Counter
	transitionCounter   metric.Int64Counter
	auditStallCounter   metric.Int64Counter
	auditFailureCounter metric.Int64Counter
	resetCounter        metric.Int64Counter
)

// TickMetrics captures the fields recorded for one governed tick.
type TickMetrics struct {
	Mode     domain.RuntimeMode
	Duration time.Duration
	Scale    float64
}

// RecordTick records the pipeline latency of a completed tick.
func RecordTick(ctx context.Context, m TickMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("sentinel.mode", string(m.Mode)))
	tickCounter.Add(ctx, 1, attrs)
	tickDuration.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
}

// RecordRejected counts a tick rejected for malformed input.
func RecordRejected(ctx context.Context, field string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	rejectedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("sentinel.input.field", field)))
}

// RecordTransition counts a mode transition.
func RecordTransition(ctx context.Context, t domain.ModeTransition) {
	if err := ensureMetrics(); err != nil {
		return
	}
	transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sentinel.mode.from", string(t.From)),
		attribute.String("sentinel.mode.to", string(t.To)),
		attribute.String("sentinel.transition.cause", t.Cause),
		attribute.Bool("sentinel.transition.manual", t.Manual),
	))
}

// RecordAuditStall counts a submitter that had to wait for audit queue space.
func RecordAuditStall(ctx context.Context) {
	if err := ensureMetrics(); err != nil {
		return
	}
	auditStallCounter.Add(ctx, 1)
}

// RecordAuditWriteFailure counts a failed (and retried) audit sink write.
func RecordAuditWriteFailure(ctx context.Context) {
	if err := ensureMetrics(); err != nil {
		return
	}
	auditFailureCounter.Add(ctx, 1)
}

// RecordReset counts a reset request by outcome.
func RecordReset(ctx context.Context, allowed bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	resetCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("sentinel.reset.allowed", allowed)))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("sentinel.runtime")

		tickDuration, metricsInitErr = meter.Float64Histogram(
			"sentinel.tick.duration_ms",
			metric.WithDescription("Governor pipeline latency per tick"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		tickCounter, metricsInitErr = meter.Int64Counter(
			"sentinel.tick.total",
			metric.WithDescription("Governed ticks partitioned by resulting mode"),
			metric.WithUnit("{tick}"),
		)
		if metricsInitErr != nil {
			return
		}

		rejectedCounter, metricsInitErr = meter.Int64Counter(
			"sentinel.tick.rejected_total",
			metric.WithDescription("Ticks rejected for malformed input"),
			metric.WithUnit("{tick}"),
		)
		if metricsInitErr != nil {
			return
		}

		transitionCounter, metricsInitErr = meter.Int64Counter(
			"sentinel.mode.transitions_total",
			metric.WithDescription("Runtime mode transitions"),
			metric.WithUnit("{transition}"),
		)
		if metricsInitErr != nil {
			return
		}

		auditStallCounter, metricsInitErr = meter.Int64Counter(
			"sentinel.audit.stalls_total",
			metric.WithDescription("Audit submissions that waited for queue space"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		auditFailureCounter, metricsInitErr = meter.Int64Counter(
			"sentinel.audit.write_failures_total",
			metric.WithDescription("Failed audit sink writes (retried)"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		resetCounter, metricsInitErr = meter.Int64Counter(
			"sentinel.reset.requests_total",
			metric.WithDescription("Reset requests partitioned by policy outcome"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}

// RecordTransitionEvent attaches a mode transition to the span without
// leaking operator-supplied text.
func RecordTransitionEvent(span trace.Span, t domain.ModeTransition) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent("sentinel.mode.transition", trace.WithAttributes(
		attribute.Int64("sentinel.tick", int64(t.Tick)),
		attribute.String("sentinel.mode.from", string(t.From)),
		attribute.String("sentinel.mode.to", string(t.To)),
		attribute.Bool("sentinel.transition.manual", t.Manual),
	))
}
