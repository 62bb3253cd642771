package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// NoopLogger discards all log messages. It is the Runtime Context default
	// when no Logger is configured.
	NoopLogger struct{}

	// NoopMetrics discards all metrics but keeps a running count of calls, so
	// a test can assert how many metrics calls were made without standing
	// up a real OTEL pipeline.
	NoopMetrics struct {
		calls *atomic.Int64
	}

	// NoopTracer creates no-op spans.
	NoopTracer struct{}

	noopSpan struct{}
)

// NewNoopLogger constructs a Logger that discards all log messages.
func NewNoopLogger() Logger {
	return NoopLogger{}
}

// NewNoopMetrics constructs a Metrics recorder that discards all metrics.
func NewNoopMetrics() Metrics {
	return NoopMetrics{calls: new(atomic.Int64)}
}

// NewNoopTracer constructs a Tracer that creates no-op spans.
func NewNoopTracer() Tracer {
	return NoopTracer{}
}

// Debug discards the log message.
func (NoopLogger) Debug(context.Context, string, ...any) {}

// Info discards the log message.
func (NoopLogger) Info(context.Context, string, ...any) {}

// Warn discards the log message.
func (NoopLogger) Warn(context.Context, string, ...any) {}

// Error discards the log message.
func (NoopLogger) Error(context.Context, string, ...any) {}

// IncCounter discards the counter metric.
func (m NoopMetrics) IncCounter(string, float64, ...string) { m.count() }

// RecordTimer discards the timer metric.
func (m NoopMetrics) RecordTimer(string, time.Duration, ...string) { m.count() }

// RecordGauge discards the gauge metric.
func (m NoopMetrics) RecordGauge(string, float64, ...string) { m.count() }

// Calls returns the number of metrics calls observed so far. Safe for
// concurrent use with the recording methods.
func (m NoopMetrics) Calls() int64 {
	if m.calls == nil {
		return 0
	}
	return m.calls.Load()
}

func (m NoopMetrics) count() {
	if m.calls != nil {
		m.calls.Add(1)
	}
}

// Start returns a no-op span without modifying the context.
func (NoopTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

// Span returns a no-op span.
func (NoopTracer) Span(context.Context) Span {
	return noopSpan{}
}

// End is a no-op.
func (noopSpan) End(...trace.SpanEndOption) {}

// AddEvent is a no-op.
func (noopSpan) AddEvent(string, ...any) {}

// SetStatus is a no-op.
func (noopSpan) SetStatus(codes.Code, string) {}

// RecordError is a no-op.
func (noopSpan) RecordError(error, ...trace.EventOption) {}
