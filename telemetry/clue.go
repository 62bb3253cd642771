package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// InstrumentationName identifies this module to the OTEL meter/tracer
// providers when a caller doesn't supply its own.
const InstrumentationName = "github.com/goadesign/agentcore"

type (
	// ClueLogger wraps goa.design/clue/log for Runtime Context logging.
	// component, if set, is attached to every record so logs from the
	// runtime, an agent's producer, and a persistence hook can be told apart
	// in a shared stream.
	ClueLogger struct {
		component string
	}

	// ClueMetrics wraps OTEL metrics for runtime instrumentation. Instrument
	// handles are created once per name and cached, since
	// meter.Float64Counter/Float64Histogram are not cheap to call on every
	// IncCounter/RecordTimer invocation.
	ClueMetrics struct {
		meter      metric.Meter
		mu         sync.Mutex
		counters   map[string]metric.Float64Counter
		histograms map[string]metric.Float64Histogram
	}

	// ClueTracer wraps OTEL tracing for runtime tracing.
	ClueTracer struct {
		tracer trace.Tracer
	}

	// clueSpan wraps an OTEL trace span and mirrors RecordError onto the
	// active Clue log entry, so a span's error shows up in both backends
	// without every call site having to do it twice.
	clueSpan struct {
		ctx  context.Context
		span trace.Span
	}
)

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
// The logger reads formatting and debug settings from the context (set via
// log.Context and log.WithFormat/log.WithDebug). component tags every record
// emitted by the returned Logger; pass "" to omit the tag.
func NewClueLogger(component string) Logger {
	return ClueLogger{component: component}
}

// NewClueMetrics constructs a Metrics recorder that delegates to OTEL
// metrics, reading instruments for name from otel.Meter(name). An empty name
// falls back to InstrumentationName. Uses the global MeterProvider; configure
// it via otel.SetMeterProvider before invoking runtime methods (typically
// done via clue.ConfigureOpenTelemetry).
func NewClueMetrics(name string) Metrics {
	if name == "" {
		name = InstrumentationName
	}
	return &ClueMetrics{
		meter:      otel.Meter(name),
		counters:   map[string]metric.Float64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
}

// NewClueTracer constructs a Tracer that delegates to OTEL tracing, reading
// spans from otel.Tracer(name). An empty name falls back to
// InstrumentationName. Uses the global TracerProvider; configure it via
// otel.SetTracerProvider before invoking runtime methods (typically done via
// clue.ConfigureOpenTelemetry or environment variables like
// OTEL_EXPORTER_OTLP_ENDPOINT).
func NewClueTracer(name string) Tracer {
	if name == "" {
		name = InstrumentationName
	}
	return &ClueTracer{tracer: otel.Tracer(name)}
}

func (l ClueLogger) fielders(keyvals ...any) []log.Fielder {
	fielders := kvSliceToClue(keyvals)
	if l.component != "" {
		fielders = append(fielders, log.KV{K: "component", V: l.component})
	}
	return fielders
}

// Debug emits a debug-level log message with structured key-value pairs.
func (l ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, l.fielders(keyvals...)...)...)
}

// Info emits an info-level log message with structured key-value pairs.
func (l ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, l.fielders(keyvals...)...)...)
}

// Warn emits a warning-level log message with structured key-value pairs.
func (l ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := []log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}
	log.Warn(ctx, append(fielders, l.fielders(keyvals...)...)...)
}

// Error emits an error-level log message with structured key-value pairs and,
// if ctx carries an active OTEL span, records the message on it too.
func (l ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, l.fielders(keyvals...)...)...)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(msg, trace.WithAttributes(kvSliceToAttrs(keyvals)...))
	}
}

func (m *ClueMetrics) counter(name string) metric.Float64Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	m.counters[name] = c
	return c
}

func (m *ClueMetrics) histogram(name string) metric.Float64Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	m.histograms[name] = h
	return h
}

// IncCounter increments a counter metric by the given value.
func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	if c := m.counter(name); c != nil {
		c.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
	}
}

// RecordTimer records a duration histogram/timer metric.
func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	if h := m.histogram(name); h != nil {
		h.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
	}
}

// RecordGauge records a gauge metric value. OTEL has no synchronous gauge
// instrument, so this uses a dedicated histogram as a stand-in, same as
// RecordTimer but under a "_gauge"-suffixed name to keep the two apart.
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	if h := m.histogram(name + "_gauge"); h != nil {
		h.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
	}
}

// Start creates a new span with the given name and optional attributes,
// returning a new context and the span handle.
func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{ctx: newCtx, span: span}
}

// Span retrieves the current span from the context.
func (t *ClueTracer) Span(ctx context.Context) Span {
	return &clueSpan{ctx: ctx, span: trace.SpanFromContext(ctx)}
}

// End finalizes the span, optionally applying additional options.
func (s *clueSpan) End(opts ...trace.SpanEndOption) {
	s.span.End(opts...)
}

// AddEvent records a span event with the given name and attributes.
func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvSliceToAttrs(attrs)...))
}

// SetStatus sets the span status code and description.
func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

// RecordError records an error on the span and, if it carries clue log
// context, also logs it so a span's failure is never trace-only.
func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
	s.span.SetStatus(codes.Error, err.Error())
	log.Error(s.ctx, err)
}

// kvSliceToClue converts variadic key-value pairs (k1, v1, k2, v2, ...) into
// Clue's log.Fielder slice. If the slice has an odd length, the last key is
// paired with nil. Non-string keys are skipped.
func kvSliceToClue(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k := keyvals[i]
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		keyStr, ok := k.(string)
		if !ok {
			continue
		}
		fielders = append(fielders, log.KV{K: keyStr, V: v})
	}
	return fielders
}

// tagsToAttrs converts tag strings (k1, v1, k2, v2, ...) into OTEL attributes
// for metrics dimensions. If the slice has an odd length, the last key is
// paired with an empty string.
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// kvSliceToAttrs converts variadic key-value pairs (k1, v1, k2, v2, ...) into
// OTEL attributes for span events. If the slice has an odd length, the last
// key is paired with nil (converted to empty string).
func kvSliceToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		k := keyvals[i]
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		keyStr, ok := k.(string)
		if !ok {
			keyStr = ""
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(keyStr, val))
		case int:
			attrs = append(attrs, attribute.Int(keyStr, val))
		case int64:
			attrs = append(attrs, attribute.Int64(keyStr, val))
		case float64:
			attrs = append(attrs, attribute.Float64(keyStr, val))
		case bool:
			attrs = append(attrs, attribute.Bool(keyStr, val))
		default:
			attrs = append(attrs, attribute.String(keyStr, ""))
		}
	}
	return attrs
}
