package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/ocepa"

// LectureIDKey is the span attribute holding the lecture a span works on.
const LectureIDKey = attribute.Key("lecture.id")

// Tracer returns the Ocepa tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartLectureSpan starts a span tagged with the lecture ID and any extra
// attributes.
func StartLectureSpan(ctx context.Context, name, lectureID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(append([]attribute.KeyValue{LectureIDKey.String(lectureID)}, attrs...)...))
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The HTTP layer reports it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id from ctx
// attached when ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// LectureLogger returns [Logger] for ctx with the lecture ID attached.
func LectureLogger(ctx context.Context, lectureID string) *slog.Logger {
	return Logger(ctx).With(slog.String("lecture_id", lectureID))
}
