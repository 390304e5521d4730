// Package observe provides application-wide observability primitives for
// Ocepa: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup]
// exports them to a Prometheus registry served by
// [Telemetry.MetricsHandler]. [DefaultMetrics] reads the global meter
// provider that [Telemetry.Install] sets; tests use [NewMetrics] with their
// own [metric.MeterProvider].
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/ocepa/internal/lecture"
	"github.com/MrWong99/ocepa/pkg/capture"
	"github.com/MrWong99/ocepa/pkg/provider/transcribe"
)

// meterName is the instrumentation scope name used for all Ocepa metrics.
const meterName = "github.com/MrWong99/ocepa"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture pipeline ---

	// CaptureFrames counts frames taken from capture devices.
	CaptureFrames metric.Int64Counter

	// FramesSent counts encoded chunks handed to an open session.
	FramesSent metric.Int64Counter

	// FramesDropped counts chunks discarded because the session was not open.
	FramesDropped metric.Int64Counter

	// EncodeDuration tracks Quantize + Encode latency per frame.
	EncodeDuration metric.Float64Histogram

	// --- Transcription ---

	// TranscriptEvents counts transcript increments received.
	TranscriptEvents metric.Int64Counter

	// ConnectDuration tracks streaming session connect (dial + setup) latency.
	ConnectDuration metric.Float64Histogram

	// ProviderErrors counts errors reported by sessions and insight
	// providers. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Persistence ---

	// StoreDuration tracks lecture store latency. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network-bound operations.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// encodeBuckets covers per-frame encoding, which is well below a millisecond.
var encodeBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.CaptureFrames, err = m.Int64Counter("ocepa.capture.frames",
		metric.WithDescription("Total audio frames taken from capture devices."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("ocepa.transcribe.frames_sent",
		metric.WithDescription("Total encoded audio chunks sent to an open session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("ocepa.transcribe.frames_dropped",
		metric.WithDescription("Total audio chunks dropped because the session was not open."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEvents, err = m.Int64Counter("ocepa.transcribe.events",
		metric.WithDescription("Total transcript increments received."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("ocepa.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.EncodeDuration, err = m.Float64Histogram("ocepa.encode.duration",
		metric.WithDescription("Latency of quantizing and encoding one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(encodeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("ocepa.transcribe.connect.duration",
		metric.WithDescription("Latency of opening a streaming transcription session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("ocepa.store.duration",
		metric.WithDescription("Latency of lecture store operations by op and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("ocepa.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ocepa.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFrame records one frame report from a capture.Recorder.
func (m *Metrics) RecordFrame(ctx context.Context, r capture.FrameReport) {
	m.CaptureFrames.Add(ctx, 1)
	m.EncodeDuration.Record(ctx, r.EncodeDuration.Seconds())
	if r.Sent {
		m.FramesSent.Add(ctx, 1)
	} else {
		m.FramesDropped.Add(ctx, 1)
	}
}

// FrameHook returns a capture.FrameHook that records into m.
func (m *Metrics) FrameHook() capture.FrameHook {
	return func(r capture.FrameReport) { m.RecordFrame(context.Background(), r) }
}

// StoreTiming returns a lecture.TimingFunc that records into StoreDuration.
func (m *Metrics) StoreTiming() lecture.TimingFunc {
	return func(ctx context.Context, op string, d time.Duration, err error) {
		status := "ok"
		switch {
		case errors.Is(err, lecture.ErrNotFound):
			status = "not_found"
		case err != nil:
			status = "error"
		}
		m.StoreDuration.Record(ctx, d.Seconds(),
			metric.WithAttributes(
				attribute.String("op", op),
				attribute.String("status", status),
			),
		)
	}
}

// ErrorKind classifies a session or insight error for the "kind" attribute.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, transcribe.ErrConnectionFailure):
		return "connection"
	case errors.Is(err, transcribe.ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, transcribe.ErrRemote):
		return "remote"
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, lecture.ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}
