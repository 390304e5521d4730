package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/ocepa/pkg/capture"
)

func TestSetup_MetricsHandlerExportsInstruments(t *testing.T) {
	t.Parallel()
	tel, err := Setup(TelemetryConfig{ServiceName: "ocepa-test", ServiceVersion: "v0.0.0"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordFrame(context.Background(), capture.FrameReport{Samples: 4096, Sent: true})
	m.ActiveSessions.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"ocepa_capture_frames",
		"ocepa_active_sessions",
		"go_goroutines",
		`service_name="ocepa-test"`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestSetup_TracerProviderRecordsSpans(t *testing.T) {
	t.Parallel()
	tel, err := Setup(TelemetryConfig{TraceSampleRatio: 0.5})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	ctx, span := tel.TracerProvider().Tracer("test").Start(context.Background(), "lecture.save")
	defer span.End()
	if !span.SpanContext().IsValid() || CorrelationID(ctx) == "" {
		t.Error("span from the configured provider has no trace ID")
	}
}

func TestSetup_RejectsBadSampleRatio(t *testing.T) {
	t.Parallel()
	if _, err := Setup(TelemetryConfig{TraceSampleRatio: 1.5}); err == nil {
		t.Error("Setup accepted a sample ratio above 1")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	tel, err := Setup(TelemetryConfig{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// A second shutdown reports the providers are already stopped but
	// must not panic.
	_ = tel.Shutdown(context.Background())
}
