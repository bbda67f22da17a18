// Package observe provides application-wide observability primitives for
// posecoach: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all posecoach metrics.
const meterName = "github.com/MrWong99/posecoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Inbound analysis ---

	// Messages counts inbound analysis messages. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("outcome", ...)
	Messages metric.Int64Counter

	// LandmarkCount records the number of non-zero landmarks per frame.
	LandmarkCount metric.Int64Histogram

	// FramesSent counts video frames submitted to the inference service.
	FramesSent metric.Int64Counter

	// --- Speech ---

	// Utterances counts scheduler decisions. Use with attributes:
	//   attribute.String("outcome", ...), attribute.String("priority", ...)
	Utterances metric.Int64Counter

	// SpeechDuration tracks how long an utterance occupied the backend, from
	// dispatch to terminal event.
	SpeechDuration metric.Float64Histogram

	// QueueDepth reports the number of utterances waiting behind the current
	// one.
	QueueDepth metric.Int64Gauge

	// BackendRequests counts speech backend dispatches. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BackendErrors counts speech backend failures. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live coaching sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// speechBuckets defines histogram bucket boundaries (in seconds) for spoken
// phrases, which last from a fraction of a second to a few seconds.
var speechBuckets = []float64{
	0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10, 15,
}

// landmarkBuckets covers the common skeleton sizes (17 COCO, 33 BlazePose).
var landmarkBuckets = []float64{
	0, 1, 5, 10, 17, 25, 33, 50,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Messages, err = m.Int64Counter("posecoach.analysis.messages",
		metric.WithDescription("Inbound analysis messages by kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.LandmarkCount, err = m.Int64Histogram("posecoach.analysis.landmarks",
		metric.WithDescription("Non-zero landmarks per analysed frame."),
		metric.WithExplicitBucketBoundaries(landmarkBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("posecoach.transport.frames_sent",
		metric.WithDescription("Video frames submitted for analysis."),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("posecoach.speech.utterances",
		metric.WithDescription("Utterances by scheduler outcome and priority."),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("posecoach.speech.duration",
		metric.WithDescription("Time from speech dispatch to completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("posecoach.speech.queue_depth",
		metric.WithDescription("Utterances waiting behind the current one."),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("posecoach.speech.backend.requests",
		metric.WithDescription("Speech backend dispatches by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("posecoach.speech.backend.errors",
		metric.WithDescription("Speech backend failures by backend and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("posecoach.active_sessions",
		metric.WithDescription("Number of live coaching sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("posecoach.http.request.duration",
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

// RecordMessage records one inbound analysis message.
func (m *Metrics) RecordMessage(ctx context.Context, kind, outcome string) {
	m.Messages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordUtterance records one scheduler decision.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome, priority string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("priority", priority),
		),
	)
}

// RecordBackendRequest records a speech backend dispatch with its final
// status ("ok", "error", "cancelled", "timeout").
func (m *Metrics) RecordBackendRequest(ctx context.Context, backend, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordBackendError records a speech backend failure.
func (m *Metrics) RecordBackendError(ctx context.Context, backend, kind string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}
