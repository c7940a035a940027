// Package observe provides observability for the voxpipe pipeline:
// OpenTelemetry metrics, tracing, structured logging, and HTTP middleware
// tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed
// for scraping through the Prometheus exporter bridge set up by
// [InitProvider]. A package-level default [Metrics] instance is available
// via [DefaultMetrics]; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all voxpipe metrics.
const meterName = "github.com/lbrx/voxpipe"

// Metrics holds the pipeline's metric instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// TranscribeDuration tracks transcription adapter latency.
	TranscribeDuration metric.Float64Histogram

	// GenerateDuration tracks reply generation latency.
	GenerateDuration metric.Float64Histogram

	// SynthesizeDuration tracks speech synthesis latency.
	SynthesizeDuration metric.Float64Histogram

	// EncodeDuration tracks token encoding latency.
	EncodeDuration metric.Float64Histogram

	// SegmentDuration tracks emitted segment audio length in seconds.
	SegmentDuration metric.Float64Histogram

	// SegmentsEmitted counts segments closed by the assembler.
	SegmentsEmitted metric.Int64Counter

	// SegmentsQuarantined counts segments routed to quarantine. Use with
	// attribute.String("stage", ...).
	SegmentsQuarantined metric.Int64Counter

	// FramesDropped counts capture frames discarded by the bounded buffer.
	FramesDropped metric.Int64Counter

	// RecordsWritten counts corpus records durably appended.
	RecordsWritten metric.Int64Counter

	// ShardsSealed counts corpus shards sealed with a manifest.
	ShardsSealed metric.Int64Counter

	// ProviderRequests counts adapter calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...),
	//   attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts adapter failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// SegmentsInFlight tracks segments currently inside the pipeline.
	SegmentsInFlight metric.Int64UpDownCounter

	// HTTPRequestDuration tracks health endpoint latency by method and
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for
// voice-pipeline adapter calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		inst *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.TranscribeDuration, "voxpipe.transcribe.duration", "Latency of transcription adapter calls."},
		{&met.GenerateDuration, "voxpipe.generate.duration", "Latency of reply generation calls."},
		{&met.SynthesizeDuration, "voxpipe.synthesize.duration", "Latency of speech synthesis calls."},
		{&met.EncodeDuration, "voxpipe.encode.duration", "Latency of token encoding calls."},
		{&met.SegmentDuration, "voxpipe.segment.duration", "Audio length of emitted segments."},
	}
	for _, h := range histograms {
		if *h.inst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		inst *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SegmentsEmitted, "voxpipe.segments.emitted", "Total segments closed by the assembler."},
		{&met.SegmentsQuarantined, "voxpipe.segments.quarantined", "Total segments routed to quarantine by stage."},
		{&met.FramesDropped, "voxpipe.frames.dropped", "Total capture frames discarded by the bounded buffer."},
		{&met.RecordsWritten, "voxpipe.records.written", "Total corpus records durably appended."},
		{&met.ShardsSealed, "voxpipe.shards.sealed", "Total corpus shards sealed with a manifest."},
		{&met.ProviderRequests, "voxpipe.provider.requests", "Total adapter calls by provider, kind, and status."},
		{&met.ProviderErrors, "voxpipe.provider.errors", "Total adapter failures by provider and kind."},
	}
	for _, c := range counters {
		if *c.inst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.SegmentsInFlight, err = m.Int64UpDownCounter("voxpipe.segments.in_flight",
		metric.WithDescription("Segments currently inside the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxpipe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from the global meter provider. Panics if instrument creation fails,
// which cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the request counter with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError increments the error counter with the standard
// attribute set.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordQuarantine increments the quarantine counter for a stage.
func (m *Metrics) RecordQuarantine(ctx context.Context, stage string) {
	m.SegmentsQuarantined.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}
