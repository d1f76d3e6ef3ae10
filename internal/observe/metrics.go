// Package observe holds the recorder's OpenTelemetry instruments and the
// Prometheus bridge that exposes them.
//
// Tests should build a Metrics with NewMetrics and an sdkmetric.ManualReader
// rather than use DefaultMetrics, which reads the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all recorder metrics.
const meterName = "github.com/nupi-ai/voice-recorder"

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// FramesCaptured counts classified frames. Attribute: voiced.
	FramesCaptured metric.Int64Counter

	// FramesRejected counts frames dropped before the queue. Attribute: reason.
	FramesRejected metric.Int64Counter

	// DetectDuration tracks per-frame classification latency.
	DetectDuration metric.Float64Histogram

	// QueueDepth tracks frames waiting for the segmentation loop.
	QueueDepth metric.Int64UpDownCounter

	// SecondsEvaluated counts one-second decisions. Attribute: has_voice.
	SecondsEvaluated metric.Int64Counter

	// SegmentsSaved counts written files. Attribute: reason.
	SegmentsSaved metric.Int64Counter

	// SegmentsDiscarded counts segments dropped for too little speech.
	SegmentsDiscarded metric.Int64Counter

	// SegmentDuration tracks the audio length of written files.
	SegmentDuration metric.Float64Histogram

	// SaveErrors counts failed writes.
	SaveErrors metric.Int64Counter

	// BytesWritten counts encoded bytes handed to the sink.
	BytesWritten metric.Int64Counter

	// CaptureActive is 1 while the capture loop runs.
	CaptureActive metric.Int64UpDownCounter
}

var detectBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

var segmentBuckets = []float64{
	5, 10, 30, 60, 120, 180, 240, 300,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("recorder.frames.captured",
		metric.WithDescription("Frames classified by the detector, by voiced flag."),
	); err != nil {
		return nil, err
	}
	if met.FramesRejected, err = m.Int64Counter("recorder.frames.rejected",
		metric.WithDescription("Frames dropped before segmentation, by reason."),
	); err != nil {
		return nil, err
	}
	if met.DetectDuration, err = m.Float64Histogram("recorder.vad.duration",
		metric.WithDescription("Latency of classifying one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("recorder.queue.depth",
		metric.WithDescription("Frames waiting for the segmentation loop."),
	); err != nil {
		return nil, err
	}
	if met.SecondsEvaluated, err = m.Int64Counter("recorder.seconds.evaluated",
		metric.WithDescription("One-second windows evaluated, by has_voice."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsSaved, err = m.Int64Counter("recorder.segments.saved",
		metric.WithDescription("Recordings written, by close reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("recorder.segments.discarded",
		metric.WithDescription("Segments discarded for too little speech."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("recorder.segment.duration",
		metric.WithDescription("Audio length of written recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SaveErrors, err = m.Int64Counter("recorder.save.errors",
		metric.WithDescription("Recordings that failed to write."),
	); err != nil {
		return nil, err
	}
	if met.BytesWritten, err = m.Int64Counter("recorder.bytes.written",
		metric.WithDescription("Encoded bytes written to the sink."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.CaptureActive, err = m.Int64UpDownCounter("recorder.capture.active",
		metric.WithDescription("1 while the capture loop is running."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level Metrics built on the global meter
// provider. Panics if instrument creation fails.
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

// RecordFrame records one classified frame and its detection latency.
func (m *Metrics) RecordFrame(ctx context.Context, voiced bool, took time.Duration) {
	m.FramesCaptured.Add(ctx, 1, metric.WithAttributes(attribute.Bool("voiced", voiced)))
	m.DetectDuration.Record(ctx, took.Seconds())
}

// RecordRejected records a frame dropped before the queue.
func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	m.FramesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSecond records a one-second decision.
func (m *Metrics) RecordSecond(ctx context.Context, hasVoice bool) {
	m.SecondsEvaluated.Add(ctx, 1, metric.WithAttributes(attribute.Bool("has_voice", hasVoice)))
}

// RecordSaved records a written recording.
func (m *Metrics) RecordSaved(ctx context.Context, reason string, size int64, audio time.Duration) {
	m.SegmentsSaved.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.BytesWritten.Add(ctx, size)
	m.SegmentDuration.Record(ctx, audio.Seconds())
}
