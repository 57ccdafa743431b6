// Package observe provides the observability primitives of scoreflow:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware for
// the admin endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus bridge installed by [InitProvider]. [DefaultMetrics] uses
// the global provider; tests should call [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/scoreflow/pkg/bundle"
	"github.com/MrWong99/scoreflow/pkg/codec"
)

// meterName is the instrumentation scope name used for all scoreflow metrics.
const meterName = "github.com/MrWong99/scoreflow"

// Metrics holds every metric instrument of the engine. All fields are safe
// for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks how long one scheduler tick holds the pool lock.
	TickDuration metric.Float64Histogram

	// BlockDecodeDuration tracks block decompression latency. Use with
	// attribute.String("codec", ...).
	BlockDecodeDuration metric.Float64Histogram

	// --- Counters ---

	// BlockDecodes counts decoded blocks. Use with attributes:
	//   attribute.String("codec", ...), attribute.String("status", ...)
	BlockDecodes metric.Int64Counter

	// BlockCacheHits counts reads served from the cached block.
	BlockCacheHits metric.Int64Counter

	// TrackStarts counts granted start requests by group.
	TrackStarts metric.Int64Counter

	// TrackRejections counts start requests that found no slot, by group.
	TrackRejections metric.Int64Counter

	// TrackEvictions counts tracks flushed to make room for another.
	TrackEvictions metric.Int64Counter

	// Crossfades counts clones into a fade slot. Use with
	// attribute.String("reason", ...).
	Crossfades metric.Int64Counter

	// DirectorTransitions counts applied music rules. Use with attributes:
	//   attribute.String("source", ...), attribute.String("kind", ...)
	DirectorTransitions metric.Int64Counter

	// Commands counts dispatched commands. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// --- Gauges ---

	// ActiveTracks tracks the number of occupied slots, fade slots included.
	ActiveTracks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin request latency by mux route and
	// status code.
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets are histogram boundaries (in seconds) around a 60 Hz budget.
var tickBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("scoreflow.tick.duration",
		metric.WithDescription("Time spent in one scheduler tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BlockDecodeDuration, err = m.Float64Histogram("scoreflow.block.decode.duration",
		metric.WithDescription("Latency of decompressing one block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BlockDecodes, err = m.Int64Counter("scoreflow.block.decodes",
		metric.WithDescription("Total block decodes by codec and status."),
	); err != nil {
		return nil, err
	}
	if met.BlockCacheHits, err = m.Int64Counter("scoreflow.block.cache_hits",
		metric.WithDescription("Total reads served from the cached block."),
	); err != nil {
		return nil, err
	}
	if met.TrackStarts, err = m.Int64Counter("scoreflow.track.starts",
		metric.WithDescription("Total granted start requests by group."),
	); err != nil {
		return nil, err
	}
	if met.TrackRejections, err = m.Int64Counter("scoreflow.track.rejections",
		metric.WithDescription("Total start requests rejected for lack of a slot."),
	); err != nil {
		return nil, err
	}
	if met.TrackEvictions, err = m.Int64Counter("scoreflow.track.evictions",
		metric.WithDescription("Total tracks evicted by a higher priority request."),
	); err != nil {
		return nil, err
	}
	if met.Crossfades, err = m.Int64Counter("scoreflow.crossfades",
		metric.WithDescription("Total crossfades by reason."),
	); err != nil {
		return nil, err
	}
	if met.DirectorTransitions, err = m.Int64Counter("scoreflow.director.transitions",
		metric.WithDescription("Total music rules applied by source and kind."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("scoreflow.commands",
		metric.WithDescription("Total dispatched commands by opcode and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTracks, err = m.Int64UpDownCounter("scoreflow.active_tracks",
		metric.WithDescription("Number of occupied track slots."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scoreflow.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by route and status."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// status maps an error to the "status" attribute value.
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordBlockDecode records one decode attempt.
func (m *Metrics) RecordBlockDecode(ctx context.Context, id codec.ID, d time.Duration, err error) {
	c := attribute.String("codec", id.String())
	m.BlockDecodeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(c))
	m.BlockDecodes.Add(ctx, 1, metric.WithAttributes(c, attribute.String("status", status(err))))
}

// RecordCommand records one dispatched command.
func (m *Metrics) RecordCommand(ctx context.Context, op string, err error) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status(err)),
	))
}

// RecordTransition records one applied director rule.
func (m *Metrics) RecordTransition(ctx context.Context, source, kind string) {
	m.DirectorTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("kind", kind),
	))
}

// BlockObserver returns a [bundle.Observer] that feeds the block metrics.
func (m *Metrics) BlockObserver() bundle.Observer {
	return blockObserver{m: m}
}

type blockObserver struct {
	m *Metrics
}

func (o blockObserver) BlockDecoded(id codec.ID, d time.Duration, err error) {
	o.m.RecordBlockDecode(context.Background(), id, d, err)
}

func (o blockObserver) BlockReused() {
	o.m.BlockCacheHits.Add(context.Background(), 1)
}
