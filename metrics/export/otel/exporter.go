package otel

import (
	"context"
	"errors"
	"fmt"

	authcore "github.com/oddsvault/authcore"
	"github.com/oddsvault/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on every collection cycle. An
// *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter bridges engine metrics into OpenTelemetry observable
// instruments. Close unregisters the collection callback.
type Exporter struct {
	registration metric.Registration
}

// observation feeds one or more instruments from a snapshot taken at
// the start of the collection cycle.
type observation func(metric.Observer, authcore.MetricsSnapshot)

// New registers every engine counter as an Int64ObservableCounter and
// every histogram as one gauge per cumulative bucket plus a sample
// count. All instruments share a single callback so a collection cycle
// sees one coherent snapshot.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var (
		instruments  []metric.Observable
		observations []observation
	)

	for _, def := range internaldefs.CounterDefs {
		def := def
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("observable counter %s: %w", def.Name, err)
		}
		instruments = append(instruments, ins)
		observations = append(observations, func(o metric.Observer, snap authcore.MetricsSnapshot) {
			o.ObserveInt64(ins, int64(snap.Counters[def.ID]))
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		obs, ins, err := histogramObservation(meter, def)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, ins...)
		observations = append(observations, obs)
	}

	dropped, err := meter.Int64ObservableCounter(
		"authcore_audit_dropped_total",
		metric.WithDescription("Audit events shed under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("observable counter authcore_audit_dropped_total: %w", err)
	}
	instruments = append(instruments, dropped)
	observations = append(observations, func(o metric.Observer, _ authcore.MetricsSnapshot) {
		o.ObserveInt64(dropped, int64(source.AuditDropped()))
	})

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		for _, observe := range observations {
			observe(o, snap)
		}
		return nil
	}, instruments...)
	if err != nil {
		return nil, fmt.Errorf("register collection callback: %w", err)
	}

	return &Exporter{registration: registration}, nil
}

// NewFromEngine is New with the engine itself as the source.
func NewFromEngine(meter metric.Meter, engine *authcore.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return New(meter, engine)
}

// histogramObservation builds the bucket gauges for one histogram and a
// single observation that fills them all from the same normalized read.
func histogramObservation(meter metric.Meter, def internaldefs.HistogramDef) (observation, []metric.Observable, error) {
	buckets := make([]metric.Int64ObservableGauge, len(internaldefs.HistogramBoundSuffix))
	instruments := make([]metric.Observable, 0, len(buckets)+1)

	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		gauge, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
		if err != nil {
			return nil, nil, fmt.Errorf("observable gauge %s: %w", name, err)
		}
		buckets[i] = gauge
		instruments = append(instruments, gauge)
	}

	count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Histogram total sample count."))
	if err != nil {
		return nil, nil, fmt.Errorf("observable gauge %s_count: %w", def.Name, err)
	}
	instruments = append(instruments, count)

	observe := func(o metric.Observer, snap authcore.MetricsSnapshot) {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
		for i, gauge := range buckets {
			o.ObserveInt64(gauge, int64(cumulative[i]))
		}
		o.ObserveInt64(count, int64(cumulative[len(cumulative)-1]))
	}
	return observe, instruments, nil
}

// Close unregisters the callback. Safe on a nil exporter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
