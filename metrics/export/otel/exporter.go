package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/brewline/cafeauth"
	"github.com/brewline/cafeauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() cafeauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter publishes engine metrics as observable instruments, read from a
// single snapshot per collection cycle. Latency buckets share one gauge and
// are told apart by the "le" attribute.
type Exporter struct {
	source       metricsSource
	registration metric.Registration

	counters map[cafeauth.MetricID]metric.Int64ObservableCounter
	dropped  metric.Int64ObservableCounter

	buckets  metric.Int64ObservableGauge
	bucketLE []metric.ObserveOption
	count    metric.Int64ObservableGauge
	sum      metric.Float64ObservableCounter
}

func NewExporter(meter metric.Meter, engine *cafeauth.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make(map[cafeauth.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	if err := e.instruments(meter); err != nil {
		return nil, err
	}

	observables := []metric.Observable{e.dropped, e.buckets, e.count, e.sum}
	for _, c := range e.counters {
		observables = append(observables, c)
	}
	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) instruments(meter metric.Meter) error {
	var err error
	for _, def := range internaldefs.CounterDefs {
		if e.counters[def.ID], err = meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help)); err != nil {
			return fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
	}
	if e.dropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp)); err != nil {
		return fmt.Errorf("otel: counter %s: %w", internaldefs.AuditDroppedName, err)
	}

	name := internaldefs.LatencyName
	if e.buckets, err = meter.Int64ObservableGauge(name+"_bucket",
		metric.WithDescription("Cumulative count of authentications at or under le seconds.")); err != nil {
		return fmt.Errorf("otel: gauge %s_bucket: %w", name, err)
	}
	if e.count, err = meter.Int64ObservableGauge(name+"_count",
		metric.WithDescription(internaldefs.LatencyHelp)); err != nil {
		return fmt.Errorf("otel: gauge %s_count: %w", name, err)
	}
	if e.sum, err = meter.Float64ObservableCounter(name+"_sum",
		metric.WithDescription(internaldefs.LatencyHelp), metric.WithUnit("s")); err != nil {
		return fmt.Errorf("otel: counter %s_sum: %w", name, err)
	}

	for _, le := range internaldefs.BucketLabels() {
		e.bucketLE = append(e.bucketLE, metric.WithAttributes(attribute.String("le", le)))
	}
	return nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snap.Counters[id]))
	}
	o.ObserveInt64(e.dropped, int64(e.source.AuditDropped()))

	l := internaldefs.LatencyFrom(snap)
	for i, opt := range e.bucketLE {
		o.ObserveInt64(e.buckets, int64(l.Cumulative[i]), opt)
	}
	o.ObserveInt64(e.count, int64(l.Count))
	o.ObserveFloat64(e.sum, l.Seconds)
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
