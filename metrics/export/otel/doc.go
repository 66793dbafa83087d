// Package otel publishes cafeauth engine metrics through OpenTelemetry.
//
// Each engine counter becomes an Int64ObservableCounter. Authentication
// latency is published as a cumulative bucket gauge keyed by the "le"
// attribute, plus _count and _sum instruments. One callback reads
// Engine.MetricsSnapshot per collection.
//
// Callers own the MeterProvider and pass in a Meter.
package otel
