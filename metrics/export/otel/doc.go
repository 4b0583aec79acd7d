// Package otel publishes engine metrics through an OpenTelemetry Meter.
//
// [NewOTelExporter] creates one Int64ObservableCounter per engine counter.
// Dispatch latency is reported as a cumulative bucket gauge with an le
// attribute plus a count gauge. The caller owns the MeterProvider.
package otel
