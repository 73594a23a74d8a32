// Package otel bridges authcore's in-process metrics into
// OpenTelemetry observable instruments.
//
// [New] registers one Int64ObservableCounter per engine counter, one
// gauge per cumulative histogram bucket, and a single collection
// callback that reads one [authcore.MetricsSnapshot] per cycle so the
// exported values are mutually consistent.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate engine state.
package otel
