// Package otel publishes goPin controller metrics through an OpenTelemetry
// Meter.
//
// [New] registers one observable counter per counter family, with the series
// told apart by attributes, plus the validate latency buckets and the lockout
// gauges. A single callback takes an [internaldefs.Reading] per collection.
// The caller owns the MeterProvider.
package otel
