// Package otel binds ticketauth engine metrics to OpenTelemetry observable
// instruments: one Int64ObservableCounter per counter and one
// Int64ObservableGauge per latency bucket. Callers own the MeterProvider.
package otel
