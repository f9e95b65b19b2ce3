// Package otel exposes engine counters through an OpenTelemetry meter using
// observable instruments.
package otel
