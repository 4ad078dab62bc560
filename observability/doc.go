// Package observability wires OpenTelemetry metrics and tracing for
// tickstream. Providers export over OTLP/HTTP; streaming-specific
// instruments live in StreamMetrics.
package observability
