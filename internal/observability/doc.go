// Package observability provides structured logging, Prometheus
// metrics, and OpenTelemetry tracing for ArtifactFlow.
//
// Logging is built on log/slog with automatic redaction of API keys,
// tokens, and passwords, and pulls request/run correlation IDs from
// the context. Metrics cover run lifecycle, LLM and tool latency,
// stream buffers, HTTP traffic, and database queries under the
// artifactflow_ namespace. Tracing exports OTLP spans when an endpoint
// is configured and degrades to a no-op otherwise.
package observability
