// Package observability bundles the operational concerns of the
// permission engine: structured JSON logging over slog, Prometheus
// metrics, OpenTelemetry tracing, health probes for the mapping store
// backends, and graceful shutdown.
//
// Everything here is wiring, not policy. The permission semantics live
// in pkg/permissions; this package only reports on them.
package observability
