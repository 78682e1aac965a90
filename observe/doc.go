// Package observe provides dispatch listeners that export telemetry.
//
// OTel records one span per call and request, error, latency and connection
// metrics through OpenTelemetry. Prometheus exposes the same signals as
// Prometheus collectors. Both are passed to the engine with
// dispatch.WithListener.
package observe
