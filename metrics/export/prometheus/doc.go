// Package prometheus exposes engine counters through a client_golang
// Collector.
//
// [NewCollector] reads [goRecover.Engine.MetricsSnapshot] on every scrape and
// emits one gorecover_*_total counter per engine counter, plus the
// gorecover_dispatch_latency_seconds histogram. Register it on a registry of
// your choice, or use [Handler] for a private registry served by promhttp.
package prometheus
