/*
Package metrics defines and registers Prometheus metrics for the device agent's
reconciliation loops and request handlers: mesh (link/broker-config) and workload
reconciliation cycle counts and durations, handler invocation counts and latency,
and announce/discovery counters. Metrics are exposed via Handler for scraping.
*/
package metrics
