// Package metrics exposes gateway counters and gauges to Prometheus.
//
// Each gateway owns its own registry so tests can build several instances
// side by side.
package metrics
