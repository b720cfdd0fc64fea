// Package monitor provides a metrics plugin for servers and clients based on
// VictoriaMetrics/metrics. It counts inflow and outflow bytes, read and write
// completions, handed off and drained read completions and state events, and
// exposes them in the Prometheus text format.
package monitor
