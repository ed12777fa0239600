// Package metrics contains abstractions for emission of metrics generated throughout the lifetime
// of the application. Supported output engines are statsd and Prometheus.
//
// Metrics are structured around hooks: a hook interface defines methods that are invoked by the
// dispatcher, the refresh scheduler and the HTTP handler at lifecycle points of their work.
// Implementations of hook interfaces actually output the metrics to a backend engine; this
// responsibility is decoupled from the semantics of "hooking" into business logic. Several engines
// may be active at once through the Multi* fan-out hooks.
package metrics
