// Package prometheus exports engine metrics through the official
// Prometheus client library.
//
// Register the [Exporter] with an existing registry, or mount
// [Exporter.Handler] directly:
//
//	exporter := prometheus.NewExporter(engine)
//	http.Handle("/metrics", exporter.Handler())
package prometheus
