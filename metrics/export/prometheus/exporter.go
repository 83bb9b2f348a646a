package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	trustcore "github.com/clinforge/trustcore"
	"github.com/clinforge/trustcore/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() trustcore.MetricsSnapshot
	AuditDropped() uint64
}

var droppedDesc = prometheus.NewDesc(
	"trustcore_audit_dropped_total",
	"Audit events dropped by dispatcher backpressure.",
	nil, nil,
)

// Exporter exposes engine metrics as a prometheus.Collector. Values are
// read from engine snapshots at scrape time; nothing is double-counted
// in client-side state.
type Exporter struct {
	source         metricsSource
	counterDescs   map[trustcore.MetricID]*prometheus.Desc
	histogramDescs map[trustcore.MetricID]*prometheus.Desc
}

// NewExporter creates an exporter reading from the given engine.
func NewExporter(engine *trustcore.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource creates an exporter from a custom snapshot
// source, useful for aggregating proxies and tests.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:         source,
		counterDescs:   make(map[trustcore.MetricID]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histogramDescs: make(map[trustcore.MetricID]*prometheus.Desc, len(internaldefs.HistogramDefs)),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counterDescs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histogramDescs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range e.counterDescs {
		ch <- desc
	}
	for _, desc := range e.histogramDescs {
		ch <- desc
	}
	ch <- droppedDesc
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}

	snapshot := e.source.MetricsSnapshot()

	for _, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(
			e.counterDescs[def.ID],
			prometheus.CounterValue,
			float64(snapshot.Counters[def.ID]),
		)
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(raw)
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for i, bound := range internaldefs.HistogramBounds {
			buckets[bound] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]
		// Engine buckets carry no sum; report zero rather than invent one.
		ch <- prometheus.MustNewConstHistogram(
			e.histogramDescs[def.ID], count, 0, buckets,
		)
	}

	ch <- prometheus.MustNewConstMetric(
		droppedDesc,
		prometheus.CounterValue,
		float64(e.source.AuditDropped()),
	)
}

// Handler returns an http.Handler serving only this exporter's metrics
// on a private registry.
func (e *Exporter) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
