package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "cnpjload"

// Metrics holds the pipeline's Prometheus collectors on a private registry,
// so several pipelines (or tests) never collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsLoaded     *prometheus.CounterVec
	LinesSkipped      *prometheus.CounterVec
	BatchesCommitted  *prometheus.CounterVec
	BatchesRolledBack *prometheus.CounterVec
	FilesSkipped      *prometheus.CounterVec
	BatchDuration     *prometheus.HistogramVec

	EntriesExtracted *prometheus.CounterVec
	ArchivesSkipped  prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		Registry: reg,
		RecordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_loaded_total",
			Help:      "Records committed to the store.",
		}, []string{"kind"}),
		LinesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lines_skipped_total",
			Help:      "Malformed source lines dropped by the parser.",
		}, []string{"kind"}),
		BatchesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_committed_total",
			Help:      "Insert transactions committed.",
		}, []string{"kind"}),
		BatchesRolledBack: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_rolled_back_total",
			Help:      "Insert transactions rolled back after a failure.",
		}, []string{"kind"}),
		FilesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_skipped_total",
			Help:      "Source files skipped because they could not be read.",
		}, []string{"kind"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent inserting and committing one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		EntriesExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entries_extracted_total",
			Help:      "Archive entries written to the extraction directory.",
		}, []string{"marker"}),
		ArchivesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "archives_skipped_total",
			Help:      "Files in the archive directory that could not be opened as ZIP.",
		}),
	}

	reg.MustRegister(
		m.RecordsLoaded,
		m.LinesSkipped,
		m.BatchesCommitted,
		m.BatchesRolledBack,
		m.FilesSkipped,
		m.BatchDuration,
		m.EntriesExtracted,
		m.ArchivesSkipped,
	)
	return m
}

// WriteTextfile dumps the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
