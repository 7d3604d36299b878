package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated after every full sync.
type Metrics struct {
	syncs             *prometheus.CounterVec
	duration          prometheus.Histogram
	recordsAdded      prometheus.Counter
	recordsUpdated    prometheus.Counter
	conflicts         prometheus.Counter
	siblingsResolved  prometheus.Counter
	rowsSkipped       prometheus.Counter
	partitionsWritten prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "syncs_total",
			Help:      "Total full syncs by result",
		}, []string{"result"}),

		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgersync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of full syncs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		recordsAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "records_added_total",
			Help:      "Records imported from the replica that were new locally",
		}),

		recordsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "records_updated_total",
			Help:      "Local records replaced by a newer remote copy",
		}),

		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "conflicts_total",
			Help:      "Conflicts surfaced for manual reconciliation",
		}),

		siblingsResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "siblings_resolved_total",
			Help:      "Provider conflict copies merged and removed",
		}),

		rowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "rows_skipped_total",
			Help:      "Rows that could not be decoded or imported",
		}),

		partitionsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "partitions_written_total",
			Help:      "Partitions rewritten on the replica",
		}),
	}
}

// observe records one finished sync. Safe on a nil receiver.
func (m *Metrics) observe(report *Report, err error) {
	if m == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	m.syncs.WithLabelValues(result).Inc()

	if report == nil {
		return
	}
	m.duration.Observe(report.Duration.Seconds())
	m.recordsAdded.Add(float64(report.Added))
	m.recordsUpdated.Add(float64(report.Updated))
	m.conflicts.Add(float64(len(report.Conflicts)))
	m.siblingsResolved.Add(float64(report.SiblingsResolved))
	m.rowsSkipped.Add(float64(report.Skipped))
	m.partitionsWritten.Add(float64(report.Written))
}

// rejected records a sync that never started.
func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues("rejected").Inc()
}
