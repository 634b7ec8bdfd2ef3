// Package metrics holds the Prometheus collectors shared by the extract
// service and the replication updater, plus a periodic system sampler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vexd"

var (
	ExtractRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extract_requests_total",
		Help:      "Extract requests by response status and format",
	}, []string{"status", "format"})

	ExtractBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extract_bytes_total",
		Help:      "Bytes streamed to extract clients",
	}, []string{"format"})

	ExtractEntities = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extract_entities_total",
		Help:      "Entities streamed to extract clients by kind",
	}, []string{"kind"})

	ExtractDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extract_duration_seconds",
		Help:      "Time to serve an extract request",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"format"})

	DiffsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replication_diffs_applied_total",
		Help:      "Replication diffs applied to the store",
	})

	DiffFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replication_diff_failures_total",
		Help:      "Update cycles aborted by a failed diff",
	})

	EntityUpserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replication_upserts_total",
		Help:      "Entities upserted by replication by kind",
	}, []string{"kind"})

	ReplicationTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "replication_timestamp_seconds",
		Help:      "Store replication cursor as unix seconds",
	})

	ReplicationSequence = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "replication_sequence",
		Help:      "Sequence number of the last applied diff",
	})

	UpdateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "replication_update_duration_seconds",
		Help:      "Duration of a complete update cycle",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	systemCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_cpu_percent",
		Help:      "System-wide CPU usage",
	})

	processCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_cpu_percent",
		Help:      "CPU usage of this process",
	})

	memoryUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_memory_used_bytes",
		Help:      "Used system memory",
	})
)

func init() {
	prometheus.MustRegister(
		ExtractRequests, ExtractBytes, ExtractEntities, ExtractDuration,
		DiffsApplied, DiffFailures, EntityUpserts,
		ReplicationTimestamp, ReplicationSequence, UpdateDuration,
		systemCPU, processCPU, memoryUsed,
	)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
