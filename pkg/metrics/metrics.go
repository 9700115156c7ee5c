package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mesh reconciler metrics
	MeshReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "avena_mesh_reconciliation_duration_seconds",
			Help:    "Time taken for a mesh (link/broker-config) reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MeshReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "avena_mesh_reconciliation_cycles_total",
			Help: "Total number of mesh reconciliation cycles completed",
		},
	)

	LinksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "avena_links_total",
			Help: "Total number of persisted links in the link KV bucket",
		},
	)

	LinkHandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avena_link_handshakes_total",
			Help: "Total number of link handshakes by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	// Workload reconciler metrics
	WorkloadReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "avena_workload_reconciliation_duration_seconds",
			Help:    "Time taken for a workload reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkloadReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "avena_workload_reconciliation_cycles_total",
			Help: "Total number of workload reconciliation cycles completed",
		},
	)

	WorkloadsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "avena_workloads_total",
			Help: "Total number of workload units by state",
		},
		[]string{"state"},
	)

	WorkloadDeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avena_workload_deploys_total",
			Help: "Total number of workload deploy/restart operations by outcome",
		},
		[]string{"outcome"},
	)

	// Handler metrics
	HandlerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avena_handler_requests_total",
			Help: "Total number of request-handler invocations by subject and outcome",
		},
		[]string{"subject", "outcome"},
	)

	HandlerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "avena_handler_latency_seconds",
			Help:    "Request handler latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Announce / discovery metrics
	AnnouncesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "avena_announces_sent_total",
			Help: "Total number of announce messages published by this device",
		},
	)

	AnnouncesObservedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "avena_announces_observed_total",
			Help: "Total number of announce messages observed from peer devices",
		},
	)

	KnownDevicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "avena_known_devices_total",
			Help: "Total number of devices present in the device KV bucket",
		},
	)
)

func init() {
	prometheus.MustRegister(MeshReconciliationDuration)
	prometheus.MustRegister(MeshReconciliationCyclesTotal)
	prometheus.MustRegister(LinksTotal)
	prometheus.MustRegister(LinkHandshakesTotal)
	prometheus.MustRegister(WorkloadReconciliationDuration)
	prometheus.MustRegister(WorkloadReconciliationCyclesTotal)
	prometheus.MustRegister(WorkloadsTotal)
	prometheus.MustRegister(WorkloadDeploysTotal)
	prometheus.MustRegister(HandlerRequestsTotal)
	prometheus.MustRegister(HandlerLatency)
	prometheus.MustRegister(AnnouncesSentTotal)
	prometheus.MustRegister(AnnouncesObservedTotal)
	prometheus.MustRegister(KnownDevicesTotal)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing reconciliation cycles and handler invocations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
