package telemetry

import "github.com/prometheus/client_golang/prometheus"

var LocksAcquiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "proxyguard",
		Subsystem: "lock",
		Name:      "acquired_total",
		Help:      "Total number of advisory lock acquisitions by name.",
	},
	[]string{"name"},
)

var ClusterNodesGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "proxyguard",
		Subsystem: "cluster",
		Name:      "nodes",
		Help:      "Current number of cluster nodes by status.",
	},
	[]string{"status"},
)

var LeaderChangesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "proxyguard",
		Subsystem: "cluster",
		Name:      "leader_changes_total",
		Help:      "Total number of times leadership changed hands.",
	},
)

var CertificatesIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "proxyguard",
		Subsystem: "certificate",
		Name:      "issued_total",
		Help:      "Total number of certificates issued, by source.",
	},
	[]string{"source"},
)

var CertificateIssuanceFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "proxyguard",
		Subsystem: "certificate",
		Name:      "issuance_failures_total",
		Help:      "Total number of failed certificate issuance attempts, by source.",
	},
	[]string{"source"},
)

var CertificatesExpiringGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "proxyguard",
		Subsystem: "certificate",
		Name:      "by_status",
		Help:      "Current number of certificates by health status.",
	},
	[]string{"status"},
)

var ReloadDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "proxyguard",
		Subsystem: "reload",
		Name:      "duration_seconds",
		Help:      "NGINX reconciliation pass duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "proxyguard",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method/route/status.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

var ReloadFanoutPeerFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "proxyguard",
		Subsystem: "reload",
		Name:      "fanout_peer_failures_total",
		Help:      "Total number of peer nodes that failed to acknowledge a reload fan-out.",
	},
)

// All returns every proxyguard metric for registration on a
// prometheus.Registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		LocksAcquiredTotal,
		ClusterNodesGauge,
		LeaderChangesTotal,
		CertificatesIssuedTotal,
		CertificateIssuanceFailuresTotal,
		CertificatesExpiringGauge,
		ReloadDuration,
		ReloadFanoutPeerFailuresTotal,
		HTTPRequestDuration,
	}
}
