// Package metrics holds the Prometheus collectors of the service. Collectors
// are registered once on a private registry exposed through Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	proxyRequests = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileglancer_proxy_requests_total",
			Help: "File proxy requests by operation and S3 result code",
		},
		[]string{"operation", "code"},
	)
	proxyDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "fileglancer_proxy_request_duration_milliseconds",
			Help: "Duration of file proxy requests in milliseconds",
			Buckets: []float64{
				1,     // 1ms
				10,    // 10ms
				100,   // 100ms
				1000,  // 1s
				10000, // 10s
			},
		},
		[]string{"operation"},
	)
	proxyBytes = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "fileglancer_proxy_bytes_served_total",
			Help: "Bytes of file content served by the proxy",
		},
	)

	syncRuns = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileglancer_fsp_sync_runs_total",
			Help: "File share path synchronizations by result (applied, unchanged, failed)",
		},
		[]string{"result"},
	)
	syncGuardTrips = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "fileglancer_fsp_sync_deletion_guard_trips_total",
			Help: "Synchronizations whose deletions were refused by the deletion guard",
		},
	)
	fileSharePaths = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fileglancer_fsp_paths",
			Help: "File share paths known after the last applied synchronization",
		},
	)

	restoreFailures = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "fileglancer_privilege_restore_failures_total",
			Help: "Failures to restore the original identity after a narrowed operation",
		},
	)
	identityWorkers = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fileglancer_identity_workers_in_flight",
			Help: "OS threads currently running with a narrowed identity",
		},
	)
)

//nolint:gochecknoinits // runtime collectors belong to the private registry
func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveProxyRequest records a finished proxy request. code is "OK" on success.
func ObserveProxyRequest(operation, code string, duration time.Duration) {
	proxyRequests.WithLabelValues(operation, code).Inc()
	proxyDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000)
}

func AddBytesServed(n int64) {
	if n > 0 {
		proxyBytes.Add(float64(n))
	}
}

func ObserveSync(result string) {
	syncRuns.WithLabelValues(result).Inc()
}

func DeletionGuardTripped() {
	syncGuardTrips.Inc()
}

func SetFileSharePaths(n int) {
	fileSharePaths.Set(float64(n))
}

func PrivilegeRestoreFailed() {
	restoreFailures.Inc()
}

func IdentityWorkerStarted() {
	identityWorkers.Inc()
}

func IdentityWorkerDone() {
	identityWorkers.Dec()
}
