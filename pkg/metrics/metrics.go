// Package metrics centralizes the Prometheus surface of the inventory
// collector. Collectors are defined via promauto in the packages that
// record them (tokenpool, client, pagination, cache, inventory) to keep
// them next to the code paths they measure; this package documents the
// full set, publishes the run identity series and builds the optional
// /metrics listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all ghinv_* collectors attach to.
var Registry = prometheus.DefaultRegisterer

// runInfo carries the run UUID and enterprise slug as labels so a
// scrape can be correlated with the run log file it belongs to.
var runInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ghinv_run_info",
	Help: "Static series identifying the current collection run",
}, []string{"run_id", "enterprise"})

// MarkRun publishes the run identity series. Called once per process.
func MarkRun(runID, enterprise string) {
	runInfo.WithLabelValues(runID, enterprise).Set(1)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer builds an HTTP server exposing /metrics on addr. The caller
// starts it (usually in a goroutine) and shuts it down with the run.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Metrics Documentation
//
// Credential Pool (pkg/tokenpool):
//   - ghinv_credential_quota_remaining{credential} (Gauge): Last observed quota per credential, by pool index
//   - ghinv_credential_rotations_total (Counter): Rotations caused by low quota or failed probes
//   - ghinv_quota_probe_failures_total (Counter): Rate-limit probes that returned the unknown sentinel
//
// Requests (pkg/client):
//   - ghinv_requests_total{endpoint, status} (Counter): API requests by endpoint and HTTP status
//   - ghinv_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - ghinv_request_errors_total{endpoint, error_class} (Counter): Failed attempts by error class (forbidden, quota, transient, network)
//   - ghinv_forbidden_nodes_total (Counter): GraphQL error entries of the FORBIDDEN type
//
// Retries (pkg/client):
//   - ghinv_retries_total{error_class} (Counter): Retry attempts by error class
//   - ghinv_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - ghinv_retry_exhausted_total{error_class} (Counter): Calls that exhausted the attempt ceiling
//
// Pagination (pkg/pagination):
//   - ghinv_pages_fetched_total{entity} (Counter): Connection pages fetched
//   - ghinv_null_nodes_total{entity} (Counter): Null nodes dropped (access-restricted entities)
//
// Cache (pkg/cache):
//   - ghinv_cache_hits_total{kind} (Counter): Enrichment cache hits by entity kind
//   - ghinv_cache_misses_total{kind} (Counter): Enrichment cache misses by entity kind
//   - ghinv_cache_errors_total{operation} (Counter): Cache operation errors
//
// Collection (pkg/inventory):
//   - ghinv_records_emitted_total{kind} (Counter): Records handed to the sink (repository, organization)
//   - ghinv_enrichment_failures_total{metric} (Counter): Enrichment calls degraded to the zero value
//   - ghinv_organizations_skipped_total (Counter): Organizations skipped after an unexpected failure
//
// Run identity (pkg/metrics):
//   - ghinv_run_info{run_id, enterprise} (Gauge): Constant 1 series identifying the run
//
// Example Prometheus Queries:
//
//   # Cache hit rate
//   sum(rate(ghinv_cache_hits_total[5m])) /
//   (sum(rate(ghinv_cache_hits_total[5m])) + sum(rate(ghinv_cache_misses_total[5m])))
//
//   # Credentials running dry
//   ghinv_credential_quota_remaining < 200
//
//   # Degraded enrichment columns per minute
//   rate(ghinv_enrichment_failures_total[1m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(ghinv_request_duration_seconds_bucket[5m]))
