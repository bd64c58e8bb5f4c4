// Package metrics provides Prometheus collectors for the WebDAV server.
//
// A nil *Metrics is valid and records nothing, so metrics stay optional.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	treeEntries     *prometheus.CounterVec
	treeSkipped     *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_requests_total",
				Help: "Total number of WebDAV requests by method and status",
			},
			[]string{"method", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stash_request_duration_seconds",
				Help:    "Duration of WebDAV requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		treeEntries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_tree_entries_total",
				Help: "Entries processed by recursive COPY, MOVE and DELETE",
			},
			[]string{"op"},
		),
		treeSkipped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_tree_skipped_total",
				Help: "Descendants that disappeared before a recursive operation reached them",
			},
			[]string{"op"},
		),
	}
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// TreeEntries records n entries processed by a recursive operation.
func (m *Metrics) TreeEntries(op string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.treeEntries.WithLabelValues(op).Add(float64(n))
}

// TreeSkipped records a descendant that vanished mid-operation.
func (m *Metrics) TreeSkipped(op string) {
	if m == nil {
		return
	}

	m.treeSkipped.WithLabelValues(op).Inc()
}

// NewServer returns an HTTP server exposing the metrics in gatherer at
// /metrics on addr.
func NewServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
