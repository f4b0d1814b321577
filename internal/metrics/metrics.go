package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geomag"

// Metrics bundles the collectors exported by the gateway.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	SharedWaits      prometheus.Counter
	UpstreamRequests *prometheus.CounterVec
	UpstreamAttempts prometheus.Counter
	UpstreamLatency  *prometheus.HistogramVec
	BatchItems       *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache (series|summary) and result (hit|miss).",
		}, []string{"cache", "result"}),
		SharedWaits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_shared_total",
			Help:      "Resolves that were served by an upstream call issued for another caller.",
		}),
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream calls by endpoint and outcome (ok or error kind).",
		}, []string{"endpoint", "outcome"}),
		UpstreamAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Individual HTTP attempts sent upstream, retries included.",
		}),
		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Wall-clock duration of upstream calls including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		BatchItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items by outcome (ok or error kind).",
		}, []string{"outcome"}),
	}
}

// NewNop returns collectors registered on a private registry, for tests and
// callers that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
