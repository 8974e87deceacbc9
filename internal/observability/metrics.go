package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the tracker.
type Metrics struct {
	// Upstream statistics API.
	FetchRequests *prometheus.CounterVec   // labels: endpoint={all,countries,country,historical}, outcome={success,error}
	FetchDuration *prometheus.HistogramVec // labels: endpoint

	// Selection state.
	SelectionChanges *prometheus.CounterVec // labels: trigger={startup,region,metric,refresh}
	StaleResponses   *prometheus.CounterVec // labels: kind={aggregate,dataset}
	RegionsLoaded    prometheus.Gauge
	LastRefresh      prometheus.Gauge
	FetchFault       prometheus.Gauge

	// Chart history cache.
	HistoryCache *prometheus.CounterVec // labels: result={hit,miss}

	// Snapshot publishing.
	SnapshotMessages prometheus.Counter
	SnapshotErrors   prometheus.Counter
}

// NewMetrics creates and registers all tracker metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.SelectionChanges,
		m.StaleResponses,
		m.RegionsLoaded,
		m.LastRefresh,
		m.FetchFault,
		m.HistoryCache,
		m.SnapshotMessages,
		m.SnapshotErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// NewUnregisteredMetrics creates Metrics that are never exported, for
// one-shot command-line tools that reuse the instrumented client.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbreak_tracker",
			Name:      "fetch_requests_total",
			Help:      "Statistics API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "outbreak_tracker",
			Name:      "fetch_duration_seconds",
			Help:      "Statistics API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
		SelectionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbreak_tracker",
			Name:      "selection_changes_total",
			Help:      "Applied selection changes by trigger.",
		}, []string{"trigger"}),
		StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbreak_tracker",
			Name:      "stale_responses_total",
			Help:      "Fetch results discarded because a newer request was already applied.",
		}, []string{"kind"}),
		RegionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outbreak_tracker",
			Name:      "regions_loaded",
			Help:      "Number of regions in the current dataset.",
		}),
		LastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outbreak_tracker",
			Name:      "dataset_fetched_timestamp_seconds",
			Help:      "Unix time of the current dataset fetch.",
		}),
		FetchFault: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outbreak_tracker",
			Name:      "fetch_fault",
			Help:      "1 when the most recent fetch failed and stale data is displayed.",
		}),
		HistoryCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbreak_tracker",
			Name:      "history_cache_total",
			Help:      "Historical timeline cache lookups by result.",
		}, []string{"result"}),
		SnapshotMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outbreak_tracker",
			Name:      "snapshot_messages_total",
			Help:      "Ranked-table messages written to the snapshot topic.",
		}),
		SnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outbreak_tracker",
			Name:      "snapshot_errors_total",
			Help:      "Failed snapshot publishes.",
		}),
	}
}
