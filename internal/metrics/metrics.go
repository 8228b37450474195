package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "imagegate"

var (
	GenerationTasksCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tasks_created_total",
			Help:      "Total number of generation tasks accepted by the remote service.",
		},
		[]string{"model"},
	)

	GenerationPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_polls_total",
			Help:      "Total number of task status checks, labeled by observed status.",
		},
		[]string{"status"},
	)

	GenerationFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_finished_total",
			Help:      "Total number of create-and-wait cycles, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	GenerationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Latency from task submission to a terminal outcome (seconds).",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		},
		[]string{"outcome"},
	)

	AssetDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_deliveries_total",
			Help:      "Total number of asset requests, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	AssetsMissing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assets_missing",
			Help:      "Image records whose file was absent during the last audit.",
		},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by rate limiting.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		GenerationTasksCreatedTotal,
		GenerationPollsTotal,
		GenerationFinishedTotal,
		GenerationLatencySeconds,
		AssetDeliveriesTotal,
		AssetsMissing,
		RateLimitHitsTotal,
	)
}
