package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_clusters_total",
			Help: "Total number of clusters by task status",
		},
		[]string{"task"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_nodes_total",
			Help: "Total number of cluster nodes by role and task status",
		},
		[]string{"role", "task"},
	)

	// Workflow metrics
	ClusterActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_cluster_actions_total",
			Help: "Total number of cluster actions by action and result",
		},
		[]string{"action", "result"},
	)

	ClusterActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_cluster_action_duration_seconds",
			Help:    "Cluster action duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"action"},
	)

	ClusterActionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_cluster_actions_rejected_total",
			Help: "Total number of actions refused because another action held the cluster",
		},
		[]string{"action"},
	)

	PollTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_readiness_poll_timeouts_total",
			Help: "Total number of readiness phases that exceeded their budget",
		},
	)

	NodesErroredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_nodes_errored_total",
			Help: "Total number of nodes marked with an error task status",
		},
	)

	// Agent metrics
	AgentCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_agent_call_duration_seconds",
			Help:    "Remote agent call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ClusterActionsTotal)
	prometheus.MustRegister(ClusterActionDuration)
	prometheus.MustRegister(ClusterActionsRejected)
	prometheus.MustRegister(PollTimeoutsTotal)
	prometheus.MustRegister(NodesErroredTotal)
	prometheus.MustRegister(AgentCallDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// newEventsDropped reports a running drop count as a counter
func newEventsDropped(dropped func() uint64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "burrow_events_dropped_total",
			Help: "Total number of lifecycle events dropped because the broker queue was full",
		},
		func() float64 { return float64(dropped()) },
	)
}

// RegisterEventsDropped exposes the drop count of the event broker
func RegisterEventsDropped(dropped func() uint64) error {
	return prometheus.Register(newEventsDropped(dropped))
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
