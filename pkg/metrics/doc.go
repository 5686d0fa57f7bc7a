/*
Package metrics provides Prometheus instrumentation and health reporting for burrow.

All metrics are package-level collectors registered with the default Prometheus
registry at init, so any package can record without plumbing a registry through:

	timer := metrics.NewTimer()
	err := action(ctx)
	timer.ObserveDurationVec(metrics.ClusterActionDuration, "create_cluster")
	metrics.ClusterActionsTotal.WithLabelValues("create_cluster", result).Inc()

# Metrics

Cluster workflow:

	burrow_clusters_total{task}                  clusters by in-progress action
	burrow_nodes_total{role,task}                nodes by role and in-progress marker
	burrow_cluster_actions_total{action,result}  finished actions
	burrow_cluster_action_duration_seconds       action wall time
	burrow_cluster_actions_rejected_total        actions refused by the task guard
	burrow_readiness_poll_timeouts_total         readiness phases that ran out of time
	burrow_nodes_errored_total                   nodes marked BUILDING_ERROR_SERVER

Transport:

	burrow_agent_call_duration_seconds{method,code}
	burrow_api_requests_total{method,status}
	burrow_api_request_duration_seconds{method}

The gauges are refreshed from storage by a Collector running on an interval.

# Health

The package also keeps a component health registry. Components call
UpdateComponent as they start and fail; HealthHandler, ReadyHandler and
LivenessHandler serve the JSON views. Readiness requires every critical
component (storage, taskmanager, api by default) to be registered and healthy.
*/
package metrics
