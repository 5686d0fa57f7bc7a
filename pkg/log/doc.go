/*
Package log provides structured logging for burrow using zerolog.

A single package-level Logger is configured once with Init and shared by every
component. Child loggers attach the identifiers operators filter on:

	logger := log.WithAction("create_cluster", clusterID)
	logger.Debug().Str("node_id", n.ID).Msg("Pushing seed configuration")

# Fields

  - component: the subsystem writing the entry ("taskmanager", "readiness", ...)
  - cluster_id: the cluster an action runs against
  - node_id: the member being configured or polled
  - action: the workflow entry point ("create_cluster", "add_seed_node", ...)

# Formats

JSON output is meant for production collection; the console writer is the
default for interactive use:

	{"level":"info","action":"create_cluster","cluster_id":"c1","message":"Cluster is stable"}
	10:30AM INF Cluster is stable action=create_cluster cluster_id=c1

Until Init is called the Logger discards everything, which keeps library users
and tests quiet.
*/
package log
