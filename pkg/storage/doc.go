/*
Package storage provides BoltDB-backed persistence for burrow's control plane.

BoltStore implements Store with one bbolt bucket per record type. Values are
JSON encoded and keyed by id:

	┌──────────────── burrow.db ────────────────┐
	│ clusters          cluster id → Cluster    │
	│ nodes             node id    → Node       │
	│ service_statuses  node id    → Status     │
	└───────────────────────────────────────────┘

# Task Status Compare-And-Set

The cluster task is the only serialization point between actions on one
cluster. CompareAndSwapClusterTask reads and writes it inside a single
db.Update transaction, so two callers sharing a store cannot both move a
cluster out of NONE. The loser gets a *TaskConflictError naming the task that
holds the cluster. SetClusterTask is the unconditional write used to release a
cluster when an action ends.

bbolt takes an exclusive file lock, so one process owns the database. Callers
that front several task managers with one dispatcher must still serialize
per-cluster traffic upstream.

# Membership Order

ListNodesByCluster returns members ordered by creation time and then id. The
workflow engine relies on this order when it picks template nodes and walks
members one at a time.

Missing records are reported with an error wrapping ErrNotFound.
*/
package storage
