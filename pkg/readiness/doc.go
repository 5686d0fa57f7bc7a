/*
Package readiness classifies the datastore health of cluster members.

The Tracker reads each node's last ServiceStatusRecord and folds the batch into
one State:

  - StateFailed as soon as one node is FAILED or FAILED_TIMEOUT_AGENT
  - StateConverging while any node is neither RUNNING nor BUILD_PENDING
  - StateReady otherwise

BUILD_PENDING is what an agent reports once the datastore is installed and
waiting for its cluster configuration, so it counts as ready for the purpose of
moving a workflow to its next phase.

WaitReady drives Classify through the poll package. When a batch fails or its
budget (UsageTimeout per node) runs out, every queried node is marked
BUILDING_ERROR_SERVER and the cluster task is reset to NONE before a
*NotReadyError is returned, so a stuck phase never leaves the cluster locked.
*/
package readiness
