/*
Package types defines the records shared by burrow's control plane.

# Records

  - Cluster: a managed multi-node datastore and its single-slot ClusterTask
  - Node: one member of a cluster with its role, sizing, infrastructure status
    and the endpoints used to reach its datastore and remote agent
  - ServiceStatusRecord: the last datastore status a node reported

# Task Status

A cluster carries exactly one ClusterTask. Every value other than
ClusterTaskNone means an action is in flight, and new state-changing actions
are refused until the task is reset:

	NONE → BUILDING_INITIAL → NONE
	NONE → ADDING_DATA_NODE → NONE
	NONE → ADDING_SEED_NODE → NONE

Nodes carry an InstanceTask marker. Failed workflows leave
BUILDING_ERROR_SERVER on the nodes they could not converge.

# Service Status Table

ServiceStatuses returns the status table, built once per process. Each code
has a stored description and a coarser API status:

	code  description        api status
	0x01  running            ACTIVE
	0x03  paused             SHUTDOWN
	0x08  failed to spawn    FAILED
	0x18  guestagent error   ERROR
	0x19  build pending      BUILD

The table exposes lookups only; pass it by pointer to the components that
classify node health.
*/
package types
