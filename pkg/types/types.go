package types

import (
	"time"
)

// Cluster is the persisted record of a managed multi-node datastore
type Cluster struct {
	ID               string
	Name             string
	TenantID         string
	Datastore        string      // e.g. "cassandra"
	DatastoreVersion string      // e.g. "2.1"
	Manager          string      // Datastore manager, selects the cluster workflow
	Task             ClusterTask // Single-slot action guard
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ClusterTask is the in-progress action of a cluster
type ClusterTask string

const (
	ClusterTaskNone            ClusterTask = "NONE"
	ClusterTaskBuildingInitial ClusterTask = "BUILDING_INITIAL"
	ClusterTaskAddingDataNode  ClusterTask = "ADDING_DATA_NODE"
	ClusterTaskAddingSeedNode  ClusterTask = "ADDING_SEED_NODE"
	ClusterTaskDeleting        ClusterTask = "DELETING"
)

// IsActive reports whether an action currently holds the cluster
func (t ClusterTask) IsActive() bool {
	return t != ClusterTaskNone && t != ""
}

// Node is the persisted record of one cluster member
type Node struct {
	ID           string
	Name         string
	ClusterID    string // Empty for standalone instances
	Role         NodeRole
	FlavorID     string
	VolumeSize   int // GB, 0 when the datastore uses ephemeral storage
	Task         InstanceTask
	ServerStatus ServerStatus // Infrastructure state, written by provisioning
	Address      string       // Reachable datastore address
	AgentAddr    string       // Remote agent endpoint (host:port)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NodeRole is the cluster-type specific role of a node
type NodeRole string

const (
	// RoleSeed nodes are the rendezvous points other members use to discover membership
	RoleSeed NodeRole = "seed"
	// RoleData nodes depend on seed availability to join
	RoleData NodeRole = "data"
	// RoleNone is used by clusters without roles
	RoleNone NodeRole = ""
)

// InstanceTask is the in-progress marker of a single node
type InstanceTask string

const (
	InstanceTaskNone                   InstanceTask = "NONE"
	InstanceTaskBuilding               InstanceTask = "BUILDING"
	InstanceTaskBuildingErrorServer    InstanceTask = "BUILDING_ERROR_SERVER"
	InstanceTaskBuildingErrorTimeoutGA InstanceTask = "BUILDING_ERROR_TIMEOUT_GA"
	InstanceTaskRestartRequired        InstanceTask = "RESTART_REQUIRED"
)

// IsError reports whether the marker records a failed build
func (t InstanceTask) IsError() bool {
	return t == InstanceTaskBuildingErrorServer || t == InstanceTaskBuildingErrorTimeoutGA
}

// ServerStatus is the infrastructure (compute) state of a node, distinct from
// the datastore service status
type ServerStatus string

const (
	ServerStatusActive  ServerStatus = "ACTIVE"
	ServerStatusBuild   ServerStatus = "BUILD"
	ServerStatusShutoff ServerStatus = "SHUTOFF"
	ServerStatusError   ServerStatus = "ERROR"
)

// ServiceStatusRecord is the last reported datastore status of a node
type ServiceStatusRecord struct {
	NodeID      string
	Status      ServiceStatus
	Description string
	UpdatedAt   time.Time
}

// NodeSpec is the sizing and role requested for one member of a new cluster
type NodeSpec struct {
	FlavorID   string   `yaml:"flavor"`
	VolumeSize int      `yaml:"volume_size,omitempty"`
	Role       NodeRole `yaml:"role,omitempty"`
}

// Specs returns the sizing view of persisted nodes
func Specs(nodes []*Node) []NodeSpec {
	specs := make([]NodeSpec, 0, len(nodes))
	for _, n := range nodes {
		specs = append(specs, NodeSpec{
			FlavorID:   n.FlavorID,
			VolumeSize: n.VolumeSize,
			Role:       n.Role,
		})
	}
	return specs
}
