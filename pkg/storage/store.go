package storage

import (
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// TaskConflictError is returned by CompareAndSwapClusterTask when the stored task
// is not the expected one
type TaskConflictError struct {
	ClusterID string
	Current   types.ClusterTask
}

func (e *TaskConflictError) Error() string {
	return fmt.Sprintf("cluster %s task is %s", e.ClusterID, e.Current)
}

// Store defines the interface for control plane state storage
type Store interface {
	// Clusters
	CreateCluster(cluster *types.Cluster) error
	GetCluster(id string) (*types.Cluster, error)
	ListClusters() ([]*types.Cluster, error)
	UpdateCluster(cluster *types.Cluster) error
	DeleteCluster(id string) error
	CompareAndSwapClusterTask(id string, from, to types.ClusterTask) error
	SetClusterTask(id string, task types.ClusterTask) error

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodesByCluster(clusterID string) ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error
	SetNodeTask(id string, task types.InstanceTask) error

	// Service statuses
	GetServiceStatus(nodeID string) (*types.ServiceStatusRecord, error)
	PutServiceStatus(record *types.ServiceStatusRecord) error

	// Utility
	Close() error
}
