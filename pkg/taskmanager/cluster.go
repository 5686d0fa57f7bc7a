package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// ClusterRequest registers a cluster whose nodes were provisioned elsewhere
type ClusterRequest struct {
	Name             string        `yaml:"name"`
	TenantID         string        `yaml:"tenant,omitempty"`
	Datastore        string        `yaml:"datastore"`
	DatastoreVersion string        `yaml:"version,omitempty"`
	Manager          string        `yaml:"manager,omitempty"` // Defaults to Datastore
	Nodes            []NodeRequest `yaml:"nodes"`
}

// NodeRequest describes one provisioned member
type NodeRequest struct {
	Name         string         `yaml:"name,omitempty"`
	Role         types.NodeRole `yaml:"role,omitempty"`
	FlavorID     string         `yaml:"flavor"`
	VolumeSize   int            `yaml:"volume_size,omitempty"`
	Address      string         `yaml:"address"`
	AgentAddr    string         `yaml:"agent_addr,omitempty"`
	ServerStatus string         `yaml:"server_status,omitempty"` // Defaults to ACTIVE
}

// ClusterView is a cluster with its members and their last reported status
type ClusterView struct {
	Cluster *types.Cluster
	Nodes   []NodeView
}

// NodeView is a member and its status, Status is nil until the agent reports
type NodeView struct {
	Node   *types.Node
	Status *types.ServiceStatusRecord
}

// RegisterCluster validates and stores a cluster and its nodes. The cluster
// starts with no task, ready for CreateCluster.
func (m *Manager) RegisterCluster(ctx context.Context, req ClusterRequest) (*ClusterView, error) {
	if req.Name == "" {
		return nil, errors.New("cluster name is required")
	}
	if req.Datastore == "" {
		return nil, errors.New("cluster datastore is required")
	}
	if req.Manager == "" {
		req.Manager = req.Datastore
	}
	wf, err := m.registry.Lookup(req.Manager)
	if err != nil {
		return nil, err
	}

	specs := make([]types.NodeSpec, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		specs = append(specs, types.NodeSpec{FlavorID: n.FlavorID, VolumeSize: n.VolumeSize, Role: n.Role})
	}
	if err := wf.Validate(specs); err != nil {
		return nil, err
	}

	now := time.Now()
	cluster := &types.Cluster{
		ID:               uuid.New().String(),
		Name:             req.Name,
		TenantID:         req.TenantID,
		Datastore:        req.Datastore,
		DatastoreVersion: req.DatastoreVersion,
		Manager:          req.Manager,
		Task:             types.ClusterTaskNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateCluster(cluster); err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	view := &ClusterView{Cluster: cluster}
	for i, n := range req.Nodes {
		// Member order is creation order
		created := now.Add(time.Duration(i) * time.Millisecond)
		record, err := m.newNode(cluster, i, n, created)
		if err != nil {
			return nil, err
		}
		view.Nodes = append(view.Nodes, NodeView{Node: record})
	}

	m.logger.Info().
		Str("cluster_id", cluster.ID).
		Str("manager", cluster.Manager).
		Int("nodes", len(view.Nodes)).
		Msg("Cluster registered")
	return view, nil
}

// RegisterNode stores a provisioned node for an existing cluster so it can be
// added with AddDataNode or AddSeedNode
func (m *Manager) RegisterNode(ctx context.Context, clusterID string, req NodeRequest) (*types.Node, error) {
	cluster, err := m.store.GetCluster(clusterID)
	if err != nil {
		return nil, err
	}
	nodes, err := m.store.ListNodesByCluster(clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster nodes: %w", err)
	}
	return m.newNode(cluster, len(nodes), req, time.Now())
}

func (m *Manager) newNode(cluster *types.Cluster, index int, req NodeRequest, created time.Time) (*types.Node, error) {
	if req.Address == "" {
		return nil, fmt.Errorf("node %d of cluster %s has no address", index, cluster.Name)
	}
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s-member-%d", cluster.Name, index+1)
	}
	serverStatus := types.ServerStatus(req.ServerStatus)
	if serverStatus == "" {
		serverStatus = types.ServerStatusActive
	}

	record := &types.Node{
		ID:           uuid.New().String(),
		Name:         name,
		ClusterID:    cluster.ID,
		Role:         req.Role,
		FlavorID:     req.FlavorID,
		VolumeSize:   req.VolumeSize,
		Task:         types.InstanceTaskBuilding,
		ServerStatus: serverStatus,
		Address:      req.Address,
		AgentAddr:    req.AgentAddr,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if err := m.store.CreateNode(record); err != nil {
		return nil, fmt.Errorf("failed to create node %s: %w", name, err)
	}
	return record, nil
}

// DescribeCluster returns a cluster with its members
func (m *Manager) DescribeCluster(ctx context.Context, clusterID string) (*ClusterView, error) {
	cluster, err := m.store.GetCluster(clusterID)
	if err != nil {
		return nil, err
	}
	nodes, err := m.store.ListNodesByCluster(clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster nodes: %w", err)
	}

	view := &ClusterView{Cluster: cluster, Nodes: make([]NodeView, 0, len(nodes))}
	for _, n := range nodes {
		nv := NodeView{Node: n}
		status, err := m.store.GetServiceStatus(n.ID)
		switch {
		case err == nil:
			nv.Status = status
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to get status of node %s: %w", n.ID, err)
		}
		view.Nodes = append(view.Nodes, nv)
	}
	return view, nil
}

// ReportStatus records the datastore status an agent reports for its node
func (m *Manager) ReportStatus(ctx context.Context, nodeID string, code types.ServiceStatus) error {
	if _, err := m.store.GetNode(nodeID); err != nil {
		return err
	}
	record, err := m.statuses.Record(nodeID, code)
	if err != nil {
		return err
	}
	record.UpdatedAt = time.Now()
	if err := m.store.PutServiceStatus(record); err != nil {
		return fmt.Errorf("failed to store status of node %s: %w", nodeID, err)
	}
	m.logger.Debug().Str("node_id", nodeID).Str("status", record.Description).Msg("Service status reported")
	return nil
}
