package api

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

// Messages are structpb.Struct values. The helpers below are the only place
// that knows their field names.

// EncodeClusterRequest converts a registration request to its wire form
func EncodeClusterRequest(req taskmanager.ClusterRequest) (*structpb.Struct, error) {
	nodes := make([]interface{}, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		nodes = append(nodes, nodeRequestFields(n))
	}
	return structpb.NewStruct(map[string]interface{}{
		"name":              req.Name,
		"tenant_id":         req.TenantID,
		"datastore":         req.Datastore,
		"datastore_version": req.DatastoreVersion,
		"manager":           req.Manager,
		"nodes":             nodes,
	})
}

// DecodeClusterRequest is the inverse of EncodeClusterRequest
func DecodeClusterRequest(s *structpb.Struct) (taskmanager.ClusterRequest, error) {
	req := taskmanager.ClusterRequest{
		Name:             str(s, "name"),
		TenantID:         str(s, "tenant_id"),
		Datastore:        str(s, "datastore"),
		DatastoreVersion: str(s, "datastore_version"),
		Manager:          str(s, "manager"),
	}
	for i, v := range s.GetFields()["nodes"].GetListValue().GetValues() {
		ns := v.GetStructValue()
		if ns == nil {
			return req, fmt.Errorf("node %d is not an object", i)
		}
		req.Nodes = append(req.Nodes, DecodeNodeRequest(ns))
	}
	return req, nil
}

// EncodeNodeRequest converts a node registration for clusterID
func EncodeNodeRequest(clusterID string, req taskmanager.NodeRequest) (*structpb.Struct, error) {
	fields := nodeRequestFields(req)
	fields["cluster_id"] = clusterID
	return structpb.NewStruct(fields)
}

// DecodeNodeRequest reads a node registration
func DecodeNodeRequest(s *structpb.Struct) taskmanager.NodeRequest {
	return taskmanager.NodeRequest{
		Name:         str(s, "name"),
		Role:         types.NodeRole(str(s, "role")),
		FlavorID:     str(s, "flavor_id"),
		VolumeSize:   num(s, "volume_size"),
		Address:      str(s, "address"),
		AgentAddr:    str(s, "agent_addr"),
		ServerStatus: str(s, "server_status"),
	}
}

func nodeRequestFields(n taskmanager.NodeRequest) map[string]interface{} {
	return map[string]interface{}{
		"name":          n.Name,
		"role":          string(n.Role),
		"flavor_id":     n.FlavorID,
		"volume_size":   n.VolumeSize,
		"address":       n.Address,
		"agent_addr":    n.AgentAddr,
		"server_status": n.ServerStatus,
	}
}

// EncodeClusterView converts a cluster and its members
func EncodeClusterView(view *taskmanager.ClusterView) (*structpb.Struct, error) {
	c := view.Cluster
	nodes := make([]interface{}, 0, len(view.Nodes))
	for _, nv := range view.Nodes {
		nodes = append(nodes, nodeViewFields(nv))
	}
	return structpb.NewStruct(map[string]interface{}{
		"id":                c.ID,
		"name":              c.Name,
		"tenant_id":         c.TenantID,
		"datastore":         c.Datastore,
		"datastore_version": c.DatastoreVersion,
		"manager":           c.Manager,
		"task":              string(c.Task),
		"created_at":        formatTime(c.CreatedAt),
		"updated_at":        formatTime(c.UpdatedAt),
		"nodes":             nodes,
	})
}

// DecodeClusterView is the inverse of EncodeClusterView
func DecodeClusterView(s *structpb.Struct) (*taskmanager.ClusterView, error) {
	view := &taskmanager.ClusterView{
		Cluster: &types.Cluster{
			ID:               str(s, "id"),
			Name:             str(s, "name"),
			TenantID:         str(s, "tenant_id"),
			Datastore:        str(s, "datastore"),
			DatastoreVersion: str(s, "datastore_version"),
			Manager:          str(s, "manager"),
			Task:             types.ClusterTask(str(s, "task")),
			CreatedAt:        parseTime(str(s, "created_at")),
			UpdatedAt:        parseTime(str(s, "updated_at")),
		},
	}
	for i, v := range s.GetFields()["nodes"].GetListValue().GetValues() {
		ns := v.GetStructValue()
		if ns == nil {
			return nil, fmt.Errorf("node %d is not an object", i)
		}
		view.Nodes = append(view.Nodes, DecodeNodeView(ns))
	}
	return view, nil
}

// EncodeNode converts a single node without status
func EncodeNode(n *types.Node) (*structpb.Struct, error) {
	return structpb.NewStruct(nodeViewFields(taskmanager.NodeView{Node: n}))
}

// DecodeNodeView reads a node and its optional status
func DecodeNodeView(s *structpb.Struct) taskmanager.NodeView {
	nv := taskmanager.NodeView{
		Node: &types.Node{
			ID:           str(s, "id"),
			Name:         str(s, "name"),
			ClusterID:    str(s, "cluster_id"),
			Role:         types.NodeRole(str(s, "role")),
			FlavorID:     str(s, "flavor_id"),
			VolumeSize:   num(s, "volume_size"),
			Task:         types.InstanceTask(str(s, "task")),
			ServerStatus: types.ServerStatus(str(s, "server_status")),
			Address:      str(s, "address"),
			AgentAddr:    str(s, "agent_addr"),
			CreatedAt:    parseTime(str(s, "created_at")),
		},
	}
	if st := s.GetFields()["service_status"].GetStructValue(); st != nil {
		nv.Status = &types.ServiceStatusRecord{
			NodeID:      nv.Node.ID,
			Status:      types.ServiceStatus(num(st, "code")),
			Description: str(st, "description"),
			UpdatedAt:   parseTime(str(st, "updated_at")),
		}
	}
	return nv
}

func nodeViewFields(nv taskmanager.NodeView) map[string]interface{} {
	n := nv.Node
	fields := map[string]interface{}{
		"id":            n.ID,
		"name":          n.Name,
		"cluster_id":    n.ClusterID,
		"role":          string(n.Role),
		"flavor_id":     n.FlavorID,
		"volume_size":   n.VolumeSize,
		"task":          string(n.Task),
		"server_status": string(n.ServerStatus),
		"address":       n.Address,
		"agent_addr":    n.AgentAddr,
		"created_at":    formatTime(n.CreatedAt),
	}
	if nv.Status != nil {
		status := map[string]interface{}{
			"code":        int(nv.Status.Status),
			"description": nv.Status.Description,
			"updated_at":  formatTime(nv.Status.UpdatedAt),
		}
		if info, err := types.ServiceStatuses().Lookup(nv.Status.Status); err == nil {
			status["status"] = info.APIStatus
		}
		fields["service_status"] = status
	}
	return fields
}

// ActionInfo identifies a started cluster action
type ActionInfo struct {
	ID        string
	Name      string
	ClusterID string
	NodeID    string
	Task      types.ClusterTask
}

// EncodeAction converts a started action
func EncodeAction(a *taskmanager.Action) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"id":         a.ID,
		"name":       a.Name,
		"cluster_id": a.ClusterID,
		"node_id":    a.NodeID,
		"task":       string(a.Task),
	})
}

// DecodeAction reads a started action
func DecodeAction(s *structpb.Struct) ActionInfo {
	return ActionInfo{
		ID:        str(s, "id"),
		Name:      str(s, "name"),
		ClusterID: str(s, "cluster_id"),
		NodeID:    str(s, "node_id"),
		Task:      types.ClusterTask(str(s, "task")),
	}
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) int {
	return int(s.GetFields()[key].GetNumberValue())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
