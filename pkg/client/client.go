package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

// requestTimeout bounds each call. Actions run in the background, so no call
// waits for a workflow to finish.
const requestTimeout = 10 * time.Second

// Client wraps the burrow task manager gRPC API for CLI usage
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to the API at addr. Unix sockets are addressed as
// unix:///path/to/socket and only serve reads.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClientWithConn(conn), nil
}

// NewClientWithConn wraps an established connection
func NewClientWithConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(method string, in, out proto.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.conn.Invoke(ctx, api.FullMethod(method), in, out)
}

// RegisterCluster stores a cluster and its provisioned nodes
func (c *Client) RegisterCluster(req taskmanager.ClusterRequest) (*taskmanager.ClusterView, error) {
	in, err := api.EncodeClusterRequest(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.invoke(api.MethodRegisterCluster, in, out); err != nil {
		return nil, err
	}
	return api.DecodeClusterView(out)
}

// RegisterNode stores a provisioned node for an existing cluster
func (c *Client) RegisterNode(clusterID string, req taskmanager.NodeRequest) (*types.Node, error) {
	in, err := api.EncodeNodeRequest(clusterID, req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.invoke(api.MethodRegisterNode, in, out); err != nil {
		return nil, err
	}
	return api.DecodeNodeView(out).Node, nil
}

// CreateCluster starts assembling a registered cluster
func (c *Client) CreateCluster(clusterID string) (api.ActionInfo, error) {
	return c.action(api.MethodCreateCluster, map[string]interface{}{"cluster_id": clusterID})
}

// AddDataNode starts joining a registered data node
func (c *Client) AddDataNode(clusterID, nodeID string) (api.ActionInfo, error) {
	return c.action(api.MethodAddDataNode, map[string]interface{}{"cluster_id": clusterID, "node_id": nodeID})
}

// AddSeedNode starts joining a registered seed node
func (c *Client) AddSeedNode(clusterID, nodeID string) (api.ActionInfo, error) {
	return c.action(api.MethodAddSeedNode, map[string]interface{}{"cluster_id": clusterID, "node_id": nodeID})
}

func (c *Client) action(method string, fields map[string]interface{}) (api.ActionInfo, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return api.ActionInfo{}, err
	}
	out := &structpb.Struct{}
	if err := c.invoke(method, in, out); err != nil {
		return api.ActionInfo{}, err
	}
	return api.DecodeAction(out), nil
}

// GetCluster returns a cluster with its members and their status
func (c *Client) GetCluster(clusterID string) (*taskmanager.ClusterView, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"cluster_id": clusterID})
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.invoke(api.MethodGetCluster, in, out); err != nil {
		return nil, err
	}
	return api.DecodeClusterView(out)
}

// ReportStatus records the datastore status of a node
func (c *Client) ReportStatus(nodeID string, code types.ServiceStatus) error {
	in, err := structpb.NewStruct(map[string]interface{}{"node_id": nodeID, "code": int(code)})
	if err != nil {
		return err
	}
	return c.invoke(api.MethodReportStatus, in, &emptypb.Empty{})
}
