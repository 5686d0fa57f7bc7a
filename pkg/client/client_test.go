package client

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workflow"
)

type MockManager struct {
	mock.Mock
}

func (m *MockManager) RegisterCluster(ctx context.Context, req taskmanager.ClusterRequest) (*taskmanager.ClusterView, error) {
	args := m.Called(req)
	view, _ := args.Get(0).(*taskmanager.ClusterView)
	return view, args.Error(1)
}

func (m *MockManager) RegisterNode(ctx context.Context, clusterID string, req taskmanager.NodeRequest) (*types.Node, error) {
	args := m.Called(clusterID, req)
	n, _ := args.Get(0).(*types.Node)
	return n, args.Error(1)
}

func (m *MockManager) CreateCluster(ctx context.Context, clusterID string) (*taskmanager.Action, error) {
	args := m.Called(clusterID)
	a, _ := args.Get(0).(*taskmanager.Action)
	return a, args.Error(1)
}

func (m *MockManager) AddDataNode(ctx context.Context, clusterID, nodeID string) (*taskmanager.Action, error) {
	args := m.Called(clusterID, nodeID)
	a, _ := args.Get(0).(*taskmanager.Action)
	return a, args.Error(1)
}

func (m *MockManager) AddSeedNode(ctx context.Context, clusterID, nodeID string) (*taskmanager.Action, error) {
	args := m.Called(clusterID, nodeID)
	a, _ := args.Get(0).(*taskmanager.Action)
	return a, args.Error(1)
}

func (m *MockManager) DescribeCluster(ctx context.Context, clusterID string) (*taskmanager.ClusterView, error) {
	args := m.Called(clusterID)
	view, _ := args.Get(0).(*taskmanager.ClusterView)
	return view, args.Error(1)
}

func (m *MockManager) ReportStatus(ctx context.Context, nodeID string, code types.ServiceStatus) error {
	return m.Called(nodeID, code).Error(0)
}

func newTestClient(t *testing.T, mgr api.Manager) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := api.NewServer(mgr, api.Options{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	c := NewClientWithConn(conn)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRegisterCluster(t *testing.T) {
	req := taskmanager.ClusterRequest{
		Name:      "orders",
		Datastore: "cassandra",
		Nodes: []taskmanager.NodeRequest{
			{Role: types.RoleSeed, FlavorID: "m1", VolumeSize: 10, Address: "10.0.0.1", AgentAddr: "10.0.0.1:2379"},
			{Role: types.RoleData, FlavorID: "m1", VolumeSize: 10, Address: "10.0.0.2"},
		},
	}

	mgr := &MockManager{}
	mgr.On("RegisterCluster", req).Return(&taskmanager.ClusterView{
		Cluster: &types.Cluster{ID: "c1", Name: "orders", Datastore: "cassandra", Manager: "cassandra", Task: types.ClusterTaskNone},
		Nodes: []taskmanager.NodeView{
			{Node: &types.Node{ID: "n1", ClusterID: "c1", Role: types.RoleSeed, Address: "10.0.0.1"}},
			{Node: &types.Node{ID: "n2", ClusterID: "c1", Role: types.RoleData, Address: "10.0.0.2"}},
		},
	}, nil)

	c := newTestClient(t, mgr)
	view, err := c.RegisterCluster(req)
	require.NoError(t, err)

	assert.Equal(t, "c1", view.Cluster.ID)
	assert.Equal(t, types.ClusterTaskNone, view.Cluster.Task)
	require.Len(t, view.Nodes, 2)
	assert.Equal(t, "n2", view.Nodes[1].Node.ID)
	mgr.AssertExpectations(t)
}

func TestRegisterNode(t *testing.T) {
	req := taskmanager.NodeRequest{Role: types.RoleData, FlavorID: "m1", Address: "10.0.0.4"}

	mgr := &MockManager{}
	mgr.On("RegisterNode", "c1", req).Return(&types.Node{ID: "n4", ClusterID: "c1", Role: types.RoleData, Address: "10.0.0.4"}, nil)

	c := newTestClient(t, mgr)
	n, err := c.RegisterNode("c1", req)
	require.NoError(t, err)
	assert.Equal(t, "n4", n.ID)
	assert.Equal(t, types.RoleData, n.Role)
}

func TestActions(t *testing.T) {
	mgr := &MockManager{}
	mgr.On("CreateCluster", "c1").Return(&taskmanager.Action{ID: "a1", Name: taskmanager.ActionCreateCluster, ClusterID: "c1", Task: types.ClusterTaskBuildingInitial}, nil)
	mgr.On("AddDataNode", "c1", "n4").Return(nil, workflow.ErrUnprocessableEntity)

	c := newTestClient(t, mgr)

	info, err := c.CreateCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, "a1", info.ID)
	assert.Equal(t, types.ClusterTaskBuildingInitial, info.Task)

	_, err = c.AddDataNode("c1", "n4")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGetClusterAndReportStatus(t *testing.T) {
	mgr := &MockManager{}
	mgr.On("ReportStatus", "n1", types.StatusBuildPending).Return(nil)
	mgr.On("DescribeCluster", "c1").Return(&taskmanager.ClusterView{
		Cluster: &types.Cluster{ID: "c1", Task: types.ClusterTaskNone},
		Nodes: []taskmanager.NodeView{{
			Node:   &types.Node{ID: "n1"},
			Status: &types.ServiceStatusRecord{NodeID: "n1", Status: types.StatusBuildPending, Description: "build pending"},
		}},
	}, nil)

	c := newTestClient(t, mgr)
	require.NoError(t, c.ReportStatus("n1", types.StatusBuildPending))

	view, err := c.GetCluster("c1")
	require.NoError(t, err)
	require.Len(t, view.Nodes, 1)
	assert.Equal(t, "build pending", view.Nodes[0].Status.Description)
	mgr.AssertExpectations(t)
}
