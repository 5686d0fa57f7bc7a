package taskmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/agent/agenttest"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/node"
	"github.com/cuemby/burrow/pkg/readiness"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/template"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workflow"
)

const stubManager = "stub"

// stubWorkflow lets tests decide how each action behaves
type stubWorkflow struct {
	validateErr error
	create      func(ctx context.Context) error
	addRole     func(ctx context.Context, role types.NodeRole, nodeID string) error

	mu        sync.Mutex
	recovered []string
}

func (s *stubWorkflow) Validate(specs []types.NodeSpec) error {
	return s.validateErr
}

func (s *stubWorkflow) Create(ctx context.Context, clusterID string) error {
	if s.create == nil {
		return nil
	}
	return s.create(ctx)
}

func (s *stubWorkflow) AddRole(ctx context.Context, role types.NodeRole, clusterID, nodeID string) error {
	if s.addRole == nil {
		return nil
	}
	return s.addRole(ctx, role, nodeID)
}

func (s *stubWorkflow) RecoverFunc(role types.NodeRole, clusterID, nodeID string) func(ctx context.Context, cause error) {
	if role != types.RoleSeed {
		return nil
	}
	return func(ctx context.Context, cause error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.recovered = append(s.recovered, nodeID)
	}
}

func (s *stubWorkflow) recoveredNodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recovered...)
}

// blockUntilDone blocks an action until its context ends
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type testEnv struct {
	store  *storage.BoltStore
	wf     *stubWorkflow
	broker *events.Broker
	events events.Subscriber
	mgr    *Manager
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	renderer, err := template.NewFileRenderer("")
	require.NoError(t, err)

	statuses := types.ServiceStatuses()
	inventory := node.NewStoreInventory(store)
	deps := workflow.Deps{
		Store:     store,
		Statuses:  statuses,
		Inventory: inventory,
		Resolver:  node.NewResolver(inventory, agenttest.NewNetwork()),
		Tracker:   readiness.NewTracker(store, statuses, readiness.Config{Interval: time.Millisecond, UsageTimeout: time.Second}),
		Renderer:  renderer,
		Timeouts:  agent.DefaultTimeouts(),
	}

	wf := &stubWorkflow{}
	registry, err := workflow.NewRegistry(deps, map[string]workflow.Factory{
		stubManager: func(workflow.Deps) (workflow.ClusterWorkflow, error) { return wf, nil },
	})
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()
	t.Cleanup(broker.Stop)

	if cfg.ActionTimeout == nil {
		cfg.ActionTimeout = func(int) time.Duration { return 5 * time.Second }
	}
	mgr := NewManager(store, registry, broker, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	return &testEnv{store: store, wf: wf, broker: broker, events: sub, mgr: mgr}
}

func (e *testEnv) register(t *testing.T) *ClusterView {
	t.Helper()
	view, err := e.mgr.RegisterCluster(context.Background(), ClusterRequest{
		Name:      "orders",
		Datastore: "cassandra",
		Manager:   stubManager,
		Nodes: []NodeRequest{
			{Role: types.RoleSeed, FlavorID: "m1", VolumeSize: 10, Address: "10.0.0.1"},
			{Role: types.RoleData, FlavorID: "m1", VolumeSize: 10, Address: "10.0.0.2"},
			{Role: types.RoleData, FlavorID: "m1", VolumeSize: 10, Address: "10.0.0.3"},
		},
	})
	require.NoError(t, err)
	return view
}

func (e *testEnv) clusterTask(t *testing.T, id string) types.ClusterTask {
	t.Helper()
	c, err := e.store.GetCluster(id)
	require.NoError(t, err)
	return c.Task
}

func (e *testEnv) nodeTask(t *testing.T, id string) types.InstanceTask {
	t.Helper()
	n, err := e.store.GetNode(id)
	require.NoError(t, err)
	return n.Task
}

// waitEvent drains events until one of type want arrives
func (e *testEnv) waitEvent(t *testing.T, want events.EventType) *events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-e.events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
			return nil
		}
	}
}

func wait(t *testing.T, a *Action) error {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("action did not finish")
	}
	return a.Wait()
}

func TestRegisterCluster(t *testing.T) {
	env := newTestEnv(t, Config{})
	view := env.register(t)

	assert.Equal(t, types.ClusterTaskNone, view.Cluster.Task)
	assert.Equal(t, stubManager, view.Cluster.Manager)
	require.Len(t, view.Nodes, 3)

	described, err := env.mgr.DescribeCluster(context.Background(), view.Cluster.ID)
	require.NoError(t, err)
	require.Len(t, described.Nodes, 3)
	for i, nv := range described.Nodes {
		assert.Equal(t, view.Nodes[i].Node.ID, nv.Node.ID, "members keep registration order")
		assert.Equal(t, types.ServerStatusActive, nv.Node.ServerStatus)
		assert.Nil(t, nv.Status)
	}
	assert.Equal(t, "orders-member-1", described.Nodes[0].Node.Name)
}

func TestRegisterClusterRejected(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.mgr.RegisterCluster(context.Background(), ClusterRequest{Name: "orders", Datastore: "mongodb"})
	assert.ErrorIs(t, err, workflow.ErrUnsupportedDatastore)

	env.wf.validateErr = &workflow.ValidationError{Kind: workflow.ErrSeedRequired}
	_, err = env.mgr.RegisterCluster(context.Background(), ClusterRequest{Name: "orders", Datastore: "cassandra", Manager: stubManager})
	assert.ErrorIs(t, err, workflow.ErrSeedRequired)

	clusters, err := env.store.ListClusters()
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestReportStatus(t *testing.T) {
	env := newTestEnv(t, Config{})
	view := env.register(t)
	id := view.Nodes[0].Node.ID

	require.NoError(t, env.mgr.ReportStatus(context.Background(), id, types.StatusRunning))
	described, err := env.mgr.DescribeCluster(context.Background(), view.Cluster.ID)
	require.NoError(t, err)
	require.NotNil(t, described.Nodes[0].Status)
	assert.Equal(t, "running", described.Nodes[0].Status.Description)

	assert.Error(t, env.mgr.ReportStatus(context.Background(), id, types.ServiceStatus(0x7f)))
	assert.ErrorIs(t, env.mgr.ReportStatus(context.Background(), "missing", types.StatusRunning), storage.ErrNotFound)
}

func TestCreateClusterSuccess(t *testing.T) {
	env := newTestEnv(t, Config{UpdateStatusOnFail: true})
	view := env.register(t)

	var sawTask types.ClusterTask
	env.wf.create = func(ctx context.Context) error {
		c, err := env.store.GetCluster(view.Cluster.ID)
		if err != nil {
			return err
		}
		sawTask = c.Task
		return nil
	}

	action, err := env.mgr.CreateCluster(context.Background(), view.Cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionCreateCluster, action.Name)
	require.NoError(t, wait(t, action))

	assert.Equal(t, types.ClusterTaskBuildingInitial, sawTask)
	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, view.Cluster.ID))
	env.waitEvent(t, events.EventActionStarted)
	ev := env.waitEvent(t, events.EventActionCompleted)
	assert.Equal(t, view.Cluster.ID, ev.ClusterID)
	assert.Empty(t, env.mgr.Running())
}

func TestCreateClusterValidationFails(t *testing.T) {
	env := newTestEnv(t, Config{})
	view := env.register(t)

	env.wf.validateErr = &workflow.ValidationError{Kind: workflow.ErrFlavorsNotEqual}
	_, err := env.mgr.CreateCluster(context.Background(), view.Cluster.ID)
	assert.ErrorIs(t, err, workflow.ErrFlavorsNotEqual)
	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, view.Cluster.ID))
}

func TestSecondActionRejectedWhileBusy(t *testing.T) {
	env := newTestEnv(t, Config{})
	view := env.register(t)
	clusterID := view.Cluster.ID

	release := make(chan struct{})
	env.wf.create = func(ctx context.Context) error {
		<-release
		return nil
	}

	action, err := env.mgr.CreateCluster(context.Background(), clusterID)
	require.NoError(t, err)
	assert.Len(t, env.mgr.Running(), 1)

	rejectedBefore := testutil.ToFloat64(metrics.ClusterActionsRejected.WithLabelValues(ActionAddDataNode))

	_, err = env.mgr.AddDataNode(context.Background(), clusterID, view.Nodes[1].Node.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrUnprocessableEntity)
	assert.Contains(t, err.Error(), "current cluster task is 'BUILDING_INITIAL'")

	_, err = env.mgr.CreateCluster(context.Background(), clusterID)
	assert.ErrorIs(t, err, workflow.ErrUnprocessableEntity)

	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(metrics.ClusterActionsRejected.WithLabelValues(ActionAddDataNode)))
	env.waitEvent(t, events.EventActionRejected)

	close(release)
	require.NoError(t, wait(t, action))

	// The cluster is free again
	next, err := env.mgr.AddDataNode(context.Background(), clusterID, view.Nodes[1].Node.ID)
	require.NoError(t, err)
	require.NoError(t, wait(t, next))
}

func TestConcurrentRequestsClaimOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	view := env.register(t)

	release := make(chan struct{})
	env.wf.create = func(ctx context.Context) error {
		<-release
		return nil
	}

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  []*Action
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := env.mgr.CreateCluster(context.Background(), view.Cluster.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, workflow.ErrUnprocessableEntity) {
					rejected++
				}
				return
			}
			started = append(started, a)
		}()
	}
	wg.Wait()

	require.Len(t, started, 1)
	assert.Equal(t, callers-1, rejected)

	close(release)
	require.NoError(t, wait(t, started[0]))
}

func TestLateResetKeepsNewerClaim(t *testing.T) {
	env := newTestEnv(t, Config{UpdateStatusOnFail: true})
	view := env.register(t)
	clusterID := view.Cluster.ID
	dataID := view.Nodes[1].Node.ID

	unblock := make(chan struct{})
	env.wf.addRole = func(ctx context.Context, role types.NodeRole, nodeID string) error {
		<-unblock
		return nil
	}

	var (
		next    *Action
		nextErr error
	)
	env.wf.create = func(ctx context.Context) error {
		// The cluster is handed back before the failure callbacks run
		if err := env.store.SetClusterTask(clusterID, types.ClusterTaskNone); err != nil {
			return err
		}
		next, nextErr = env.mgr.AddDataNode(context.Background(), clusterID, dataID)
		return errors.New("instances are not ready")
	}

	first, err := env.mgr.CreateCluster(context.Background(), clusterID)
	require.NoError(t, err)
	var actionErr *workflow.ClusterActionError
	require.ErrorAs(t, wait(t, first), &actionErr)
	require.NoError(t, nextErr)

	assert.Equal(t, types.ClusterTaskAddingDataNode, env.clusterTask(t, clusterID))
	_, err = env.mgr.AddDataNode(context.Background(), clusterID, dataID)
	assert.ErrorIs(t, err, workflow.ErrUnprocessableEntity)

	close(unblock)
	require.NoError(t, wait(t, next))
	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, clusterID))
}

func TestReleasedClusterNotResetTwice(t *testing.T) {
	env := newTestEnv(t, Config{})
	view := env.register(t)
	clusterID := view.Cluster.ID
	firstID, secondID := view.Nodes[1].Node.ID, view.Nodes[2].Node.ID

	unblock := make(chan struct{})
	var (
		next    *Action
		nextErr error
	)
	env.wf.addRole = func(ctx context.Context, role types.NodeRole, nodeID string) error {
		if nodeID == secondID {
			<-unblock
			return nil
		}
		err := env.store.CompareAndSwapClusterTask(clusterID, types.ClusterTaskAddingDataNode, types.ClusterTaskNone)
		if err != nil {
			return err
		}
		// Same task as this action, so only the release flag tells them apart
		next, nextErr = env.mgr.AddDataNode(context.Background(), clusterID, secondID)
		return &readiness.NotReadyError{ClusterID: clusterID, NodeIDs: []string{nodeID}, Released: true}
	}

	first, err := env.mgr.AddDataNode(context.Background(), clusterID, firstID)
	require.NoError(t, err)
	var notReady *readiness.NotReadyError
	require.ErrorAs(t, wait(t, first), &notReady)
	require.NoError(t, nextErr)

	assert.Equal(t, types.ClusterTaskAddingDataNode, env.clusterTask(t, clusterID))
	_, err = env.mgr.CreateCluster(context.Background(), clusterID)
	assert.ErrorIs(t, err, workflow.ErrUnprocessableEntity)

	close(unblock)
	require.NoError(t, wait(t, next))
	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, clusterID))
}

func TestActionTimeoutMarksAllNodes(t *testing.T) {
	env := newTestEnv(t, Config{
		UpdateStatusOnFail: true,
		ActionTimeout:      func(int) time.Duration { return 20 * time.Millisecond },
	})
	view := env.register(t)
	env.wf.create = blockUntilDone

	erroredBefore := testutil.ToFloat64(metrics.NodesErroredTotal)

	action, err := env.mgr.CreateCluster(context.Background(), view.Cluster.ID)
	require.NoError(t, err)

	// Deadline expiry is not reported as an error
	require.NoError(t, wait(t, action))

	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, view.Cluster.ID))
	for _, nv := range view.Nodes {
		assert.Equal(t, types.InstanceTaskBuildingErrorServer, env.nodeTask(t, nv.Node.ID))
	}
	assert.Equal(t, erroredBefore+3, testutil.ToFloat64(metrics.NodesErroredTotal))
	env.waitEvent(t, events.EventNodeErrored)
	env.waitEvent(t, events.EventActionTimedOut)
}

func TestAddNodeFailureMarksOnlyNewNode(t *testing.T) {
	env := newTestEnv(t, Config{UpdateStatusOnFail: true})
	view := env.register(t)
	newSeed, err := env.mgr.RegisterNode(context.Background(), view.Cluster.ID, NodeRequest{
		Role: types.RoleSeed, FlavorID: "m1", VolumeSize: 10, Address: "10.0.0.4",
	})
	require.NoError(t, err)

	boom := errors.New("agent unreachable")
	env.wf.addRole = func(ctx context.Context, role types.NodeRole, nodeID string) error {
		return boom
	}

	action, err := env.mgr.AddSeedNode(context.Background(), view.Cluster.ID, newSeed.ID)
	require.NoError(t, err)

	err = wait(t, action)
	var actionErr *workflow.ClusterActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, ActionAddSeedNode, actionErr.Action)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, types.InstanceTaskBuildingErrorServer, env.nodeTask(t, newSeed.ID))
	for _, nv := range view.Nodes {
		assert.Equal(t, types.InstanceTaskBuilding, env.nodeTask(t, nv.Node.ID))
	}
	assert.Equal(t, []string{newSeed.ID}, env.wf.recoveredNodes())
	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, view.Cluster.ID))

	ev := env.waitEvent(t, events.EventActionFailed)
	assert.Equal(t, newSeed.ID, ev.NodeID)
}

func TestFailureWithoutStatusUpdate(t *testing.T) {
	env := newTestEnv(t, Config{UpdateStatusOnFail: false})
	view := env.register(t)
	env.wf.create = func(ctx context.Context) error { panic("bad state") }

	action, err := env.mgr.CreateCluster(context.Background(), view.Cluster.ID)
	require.NoError(t, err)

	var panicErr *workflow.PanicError
	assert.ErrorAs(t, wait(t, action), &panicErr)
	for _, nv := range view.Nodes {
		assert.Equal(t, types.InstanceTaskBuilding, env.nodeTask(t, nv.Node.ID))
	}
	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, view.Cluster.ID))
}

func TestAddNodeChecksMembership(t *testing.T) {
	env := newTestEnv(t, Config{})
	view := env.register(t)
	other := env.register(t)

	tests := []struct {
		name string
		add  func() (*Action, error)
		want error
	}{
		{
			name: "missing node",
			add:  func() (*Action, error) { return env.mgr.AddDataNode(context.Background(), view.Cluster.ID, "missing") },
			want: storage.ErrNotFound,
		},
		{
			name: "node of another cluster",
			add: func() (*Action, error) {
				return env.mgr.AddDataNode(context.Background(), view.Cluster.ID, other.Nodes[1].Node.ID)
			},
			want: workflow.ErrUnprocessableEntity,
		},
		{
			name: "role mismatch",
			add: func() (*Action, error) {
				return env.mgr.AddSeedNode(context.Background(), view.Cluster.ID, view.Nodes[1].Node.ID)
			},
			want: workflow.ErrUnprocessableEntity,
		},
		{
			name: "missing cluster",
			add:  func() (*Action, error) { return env.mgr.AddDataNode(context.Background(), "missing", "missing") },
			want: storage.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.add()
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, view.Cluster.ID))
}

func TestShutdownCancelsRunningActions(t *testing.T) {
	env := newTestEnv(t, Config{})
	view := env.register(t)
	env.wf.create = blockUntilDone

	action, err := env.mgr.CreateCluster(context.Background(), view.Cluster.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.mgr.Shutdown(ctx), context.DeadlineExceeded)

	// Canceled by shutdown, not by the action deadline
	var actionErr *workflow.ClusterActionError
	assert.ErrorAs(t, wait(t, action), &actionErr)
	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, view.Cluster.ID))

	_, err = env.mgr.CreateCluster(context.Background(), view.Cluster.ID)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestRecoverInterrupted(t *testing.T) {
	env := newTestEnv(t, Config{UpdateStatusOnFail: true})
	view := env.register(t)
	idle := env.register(t)

	// A previous process claimed the cluster and finished one member
	require.NoError(t, env.store.SetClusterTask(view.Cluster.ID, types.ClusterTaskBuildingInitial))
	require.NoError(t, env.store.SetNodeTask(view.Nodes[0].Node.ID, types.InstanceTaskNone))

	stale, err := env.mgr.RecoverInterrupted()
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, view.Cluster.ID, stale[0].Cluster.ID)
	assert.ElementsMatch(t, []string{view.Nodes[1].Node.ID, view.Nodes[2].Node.ID}, stale[0].Building)

	assert.Equal(t, types.ClusterTaskNone, env.clusterTask(t, view.Cluster.ID))
	assert.Equal(t, types.InstanceTaskNone, env.nodeTask(t, view.Nodes[0].Node.ID))
	assert.Equal(t, types.InstanceTaskBuildingErrorServer, env.nodeTask(t, view.Nodes[1].Node.ID))
	for _, nv := range idle.Nodes {
		assert.Equal(t, types.InstanceTaskBuilding, env.nodeTask(t, nv.Node.ID))
	}

	// Nothing left to recover
	stale, err = FindStale(env.store)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
