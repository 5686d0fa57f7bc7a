package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/readiness"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workflow"
)

// ErrShuttingDown is returned for actions requested after Shutdown
var ErrShuttingDown = errors.New("task manager is shutting down")

// Config holds task manager settings
type Config struct {
	// ActionTimeout returns the guard deadline for an action over n nodes
	ActionTimeout func(n int) time.Duration

	// UpdateStatusOnFail marks nodes errored when an action fails
	UpdateStatusOnFail bool
}

// Manager starts cluster actions, one goroutine per action. The cluster task
// field is the only lock: an action starts only after moving it from NONE
// with a compare-and-swap, and the guard puts it back when the action ends.
type Manager struct {
	store    storage.Store
	registry *workflow.Registry
	broker   *events.Broker
	statuses *types.StatusTable
	cfg      Config
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  map[string]*Action
	stopping bool
}

// NewManager creates a task manager. broker may be nil.
func NewManager(store storage.Store, registry *workflow.Registry, broker *events.Broker, cfg Config) *Manager {
	if cfg.ActionTimeout == nil {
		cfg.ActionTimeout = func(int) time.Duration { return 0 }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		registry: registry,
		broker:   broker,
		statuses: types.ServiceStatuses(),
		cfg:      cfg,
		logger:   log.WithComponent("taskmanager"),
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]*Action),
	}
}

// CreateCluster validates the cluster's members and starts assembling it
func (m *Manager) CreateCluster(ctx context.Context, clusterID string) (*Action, error) {
	cluster, wf, err := m.lookup(clusterID)
	if err != nil {
		return nil, err
	}
	nodes, err := m.store.ListNodesByCluster(clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster nodes: %w", err)
	}
	if err := wf.Validate(types.Specs(nodes)); err != nil {
		return nil, err
	}

	return m.start(cluster, actionSpec{
		name:  ActionCreateCluster,
		task:  types.ClusterTaskBuildingInitial,
		nodes: len(nodes),
		run: func(ctx context.Context) error {
			return wf.Create(ctx, clusterID)
		},
		failed: func() []string {
			current, err := m.store.ListNodesByCluster(clusterID)
			if err != nil {
				m.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Failed to list nodes to mark errored")
				return nil
			}
			ids := make([]string, 0, len(current))
			for _, n := range current {
				ids = append(ids, n.ID)
			}
			return ids
		},
	})
}

// AddDataNode joins a provisioned data node to a running cluster
func (m *Manager) AddDataNode(ctx context.Context, clusterID, nodeID string) (*Action, error) {
	return m.addRole(types.RoleData, ActionAddDataNode, types.ClusterTaskAddingDataNode, clusterID, nodeID)
}

// AddSeedNode joins a provisioned seed node to a running cluster
func (m *Manager) AddSeedNode(ctx context.Context, clusterID, nodeID string) (*Action, error) {
	return m.addRole(types.RoleSeed, ActionAddSeedNode, types.ClusterTaskAddingSeedNode, clusterID, nodeID)
}

func (m *Manager) addRole(role types.NodeRole, name string, task types.ClusterTask, clusterID, nodeID string) (*Action, error) {
	cluster, wf, err := m.lookup(clusterID)
	if err != nil {
		return nil, err
	}
	n, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if n.ClusterID != clusterID {
		return nil, fmt.Errorf("%w: node %s does not belong to cluster %s", workflow.ErrUnprocessableEntity, nodeID, clusterID)
	}
	if n.Role != role {
		return nil, fmt.Errorf("%w: node %s has role %q, not %q", workflow.ErrUnprocessableEntity, nodeID, n.Role, role)
	}
	nodes, err := m.store.ListNodesByCluster(clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster nodes: %w", err)
	}

	spec := actionSpec{
		name:   name,
		task:   task,
		nodeID: nodeID,
		nodes:  len(nodes),
		run: func(ctx context.Context) error {
			return wf.AddRole(ctx, role, clusterID, nodeID)
		},
		failed: func() []string { return []string{nodeID} },
	}
	if r, ok := wf.(workflow.Recoverer); ok {
		spec.recover = r.RecoverFunc(role, clusterID, nodeID)
	}
	return m.start(cluster, spec)
}

func (m *Manager) lookup(clusterID string) (*types.Cluster, workflow.ClusterWorkflow, error) {
	cluster, err := m.store.GetCluster(clusterID)
	if err != nil {
		return nil, nil, err
	}
	wf, err := m.registry.Lookup(cluster.Manager)
	if err != nil {
		return nil, nil, err
	}
	return cluster, wf, nil
}

type actionSpec struct {
	name    string
	task    types.ClusterTask
	nodeID  string
	nodes   int
	run     func(ctx context.Context) error
	failed  func() []string // nodes to mark errored on failure
	recover func(ctx context.Context, cause error)
}

// start claims the cluster and runs the action on its own goroutine
func (m *Manager) start(cluster *types.Cluster, spec actionSpec) (*Action, error) {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.store.CompareAndSwapClusterTask(cluster.ID, types.ClusterTaskNone, spec.task); err != nil {
		m.wg.Done()
		var conflict *storage.TaskConflictError
		if errors.As(err, &conflict) {
			metrics.ClusterActionsRejected.WithLabelValues(spec.name).Inc()
			m.publish(events.EventActionRejected, cluster.ID, spec.nodeID, spec.name,
				fmt.Sprintf("cluster task is %s", conflict.Current))
			m.logger.Error().Str("cluster_id", cluster.ID).Str("action", spec.name).
				Str("current_task", string(conflict.Current)).Msg("Cluster is busy")
			return nil, fmt.Errorf("%w: this action cannot be performed on the cluster while the current cluster task is '%s'",
				workflow.ErrUnprocessableEntity, conflict.Current)
		}
		return nil, fmt.Errorf("failed to claim cluster: %w", err)
	}

	action := newAction(uuid.New().String(), spec.name, cluster.ID, spec.nodeID, spec.task)
	m.mu.Lock()
	m.running[action.ID] = action
	m.mu.Unlock()

	m.publish(events.EventActionStarted, cluster.ID, spec.nodeID, spec.name, "")

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, action.ID)
			m.mu.Unlock()
		}()
		action.finish(m.run(cluster, spec))
	}()
	return action, nil
}

func (m *Manager) run(cluster *types.Cluster, spec actionSpec) error {
	var failed, released atomic.Bool

	opts := workflow.GuardOptions{
		Action:    spec.name,
		ClusterID: cluster.ID,
		Datastore: cluster.Datastore,
		Timeout:   m.cfg.ActionTimeout(spec.nodes),
		Reset: func(ctx context.Context) error {
			return m.release(cluster.ID, spec.task, released.Load())
		},
		OnFailure: func(ctx context.Context, cause error) {
			failed.Store(true)
			m.markErrored(cluster.ID, spec.failed())
		},
		OnRecover: spec.recover,
	}

	err := workflow.RunGuarded(m.ctx, opts, func(ctx context.Context) error {
		err := spec.run(ctx)
		var notReady *readiness.NotReadyError
		if errors.As(err, &notReady) && notReady.Released {
			released.Store(true)
		}
		return err
	})

	switch {
	case err != nil:
		m.publish(events.EventActionFailed, cluster.ID, spec.nodeID, spec.name, err.Error())
	case failed.Load():
		m.publish(events.EventActionTimedOut, cluster.ID, spec.nodeID, spec.name,
			fmt.Sprintf("action exceeded %v", opts.Timeout))
	default:
		m.publish(events.EventActionCompleted, cluster.ID, spec.nodeID, spec.name, "")
	}
	return err
}

// release hands the cluster back unless the action already did. Another
// action may hold the cluster by then, so only the claimed task is cleared.
func (m *Manager) release(clusterID string, task types.ClusterTask, done bool) error {
	if done {
		m.logger.Debug().Str("cluster_id", clusterID).Msg("Cluster already released by readiness check")
		return nil
	}
	err := m.store.CompareAndSwapClusterTask(clusterID, task, types.ClusterTaskNone)
	var conflict *storage.TaskConflictError
	if errors.As(err, &conflict) {
		m.logger.Debug().Str("cluster_id", clusterID).Str("current_task", string(conflict.Current)).
			Msg("Cluster no longer held by this action")
		return nil
	}
	return err
}

// markErrored sets BUILDING_ERROR_SERVER on nodes when configured to
func (m *Manager) markErrored(clusterID string, nodeIDs []string) {
	if !m.cfg.UpdateStatusOnFail {
		return
	}
	for _, id := range nodeIDs {
		if err := m.store.SetNodeTask(id, types.InstanceTaskBuildingErrorServer); err != nil {
			m.logger.Error().Err(err).Str("node_id", id).Msg("Failed to mark node errored")
			continue
		}
		metrics.NodesErroredTotal.Inc()
		m.publish(events.EventNodeErrored, clusterID, id, "", string(types.InstanceTaskBuildingErrorServer))
	}
}

func (m *Manager) publish(t events.EventType, clusterID, nodeID, action, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:      t,
		ClusterID: clusterID,
		NodeID:    nodeID,
		Action:    action,
		Message:   message,
	})
}

// Running returns the actions in progress
func (m *Manager) Running() []*Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Action, 0, len(m.running))
	for _, a := range m.running {
		out = append(out, a)
	}
	return out
}

// Shutdown refuses new actions and waits for running ones. When ctx expires
// first, running actions are canceled and Shutdown still waits for their
// guards to release the clusters.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.logger.Warn().Int("running", len(m.Running())).Msg("Canceling running cluster actions")
		m.cancel()
		<-done
		return ctx.Err()
	}
}
