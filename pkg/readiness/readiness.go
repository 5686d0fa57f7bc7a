package readiness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/poll"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// State is the aggregate health of a batch of nodes
type State int

const (
	StateConverging State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConverging:
		return "converging"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NotReadyError is returned by WaitReady when a batch did not converge
type NotReadyError struct {
	ClusterID string
	NodeIDs   []string
	Failed    []string // Nodes reporting a failed status
	TimedOut  bool
	// Released is set once the cluster task was handed back. The action
	// holding the cluster must not release it a second time.
	Released bool
}

func (e *NotReadyError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("instances for cluster %s are not ready: timed out waiting for [%s]",
			e.ClusterID, strings.Join(e.NodeIDs, ", "))
	}
	return fmt.Sprintf("instances for cluster %s are not ready: failed [%s]",
		e.ClusterID, strings.Join(e.Failed, ", "))
}

// Config holds tracker settings
type Config struct {
	// Interval between status reads
	Interval time.Duration

	// UsageTimeout is the budget per node; a batch of n nodes gets n times this
	UsageTimeout time.Duration

	// UpdateStatusOnFail marks the batch errored when it does not converge
	UpdateStatusOnFail bool
}

// Tracker classifies node health from persisted service statuses
type Tracker struct {
	store    storage.Store
	statuses *types.StatusTable
	cfg      Config
	logger   zerolog.Logger
}

// NewTracker creates a readiness tracker
func NewTracker(store storage.Store, statuses *types.StatusTable, cfg Config) *Tracker {
	return &Tracker{
		store:    store,
		statuses: statuses,
		cfg:      cfg,
		logger:   log.WithComponent("readiness"),
	}
}

// status returns the stored status of a node, treating a missing record as NEW
func (t *Tracker) status(nodeID string) (types.ServiceStatus, error) {
	record, err := t.store.GetServiceStatus(nodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.StatusNew, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load service status: %w", err)
	}
	if !t.statuses.IsValid(record.Status) {
		return types.StatusUnknown, nil
	}
	return record.Status, nil
}

// Classify reports the aggregate state of the nodes. A failed node
// short-circuits the batch.
func (t *Tracker) Classify(ctx context.Context, nodeIDs []string) (State, error) {
	state := StateReady
	for _, id := range nodeIDs {
		if err := ctx.Err(); err != nil {
			return StateConverging, err
		}

		status, err := t.status(id)
		if err != nil {
			return StateConverging, err
		}

		switch {
		case status.IsFailed():
			t.logger.Debug().Str("node_id", id).Stringer("status", status).Msg("Node failed, exiting polling")
			return StateFailed, nil
		case status != types.StatusRunning && status != types.StatusBuildPending:
			t.logger.Debug().Str("node_id", id).Stringer("status", status).Msg("Node not ready, continue polling")
			state = StateConverging
		}
	}
	return state, nil
}

// AllReady reports whether every node is ready
func (t *Tracker) AllReady(ctx context.Context, nodeIDs []string) (bool, error) {
	state, err := t.Classify(ctx, nodeIDs)
	return state == StateReady, err
}

// FailedNodeIDs returns the nodes currently in a failed status
func (t *Tracker) FailedNodeIDs(ctx context.Context, nodeIDs []string) ([]string, error) {
	var failed []string
	for _, id := range nodeIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status, err := t.status(id)
		if err != nil {
			return nil, err
		}
		if status.IsFailed() {
			failed = append(failed, id)
		}
	}
	return failed, nil
}

// WaitReady polls until every node is ready. When the batch fails or the poll
// budget runs out, the nodes are marked errored, the cluster task is reset and
// a *NotReadyError is returned.
func (t *Tracker) WaitReady(ctx context.Context, clusterID string, nodeIDs []string) error {
	timeout := t.cfg.UsageTimeout * time.Duration(len(nodeIDs))
	logger := t.logger.With().Str("cluster_id", clusterID).Strs("node_ids", nodeIDs).Logger()
	logger.Debug().Dur("timeout", timeout).Msg("Polling until service status is ready")

	state, err := poll.UntilValue(ctx,
		func() (State, error) { return t.Classify(ctx, nodeIDs) },
		func(s State) (bool, error) { return s != StateConverging, nil },
		t.cfg.Interval, timeout)

	switch {
	case poll.IsTimeout(err):
		metrics.PollTimeoutsTotal.Inc()
		logger.Error().Err(err).Msg("Timeout for all instance service statuses to become ready")
		released := t.failBatch(clusterID, nodeIDs)
		return &NotReadyError{ClusterID: clusterID, NodeIDs: nodeIDs, TimedOut: true, Released: released}
	case err != nil:
		return err
	case state == StateReady:
		logger.Debug().Msg("Instances are ready")
		return nil
	}

	failed, err := t.FailedNodeIDs(ctx, nodeIDs)
	if err != nil {
		return err
	}
	logger.Error().Strs("failed", failed).Msg("Some instances failed to become ready")
	released := t.failBatch(clusterID, nodeIDs)
	return &NotReadyError{ClusterID: clusterID, NodeIDs: nodeIDs, Failed: failed, Released: released}
}

// failBatch marks every queried node errored and releases the cluster from
// whichever task claimed it. It reports whether the cluster is free.
func (t *Tracker) failBatch(clusterID string, nodeIDs []string) bool {
	if t.cfg.UpdateStatusOnFail {
		for _, id := range nodeIDs {
			if err := t.store.SetNodeTask(id, types.InstanceTaskBuildingErrorServer); err != nil {
				t.logger.Error().Err(err).Str("node_id", id).Msg("Failed to mark node errored")
				continue
			}
			metrics.NodesErroredTotal.Inc()
		}
	}

	cluster, err := t.store.GetCluster(clusterID)
	if err != nil {
		t.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Failed to load cluster")
		return false
	}
	if !cluster.Task.IsActive() {
		return true
	}
	if err := t.store.CompareAndSwapClusterTask(clusterID, cluster.Task, types.ClusterTaskNone); err != nil {
		t.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Failed to reset cluster task")
		return false
	}
	return true
}
