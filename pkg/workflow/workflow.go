package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/node"
	"github.com/cuemby/burrow/pkg/readiness"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/template"
	"github.com/cuemby/burrow/pkg/types"
)

// ClusterWorkflow is the set of cluster actions a datastore supports
type ClusterWorkflow interface {
	// Validate checks a cluster request without side effects
	Validate(specs []types.NodeSpec) error

	// Create assembles a new cluster from its provisioned members
	Create(ctx context.Context, clusterID string) error

	// AddRole joins an already provisioned node to a running cluster
	AddRole(ctx context.Context, role types.NodeRole, clusterID, nodeID string) error
}

// Recoverer is implemented by workflows that can restore a cluster after a
// failed addition. RecoverFunc returns nil when no recovery is available.
type Recoverer interface {
	RecoverFunc(role types.NodeRole, clusterID, nodeID string) func(ctx context.Context, cause error)
}

// Deps are the collaborators shared by every workflow
type Deps struct {
	Store     storage.Store
	Statuses  *types.StatusTable
	Inventory node.Inventory
	Resolver  *node.Resolver
	Tracker   *readiness.Tracker
	Renderer  template.Renderer
	Timeouts  agent.Timeouts

	// RebootSettle is waited after every restart before polling status
	RebootSettle time.Duration
}

// Validate reports missing collaborators
func (d Deps) Validate() error {
	switch {
	case d.Store == nil:
		return fmt.Errorf("workflow deps: store is required")
	case d.Statuses == nil:
		return fmt.Errorf("workflow deps: status table is required")
	case d.Inventory == nil:
		return fmt.Errorf("workflow deps: inventory is required")
	case d.Resolver == nil:
		return fmt.Errorf("workflow deps: resolver is required")
	case d.Tracker == nil:
		return fmt.Errorf("workflow deps: readiness tracker is required")
	case d.Renderer == nil:
		return fmt.Errorf("workflow deps: template renderer is required")
	}
	return nil
}

// reboot restarts the datastore on h and marks it as building until its
// agent reports a fresh status
func reboot(ctx context.Context, deps Deps, h *node.Handle) error {
	if err := deps.Store.SetNodeTask(h.ID, types.InstanceTaskBuilding); err != nil {
		return fmt.Errorf("failed to mark node %s building: %w", h.ID, err)
	}
	record, err := deps.Statuses.Record(h.ID, types.StatusNew)
	if err != nil {
		return err
	}
	if err := deps.Store.PutServiceStatus(record); err != nil {
		return fmt.Errorf("failed to reset service status of node %s: %w", h.ID, err)
	}
	if err := h.Agent.Restart(ctx, deps.Timeouts.Default); err != nil {
		return err
	}
	return sleep(ctx, deps.RebootSettle)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// verifyMembership asks every node for its visible peers and requires each
// to see exactly expected. Every node is told the cluster is complete after
// answering.
func verifyMembership(ctx context.Context, deps Deps, clusterID string, handles []*node.Handle, expected []string) error {
	expected = sortedUnique(expected)
	statuses := make(map[string]string, len(handles))
	failed := false

	for _, h := range handles {
		status, err := h.Agent.VerifyPeers(ctx, expected, deps.Timeouts.Verification)
		if err != nil {
			return err
		}
		statuses[h.ID] = status
		if status != agent.VerifyOK {
			failed = true
		}
		if err := h.Agent.ClusterComplete(ctx, deps.Timeouts.Default); err != nil {
			return err
		}
	}

	if failed {
		return &MembershipError{ClusterID: clusterID, Statuses: statuses}
	}
	return nil
}

// clearTasks resets the in-progress marker of each node
func clearTasks(deps Deps, ids []string) error {
	for _, id := range ids {
		if err := deps.Store.SetNodeTask(id, types.InstanceTaskNone); err != nil {
			return fmt.Errorf("failed to reset task of node %s: %w", id, err)
		}
	}
	return nil
}

func nodeIDs(nodes []*types.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
