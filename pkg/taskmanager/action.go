package taskmanager

import (
	"github.com/cuemby/burrow/pkg/types"
)

// Action names used in logs, metrics and events
const (
	ActionCreateCluster = "create_cluster"
	ActionAddDataNode   = "add_data_node_to_cluster"
	ActionAddSeedNode   = "add_seed_node_to_cluster"
)

// Action is a running cluster action
type Action struct {
	ID        string
	Name      string
	ClusterID string
	NodeID    string
	Task      types.ClusterTask

	done chan struct{}
	err  error
}

func newAction(id, name, clusterID, nodeID string, task types.ClusterTask) *Action {
	return &Action{
		ID:        id,
		Name:      name,
		ClusterID: clusterID,
		NodeID:    nodeID,
		Task:      task,
		done:      make(chan struct{}),
	}
}

// Done is closed when the action has finished and the cluster is released
func (a *Action) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the action finishes and returns its error. Expiry of the
// action deadline is not an error.
func (a *Action) Wait() error {
	<-a.done
	return a.err
}

func (a *Action) finish(err error) {
	a.err = err
	close(a.done)
}
