package taskmanager

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// StaleCluster is a cluster still claimed by an action whose process died
// before the guard could release it
type StaleCluster struct {
	Cluster *types.Cluster
	// Members still marked BUILDING by the interrupted action
	Building []string
}

// FindStale lists clusters with a task set. Only meaningful while no
// Manager is running against store.
func FindStale(store storage.Store) ([]StaleCluster, error) {
	clusters, err := store.ListClusters()
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}

	var stale []StaleCluster
	for _, c := range clusters {
		if !c.Task.IsActive() {
			continue
		}
		nodes, err := store.ListNodesByCluster(c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list nodes of cluster %s: %w", c.ID, err)
		}
		sc := StaleCluster{Cluster: c}
		for _, n := range nodes {
			if n.Task == types.InstanceTaskBuilding {
				sc.Building = append(sc.Building, n.ID)
			}
		}
		stale = append(stale, sc)
	}
	return stale, nil
}

// ReleaseStale puts the task of each stale cluster back to NONE, marking its
// building members errored first when markErrored is set
func ReleaseStale(store storage.Store, stale []StaleCluster, markErrored bool) error {
	for _, sc := range stale {
		if markErrored {
			for _, id := range sc.Building {
				if err := store.SetNodeTask(id, types.InstanceTaskBuildingErrorServer); err != nil {
					return fmt.Errorf("failed to mark node %s errored: %w", id, err)
				}
				nodeLogger := log.WithNodeID(id)
				nodeLogger.Debug().Str("cluster_id", sc.Cluster.ID).Msg("Marked interrupted node errored")
			}
		}
		if err := store.CompareAndSwapClusterTask(sc.Cluster.ID, sc.Cluster.Task, types.ClusterTaskNone); err != nil {
			return fmt.Errorf("failed to release cluster %s: %w", sc.Cluster.ID, err)
		}
		clusterLogger := log.WithClusterID(sc.Cluster.ID)
		clusterLogger.Info().Str("task", string(sc.Cluster.Task)).Msg("Released interrupted cluster")
	}
	return nil
}

// RecoverInterrupted releases clusters left claimed by a previous process.
// It must run before the Manager accepts actions.
func (m *Manager) RecoverInterrupted() ([]StaleCluster, error) {
	stale, err := FindStale(m.store)
	if err != nil {
		return nil, err
	}
	for _, sc := range stale {
		m.logger.Warn().
			Str("cluster_id", sc.Cluster.ID).
			Str("task", string(sc.Cluster.Task)).
			Int("building_nodes", len(sc.Building)).
			Msg("Releasing cluster claimed by an interrupted action")
	}
	if err := ReleaseStale(m.store, stale, m.cfg.UpdateStatusOnFail); err != nil {
		return nil, err
	}
	if m.cfg.UpdateStatusOnFail {
		for _, sc := range stale {
			for _, id := range sc.Building {
				metrics.NodesErroredTotal.Inc()
				m.publish(events.EventNodeErrored, sc.Cluster.ID, id, "", string(types.InstanceTaskBuildingErrorServer))
			}
		}
	}
	return stale, nil
}
