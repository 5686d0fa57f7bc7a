package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Collector periodically refreshes the cluster and node gauges from the store
type Collector struct {
	store    storage.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes the gauges once
func (c *Collector) Collect() {
	clusters, err := c.store.ListClusters()
	if err != nil {
		UpdateComponent("collector", false, err.Error())
		return
	}

	byTask := map[types.ClusterTask]int{
		types.ClusterTaskNone:            0,
		types.ClusterTaskBuildingInitial: 0,
		types.ClusterTaskAddingDataNode:  0,
		types.ClusterTaskAddingSeedNode:  0,
		types.ClusterTaskDeleting:        0,
	}
	type nodeKey struct {
		role types.NodeRole
		task types.InstanceTask
	}
	byNode := make(map[nodeKey]int)

	for _, cluster := range clusters {
		byTask[cluster.Task]++

		nodes, err := c.store.ListNodesByCluster(cluster.ID)
		if err != nil {
			UpdateComponent("collector", false, err.Error())
			return
		}
		for _, n := range nodes {
			byNode[nodeKey{n.Role, n.Task}]++
		}
	}

	for task, count := range byTask {
		ClustersTotal.WithLabelValues(string(task)).Set(float64(count))
	}
	NodesTotal.Reset()
	for key, count := range byNode {
		NodesTotal.WithLabelValues(string(key.role), string(key.task)).Set(float64(count))
	}

	UpdateComponent("collector", true, "")
}
