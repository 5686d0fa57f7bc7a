package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestClusterRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateCluster(&types.Cluster{ID: "c1", Name: "ring", Manager: "cassandra"}))

	cluster, err := store.GetCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, "ring", cluster.Name)
	assert.Equal(t, types.ClusterTaskNone, cluster.Task)
	assert.False(t, cluster.CreatedAt.IsZero())

	clusters, err := store.ListClusters()
	require.NoError(t, err)
	assert.Len(t, clusters, 1)

	require.NoError(t, store.DeleteCluster("c1"))
	_, err = store.GetCluster("c1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCompareAndSwapClusterTask(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateCluster(&types.Cluster{ID: "c1"}))

	err := store.CompareAndSwapClusterTask("c1", types.ClusterTaskNone, types.ClusterTaskBuildingInitial)
	require.NoError(t, err)

	err = store.CompareAndSwapClusterTask("c1", types.ClusterTaskNone, types.ClusterTaskAddingSeedNode)
	var conflict *TaskConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, types.ClusterTaskBuildingInitial, conflict.Current)

	require.NoError(t, store.SetClusterTask("c1", types.ClusterTaskNone))
	cluster, err := store.GetCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, types.ClusterTaskNone, cluster.Task)

	err = store.CompareAndSwapClusterTask("missing", types.ClusterTaskNone, types.ClusterTaskDeleting)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListNodesByClusterOrder(t *testing.T) {
	store := newTestStore(t)
	base := time.Now()

	nodes := []*types.Node{
		{ID: "b", ClusterID: "c1", CreatedAt: base.Add(2 * time.Second)},
		{ID: "a", ClusterID: "c1", CreatedAt: base},
		{ID: "z", ClusterID: "c2", CreatedAt: base},
		{ID: "c", ClusterID: "c1", CreatedAt: base},
	}
	for _, n := range nodes {
		require.NoError(t, store.CreateNode(n))
	}

	members, err := store.ListNodesByCluster("c1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "a", members[0].ID)
	assert.Equal(t, "c", members[1].ID)
	assert.Equal(t, "b", members[2].ID)
}

func TestSetNodeTask(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", ClusterID: "c1"}))

	node, err := store.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceTaskNone, node.Task)

	require.NoError(t, store.SetNodeTask("n1", types.InstanceTaskBuildingErrorServer))
	node, err = store.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceTaskBuildingErrorServer, node.Task)
}

func TestServiceStatus(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetServiceStatus("n1")
	assert.True(t, errors.Is(err, ErrNotFound))

	record, err := types.ServiceStatuses().Record("n1", types.StatusRunning)
	require.NoError(t, err)
	require.NoError(t, store.PutServiceStatus(record))

	got, err := store.GetServiceStatus("n1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)
	assert.Equal(t, "running", got.Description)

	assert.Error(t, store.PutServiceStatus(&types.ServiceStatusRecord{}))

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1"}))
	require.NoError(t, store.DeleteNode("n1"))
	_, err = store.GetServiceStatus("n1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBackup(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateCluster(&types.Cluster{ID: "c1", Name: "ring"}))

	dir := t.TempDir()
	require.NoError(t, store.Backup(filepath.Join(dir, DBFileName)))

	copied, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer copied.Close()

	cluster, err := copied.GetCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, "ring", cluster.Name)
}
