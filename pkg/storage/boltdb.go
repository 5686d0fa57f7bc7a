package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// DBFileName is the database file inside the data directory
const DBFileName = "burrow.db"

var (
	// Bucket names
	bucketClusters = []byte("clusters")
	bucketNodes    = []byte("nodes")
	bucketStatuses = []byte("service_statuses")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketClusters, bucketNodes, bucketStatuses} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Backup writes a consistent copy of the database to path
func (s *BoltStore) Backup(path string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
}

func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket []byte, kind, key string, v interface{}) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

// Cluster operations
func (s *BoltStore) CreateCluster(cluster *types.Cluster) error {
	now := time.Now()
	if cluster.CreatedAt.IsZero() {
		cluster.CreatedAt = now
	}
	if cluster.Task == "" {
		cluster.Task = types.ClusterTaskNone
	}
	cluster.UpdatedAt = now
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketClusters, cluster.ID, cluster)
	})
}

func (s *BoltStore) GetCluster(id string) (*types.Cluster, error) {
	var cluster types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketClusters, "cluster", id, &cluster)
	})
	if err != nil {
		return nil, err
	}
	return &cluster, nil
}

func (s *BoltStore) ListClusters() ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusters).ForEach(func(k, v []byte) error {
			var cluster types.Cluster
			if err := json.Unmarshal(v, &cluster); err != nil {
				return err
			}
			clusters = append(clusters, &cluster)
			return nil
		})
	})
	return clusters, err
}

func (s *BoltStore) UpdateCluster(cluster *types.Cluster) error {
	cluster.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketClusters, cluster.ID, cluster)
	})
}

func (s *BoltStore) DeleteCluster(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusters).Delete([]byte(id))
	})
}

// CompareAndSwapClusterTask moves the cluster task from one value to another in a
// single write transaction
func (s *BoltStore) CompareAndSwapClusterTask(id string, from, to types.ClusterTask) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var cluster types.Cluster
		if err := get(tx, bucketClusters, "cluster", id, &cluster); err != nil {
			return err
		}
		if cluster.Task != from {
			return &TaskConflictError{ClusterID: id, Current: cluster.Task}
		}
		cluster.Task = to
		cluster.UpdatedAt = time.Now()
		return put(tx, bucketClusters, id, &cluster)
	})
}

func (s *BoltStore) SetClusterTask(id string, task types.ClusterTask) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var cluster types.Cluster
		if err := get(tx, bucketClusters, "cluster", id, &cluster); err != nil {
			return err
		}
		cluster.Task = task
		cluster.UpdatedAt = time.Now()
		return put(tx, bucketClusters, id, &cluster)
	})
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	now := time.Now()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	if node.Task == "" {
		node.Task = types.InstanceTaskNone
	}
	node.UpdatedAt = now
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketNodes, node.ID, node)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketNodes, "node", id, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// ListNodesByCluster returns the members of a cluster in creation order
func (s *BoltStore) ListNodesByCluster(clusterID string) ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			if node.ClusterID == clusterID {
				nodes = append(nodes, &node)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes, nil
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	node.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketNodes, node.ID, node)
	})
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketStatuses).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

func (s *BoltStore) SetNodeTask(id string, task types.InstanceTask) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var node types.Node
		if err := get(tx, bucketNodes, "node", id, &node); err != nil {
			return err
		}
		node.Task = task
		node.UpdatedAt = time.Now()
		return put(tx, bucketNodes, id, &node)
	})
}

// Service status operations
func (s *BoltStore) GetServiceStatus(nodeID string) (*types.ServiceStatusRecord, error) {
	var record types.ServiceStatusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketStatuses, "service status", nodeID, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) PutServiceStatus(record *types.ServiceStatusRecord) error {
	if record.NodeID == "" {
		return errors.New("service status requires a node id")
	}
	record.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketStatuses, record.NodeID, record)
	})
}
