package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

const resourceFile = `apiVersion: burrow/v1
kind: Cluster
metadata:
  name: orders
spec:
  datastore: cassandra
  version: "3.11"
  nodes:
    - role: seed
      flavor: m1.large
      volume_size: 10
      address: 10.0.0.1
      agent_addr: 10.0.0.1:7000
    - role: data
      flavor: m1.large
      volume_size: 10
      address: 10.0.0.2
---
apiVersion: burrow/v1
kind: Node
metadata:
  name: orders-member-3
spec:
  cluster: c1
  role: data
  flavor: m1.large
  volume_size: 10
  address: 10.0.0.3
`

func TestDecodeResources(t *testing.T) {
	resources, err := decodeResources(strings.NewReader(resourceFile))
	require.NoError(t, err)
	require.Len(t, resources, 2)

	req, err := clusterRequest(&resources[0])
	require.NoError(t, err)
	assert.Equal(t, "orders", req.Name)
	assert.Equal(t, "cassandra", req.Datastore)
	assert.Equal(t, "3.11", req.DatastoreVersion)
	require.Len(t, req.Nodes, 2)
	assert.Equal(t, types.RoleSeed, req.Nodes[0].Role)
	assert.Equal(t, "m1.large", req.Nodes[0].FlavorID)
	assert.Equal(t, 10, req.Nodes[0].VolumeSize)
	assert.Equal(t, "10.0.0.1:7000", req.Nodes[0].AgentAddr)

	clusterID, nodeReq, err := nodeRequest(&resources[1])
	require.NoError(t, err)
	assert.Equal(t, "c1", clusterID)
	assert.Equal(t, "orders-member-3", nodeReq.Name)
	assert.Equal(t, types.RoleData, nodeReq.Role)
	assert.Equal(t, "10.0.0.3", nodeReq.Address)
}

func TestNodeRequestRequiresCluster(t *testing.T) {
	resources, err := decodeResources(strings.NewReader(`kind: Node
spec:
  role: data
  address: 10.0.0.3
`))
	require.NoError(t, err)
	require.Len(t, resources, 1)

	_, _, err = nodeRequest(&resources[0])
	assert.Error(t, err)
}

func TestDecodeResourcesInvalid(t *testing.T) {
	_, err := decodeResources(strings.NewReader("kind: [unterminated"))
	assert.Error(t, err)

	resources, err := decodeResources(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, resources)
}
