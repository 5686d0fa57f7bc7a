package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/taskmanager"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register clusters and nodes from a resource file",
	Long: `Register provisioned clusters and nodes from a YAML file.

A file holds one or more documents separated by ---.

Examples:
  # Register a cluster with its initial members
  burrow register -f cluster.yaml

  # cluster.yaml
  apiVersion: burrow/v1
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
      - role: data
        flavor: m1.large
        volume_size: 10
        address: 10.0.0.2

  # Register a node to add later with add-data-node or add-seed-node
  apiVersion: burrow/v1
  kind: Node
  metadata:
    name: orders-member-4
  spec:
    cluster: 6f1c...
    role: data
    flavor: m1.large
    volume_size: 10
    address: 10.0.0.4`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringP("file", "f", "", "YAML file to register (required)")
	_ = registerCmd.MarkFlagRequired("file")
}

// Resource is one document of a resource file
type Resource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       yaml.Node        `yaml:"spec"`
}

type ResourceMetadata struct {
	Name string `yaml:"name"`
}

// nodeSpec is the spec of a Node resource
type nodeSpec struct {
	Cluster string `yaml:"cluster"`

	taskmanager.NodeRequest `yaml:",inline"`
}

// decodeResources reads every document of a resource file
func decodeResources(r io.Reader) ([]Resource, error) {
	var resources []Resource
	dec := yaml.NewDecoder(r)
	for {
		var res Resource
		err := dec.Decode(&res)
		if errors.Is(err, io.EOF) {
			return resources, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %v", err)
		}
		resources = append(resources, res)
	}
}

func runRegister(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()

	resources, err := decodeResources(f)
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		return fmt.Errorf("no resources in %s", filename)
	}

	c, err := connect(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	for i := range resources {
		if err := registerResource(c, &resources[i]); err != nil {
			return err
		}
	}
	return nil
}

func registerResource(c *client.Client, res *Resource) error {
	switch res.Kind {
	case "Cluster":
		return registerCluster(c, res)
	case "Node":
		return registerNode(c, res)
	default:
		return fmt.Errorf("unsupported resource kind: %s", res.Kind)
	}
}

func clusterRequest(res *Resource) (taskmanager.ClusterRequest, error) {
	var req taskmanager.ClusterRequest
	if err := res.Spec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid cluster spec: %v", err)
	}
	if req.Name == "" {
		req.Name = res.Metadata.Name
	}
	return req, nil
}

func registerCluster(c *client.Client, res *Resource) error {
	req, err := clusterRequest(res)
	if err != nil {
		return err
	}

	fmt.Printf("Registering cluster: %s\n", req.Name)
	view, err := c.RegisterCluster(req)
	if err != nil {
		return fmt.Errorf("failed to register cluster: %v", err)
	}

	fmt.Printf("✓ Cluster registered: %s (ID: %s)\n", view.Cluster.Name, view.Cluster.ID)
	for _, nv := range view.Nodes {
		fmt.Printf("  %s  %-5s %s\n", nv.Node.ID, nv.Node.Role, nv.Node.Address)
	}
	return nil
}

func nodeRequest(res *Resource) (string, taskmanager.NodeRequest, error) {
	var spec nodeSpec
	if err := res.Spec.Decode(&spec); err != nil {
		return "", spec.NodeRequest, fmt.Errorf("invalid node spec: %v", err)
	}
	if spec.Cluster == "" {
		return "", spec.NodeRequest, fmt.Errorf("node spec requires a cluster")
	}
	if spec.Name == "" {
		spec.Name = res.Metadata.Name
	}
	return spec.Cluster, spec.NodeRequest, nil
}

func registerNode(c *client.Client, res *Resource) error {
	clusterID, req, err := nodeRequest(res)
	if err != nil {
		return err
	}

	fmt.Printf("Registering node: %s\n", req.Name)
	n, err := c.RegisterNode(clusterID, req)
	if err != nil {
		return fmt.Errorf("failed to register node: %v", err)
	}

	fmt.Printf("✓ Node registered: %s (ID: %s, role %s)\n", n.Name, n.ID, n.Role)
	return nil
}
