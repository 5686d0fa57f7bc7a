package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/poll"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

// Cluster commands
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage datastore clusters",
}

var clusterCreateCmd = &cobra.Command{
	Use:   "create CLUSTER_ID",
	Short: "Assemble a registered cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, func(c *client.Client) (api.ActionInfo, error) {
			return c.CreateCluster(args[0])
		})
	},
}

var clusterAddDataNodeCmd = &cobra.Command{
	Use:   "add-data-node CLUSTER_ID NODE_ID",
	Short: "Join a registered data node to a running cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, func(c *client.Client) (api.ActionInfo, error) {
			return c.AddDataNode(args[0], args[1])
		})
	},
}

var clusterAddSeedNodeCmd = &cobra.Command{
	Use:   "add-seed-node CLUSTER_ID NODE_ID",
	Short: "Join a registered seed node to a running cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, func(c *client.Client) (api.ActionInfo, error) {
			return c.AddSeedNode(args[0], args[1])
		})
	},
}

var clusterShowCmd = &cobra.Command{
	Use:   "show CLUSTER_ID",
	Short: "Show a cluster and its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		view, err := c.GetCluster(args[0])
		if err != nil {
			return fmt.Errorf("failed to get cluster: %v", err)
		}
		printCluster(view)
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterCreateCmd)
	clusterCmd.AddCommand(clusterAddDataNodeCmd)
	clusterCmd.AddCommand(clusterAddSeedNodeCmd)
	clusterCmd.AddCommand(clusterShowCmd)

	for _, cmd := range []*cobra.Command{clusterCreateCmd, clusterAddDataNodeCmd, clusterAddSeedNodeCmd} {
		cmd.Flags().Bool("wait", false, "Wait until the cluster task is released")
		cmd.Flags().Duration("wait-timeout", time.Hour, "Maximum time to wait")
		cmd.Flags().Duration("wait-interval", 5*time.Second, "Time between progress checks")
	}
}

func connect(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("api")
	c, err := client.NewClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to task manager: %v", err)
	}
	return c, nil
}

func runAction(cmd *cobra.Command, start func(c *client.Client) (api.ActionInfo, error)) error {
	c, err := connect(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := start(c)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Action %s started on cluster %s (task %s)\n", info.Name, info.ClusterID, info.Task)

	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		return nil
	}
	timeout, _ := cmd.Flags().GetDuration("wait-timeout")
	interval, _ := cmd.Flags().GetDuration("wait-interval")

	view, err := poll.UntilValue(cmd.Context(),
		func() (*taskmanager.ClusterView, error) { return c.GetCluster(info.ClusterID) },
		func(v *taskmanager.ClusterView) (bool, error) { return !v.Cluster.Task.IsActive(), nil },
		interval, timeout)
	if err != nil {
		return fmt.Errorf("failed waiting for cluster: %w", err)
	}

	printCluster(view)
	for _, nv := range view.Nodes {
		if nv.Node.Task.IsError() {
			return fmt.Errorf("action %s failed: node %s is %s", info.Name, nv.Node.ID, nv.Node.Task)
		}
	}
	return nil
}

func printCluster(view *taskmanager.ClusterView) {
	c := view.Cluster
	fmt.Printf("Cluster:   %s (%s)\n", c.Name, c.ID)
	fmt.Printf("Datastore: %s %s\n", c.Datastore, c.DatastoreVersion)
	fmt.Printf("Task:      %s\n", c.Task)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tADDRESS\tTASK\tSERVER\tSERVICE")
	for _, nv := range view.Nodes {
		n := nv.Node
		service := "-"
		if nv.Status != nil {
			service = nv.Status.Description
			if info, err := types.ServiceStatuses().Lookup(nv.Status.Status); err == nil {
				service = fmt.Sprintf("%s (%s)", info.APIStatus, info.Description)
			}
		}
		role := string(n.Role)
		if n.Role == types.RoleNone {
			role = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			n.ID, n.Name, role, n.Address, n.Task, n.ServerStatus, service)
	}
	_ = w.Flush()
}
