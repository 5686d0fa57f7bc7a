/*
Package client is the Go client of the burrow task manager API, used by the
burrow CLI.

	c, err := client.NewClient("127.0.0.1:8080")
	if err != nil {
		return err
	}
	defer c.Close()

	action, err := c.CreateCluster(clusterID)

Action methods return as soon as the task manager has claimed the cluster;
poll GetCluster to follow progress. Errors are gRPC status errors: a busy
cluster is FailedPrecondition, a rejected request InvalidArgument, an unknown
cluster or node NotFound.
*/
package client
