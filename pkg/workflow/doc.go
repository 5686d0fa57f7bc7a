/*
Package workflow implements the multi-step cluster actions of the control
plane and the guard every action runs under.

A ClusterWorkflow is registered per datastore manager in a Registry built
once at startup. The Cassandra workflow assembles seed/data clusters:

	create:    server check -> readiness -> seeds one by one -> data nodes one
	           by one -> identity setup per node -> readiness -> peer check
	add node:  server check -> readiness -> copy a live member's config ->
	           apply, reboot, identity setup -> (seed only) push the new seed
	           list to each data node -> peer check -> reset local state

Each step that restarts a datastore waits for that node alone to report
ready before the next command, so a bad configuration stops the action at
the first node it breaks.

RunGuarded wraps an action with a hard deadline, panic capture, failure and
recovery callbacks, and an unconditional release of the cluster task:

	err := workflow.RunGuarded(ctx, workflow.GuardOptions{
		Action:    "create_cluster",
		ClusterID: id,
		Datastore: "cassandra",
		Timeout:   settings.ActionTimeout(len(nodes)),
		Reset:     func(ctx context.Context) error { return store.CompareAndSwapClusterTask(id, types.ClusterTaskBuildingInitial, types.ClusterTaskNone) },
		OnFailure: markErrored,
	}, func(ctx context.Context) error {
		return wf.Create(ctx, id)
	})

Expiry of the guard's own deadline is logged and not returned; every other
failure is returned as *ClusterActionError.
*/
package workflow
