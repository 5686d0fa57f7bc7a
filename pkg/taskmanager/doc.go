/*
Package taskmanager starts and supervises cluster actions.

A cluster runs at most one action at a time. The Manager claims a cluster by
moving its task from NONE to the action's task with a compare-and-swap on the
store; a second request while the task is set fails with
workflow.ErrUnprocessableEntity naming the current task. Each claimed action
runs on its own goroutine under workflow.RunGuarded, which bounds it with a
deadline and puts the task back to NONE however the action ends.

	mgr := taskmanager.NewManager(store, registry, broker, taskmanager.Config{
		ActionTimeout:      settings.ActionTimeout,
		UpdateStatusOnFail: settings.UpdateStatusOnFail,
	})

	action, err := mgr.CreateCluster(ctx, clusterID)
	if err != nil {
		return err // validation failure or cluster busy
	}
	<-action.Done()

When an action fails and UpdateStatusOnFail is set, the affected nodes are
marked BUILDING_ERROR_SERVER: every member for a cluster create, only the new
member for an addition. Lifecycle events are published on the broker.

The Manager also owns cluster registration, lookups and agent status reports,
which the API server exposes.
*/
package taskmanager
