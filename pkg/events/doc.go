/*
Package events distributes cluster lifecycle events in process.

The task manager publishes an event when an action starts, completes, fails,
times out or is rejected, and for every node it marks errored. Subscribers
receive events on buffered channels:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Println(event.Type, event.ClusterID, event.Message)
	}

Delivery is best effort. Publish never blocks the workflow that emits the
event.
*/
package events
