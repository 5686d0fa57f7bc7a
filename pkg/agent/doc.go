/*
Package agent is the control plane's client for the agents running on
datastore nodes.

Every call is synchronous and takes an explicit timeout chosen by the caller
from Timeouts, so a slow or unreachable agent fails its call instead of
holding a workflow until the outer action deadline.

The wire protocol is the gRPC service burrow.agent.v1.Agent. Its messages are
protobuf well-known types (BytesValue for configuration documents,
StringValue for identities and verification results, ListValue for address
lists, Empty elsewhere), so the service descriptor is declared directly in
service.go. Node-side agents implement Backend and call RegisterServer.

	pool := agent.NewPool()
	defer pool.Close()

	client, err := pool.Dial(ctx, "10.0.0.5:7070")
	if err != nil {
		return err
	}
	if err := client.Restart(ctx, timeouts.Default); err != nil {
		return err
	}
*/
package agent
