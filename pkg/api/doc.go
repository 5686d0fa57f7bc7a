/*
Package api implements the burrow task manager gRPC API and the HTTP health
server.

The service is burrow.taskmanager.v1.TaskManager. Its messages are
google.protobuf.Struct values, so the service descriptor is written by hand
and no generated code is needed. Encode* and Decode* in codec.go are the only
code that knows the field names; pkg/client uses the same helpers.

# Methods

	RegisterCluster  store a cluster and its provisioned nodes
	RegisterNode     store a provisioned node for an existing cluster
	CreateCluster    start assembling a registered cluster
	AddDataNode      start joining a data node
	AddSeedNode      start joining a seed node
	GetCluster       cluster, members and their last reported status
	ReportStatus     agents report the datastore status of their node

Action methods return once the task manager has claimed the cluster; the
action keeps running in the background.

# Listeners

	TCP (BURROW_API_ADDR)      every method, rate limited
	Unix (BURROW_API_SOCKET)   Get*, List* and Describe* only

Every call passes through LoggingInterceptor, which records
burrow_api_requests_total and burrow_api_request_duration_seconds.

# Errors

	ValidationError, unsupported datastore   InvalidArgument
	cluster busy (ErrUnprocessableEntity)    FailedPrecondition
	storage.ErrNotFound                      NotFound
	task manager shutting down               Unavailable
	rate limit                               ResourceExhausted
	write on the Unix socket                 PermissionDenied

# Health

HealthServer serves /health, /ready, /live and /metrics. /ready probes the
store on every request and reports ready once storage, taskmanager and api
are healthy.
*/
package api
