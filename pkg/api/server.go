package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workflow"
)

// ServiceName is the fully qualified gRPC service name of the task manager
const ServiceName = "burrow.taskmanager.v1.TaskManager"

// Method names of ServiceName
const (
	MethodRegisterCluster = "RegisterCluster"
	MethodRegisterNode    = "RegisterNode"
	MethodCreateCluster   = "CreateCluster"
	MethodAddDataNode     = "AddDataNode"
	MethodAddSeedNode     = "AddSeedNode"
	MethodGetCluster      = "GetCluster"
	MethodReportStatus    = "ReportStatus"
)

// FullMethod returns the gRPC path of a method
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Manager is the task manager surface served by the API
type Manager interface {
	RegisterCluster(ctx context.Context, req taskmanager.ClusterRequest) (*taskmanager.ClusterView, error)
	RegisterNode(ctx context.Context, clusterID string, req taskmanager.NodeRequest) (*types.Node, error)
	CreateCluster(ctx context.Context, clusterID string) (*taskmanager.Action, error)
	AddDataNode(ctx context.Context, clusterID, nodeID string) (*taskmanager.Action, error)
	AddSeedNode(ctx context.Context, clusterID, nodeID string) (*taskmanager.Action, error)
	DescribeCluster(ctx context.Context, clusterID string) (*taskmanager.ClusterView, error)
	ReportStatus(ctx context.Context, nodeID string, code types.ServiceStatus) error
}

// Options configures the API server
type Options struct {
	RateLimit float64 // Requests per second across all callers, 0 disables
	Burst     int
}

// Server implements the TaskManager gRPC service
type Server struct {
	manager  Manager
	grpc     *grpc.Server
	readOnly *grpc.Server
}

// NewServer creates a new API server. The TCP listener serves every method;
// the Unix socket listener only serves reads.
func NewServer(mgr Manager, opts Options) *Server {
	interceptors := []grpc.UnaryServerInterceptor{LoggingInterceptor()}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		interceptors = append(interceptors, RateLimitInterceptor(rate.NewLimiter(rate.Limit(opts.RateLimit), burst)))
	}

	s := &Server{
		manager:  mgr,
		grpc:     grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...)),
		readOnly: grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(), ReadOnlyInterceptor())),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	s.readOnly.RegisterService(&serviceDesc, s)
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	log.Info(fmt.Sprintf("gRPC API listening on %s", addr))
	return s.Serve(lis)
}

// Serve serves the full API on lis
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// StartUnix serves the read-only API on a Unix socket at path
func (s *Server) StartUnix(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %v", err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		lis.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	log.Info(fmt.Sprintf("Read-only gRPC API listening on %s", path))
	return s.ServeReadOnly(lis)
}

// ServeReadOnly serves the read-only API on lis
func (s *Server) ServeReadOnly(lis net.Listener) error {
	return s.readOnly.Serve(lis)
}

// Stop gracefully stops both listeners
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	s.readOnly.GracefulStop()
}

func (s *Server) registerCluster(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeClusterRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	view, err := s.manager.RegisterCluster(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return EncodeClusterView(view)
}

func (s *Server) registerNode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	clusterID, err := required(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	n, err := s.manager.RegisterNode(ctx, clusterID, DecodeNodeRequest(in))
	if err != nil {
		return nil, toStatus(err)
	}
	return EncodeNode(n)
}

func (s *Server) createCluster(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	clusterID, err := required(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	action, err := s.manager.CreateCluster(ctx, clusterID)
	if err != nil {
		return nil, toStatus(err)
	}
	return EncodeAction(action)
}

func (s *Server) addNode(add func(ctx context.Context, clusterID, nodeID string) (*taskmanager.Action, error)) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		clusterID, err := required(in, "cluster_id")
		if err != nil {
			return nil, err
		}
		nodeID, err := required(in, "node_id")
		if err != nil {
			return nil, err
		}
		action, err := add(ctx, clusterID, nodeID)
		if err != nil {
			return nil, toStatus(err)
		}
		return EncodeAction(action)
	}
}

func (s *Server) getCluster(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	clusterID, err := required(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	view, err := s.manager.DescribeCluster(ctx, clusterID)
	if err != nil {
		return nil, toStatus(err)
	}
	return EncodeClusterView(view)
}

func (s *Server) reportStatus(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	nodeID, err := required(in, "node_id")
	if err != nil {
		return nil, err
	}
	code := types.ServiceStatus(num(in, "code"))
	if err := s.manager.ReportStatus(ctx, nodeID, code); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func required(in *structpb.Struct, key string) (string, error) {
	v := str(in, key)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

// toStatus maps task manager errors to gRPC codes
func toStatus(err error) error {
	var validation *workflow.ValidationError
	switch {
	case errors.As(err, &validation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, workflow.ErrUnprocessableEntity):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, workflow.ErrUnsupportedDatastore):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, taskmanager.ErrShuttingDown):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodRegisterCluster, (*Server).registerCluster),
		unaryMethod(MethodRegisterNode, (*Server).registerNode),
		unaryMethod(MethodCreateCluster, (*Server).createCluster),
		unaryMethod(MethodAddDataNode, func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return s.addNode(s.manager.AddDataNode)(ctx, in)
		}),
		unaryMethod(MethodAddSeedNode, func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return s.addNode(s.manager.AddSeedNode)(ctx, in)
		}),
		unaryMethod(MethodGetCluster, (*Server).getCluster),
		unaryMethod(MethodReportStatus, (*Server).reportStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "burrow/taskmanager/v1/taskmanager.proto",
}

// unaryMethod adapts a typed server method to a grpc.MethodDesc
func unaryMethod[Req, Resp any](name string, call func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
