package agent

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name served by agents
const ServiceName = "burrow.agent.v1.Agent"

const (
	methodInstall         = "Install"
	methodStart           = "Start"
	methodStop            = "Stop"
	methodRestart         = "Restart"
	methodGetConfig       = "GetConfig"
	methodApplyConfig     = "ApplyConfig"
	methodSetupIdentity   = "SetupIdentity"
	methodResetLocalState = "ResetLocalState"
	methodVerifyPeers     = "VerifyPeers"
	methodClusterComplete = "ClusterComplete"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Backend is implemented by the node-side agent. It mirrors Client without
// the per-call timeouts, which are carried by the request deadline.
type Backend interface {
	Install(ctx context.Context, config []byte) error
	Start(ctx context.Context, config []byte) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	GetConfig(ctx context.Context) ([]byte, error)
	ApplyConfig(ctx context.Context, config []byte) error
	SetupIdentity(ctx context.Context) (string, error)
	ResetLocalState(ctx context.Context) error
	VerifyPeers(ctx context.Context, expected []string) (string, error)
	ClusterComplete(ctx context.Context) error
}

// RegisterServer exposes backend on s under ServiceName
func RegisterServer(s grpc.ServiceRegistrar, backend Backend) {
	s.RegisterService(&serviceDesc, backend)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Backend)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(methodInstall, func(b Backend, ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
			return &emptypb.Empty{}, b.Install(ctx, in.GetValue())
		}),
		unaryMethod(methodStart, func(b Backend, ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
			return &emptypb.Empty{}, b.Start(ctx, in.GetValue())
		}),
		unaryMethod(methodStop, func(b Backend, ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			return &emptypb.Empty{}, b.Stop(ctx)
		}),
		unaryMethod(methodRestart, func(b Backend, ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			return &emptypb.Empty{}, b.Restart(ctx)
		}),
		unaryMethod(methodGetConfig, func(b Backend, ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
			config, err := b.GetConfig(ctx)
			if err != nil {
				return nil, err
			}
			return wrapperspb.Bytes(config), nil
		}),
		unaryMethod(methodApplyConfig, func(b Backend, ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
			return &emptypb.Empty{}, b.ApplyConfig(ctx, in.GetValue())
		}),
		unaryMethod(methodSetupIdentity, func(b Backend, ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
			token, err := b.SetupIdentity(ctx)
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(token), nil
		}),
		unaryMethod(methodResetLocalState, func(b Backend, ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			return &emptypb.Empty{}, b.ResetLocalState(ctx)
		}),
		unaryMethod(methodVerifyPeers, func(b Backend, ctx context.Context, in *structpb.ListValue) (*wrapperspb.StringValue, error) {
			expected := make([]string, 0, len(in.GetValues()))
			for _, v := range in.GetValues() {
				expected = append(expected, v.GetStringValue())
			}
			result, err := b.VerifyPeers(ctx, expected)
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(result), nil
		}),
		unaryMethod(methodClusterComplete, func(b Backend, ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			return &emptypb.Empty{}, b.ClusterComplete(ctx)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "burrow/agent/v1/agent.proto",
}

// unaryMethod adapts a typed backend call to a grpc.MethodDesc
func unaryMethod[Req, Resp any](name string, call func(Backend, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			backend := srv.(Backend)
			if interceptor == nil {
				return call(backend, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(backend, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
