package agent

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// GRPCClient implements Client over a gRPC connection to one agent
type GRPCClient struct {
	conn *grpc.ClientConn
	addr string
}

// NewGRPCClient wraps an established connection
func NewGRPCClient(conn *grpc.ClientConn) *GRPCClient {
	return &GRPCClient{conn: conn, addr: conn.Target()}
}

func (c *GRPCClient) invoke(ctx context.Context, method string, timeout time.Duration, in, out proto.Message) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return &CallError{Addr: c.addr, Method: method, Err: err}
	}
	return nil
}

func (c *GRPCClient) Install(ctx context.Context, config []byte, timeout time.Duration) error {
	return c.invoke(ctx, methodInstall, timeout, wrapperspb.Bytes(config), &emptypb.Empty{})
}

func (c *GRPCClient) Start(ctx context.Context, config []byte, timeout time.Duration) error {
	return c.invoke(ctx, methodStart, timeout, wrapperspb.Bytes(config), &emptypb.Empty{})
}

func (c *GRPCClient) Stop(ctx context.Context, timeout time.Duration) error {
	return c.invoke(ctx, methodStop, timeout, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *GRPCClient) Restart(ctx context.Context, timeout time.Duration) error {
	return c.invoke(ctx, methodRestart, timeout, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *GRPCClient) GetConfig(ctx context.Context, timeout time.Duration) ([]byte, error) {
	out := &wrapperspb.BytesValue{}
	if err := c.invoke(ctx, methodGetConfig, timeout, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (c *GRPCClient) ApplyConfig(ctx context.Context, config []byte, timeout time.Duration) error {
	return c.invoke(ctx, methodApplyConfig, timeout, wrapperspb.Bytes(config), &emptypb.Empty{})
}

func (c *GRPCClient) SetupIdentity(ctx context.Context, timeout time.Duration) (string, error) {
	out := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, methodSetupIdentity, timeout, &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *GRPCClient) ResetLocalState(ctx context.Context, timeout time.Duration) error {
	return c.invoke(ctx, methodResetLocalState, timeout, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *GRPCClient) VerifyPeers(ctx context.Context, expected []string, timeout time.Duration) (string, error) {
	values := make([]*structpb.Value, 0, len(expected))
	for _, addr := range expected {
		values = append(values, structpb.NewStringValue(addr))
	}
	out := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, methodVerifyPeers, timeout, &structpb.ListValue{Values: values}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *GRPCClient) ClusterComplete(ctx context.Context, timeout time.Duration) error {
	return c.invoke(ctx, methodClusterComplete, timeout, &emptypb.Empty{}, &emptypb.Empty{})
}

// UnaryClientInterceptor records the duration and outcome of every agent call
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	logger := log.WithComponent("agent")
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		timer := metrics.NewTimer()
		err := invoker(ctx, method, req, reply, cc, opts...)

		name := method[strings.LastIndex(method, "/")+1:]
		code := status.Code(err)
		timer.ObserveDurationVec(metrics.AgentCallDuration, name, code.String())

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("target", cc.Target()).
			Str("method", name).
			Str("code", code.String()).
			Dur("duration", timer.Duration()).
			Msg("Agent call finished")
		return err
	}
}
