package api

import (
	"context"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// LoggingInterceptor records request metrics and logs every call
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()

		resp, err := handler(ctx, req)

		code := status.Code(err)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, code.String()).Inc()

		if err != nil {
			logger.Warn().Err(err).Str("method", method).Str("code", code.String()).Msg("API request failed")
		} else {
			logger.Debug().Str("method", method).Dur("duration", timer.Duration()).Msg("API request")
		}
		return resp, err
	}
}

// RateLimitInterceptor rejects requests beyond the limiter's budget
func RateLimitInterceptor(limiter *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !limiter.Allow() {
			log.Warn("Rate limit exceeded for " + methodName(info.FullMethod))
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows read-only operations.
// This is used for the Unix socket listener so local tooling can inspect clusters
// without being able to start actions.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations not allowed on Unix socket - use the TCP API address (burrow --api <addr>)",
			)
		}
		return handler(ctx, req)
	}
}

// methodName extracts the method from a full path
// (e.g., "/burrow.taskmanager.v1.TaskManager/GetCluster" -> "GetCluster")
func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(method string) bool {
	name := methodName(method)
	if name == "" {
		return false
	}

	readOnlyPrefixes := []string{
		"Get",
		"List",
		"Describe",
	}
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	// Default: block
	return false
}
