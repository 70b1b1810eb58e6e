package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tranor/tranor/pkg/logger"
)

// LoggingUnaryInterceptor logs one line per unary RPC. Health probes log at
// debug so orchestrator checks do not flood the output.
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Global()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		logCall(ctx, log, "grpc request", info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// LoggingStreamInterceptor logs the stream lifecycle.
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = logger.Global()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()

		err := handler(srv, ss)

		logCall(ss.Context(), log, "grpc stream", info.FullMethod, err, time.Since(start))
		return err
	}
}

func logCall(ctx context.Context, log logger.Logger, msg, method string, err error, elapsed time.Duration) {
	code := codes.OK
	if err != nil {
		code = status.Code(err)
	}
	requestID, _ := requestIDFromContext(ctx)

	logFn := log.InfoContext
	if isHealthMethod(method) {
		logFn = log.DebugContext
	}
	logFn(ctx, msg,
		"method", method,
		"code", code.String(),
		"duration_ms", elapsed.Milliseconds(),
		"request_id", requestID,
	)
}
