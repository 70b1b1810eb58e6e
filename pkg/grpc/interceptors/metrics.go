package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// MetricsRecorder receives gRPC call observations.
type MetricsRecorder interface {
	RecordGRPCRequest(method, code string, duration time.Duration)
	RecordGRPCMessageSize(direction string, bytes int)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordGRPCRequest(string, string, time.Duration) {}
func (nopMetricsRecorder) RecordGRPCMessageSize(string, int)               {}

// MetricsUnaryInterceptor records call counts, durations and the wire size
// of request and response messages.
func MetricsUnaryInterceptor(rec MetricsRecorder) grpc.UnaryServerInterceptor {
	if rec == nil {
		rec = nopMetricsRecorder{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		observeMessageSize(rec, "received", req)

		resp, err := handler(ctx, req)

		rec.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
		observeMessageSize(rec, "sent", resp)
		return resp, err
	}
}

// MetricsStreamInterceptor records stream durations and per-message sizes.
func MetricsStreamInterceptor(rec MetricsRecorder) grpc.StreamServerInterceptor {
	if rec == nil {
		rec = nopMetricsRecorder{}
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		wrapped := &metricsServerStream{ServerStream: ss, rec: rec}

		err := handler(srv, wrapped)

		rec.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
		return err
	}
}

type metricsServerStream struct {
	grpc.ServerStream
	rec MetricsRecorder
}

func (s *metricsServerStream) RecvMsg(m any) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	observeMessageSize(s.rec, "received", m)
	return nil
}

func (s *metricsServerStream) SendMsg(m any) error {
	if err := s.ServerStream.SendMsg(m); err != nil {
		return err
	}
	observeMessageSize(s.rec, "sent", m)
	return nil
}

func observeMessageSize(rec MetricsRecorder, direction string, msg any) {
	pm, ok := msg.(proto.Message)
	if !ok {
		return
	}
	rec.RecordGRPCMessageSize(direction, proto.Size(pm))
}
