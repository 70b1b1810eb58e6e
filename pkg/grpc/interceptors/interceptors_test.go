package interceptors

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/tranor/tranor/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.New(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: "json",
		Output: "stdout",
	})
}

type testServerStream struct {
	ctx      context.Context
	recvMsgs []proto.Message
	sendErr  error
}

func (t *testServerStream) Context() context.Context        { return t.ctx }
func (t *testServerStream) SetHeader(md metadata.MD) error  { return nil }
func (t *testServerStream) SendHeader(md metadata.MD) error { return nil }
func (t *testServerStream) SetTrailer(md metadata.MD)       {}

func (t *testServerStream) SendMsg(m any) error {
	return t.sendErr
}

func (t *testServerStream) RecvMsg(m any) error {
	if len(t.recvMsgs) == 0 {
		return io.EOF
	}
	next := t.recvMsgs[0]
	t.recvMsgs = t.recvMsgs[1:]
	if dst, ok := m.(proto.Message); ok {
		proto.Merge(dst, next)
	}
	return nil
}

type recordedCall struct {
	method string
	code   string
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedCall
	sizes    map[string][]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{sizes: make(map[string][]int)}
}

func (f *fakeRecorder) RecordGRPCRequest(method, code string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedCall{method: method, code: code})
}

func (f *fakeRecorder) RecordGRPCMessageSize(direction string, bytes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[direction] = append(f.sizes[direction], bytes)
}

func TestRecoveryUnaryInterceptor_Panic(t *testing.T) {
	interceptor := RecoveryUnaryInterceptor(testLogger())
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
}

func TestRecoveryStreamInterceptor_Panic(t *testing.T) {
	interceptor := RecoveryStreamInterceptor(testLogger())
	stream := &testServerStream{ctx: context.Background()}
	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/stream"}, func(srv any, ss grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
}

func TestRequestIDUnaryInterceptor_Generates(t *testing.T) {
	interceptor := RequestIDUnaryInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{})
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		if id, ok := requestIDFromContext(ctx); !ok || id == "" {
			t.Fatal("request id not set in context")
		}
		md, ok := metadata.FromOutgoingContext(ctx)
		if !ok || len(md.Get(RequestIDKey)) == 0 {
			t.Fatal("request id not in outgoing metadata")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestIDUnaryInterceptor_PropagatesExisting(t *testing.T) {
	interceptor := RequestIDUnaryInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDKey, "req-42"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		if id, _ := requestIDFromContext(ctx); id != "req-42" {
			t.Fatalf("expected req-42, got %q", id)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRateLimitUnaryInterceptor_Exceeded(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	interceptor := RateLimitUnaryInterceptor(rl)
	ctx := context.Background()

	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", status.Code(err))
	}
}

func TestRateLimitUnaryInterceptor_HealthBypass(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	interceptor := RateLimitUnaryInterceptor(rl)
	ctx := context.Background()

	// Exhaust the budget for this client.
	_, _ = interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})

	for i := 0; i < 2; i++ {
		_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, func(ctx context.Context, req any) (any, error) {
			return nil, nil
		})
		if err != nil {
			t.Fatalf("health check should bypass rate limit, got %v", err)
		}
	}
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(testLogger())
	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("expected handler response passthrough, got %v", resp)
	}
}

func TestMetricsUnaryInterceptor_Records(t *testing.T) {
	rec := newFakeRecorder()
	interceptor := MetricsUnaryInterceptor(rec)

	req := &grpc_health_v1.HealthCheckRequest{Service: "tranor"}
	_, err := interceptor(context.Background(), req, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.requests) != 1 {
		t.Fatalf("expected 1 recorded request, got %d", len(rec.requests))
	}
	if rec.requests[0].method != "/svc/m" || rec.requests[0].code != "OK" {
		t.Fatalf("unexpected request record: %+v", rec.requests[0])
	}

	if got := rec.sizes["received"]; len(got) != 1 || got[0] != proto.Size(req) {
		t.Fatalf("unexpected received sizes: %v", got)
	}
	if got := rec.sizes["sent"]; len(got) != 1 || got[0] <= 0 {
		t.Fatalf("unexpected sent sizes: %v", got)
	}
}

func TestMetricsUnaryInterceptor_ErrorCode(t *testing.T) {
	rec := newFakeRecorder()
	interceptor := MetricsUnaryInterceptor(rec)

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.Unavailable, "redis down")
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", status.Code(err))
	}

	if len(rec.requests) != 1 || rec.requests[0].code != "Unavailable" {
		t.Fatalf("unexpected request records: %+v", rec.requests)
	}
}

func TestMetricsStreamInterceptor_RecordsMessages(t *testing.T) {
	rec := newFakeRecorder()
	interceptor := MetricsStreamInterceptor(rec)

	stream := &testServerStream{
		ctx: context.Background(),
		recvMsgs: []proto.Message{
			&grpc_health_v1.HealthCheckRequest{Service: "a"},
			&grpc_health_v1.HealthCheckRequest{Service: "b"},
		},
	}
	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/stream"}, func(srv any, ss grpc.ServerStream) error {
		req := &grpc_health_v1.HealthCheckRequest{}
		if err := ss.RecvMsg(req); err != nil {
			return err
		}
		if err := ss.RecvMsg(req); err != nil {
			return err
		}
		return ss.SendMsg(&grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := rec.sizes["received"]; len(got) != 2 {
		t.Fatalf("expected 2 received sizes, got %v", got)
	}
	if got := rec.sizes["sent"]; len(got) != 1 {
		t.Fatalf("expected 1 sent size, got %v", got)
	}
	if len(rec.requests) != 1 || rec.requests[0].method != "/svc/stream" {
		t.Fatalf("unexpected request records: %+v", rec.requests)
	}
}

func TestTracingUnaryInterceptor_StartsSpanAndInjects(t *testing.T) {
	prevProvider := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevProp)
	})

	otel.SetTracerProvider(noop.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	parentCtx := trace.ContextWithSpanContext(context.Background(), parent)
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(parentCtx, carrier)
	incoming := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string(carrier)))

	interceptor := TracingUnaryInterceptor()
	_, err := interceptor(incoming, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		if !trace.SpanContextFromContext(ctx).IsValid() {
			return nil, errors.New("span not set")
		}
		md, ok := metadata.FromOutgoingContext(ctx)
		if !ok || len(md.Get("traceparent")) == 0 {
			return nil, errors.New("traceparent not injected")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTracingStreamInterceptor_StartsSpan(t *testing.T) {
	prevProvider := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevProp)
	})

	otel.SetTracerProvider(noop.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{9, 8, 7, 6, 5, 4, 3, 2, 1, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{8, 7, 6, 5, 4, 3, 2, 1},
		TraceFlags: trace.FlagsSampled,
	})
	parentCtx := trace.ContextWithSpanContext(context.Background(), parent)
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(parentCtx, carrier)
	incoming := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string(carrier)))

	stream := &testServerStream{ctx: incoming}
	interceptor := TracingStreamInterceptor()
	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/stream"}, func(srv any, ss grpc.ServerStream) error {
		if !trace.SpanContextFromContext(ss.Context()).IsValid() {
			return errors.New("span not set")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
