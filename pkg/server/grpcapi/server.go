// Package grpcapi serves the validator over the drtest.DataValidator gRPC
// service and provides a matching client.
package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/jacktea/sumgate/pkg/server/middleware"
	"github.com/jacktea/sumgate/pkg/validator"
	"github.com/jacktea/sumgate/pkg/xerrors"
)

// DefaultMaxRecvBytes caps the request size when Options.MaxRecvBytes is unset.
const DefaultMaxRecvBytes = 64 << 20

// Validator is the handler the server dispatches to.
type Validator interface {
	Validate(ctx context.Context, req validator.Request) (validator.Response, error)
}

// DataValidatorServer is the service implementation registered with gRPC.
type DataValidatorServer interface {
	ValidateData(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
}

// Options configure payload limits, rate limiting, and shutdown.
type Options struct {
	MaxRecvBytes    int
	RateLimit       middleware.RateLimitOptions
	PeerRateLimit   middleware.PeerRateLimitOptions
	ShutdownTimeout time.Duration
}

// Server exposes a Validator over gRPC.
type Server struct {
	Validator Validator
	Log       logr.Logger
	Opts      Options

	ready atomic.Bool
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DataValidatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ValidateData",
			Handler:    validateDataHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}

func validateDataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(RequestDescriptor)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DataValidatorServer).ValidateData(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ValidateDataMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DataValidatorServer).ValidateData(ctx, req.(*dynamicpb.Message))
	}
	return interceptor(ctx, in, info, handler)
}

// ValidateData implements DataValidatorServer.
func (s *Server) ValidateData(ctx context.Context, in *dynamicpb.Message) (*dynamicpb.Message, error) {
	resp, err := s.Validator.Validate(ctx, RequestFromMessage(in))
	if err != nil {
		return nil, statusFromError(err)
	}
	return NewResponseMessage(resp), nil
}

// Register attaches the service to srv.
func (s *Server) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&serviceDesc, s)
}

// Ready reports whether the server is accepting calls.
func (s *Server) Ready() bool { return s.ready.Load() }

// NewGRPCServer builds a grpc.Server with the service, health checking,
// and reflection registered. The returned cleanup releases limiter state.
func (s *Server) NewGRPCServer() (*grpc.Server, *health.Server, func()) {
	maxRecv := s.Opts.MaxRecvBytes
	if maxRecv <= 0 {
		maxRecv = DefaultMaxRecvBytes
	}
	peers := middleware.NewPeerLimiter(s.Opts.PeerRateLimit)
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxRecv),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(middleware.Unary(
			middleware.UnaryObserve(s.logger()),
			middleware.UnaryRateLimit(s.Opts.RateLimit),
			peers.Interceptor(),
		)...),
	)
	s.Register(srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs, func() { _ = peers.Close() }
}

// Start listens on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Wrap(xerrors.KindUnavailable, "grpc.listen", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is canceled, then drains
// in-flight calls.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv, hs, cleanup := s.NewGRPCServer()
	defer cleanup()

	timeout := s.Opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	stopped := make(chan struct{})
	serveDone := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-serveDone:
			return
		}
		s.ready.Store(false)
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			srv.Stop()
		}
	}()

	s.logger().Info("serving grpc", "address", lis.Addr().String())
	s.ready.Store(true)
	err := srv.Serve(lis)
	s.ready.Store(false)
	if ctx.Err() == nil {
		close(serveDone)
		srv.Stop()
	}
	<-stopped
	if ctx.Err() != nil && (err == nil || errors.Is(err, grpc.ErrServerStopped)) {
		return nil
	}
	return err
}

func (s *Server) logger() logr.Logger {
	if s.Log.GetSink() == nil {
		return logr.Discard()
	}
	return s.Log
}

func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if validator.IsStorageError(err) {
		return status.Error(codes.Internal, err.Error())
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	switch xerrors.KindOf(err) {
	case xerrors.KindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
