package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/auth"
	zaplog "github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/logging"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/rpcerr"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/store"
	pb "github.com/afoley587/coding-challenges-2025/grpc-user-service/proto"
)

// healthServicePrefix is exempt from API key checks so load balancers
// can probe the server.
const healthServicePrefix = "/grpc.health.v1.Health/"

// Options configures a user service gRPC server.
type Options struct {
	Store  store.UserStore
	Keys   auth.KeySet
	Logger *zap.Logger
	// ServerOptions are appended after the interceptor chain, e.g.
	// grpc.Creds for TLS.
	ServerOptions []grpc.ServerOption
}

// New builds a gRPC server with the user service and the health service
// registered.  Every call runs through the chain
//
//	error trailers -> panic recovery -> request logging -> authentication
//
// so a rejected call never reaches a handler, the store or the codec.
func New(opts Options) *grpc.Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	authn := auth.New(opts.Keys,
		auth.WithLogger(logger),
		auth.WithoutAuth(healthServicePrefix),
	)
	recoveryOpt := recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
		return rpcerr.Internal(fmt.Errorf("panic: %v", p))
	})
	logOpts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}
	reqLogger := zaplog.InterceptorLogger(logger)

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			unaryErrorInterceptor(logger),
			recovery.UnaryServerInterceptor(recoveryOpt),
			logging.UnaryServerInterceptor(reqLogger, logOpts...),
			authn.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			streamErrorInterceptor(logger),
			recovery.StreamServerInterceptor(recoveryOpt),
			logging.StreamServerInterceptor(reqLogger, logOpts...),
			authn.StreamServerInterceptor(),
		),
	}
	serverOpts = append(serverOpts, opts.ServerOptions...)

	grpcServer := grpc.NewServer(serverOpts...)
	pb.RegisterUserServiceServer(grpcServer, newUserService(opts.Store, logger))

	hs := health.NewServer()
	hs.SetServingStatus(pb.UserService_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)

	return grpcServer
}

// Run starts grpcServer on addr and blocks until ctx is cancelled or the
// server fails.  On cancellation in-flight calls get shutdownTimeout to
// finish before the server is stopped forcefully.
func Run(ctx context.Context, addr string, grpcServer *grpc.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return Serve(ctx, lis, grpcServer, shutdownTimeout, logger)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, lis net.Listener, grpcServer *grpc.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down grpc server")

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		timer := time.NewTimer(shutdownTimeout)
		defer timer.Stop()
		select {
		case <-stopped:
		case <-timer.C:
			logger.Warn("graceful shutdown timed out, forcing stop")
			grpcServer.Stop()
		}
		return nil
	})

	return g.Wait()
}

func unaryErrorInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if e, ok := rpcerr.As(err); ok {
			reportError(logger, info.FullMethod, e)
			_ = grpc.SetTrailer(ctx, e.Trailer())
			return nil, e
		}
		return resp, err
	}
}

func streamErrorInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		if e, ok := rpcerr.As(err); ok {
			reportError(logger, info.FullMethod, e)
			ss.SetTrailer(e.Trailer())
			return e
		}
		return err
	}
}

// reportError logs the cause of INTERNAL errors, which callers never see.
func reportError(logger *zap.Logger, method string, e *rpcerr.Error) {
	if e.Kind != rpcerr.KindInternal {
		return
	}
	logger.Error("internal error",
		zap.String("method", method),
		zap.String("code", e.Code),
		zap.Error(e.Err),
	)
}
