package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/matheus3301/bubbled/internal/api"
	"github.com/matheus3301/bubbled/internal/profile"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Server owns the control socket of a profile daemon.
type Server struct {
	grpc       *grpc.Server
	lis        net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the control service to the profile socket, or to
// p.SocketPath when set. Any socket file left by a previous run is
// replaced; the profile lock guarantees no other daemon owns it.
func NewServer(p Params, logger *zap.Logger, control *api.Service) (*Server, error) {
	path := p.SocketPath
	if path == "" {
		path = profile.SocketPath(p.ProfileName)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = lis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{lis: lis, socketPath: path, logger: logger}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logCalls))
	api.RegisterControlServer(s.grpc, control)
	return s, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Start serves control calls until Stop.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	err := s.grpc.Serve(s.lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop drains in-flight calls and removes the socket file. Calls still
// running when ctx expires are cut off.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	_ = os.Remove(s.socketPath)
}

// logCalls logs every control call and turns a handler panic into an
// Internal error so one bad request cannot take the daemon down.
func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("control call panic", zap.String("method", info.FullMethod), zap.Any("panic", r))
			resp, err = nil, grpcstatus.Error(codes.Internal, "internal error")
		}
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
			zap.Stringer("code", grpcstatus.Code(err)),
		}
		if err != nil {
			s.logger.Warn("control call failed", append(fields, zap.Error(err))...)
			return
		}
		s.logger.Debug("control call", fields...)
	}()
	return handler(ctx, req)
}
