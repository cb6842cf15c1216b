// Package server runs the HTTP API on top of an application container and
// handles graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/api"
	"github.com/JakeFAU/realtime-news-crawler/internal/app"
	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

const (
	readHeaderTimeout      = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	runHistoryCapacity     = 100
)

// Server serves the crawler API for one App.
type Server struct {
	app    *app.App
	logger *zap.Logger
}

// New creates a Server.
func New(a *app.App, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{app: a, logger: logger}
}

// Run listens on the configured port and blocks until SIGINT, SIGTERM or ctx
// cancellation, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", s.app.Config().Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. In-flight runs are
// canceled only if they have not finished within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	cfg := s.app.Config()

	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	opts := []api.Option{api.WithBaseContext(runCtx)}
	if rec := s.app.Recorder(); rec != nil {
		opts = append(opts, api.WithRecorder(rec))
	}
	apiServer := api.NewServer(
		s.app.Dispatcher(),
		api.NewRunStore(runHistoryCapacity),
		s.app.IDs(),
		crawler.SystemClock{},
		cfg,
		s.logger.Named("api"),
		opts...,
	)

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			s.logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	s.logger.Info("shutdown initiated")

	timeout := cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	apiServer.Drain()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := apiServer.Wait(shutdownCtx); err != nil {
		s.logger.Warn("canceling unfinished runs", zap.Error(err))
		cancelRuns()
		_ = apiServer.Wait(context.Background())
	}

	s.logger.Info("shutdown complete")
	return runErr
}
