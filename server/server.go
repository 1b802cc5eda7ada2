// Package server runs the HTTP listener, the registered daemons and the
// signal handling around them.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/caasmo/certherd/config"
)

// Daemon is a long-running component whose lifecycle the server owns.
type Daemon interface {
	Name() string
	Start() error
	Stop(ctx context.Context) error
}

type Server struct {
	configProvider *config.Provider
	handler        http.Handler
	logger         *slog.Logger
	reloadFunc     func() error
	daemons        []Daemon

	// exitFunc is swapped by tests to observe the exit code.
	exitFunc func(int)
}

// NewServer wires the HTTP handler and the SIGHUP reload hook. Daemons
// are added before Run.
func NewServer(provider *config.Provider, handler http.Handler, logger *slog.Logger, reloadFunc func() error) *Server {
	return &Server{
		configProvider: provider,
		handler:        handler,
		logger:         logger,
		reloadFunc:     reloadFunc,
		exitFunc:       os.Exit,
	}
}

func (s *Server) AddDaemon(d Daemon) {
	s.daemons = append(s.daemons, d)
}

// Run blocks until a termination signal or a listener error, then shuts
// the HTTP server and every started daemon down gracefully. SIGHUP
// triggers the reload hook without interrupting service.
func (s *Server) Run() {
	cfg := s.configProvider.Get().Server

	s.logger.Info("server configuration",
		"addr", cfg.Addr,
		"read_timeout", cfg.ReadTimeout.Duration,
		"read_header_timeout", cfg.ReadHeaderTimeout.Duration,
		"write_timeout", cfg.WriteTimeout.Duration,
		"idle_timeout", cfg.IdleTimeout.Duration,
		"shutdown_timeout", cfg.ShutdownGracefulTimeout.Duration,
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout.Duration,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
		IdleTimeout:       cfg.IdleTimeout.Duration,
	}

	serverError := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("ListenAndServe error", "err", err)
			serverError <- err
		}
	}()

	var started []Daemon
	startupFailed := false
	for _, d := range s.daemons {
		if err := d.Start(); err != nil {
			s.logger.Error("daemon failed to start", "daemon", d.Name(), "err", err)
			startupFailed = true
			break
		}
		s.logger.Info("daemon started", "daemon", d.Name())
		started = append(started, d)
	}
	if startupFailed {
		s.shutdown(srv, started, 1)
		return
	}

	// Reload gets its own channel: NotifyContext would turn SIGHUP into a
	// shutdown.
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	exitCode := 0
	for running := true; running; {
		select {
		case <-sighup:
			s.logger.Info("received SIGHUP, reloading configuration")
			if err := s.reloadFunc(); err != nil {
				s.logger.Error("configuration reload failed", "err", err)
			}
		case <-ctx.Done():
			s.logger.Info("received shutdown signal, shutting down gracefully")
			running = false
		case err := <-serverError:
			s.logger.Error("server error, initiating shutdown", "err", err)
			exitCode = 1
			running = false
		}
	}
	stop()

	s.shutdown(srv, started, exitCode)
}

// shutdown stops the HTTP server and the started daemons concurrently
// under the graceful timeout, then exits.
func (s *Server) shutdown(srv *http.Server, daemons []Daemon, exitCode int) {
	timeout := s.configProvider.Get().Server.ShutdownGracefulTimeout.Duration
	gracefulCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	group, _ := errgroup.WithContext(gracefulCtx)

	group.Go(func() error {
		s.logger.Info("shutting down HTTP server")
		if err := srv.Shutdown(gracefulCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "err", err)
			return err
		}
		return nil
	})

	for _, d := range daemons {
		group.Go(func() error {
			s.logger.Info("stopping daemon", "daemon", d.Name())
			if err := d.Stop(gracefulCtx); err != nil {
				s.logger.Error("daemon shutdown error", "daemon", d.Name(), "err", err)
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && exitCode == 0 {
		exitCode = 1
	}
	if exitCode == 0 {
		s.logger.Info("all systems stopped gracefully")
	}
	s.exitFunc(exitCode)
}
