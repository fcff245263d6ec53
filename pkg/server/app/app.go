package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/resumind/resumind/pkg/config"
	"github.com/resumind/resumind/pkg/server/api"
	"github.com/resumind/resumind/pkg/server/httpx"
	"github.com/resumind/resumind/pkg/stream"
)

// App orchestrates the server runtime components:
// - HTTP server (API + event stream)
// - Connection registry
// - Queue workers, promoter and retention sweeper
// - Lifecycle management
type App struct {
	HTTP     *http.Server
	Registry *stream.Registry
	Ready    *atomic.Bool
	Config   config.Config
	Deps     *Deps

	listener net.Listener
}

// New creates and configures a new server application.
func New(ctx context.Context, cfg config.Config, deps *Deps) (*App, error) {
	if deps == nil || deps.Services == nil {
		return nil, errors.New("app: services are required")
	}
	deps.Logger.Info().Msg("Initializing server application")

	a := &App{
		Ready:  &atomic.Bool{},
		Config: cfg,
		Deps:   deps,
		Registry: stream.NewRegistry(deps.Services.Bus,
			stream.WithLogger(deps.Logger.With().Str("component", "stream").Logger()),
			stream.WithHeartbeat(cfg.Stream.HeartbeatInterval)),
	}

	if cfg.Server.JobsEnabled {
		if err := deps.Services.EnableWorkers(cfg.Server.Concurrency, deps.Fetcher); err != nil {
			return nil, fmt.Errorf("enable workers: %w", err)
		}
		deps.Logger.Info().Int("concurrency", cfg.Server.Concurrency).Msg("Analysis workers enabled")
	}

	srv := cfg.Server
	if !srv.APIEnabled && !srv.StreamEnabled {
		deps.Logger.Warn().Msg("API and event stream disabled, running workers only")
		return a, nil
	}

	apiCfg := api.DefaultConfig()
	apiCfg.HandlerTimeout = srv.HandlerTimeout
	apiCfg.StreamWriteTimeout = cfg.Stream.WriteTimeout
	apiDeps := &api.Deps{
		Queue:    deps.Services.Queue,
		Registry: a.Registry,
		Bus:      deps.Services.Bus,
		Results:  deps.Services.Results,
		Ready:    a.Ready,
		Config:   apiCfg,
	}

	// Create router with all endpoints mounted
	router := httpx.NewRouter(srv, apiDeps)

	if srv.APIEnabled {
		deps.Logger.Info().Msg("API endpoints enabled")
	} else {
		deps.Logger.Warn().Msg("API endpoints disabled")
	}
	if !srv.StreamEnabled {
		deps.Logger.Warn().Msg("Event stream disabled")
	}

	a.HTTP = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", srv.Addr, srv.Port),
		Handler:      httpx.Chain(srv, router),
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
	}
	return a, nil
}

// NewWorker creates an application that only runs the queue workers.
func NewWorker(ctx context.Context, cfg config.Config, deps *Deps) (*App, error) {
	cfg.Server.APIEnabled = false
	cfg.Server.StreamEnabled = false
	cfg.Server.JobsEnabled = true
	return New(ctx, cfg, deps)
}

// Addr returns the address the HTTP server listens on, once Run has bound it.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run starts the server and blocks until ctx is cancelled or the HTTP
// server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	logger := a.Deps.Logger
	srv := a.Config.Server

	serverErr := make(chan error, 1)
	if a.HTTP != nil {
		ln, err := net.Listen("tcp", a.HTTP.Addr)
		if err != nil {
			_ = a.closeServices()
			return fmt.Errorf("listen on %s: %w", a.HTTP.Addr, err)
		}
		a.listener = ln

		logger.Info().
			Str("addr", ln.Addr().String()).
			Bool("api", srv.APIEnabled).
			Bool("stream", srv.StreamEnabled).
			Bool("jobs", srv.JobsEnabled).
			Msg("Starting resumind server")

		go func() {
			if err := a.HTTP.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("HTTP server failed: %w", err)
			}
		}()
	}

	// Start background jobs. The queue outlives ctx so shutdown can drain it.
	if srv.JobsEnabled {
		if err := a.Deps.Services.Queue.Start(context.WithoutCancel(ctx)); err != nil {
			_ = a.shutdown()
			return fmt.Errorf("start workers: %w", err)
		}
	}

	// Mark as ready
	a.Ready.Store(true)
	logger.Info().Msg("Server is ready")

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server error")
		return errors.Join(err, a.shutdown())
	}

	// Graceful shutdown
	return a.shutdown()
}

// shutdown stops accepting traffic, ends every event stream so the HTTP
// server can drain, then stops the workers and releases the backends.
func (a *App) shutdown() error {
	logger := a.Deps.Logger
	logger.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	// Mark as not ready
	a.Ready.Store(false)

	var errs []error
	if n := a.Registry.CloseAll(shutdownCtx); n > 0 {
		logger.Info().Int("connections", n).Msg("Event streams closed")
	}

	if a.HTTP != nil {
		logger.Info().Msg("Shutting down HTTP server...")
		if err := a.HTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown failed")
			errs = append(errs, err)
		} else {
			logger.Info().Msg("HTTP server stopped")
		}
	}

	logger.Info().Msg("Stopping workers and closing backends...")
	if err := a.Deps.Services.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Backend shutdown failed")
		errs = append(errs, err)
	}

	logger.Info().Msg("Server shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeServices() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	return a.Deps.Services.Close(ctx)
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.Config.Server.ShutdownTimeout; d > 0 {
		return d
	}
	return config.DefaultServerConfig().ShutdownTimeout
}
