// Package server provides the Cobra command implementation for the resumind server lifecycle.
// It wires CLI flags to the server runtime.
package server

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/resumind/resumind/cmd/resumind/internal/bind"
	"github.com/resumind/resumind/cmd/resumind/internal/format"
	"github.com/resumind/resumind/pkg/appctx"
	"github.com/resumind/resumind/pkg/logging"
	serversvc "github.com/resumind/resumind/pkg/server"
	"github.com/resumind/resumind/pkg/server/app"
	"github.com/resumind/resumind/pkg/server/service"
)

// newStartServerCommand creates and returns the 'resumind server start' command.
//
// This command initializes the server runtime, which includes:
//   - HTTP API server with queue and result endpoints (/api/v1/queues, /api/v1/results)
//   - The live event stream (/api/v1/events)
//   - Health and readiness endpoints (/healthz, /readyz)
//   - Analysis workers, delayed-job promoter and retention sweeper
//
// The server runs until interrupted (SIGINT/SIGTERM), then closes event
// streams, drains HTTP and stops the workers.
//
// Example usage:
//
//	resumind server start
//	resumind server start --addr 0.0.0.0 --port 8080
//	resumind server start --no-jobs --redis.addr redis:6379
func newStartServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the resumind server",
		Long: `Start the resumind server process.

The server hosts multiple components in a single runtime:
  - HTTP API (enqueue, inspect, retry and clean analysis jobs)
  - Event stream (Server-Sent Events for job and queue updates)
  - Background workers (analysis pipeline, delayed promotion, retention)

Use --no-jobs to run the HTTP surface only and scale workers separately
with 'resumind worker start'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := format.FromCommand(cmd)

			cfgMgr, ok := appctx.Config(cmd.Context())
			if !ok {
				err := serversvc.ErrConfigUnavailable
				return formatter.PrintTotalFailureSummary("start server", err, serversvc.ErrorCode(err))
			}
			cfg := cfgMgr.Get()

			opts, err := bind.BindServerOptions(cmd, cfg.Server)
			if err != nil {
				return formatter.PrintTotalFailureSummary("start server", err, serversvc.ErrorCode(err))
			}
			cfg.Server = opts.Apply(cfg.Server)

			if err := cfg.Validate(); err != nil {
				wrapped := serversvc.WrapInvalidConfig(err)
				return formatter.PrintTotalFailureSummary("start server", wrapped, serversvc.ErrorCode(wrapped))
			}

			logger := logging.ComponentLogger("server", cfg.Log.Level)

			services, err := service.New(cmd.Context(), cfg, logger)
			if err != nil {
				wrapped := serversvc.WrapBackendInit(err)
				return formatter.PrintTotalFailureSummary("start server", wrapped, serversvc.ErrorCode(wrapped))
			}

			serverApp, err := app.New(cmd.Context(), cfg, &app.Deps{Services: services, Logger: logger})
			if err != nil {
				_ = services.Close(context.WithoutCancel(cmd.Context()))
				wrapped := serversvc.WrapAppInit(err)
				return formatter.PrintTotalFailureSummary("start server", wrapped, serversvc.ErrorCode(wrapped))
			}

			// Run server (blocks until shutdown)
			if err := serverApp.Run(cmd.Context()); err != nil {
				wrapped := serversvc.WrapRuntime(err)
				return formatter.PrintTotalFailureSummary("start server", wrapped, serversvc.ErrorCode(wrapped))
			}

			return nil
		},
	}

	// Server-specific flags
	cmd.Flags().String("addr", "127.0.0.1", "Server listen address")
	cmd.Flags().Int("port", 8080, "Server listen port")
	cmd.Flags().Bool("no-api", false, "Disable REST API endpoints")
	cmd.Flags().Bool("no-stream", false, "Disable the live event stream")
	cmd.Flags().Bool("no-jobs", false, "Do not run analysis workers in this process")
	cmd.Flags().Int("jobs-concurrency", 4, "Number of concurrent analysis workers")

	return cmd
}
