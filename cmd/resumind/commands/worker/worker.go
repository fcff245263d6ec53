// Package worker provides the 'resumind worker' commands, which run the
// analysis workers without the HTTP surface.
package worker

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

// NewCommand returns the 'resumind worker' command group.
func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "worker",
		Short: "Run analysis workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(newStartCommand())
	return command
}

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a worker process",
		Long: `Start a process that only runs the analysis workers, the delayed-job
promoter and the retention sweeper. Workers share jobs with every other
process pointed at the same Redis instance.`,
		Example: `  resumind worker start --concurrency 8 --redis.addr redis:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := format.FromCommand(cmd)

			cfgMgr, ok := appctx.Config(cmd.Context())
			if !ok {
				err := serversvc.ErrConfigUnavailable
				return formatter.PrintTotalFailureSummary("start worker", err, serversvc.ErrorCode(err))
			}
			cfg := cfgMgr.Get()

			concurrency, err := bind.BindWorkerConcurrency(cmd, cfg.Server.Concurrency)
			if err != nil {
				return formatter.PrintTotalFailureSummary("start worker", err, serversvc.ErrorCode(err))
			}
			cfg.Server.Concurrency = concurrency

			logger := logging.ComponentLogger("worker", cfg.Log.Level)
			if !cfg.Redis.Enabled {
				logger.Warn().Msg("Redis disabled: this worker only sees jobs enqueued by itself")
			}

			services, err := service.New(cmd.Context(), cfg, logger)
			if err != nil {
				wrapped := serversvc.WrapBackendInit(err)
				return formatter.PrintTotalFailureSummary("start worker", wrapped, serversvc.ErrorCode(wrapped))
			}

			workerApp, err := app.NewWorker(cmd.Context(), cfg, &app.Deps{Services: services, Logger: logger})
			if err != nil {
				_ = services.Close(context.WithoutCancel(cmd.Context()))
				wrapped := serversvc.WrapAppInit(err)
				return formatter.PrintTotalFailureSummary("start worker", wrapped, serversvc.ErrorCode(wrapped))
			}

			if err := workerApp.Run(cmd.Context()); err != nil {
				wrapped := serversvc.WrapRuntime(err)
				return formatter.PrintTotalFailureSummary("start worker", wrapped, serversvc.ErrorCode(wrapped))
			}
			return nil
		},
	}

	cmd.Flags().Int("concurrency", 4, "Number of concurrent analysis workers")

	return cmd
}
