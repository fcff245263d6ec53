// Package queue provides the 'resumind queue' administration commands. They
// talk to the job store directly through a queue.Manager, so they work
// whether or not a server is running.
package queue

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/resumind/resumind/cmd/resumind/internal/format"
	"github.com/resumind/resumind/pkg/analysis"
	"github.com/resumind/resumind/pkg/appctx"
	"github.com/resumind/resumind/pkg/logging"
	"github.com/resumind/resumind/pkg/queue"
	serversvc "github.com/resumind/resumind/pkg/server"
	"github.com/resumind/resumind/pkg/server/service"
)

const closeTimeout = 5 * time.Second

// NewCommand returns the 'resumind queue' command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and administer job queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newStatsCommand(),
		newJobCommand(),
		newPauseCommand(true),
		newPauseCommand(false),
		newCleanCommand(),
		newRetryCommand(),
		newRemoveCommand(),
	)
	return cmd
}

// run builds the backend services for one command and hands the queue
// manager to fn. Failures are printed with suggestions for operation.
func run(cmd *cobra.Command, operation string, fn func(ctx context.Context, m *queue.Manager, f format.Formatter) error) error {
	formatter := format.FromCommand(cmd)

	cfgMgr, ok := appctx.Config(cmd.Context())
	if !ok {
		err := serversvc.ErrConfigUnavailable
		return formatter.PrintTotalFailureSummary(operation, err, serversvc.ErrorCode(err))
	}
	cfg := cfgMgr.Get()

	services, err := service.New(cmd.Context(), cfg, logging.ComponentLogger("cli", cfg.Log.Level))
	if err != nil {
		wrapped := serversvc.WrapBackendInit(err)
		return formatter.PrintTotalFailureSummary(operation, wrapped, serversvc.ErrorCode(wrapped))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
		defer cancel()
		_ = services.Close(ctx)
	}()

	if err := fn(cmd.Context(), services.Queue, formatter); err != nil {
		wrapped := serversvc.WrapQueueOp(err)
		return formatter.PrintTotalFailureSummary(operation, wrapped, serversvc.ErrorCode(wrapped))
	}
	return nil
}

// queueArg returns the queue named by args[0], defaulting to the analysis queue.
func queueArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return analysis.QueueName
}
