// Package commands assembles the resumind command tree.
package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/resumind/resumind/cmd/resumind/commands/queue"
	serverCmd "github.com/resumind/resumind/cmd/resumind/commands/server"
	"github.com/resumind/resumind/cmd/resumind/commands/worker"
	"github.com/resumind/resumind/cmd/resumind/internal/format"
	"github.com/resumind/resumind/pkg/appctx"
	"github.com/resumind/resumind/pkg/config"
	"github.com/resumind/resumind/pkg/logging"
)

const cliExecutable = "resumind"

// NewCommand constructs the top-level resumind CLI command, wiring global
// flags, configuration loading and logging.
func NewCommand() *cobra.Command {
	var (
		configFile string
		outputMode string
		noColor    bool
		quiet      bool
		closeLog   func() error
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Resume analysis job orchestration and live notifications",
		Long: `resumind runs the resume-analysis job queue, its workers and the
live event stream clients use to follow job progress.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := format.ValidateMode(outputMode); err != nil {
				return err
			}
			if noColor {
				color.NoColor = true
			}

			mgr := config.NewManager()
			if err := mgr.Load(cmd.Flags(), configFile); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg := mgr.Get()

			closeFn, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
			if err != nil {
				return err
			}
			closeLog = closeFn
			log.Debug().Str("config", configFile).Msg("configuration loaded")

			ctx := appctx.WithConfig(cmd.Context(), mgr)
			ctx = appctx.WithOutput(ctx, appctx.Output{Format: outputMode, Quiet: quiet, NoColor: noColor})
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().StringVarP(&outputMode, "output", "o", string(format.ModeTable), "Output format: table | json")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress summaries")

	config.BindFlags(cmd.PersistentFlags())
	config.BindRedisFlags(cmd.PersistentFlags())

	cmd.AddGroup(&cobra.Group{ID: "runtime", Title: "Runtime Commands"})
	cmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration Commands"})

	srv := serverCmd.NewCommand()
	srv.GroupID = "runtime"
	wrk := worker.NewCommand()
	wrk.GroupID = "runtime"
	q := queue.NewCommand()
	q.GroupID = "admin"

	cmd.AddCommand(srv, wrk, q, NewVersionCommand(cliExecutable))

	return cmd
}
