package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/resumind/resumind/cmd/resumind/internal/format"
	"github.com/resumind/resumind/pkg/queue"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stats [queue]",
		Short:   "Show job counts per status",
		Args:    cobra.MaximumNArgs(1),
		Example: "  resumind queue stats resume-analysis --output json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "read queue stats", func(ctx context.Context, m *queue.Manager, f format.Formatter) error {
				stats, err := m.GetQueueStats(ctx, queueArg(args))
				if err != nil {
					return err
				}
				return f.PrintQueueStats(format.QueueCounts(stats))
			})
		},
	}
}

func newJobCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "job <queue> <jobId>",
		Short: "Show the status of one job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "read job", func(ctx context.Context, m *queue.Manager, f format.Formatter) error {
				snap, err := m.GetJobStatus(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if f.Mode() == format.ModeJSON {
					return f.PrintJSON(snap)
				}
				colored := !color.NoColor
				rows := [][]string{
					{"queue", snap.QueueName},
					{"job", snap.JobID},
					{"name", snap.Name},
					{"status", format.StatusLabel(string(snap.Status), colored)},
					{"progress", fmt.Sprintf("%d%%", snap.Progress)},
					{"attempts", fmt.Sprintf("%d/%d", snap.AttemptsMade, snap.MaxAttempts)},
				}
				if snap.FailedReason != "" {
					rows = append(rows, []string{"failure", snap.FailedReason})
				}
				return f.PrintTable([]string{"Field", "Value"}, rows)
			})
		},
	}
}

func newPauseCommand(pause bool) *cobra.Command {
	use, short, op := "pause [queue]", "Stop workers from taking new jobs", "pause"
	if !pause {
		use, short, op = "resume [queue]", "Let workers take jobs again", "resume"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, op+" queue", func(ctx context.Context, m *queue.Manager, f format.Formatter) error {
				name := queueArg(args)
				var err error
				if pause {
					err = m.PauseQueue(ctx, name)
				} else {
					err = m.ResumeQueue(ctx, name)
				}
				if err != nil {
					return err
				}
				return f.PrintSuccessSummary(op, name, nil)
			})
		},
	}
}

func newCleanCommand() *cobra.Command {
	var (
		grace  time.Duration
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "clean [queue]",
		Short: "Remove finished jobs older than a grace period",
		Args:  cobra.MaximumNArgs(1),
		Example: `  resumind queue clean --grace 24h
  resumind queue clean resume-analysis --status failed --limit 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "clean queue", func(ctx context.Context, m *queue.Manager, f format.Formatter) error {
				name := queueArg(args)
				removed, err := m.CleanQueue(ctx, name, grace, queue.JobStatus(status), limit)
				if err != nil {
					return err
				}
				return f.PrintSuccessSummary("clean", fmt.Sprintf("%s (%d %s jobs)", name, len(removed), status),
					map[string]any{"removed": removed, "count": len(removed)})
			})
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "Only remove jobs finished longer ago than this")
	cmd.Flags().StringVar(&status, "status", string(queue.StatusCompleted), "Status to clean: completed | failed")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to remove (0 removes all)")
	return cmd
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <queue> <jobId>",
		Short: "Re-queue a failed or delayed job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "retry job", func(ctx context.Context, m *queue.Manager, f format.Formatter) error {
				if err := m.RetryJob(ctx, args[0], args[1]); err != nil {
					return err
				}
				return f.PrintSuccessSummary("retry", args[1], queue.JobHandle{ID: args[1], QueueName: args[0]})
			})
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <queue> <jobId>",
		Short: "Delete a job from the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "remove job", func(ctx context.Context, m *queue.Manager, f format.Formatter) error {
				if err := m.RemoveJob(ctx, args[0], args[1]); err != nil {
					return err
				}
				return f.PrintSuccessSummary("remove", args[1], nil)
			})
		},
	}
}
