package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/abhisek/bktrace/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Retrain on a cron schedule until interrupted",
	Example: `  bktrace schedule -i postgres://localhost/lms --redis redis://localhost:6379/0
  bktrace schedule -i sqlite:bktrace.db --schedule "@daily" --now`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := sourceConfig(cfg); err != nil {
			return err
		}
		now, _ := cmd.Flags().GetBool("now")
		c := cfg

		s := scheduler.New(scheduler.Config{
			Cron:       c.Schedule,
			RunOnStart: now,
			Logger:     c.Training.Logger,
		}, func(ctx context.Context) error {
			res, err := runTraining(ctx, cmd, c)
			if err != nil {
				return err
			}
			slog.Info("training run complete", "run_id", res.RunID, "stage", res.Stage,
				"duration", res.Duration, "failures", len(res.Failures))
			return nil
		})

		ctx := cmd.Context()
		if err := s.Start(ctx); err != nil {
			return err
		}
		s.Wait(ctx)
		return nil
	},
}

func init() {
	addTrainingFlags(scheduleCmd)
	scheduleCmd.Flags().String("schedule", "", "Cron expression or descriptor (default: weekly, Monday 03:00 UTC)")
	scheduleCmd.Flags().Bool("now", false, "Run once immediately, then follow the schedule")
}
