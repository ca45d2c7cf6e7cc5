package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/abhisek/bktrace/internal/config"
	"github.com/abhisek/bktrace/internal/export"
	"github.com/abhisek/bktrace/internal/report"
	"github.com/abhisek/bktrace/internal/source"
	"github.com/abhisek/bktrace/internal/store"
	"github.com/abhisek/bktrace/internal/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit BKT models and export mastery scores",
	Example: `  bktrace train -i bkt_reviews.json
  bktrace train -i reviews.csv --granularity individualized --fallback pooled -o out/
  bktrace train -i postgres://localhost/lms --redis redis://localhost:6379/0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runTraining(cmd.Context(), cmd, cfg)
		if res != nil {
			report.Result(cmd.OutOrStdout(), res)
			if res.Artifacts != nil {
				if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
					report.Models(cmd.OutOrStdout(), res.Artifacts)
					report.Mastery(cmd.OutOrStdout(), res.Artifacts, 0)
				}
			}
		}
		return err
	},
}

func init() {
	addTrainingFlags(trainCmd)
	trainCmd.Flags().BoolP("verbose", "v", false, "Print model and mastery tables")
}

// runTraining loads the configured source, trains, and runs every
// configured exporter. A run skipped by the quality gate returns a result
// and a nil error.
func runTraining(ctx context.Context, cmd *cobra.Command, c config.Config) (*training.Result, error) {
	srcCfg, err := sourceConfig(c)
	if err != nil {
		return nil, err
	}
	log, err := source.Load(ctx, srcCfg)
	if err != nil {
		return nil, err
	}

	exporters := []training.Exporter{&export.Files{Dir: c.OutDir}}

	if c.Redis.URL != "" {
		rx, err := export.NewRedis(ctx, c.Redis.URL, c.Redis.Prefix, c.Redis.TTL)
		if err != nil {
			return nil, err
		}
		defer rx.Close()
		exporters = append(exporters, export.WithRetry(rx, export.DefaultRetryConfig()))
	}

	var st *store.Store
	if c.Save {
		st, err = openStore(cmd)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		exporters = append(exporters, st)
	}

	res, err := training.New(c.Training, nil, exporters...).Run(ctx, log)
	if err != nil {
		return res, err
	}

	if st != nil && c.KeepRuns > 0 && res.Stage == training.StageExported {
		n, err := st.PruneRuns(ctx, c.KeepRuns)
		if err != nil {
			return res, fmt.Errorf("prune runs: %w", err)
		}
		if n > 0 {
			slog.Info("pruned old runs", "deleted", n, "kept", c.KeepRuns)
		}
	}
	return res, nil
}
