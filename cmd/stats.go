package cmd

import (
	"github.com/spf13/cobra"

	"github.com/abhisek/bktrace/internal/report"
	"github.com/abhisek/bktrace/internal/source"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show data-quality statistics for an attempt source",
	RunE: func(cmd *cobra.Command, args []string) error {
		srcCfg, err := sourceConfig(cfg)
		if err != nil {
			return err
		}
		log, err := source.Load(cmd.Context(), srcCfg)
		if err != nil {
			return err
		}
		report.Stats(cmd.OutOrStdout(), log.Stats(cfg.Training.Granularity, cfg.Training.MinGroupAttempts),
			cfg.Training.MinTotalAttempts)
		return nil
	},
}

func init() {
	addInputFlags(statsCmd)
	statsCmd.Flags().Int("min-total", 0, "Minimum attempts for a run to train")
}
