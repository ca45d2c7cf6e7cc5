package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/export"
	"github.com/abhisek/bktrace/internal/mastery"
	"github.com/abhisek/bktrace/internal/report"
	"github.com/abhisek/bktrace/internal/source"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Replay one learner's attempts on one skill through an exported model",
	Example: `  bktrace trace -i bkt_reviews.json --learner ana --skill algebra
  bktrace trace -i reviews.csv --params out/bkt_params.json --learner ana --skill algebra`,
	RunE: func(cmd *cobra.Command, args []string) error {
		learner, _ := cmd.Flags().GetString("learner")
		skill, _ := cmd.Flags().GetString("skill")
		paramsPath, _ := cmd.Flags().GetString("params")
		if paramsPath == "" {
			paramsPath = filepath.Join(cfg.OutDir, export.ParamsFileName)
		}

		pf, err := export.LoadParams(paramsPath)
		if err != nil {
			return fmt.Errorf("load params: %w", err)
		}
		p, ok, err := pf.Lookup(learner, skill)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no model for %s on %s in %s", learner, skill, paramsPath)
		}

		srcCfg, err := sourceConfig(cfg)
		if err != nil {
			return err
		}
		log, err := source.Load(cmd.Context(), srcCfg)
		if err != nil {
			return err
		}
		grp, ok := log.SkillGroup(skill)
		if !ok {
			return fmt.Errorf("no attempts on skill %q", skill)
		}
		outcomes := grp.ForLearner(learner).Outcomes()

		tr, err := mastery.Track(p, outcomes)
		if err != nil {
			return fmt.Errorf("trace %s: %w", attempt.Key{Learner: learner, Skill: skill}, err)
		}
		report.Trajectory(cmd.OutOrStdout(), p, outcomes, tr)
		return nil
	},
}

func init() {
	addInputFlags(traceCmd)
	traceCmd.Flags().String("params", "", "Path to bkt_params.json (default: <out>/bkt_params.json)")
	traceCmd.Flags().StringP("out", "o", "", "Directory holding exported files")
	traceCmd.Flags().String("learner", "", "Learner ID")
	traceCmd.Flags().String("skill", "", "Skill ID")
	_ = traceCmd.MarkFlagRequired("learner")
	_ = traceCmd.MarkFlagRequired("skill")
}
