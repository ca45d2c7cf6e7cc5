package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/config"
	"github.com/abhisek/bktrace/internal/source"
	"github.com/abhisek/bktrace/internal/training"
)

// addInputFlags registers the attempt source flags.
func addInputFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringP("input", "i", "", "Attempt source: .json, .jsonl, .csv, .xlsx, sqlite:<path> or postgres:// URL")
	fs.String("sheet", "", "XLSX sheet to read (default: first sheet)")
	fs.String("table", "", "Postgres table to read (default: attempts)")
	fs.String("granularity", "", "Grouping: pooled or individualized")
	fs.Int("min-group", 0, "Per-group minimum attempts")
}

// addTrainingFlags registers the flags that shape a training run.
func addTrainingFlags(cmd *cobra.Command) {
	addInputFlags(cmd)
	fs := cmd.Flags()
	fs.Int("restarts", 0, "EM random restarts per group")
	fs.Int("min-total", 0, "Minimum attempts for the run to train at all")
	fs.Int64("seed", 0, "Seed for restart initialisation")
	fs.Bool("forgets", false, "Fit a forgetting rate instead of fixing it at 0")
	fs.Float64("max-slip", 0, "Upper bound on fitted slip (default 0.3)")
	fs.Float64("max-guess", 0, "Upper bound on fitted guess (default 0.3)")
	fs.String("fallback", "", "Fallback for groups without a model: default or pooled")
	fs.Float64("fallback-mastery", 0, "Mastery score used by the default fallback")
	fs.Int("workers", 0, "Groups trained concurrently")
	fs.StringP("out", "o", "", "Directory for bkt_params.json and mastery_scores.json")
	fs.String("redis", "", "Publish results to this redis:// URL")
	fs.Bool("save", true, "Record the run in the run store")
	fs.Bool("no-save", false, "Do not record the run in the run store")
	fs.Int("keep", 0, "Prune stored runs beyond this many after saving (0 keeps all)")
}

// applyFlags copies explicitly set flags over the environment-derived
// configuration. Commands register only the flags they use, so lookups of
// unregistered names are skipped.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	fs := cmd.Flags()
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}

	if changed("input") {
		c.Input, _ = fs.GetString("input")
	}
	if changed("sheet") {
		c.Sheet, _ = fs.GetString("sheet")
	}
	if changed("table") {
		c.Table, _ = fs.GetString("table")
	}
	if changed("granularity") {
		v, _ := fs.GetString("granularity")
		g, err := attempt.ParseGranularity(v)
		if err != nil {
			return err
		}
		c.Training.Granularity = g
	}
	if changed("fallback") {
		v, _ := fs.GetString("fallback")
		p, err := training.ParseFallbackPolicy(v)
		if err != nil {
			return err
		}
		c.Training.FallbackPolicy = p
	}
	if changed("min-group") {
		c.Training.MinGroupAttempts, _ = fs.GetInt("min-group")
	}
	if changed("min-total") {
		c.Training.MinTotalAttempts, _ = fs.GetInt("min-total")
	}
	if changed("restarts") {
		c.Training.Estimator.Restarts, _ = fs.GetInt("restarts")
	}
	if changed("seed") {
		c.Training.Estimator.Seed, _ = fs.GetInt64("seed")
	}
	if changed("forgets") {
		c.Training.Estimator.Forgets, _ = fs.GetBool("forgets")
	}
	if changed("max-slip") {
		c.Training.Estimator.MaxSlip, _ = fs.GetFloat64("max-slip")
	}
	if changed("max-guess") {
		c.Training.Estimator.MaxGuess, _ = fs.GetFloat64("max-guess")
	}
	if changed("fallback-mastery") {
		c.Training.FallbackMastery, _ = fs.GetFloat64("fallback-mastery")
	}
	if changed("workers") {
		c.Training.Workers, _ = fs.GetInt("workers")
	}
	if changed("out") {
		c.OutDir, _ = fs.GetString("out")
	}
	if changed("redis") {
		c.Redis.URL, _ = fs.GetString("redis")
	}
	if changed("save") {
		c.Save, _ = fs.GetBool("save")
	}
	if changed("no-save") {
		if noSave, _ := fs.GetBool("no-save"); noSave {
			c.Save = false
		}
	}
	if changed("keep") {
		c.KeepRuns, _ = fs.GetInt("keep")
	}
	if changed("schedule") {
		c.Schedule, _ = fs.GetString("schedule")
	}
	return nil
}

func sourceConfig(c config.Config) (source.Config, error) {
	if c.Input == "" {
		return source.Config{}, fmt.Errorf("no input: pass --input or set %sINPUT", config.EnvPrefix)
	}
	return source.Config{URI: c.Input, Sheet: c.Sheet, Table: c.Table}, nil
}
