package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abhisek/bktrace/internal/config"
	"github.com/abhisek/bktrace/internal/store"
)

// cfg is resolved once per invocation in PersistentPreRunE: defaults, then
// .env and BKTRACE_* variables, then flags.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "bktrace",
	Short: "Bayesian Knowledge Tracing trainer",
	Long: "bktrace fits Bayesian Knowledge Tracing models to learner practice logs and " +
		"exports per-skill parameters and per-learner mastery scores.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if p, _ := cmd.Flags().GetString("env-file"); p != "" {
			if err := config.LoadDotEnv(p); err != nil {
				return err
			}
		}
		c, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("read configuration: %w", err)
		}
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			c.Log.Level = "debug"
		}
		if err := applyFlags(cmd, &c); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = c
		cfg.Training.Logger = setupLogger(cmd.ErrOrStderr(), cfg.Log)
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT or
// SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite run store (overrides BKTRACE_DB env var)")
	rootCmd.PersistentFlags().String("env-file", "", "Load variables from this file before .env")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogger installs the process-wide logger. Logs go to stderr so
// reports on stdout stay clean.
func setupLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch lc.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// resolveDBPath returns the database path using --db flag (highest priority),
// then BKTRACE_DB env var, then the default XDG path.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if cfg.DBPath != "" {
		return cfg.DBPath, store.EnsureDir(cfg.DBPath)
	}
	return store.DefaultDBPath()
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("resolve DB path: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
