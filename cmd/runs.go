package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/bktrace/internal/report"
	"github.com/abhisek/bktrace/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect training runs recorded in the run store",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		report.Runs(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the models and mastery scores of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		a, err := st.GetRun(cmd.Context(), args[0])
		if errors.Is(err, store.ErrRunNotFound) {
			return fmt.Errorf("no run with id %q", args[0])
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s (%s, %s)\n", a.RunID, a.Granularity, a.GeneratedAt.Local().Format("2006-01-02 15:04:05"))
		report.Models(out, a)
		report.Mastery(out, a, limit)
		return nil
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 0 {
			return fmt.Errorf("--keep must be >= 0")
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.PruneRuns(cmd.Context(), keep)
		if err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs\n", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "Maximum runs to list (0 for all)")
	runsShowCmd.Flags().Int("limit", 50, "Maximum mastery rows to print (0 for all)")
	runsPruneCmd.Flags().Int("keep", 10, "Number of newest runs to keep")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)
}
