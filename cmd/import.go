package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/bktrace/internal/source"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy attempts from a source into the run store",
	Long: "Import validates every row of the source and appends the attempts to the run store, " +
		"which can then be used as a source with --input sqlite:<db>.",
	RunE: func(cmd *cobra.Command, args []string) error {
		srcCfg, err := sourceConfig(cfg)
		if err != nil {
			return err
		}
		log, err := source.Load(cmd.Context(), srcCfg)
		if err != nil {
			return err
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ImportAttempts(cmd.Context(), log.Records())
		if err != nil {
			return fmt.Errorf("import attempts: %w", err)
		}
		total, err := st.CountAttempts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d attempts (%d in store)\n", n, total)
		return nil
	},
}

func init() {
	addInputFlags(importCmd)
}
