package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fda483-pipeline/internal/cleanup"
)

func newDedupCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Resolves duplicate records already in the store",
		Long: `Groups persisted records by identity key. In tag mode the key is written
onto each first occurrence; in delete mode every later occurrence is removed.
Defaults to dedup.mode from the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if mode == "" {
				mode = appInstance.Config().Dedup.Mode
			}
			m, err := cleanup.ParseMode(mode)
			if err != nil {
				return err
			}
			report, err := appInstance.Cleaner().Run(cmd.Context(), m)
			if err != nil {
				return fmt.Errorf("dedup: %w", err)
			}
			return writeJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "tag or delete (overrides dedup.mode)")
	return cmd
}
