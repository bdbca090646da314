package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMirrorCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "mirror <records.json>",
		Short: "Downloads each record's document locally and uploads the set to storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			records, err := readRecords(args[0])
			if err != nil {
				return err
			}
			if dir == "" {
				dir = appInstance.Config().Fetch.DownloadDir
			}
			report, err := appInstance.Worker().Mirror(cmd.Context(), records, dir)
			if err != nil {
				return fmt.Errorf("mirror: %w", err)
			}
			return writeJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "download directory (defaults to fetch.download_dir)")
	return cmd
}
