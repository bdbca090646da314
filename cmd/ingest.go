package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// newIngestCmd runs one ingestion pass in the foreground, bypassing the queue.
func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <records.json>",
		Short: "Fetches, extracts, and persists the given source records",
		Long: `Reads scraped source records (a JSON array, or an object with a "records"
array), deduplicates them, extracts observations from each document, and
persists the results. Prints the run counters as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			records, err := readRecords(args[0])
			if err != nil {
				return err
			}
			counters, err := appInstance.Worker().Process(cmd.Context(), records)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			appInstance.Logger().Info("ingest finished",
				zap.Int("records", counters.Records),
				zap.Int("persisted", counters.Persisted),
			)
			return writeJSON(cmd, counters)
		},
	}
}

func readRecords(path string) ([]inspection.SourceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	records, err := inspection.DecodeSourceRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
