package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumflow/finassist/internal/policy"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load policy documents into the index",
	Long: `Reads every .txt file in the documents directory and adds one chunk per non-empty line.
With the memory backend nothing outlives the process; the other commands load the documents themselves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dir := cfg.Policy.DocumentsDir
		if d, _ := cmd.Flags().GetString("dir"); d != "" {
			dir = d
		}

		index, err := policy.Open(cmd.Context(), cfg.PolicyConfig())
		if err != nil {
			return fmt.Errorf("failed to open policy index: %w", err)
		}
		defer index.Close()

		start := time.Now()
		report, err := policy.NewIngestor(index, logger, cfg.Policy.IngestWorkers).IngestDirectory(cmd.Context(), dir)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunk(s) from %d file(s) in %s, %d already present; index now holds %d chunk(s) [%s]\n",
			report.Chunks, report.Files, time.Since(start).Round(time.Millisecond), report.Skipped, index.Len(), cfg.Policy.Backend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().String("dir", "", "Documents directory; overrides the config")
}
