package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chartsDir, _ := cmd.Flags().GetString("charts-dir")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		colors := !asJSON && isTerminal(os.Stdout)
		var progress *ProgressIndicator
		if colors {
			progress = NewProgressIndicator(os.Stderr, "Thinking...")
			progress.Start()
		}
		bundle := a.orchestrator.Ask(cmd.Context(), strings.Join(args, " "))
		if progress != nil {
			progress.Stop()
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(bundle); err != nil {
				return err
			}
		} else {
			printBundle(cmd.OutOrStdout(), bundle, colors)
		}

		if chartsDir != "" {
			paths, err := saveCharts(bundle, chartsDir)
			for _, p := range paths {
				fmt.Fprintf(cmd.ErrOrStderr(), "chart saved: %s\n", p)
			}
			if err != nil {
				return err
			}
		}

		if bundle.Failed() {
			return fmt.Errorf("conversation %s failed: %s", bundle.ID, bundle.Metadata.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("charts-dir", "", "Directory to save generated charts as PNG")
	askCmd.Flags().Bool("json", false, "Print the full answer bundle as JSON")
}
