package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantumflow/finassist/internal/gold"
)

var goldCmd = &cobra.Command{
	Use:   "gold",
	Short: "Inspect and convert the gold customer tables",
}

var goldImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy the gold CSV files into a SQLite database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		if from == "" {
			from = cfg.Gold.Dir
		}
		if to == "" {
			to = cfg.Gold.SQLitePath
		}

		store, err := gold.LoadCSV(from)
		if err != nil {
			return err
		}
		if err := gold.SaveSQLite(cmd.Context(), store, to); err != nil {
			return err
		}

		logger.Info("gold tables imported", "from", from, "to", to)
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d customer(s) and %d transaction(s) into %s\n",
			len(store.Customers()), len(store.Transactions()), to)
		return nil
	},
}

var goldSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the table summary given to the reasoning engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := loadGold(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), store.Summary())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(goldCmd)
	goldCmd.AddCommand(goldImportCmd, goldSummaryCmd)
	goldImportCmd.Flags().String("from", "", "Directory holding the gold CSV files; defaults to gold.dir")
	goldImportCmd.Flags().String("to", "", "SQLite database path; defaults to gold.sqlite_path")
}
