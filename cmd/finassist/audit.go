package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumflow/finassist/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent conversations and statistics from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		state, _ := cmd.Flags().GetString("state")
		since, _ := cmd.Flags().GetDuration("since")

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !cfg.Audit.Enabled {
			return fmt.Errorf("audit log is disabled in the config")
		}

		log, err := audit.NewSQLiteLogger(cfg.Audit.Path)
		if err != nil {
			return err
		}
		defer log.Close()

		start := time.Now().Add(-since)
		filter := &audit.Filter{StartTime: &start, Limit: limit}
		if state != "" {
			state = strings.ToUpper(state)
			filter.State = &state
		}

		entries, err := log.Query(cmd.Context(), filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printEntries(out, entries)

		stats, err := log.GetStats(cmd.Context(), start)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		printStats(out, stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().Int("limit", 20, "Maximum conversations to list")
	auditCmd.Flags().String("state", "", "Only list conversations in this state (DONE or FAILED)")
	auditCmd.Flags().Duration("since", 24*time.Hour, "How far back to look")
}

func printEntries(w io.Writer, entries []*audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No conversations recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATE\tROUNDS\tTOOLS\tDURATION\tQUESTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.State, e.Rounds, e.ToolCalls,
			e.Duration.Round(time.Millisecond), truncate(e.Question, 60))
	}
	tw.Flush()
}

func printStats(w io.Writer, s *audit.Stats) {
	fmt.Fprintf(w, "Conversations: %d (done %d, failed %d, failure rate %.1f%%)\n",
		s.Total, s.Done, s.Failed, s.FailureRate*100)
	fmt.Fprintf(w, "Average rounds: %.2f | Tool calls: %d | Average duration: %s\n",
		s.AverageRounds, s.TotalToolCalls, s.AverageDuration.Round(time.Millisecond))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
