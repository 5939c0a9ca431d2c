package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumflow/finassist/internal/agent"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long:  `Reads questions from stdin. Every question is answered independently; /history lists earlier answers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		chartsDir, _ := cmd.Flags().GetString("charts-dir")

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		s := &session{
			app:       a,
			out:       cmd.OutOrStdout(),
			colors:    isTerminal(os.Stdout),
			chartsDir: chartsDir,
		}
		s.printBanner()
		s.checkModel(cmd.Context())
		return s.run(cmd.Context(), cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("charts-dir", "charts", "Directory to save generated charts as PNG")
}

type turn struct {
	at     time.Time
	bundle *agent.Bundle
}

type session struct {
	app       *app
	out       io.Writer
	colors    bool
	chartsDir string
	history   []turn
}

func (s *session) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, Colorize("You: ", ColorCyan, s.colors))
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := s.handleCommand(ctx, input); quit {
				return nil
			}
			continue
		}

		s.ask(ctx, input)
	}
	fmt.Fprintln(s.out)
	return scanner.Err()
}

func (s *session) ask(ctx context.Context, question string) {
	fmt.Fprintln(s.out)

	var progress *ProgressIndicator
	if s.colors {
		progress = NewProgressIndicator(s.out, "Thinking...")
		progress.Start()
	}
	bundle := s.app.orchestrator.Ask(ctx, question)
	if progress != nil {
		progress.Stop()
	}

	printBundle(s.out, bundle, s.colors)
	if s.chartsDir != "" {
		paths, err := saveCharts(bundle, s.chartsDir)
		for _, p := range paths {
			fmt.Fprintln(s.out, Colorize("chart saved: "+p, ColorGray, s.colors))
		}
		if err != nil {
			fmt.Fprintln(s.out, Colorize(err.Error(), ColorRed, s.colors))
		}
	}
	fmt.Fprintln(s.out)

	s.history = append(s.history, turn{at: time.Now(), bundle: bundle})
}

// handleCommand runs a slash command and reports whether the session should end
func (s *session) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	switch parts[0] {
	case "/exit", "/quit":
		fmt.Fprintln(s.out, "Goodbye!")
		return true

	case "/help":
		fmt.Fprintln(s.out, "\nCommands:")
		fmt.Fprintln(s.out, "  /help     - Show this help")
		fmt.Fprintln(s.out, "  /history  - List questions asked in this session")
		fmt.Fprintln(s.out, "  /sources  - Show the sources of the last answer")
		fmt.Fprintln(s.out, "  /models   - List models offered by the engine")
		fmt.Fprintln(s.out, "  /stats    - Show engine usage and audit statistics for the last 24h")
		fmt.Fprintln(s.out, "  /clear    - Clear session history")
		fmt.Fprintln(s.out, "  /exit     - Exit")
		fmt.Fprintln(s.out)

	case "/history":
		if len(s.history) == 0 {
			fmt.Fprintln(s.out, "No questions yet.")
			break
		}
		for i, t := range s.history {
			fmt.Fprintf(s.out, "%d. [%s] %s (%s)\n", i+1, t.at.Format("15:04:05"), t.bundle.Question, t.bundle.State)
		}
		fmt.Fprintln(s.out)

	case "/sources":
		if len(s.history) == 0 {
			fmt.Fprintln(s.out, "No answers yet.")
			break
		}
		last := s.history[len(s.history)-1].bundle
		if len(last.Sources) == 0 {
			fmt.Fprintln(s.out, "The last answer cited no policy documents.")
			break
		}
		printSources(s.out, last.Sources)
		fmt.Fprintln(s.out)

	case "/models":
		models, err := s.app.client.ListModels(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			break
		}
		for _, m := range models {
			marker := "  "
			if m == s.app.client.Model() {
				marker = "* "
			}
			fmt.Fprintln(s.out, marker+m)
		}
		fmt.Fprintln(s.out)

	case "/stats":
		rl := s.app.client.RateLimit()
		fmt.Fprintf(s.out, "Engine requests: %d | waited %s for rate limit | %.1f of %d tokens available\n",
			rl.Requests, rl.TotalWait.Round(time.Millisecond), rl.Available, rl.Burst)
		if s.app.audit == nil {
			fmt.Fprintln(s.out, "Audit log is disabled.")
			break
		}
		stats, err := s.app.audit.GetStats(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			break
		}
		printStats(s.out, stats)
		fmt.Fprintln(s.out)

	case "/clear":
		s.history = nil
		fmt.Fprintln(s.out, "History cleared.")

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (try /help)\n", parts[0])
	}
	return false
}

// checkModel warns when the configured model is not offered by the engine
func (s *session) checkModel(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	available, err := s.app.client.ListModels(ctx)
	if err != nil {
		fmt.Fprintln(s.out, Colorize(fmt.Sprintf("Warning: could not list models: %v", err), ColorYellow, s.colors))
		return
	}
	for _, m := range available {
		if m == s.app.client.Model() {
			return
		}
	}
	if len(available) > 0 {
		fmt.Fprintln(s.out, Colorize(fmt.Sprintf("Warning: model %q not offered by the engine", s.app.client.Model()), ColorYellow, s.colors))
	}
}

func (s *session) printBanner() {
	fmt.Fprintln(s.out, Colorize("finassist "+version, ColorBold, s.colors))
	fmt.Fprintf(s.out, "Model: %s | Policy chunks: %d | Customers: %d\n",
		s.app.client.Model(), s.app.index.Len(), len(s.app.store.Customers()))
	fmt.Fprintln(s.out, "Type /help for commands.")
	fmt.Fprintln(s.out)
}
