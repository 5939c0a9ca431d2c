package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantumflow/finassist/internal/models"
	"github.com/quantumflow/finassist/internal/tools"
)

// FallbackAnswer is returned when the engine ends without usable content
const FallbackAnswer = "I could not complete the analysis within the allowed number of steps. " +
	"Please try rephrasing or narrowing your question."

// UpstreamError is a failure of the policy index or the reasoning engine
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

const (
	servicePolicyIndex = "policy index"
	serviceEngine      = "reasoning engine"
)

// SourceRow is one cited policy chunk
type SourceRow struct {
	Source  string `json:"source"`
	Snippet string `json:"snippet"`
}

// Metadata describes how an answer was produced
type Metadata struct {
	Model           string         `json:"model"`
	SourcesFound    int            `json:"sources_found"`
	Rounds          int            `json:"rounds"`
	ToolCalls       int            `json:"tool_calls"`
	ToolErrors      int            `json:"tool_errors"`
	BudgetExhausted bool           `json:"budget_exhausted,omitempty"`
	Charts          []*tools.Chart `json:"charts"`
	Duration        time.Duration  `json:"duration"`
	Error           string         `json:"error,omitempty"`
	Trace           []StateChange  `json:"trace,omitempty"`
}

// StateChange records one transition of the loop
type StateChange struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Bundle is the final result of one question
type Bundle struct {
	ID       string      `json:"id"`
	State    State       `json:"state"`
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
	Sources  []SourceRow `json:"sources"`
	Metadata Metadata    `json:"metadata"`
}

// Failed reports whether the bundle is an error bundle
func (b *Bundle) Failed() bool {
	return b.State == StateFailed
}

func sourceRows(chunks models.RetrievalResult) []SourceRow {
	rows := make([]SourceRow, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, SourceRow{Source: c.Source, Snippet: snippet(c.Text)})
	}
	return rows
}

// apology turns a boundary failure into user facing text
func apology(err error) string {
	reason := "an internal error occurred"

	var upstream *UpstreamError
	switch {
	case errors.Is(err, ErrEmptyQuestion):
		return "Please enter a question."
	case errors.Is(err, context.DeadlineExceeded):
		reason = "the request timed out"
	case errors.Is(err, context.Canceled):
		reason = "the request was cancelled"
	case errors.As(err, &upstream):
		reason = "the " + upstream.Service + " is unavailable"
	}

	return "Sorry, I could not answer your question because " + reason + ". Please try again later."
}
