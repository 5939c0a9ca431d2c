package agent

import (
	"context"
	"time"

	"github.com/quantumflow/finassist/internal/audit"
	"github.com/quantumflow/finassist/internal/inference"
	"github.com/quantumflow/finassist/internal/models"
	"github.com/quantumflow/finassist/internal/tools"
)

// Engine is the reasoning engine the orchestrator negotiates with
type Engine interface {
	Chat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (*inference.ChatResult, error)
	Model() string
}

// Retriever returns policy context for a question
type Retriever interface {
	Search(ctx context.Context, query string, k int) (models.RetrievalResult, error)
}

// Dispatcher exposes tool schemas and runs tool calls by name
type Dispatcher interface {
	Definitions() []models.ToolDefinition
	Dispatch(ctx context.Context, call models.ToolCall) (tools.Output, error)
}

// AuditSink receives one entry per finished conversation
type AuditSink interface {
	Log(ctx context.Context, entry *audit.Entry) error
}

// State is a step of the answer loop
type State string

const (
	StateInit             State = "INIT"
	StateAwaitingEngine   State = "AWAITING_ENGINE"
	StateDispatchingTools State = "DISPATCHING_TOOLS"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// OrchestratorConfig holds orchestrator configuration
type OrchestratorConfig struct {
	MaxRounds int           // engine round trips per question
	TopK      int           // policy chunks retrieved per question
	Timeout   time.Duration // whole conversation; 0 means no limit
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxRounds: 3,
		TopK:      3,
		Timeout:   2 * time.Minute,
	}
}
