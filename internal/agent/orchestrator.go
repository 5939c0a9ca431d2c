package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantumflow/finassist/internal/audit"
	"github.com/quantumflow/finassist/internal/logging"
	"github.com/quantumflow/finassist/internal/models"
	"github.com/quantumflow/finassist/internal/tools"
)

const auditTimeout = 5 * time.Second

// Orchestrator answers questions by negotiating tool calls with the reasoning engine.
// It holds no per-question state, so one instance serves many Ask calls.
type Orchestrator struct {
	engine    Engine
	retriever Retriever
	tools     Dispatcher
	summary   string
	config    *OrchestratorConfig
	logger    *slog.Logger
	audit     AuditSink
}

// NewOrchestrator creates an orchestrator over read-only collaborators.
// dataSummary is embedded in every system prompt.
func NewOrchestrator(
	config *OrchestratorConfig,
	engine Engine,
	retriever Retriever,
	dispatcher Dispatcher,
	dataSummary string,
	logger *slog.Logger,
) *Orchestrator {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	cfg := *config
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 1
	}
	if cfg.TopK < 0 {
		cfg.TopK = 0
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Orchestrator{
		engine:    engine,
		retriever: retriever,
		tools:     dispatcher,
		summary:   dataSummary,
		config:    &cfg,
		logger:    logger,
	}
}

// SetAuditSink records every finished conversation to sink
func (o *Orchestrator) SetAuditSink(sink AuditSink) {
	o.audit = sink
}

// Model returns the engine model name
func (o *Orchestrator) Model() string {
	return o.engine.Model()
}

// Ask runs one question to a terminal state. It never returns an error:
// failures outside the tools come back as a FAILED bundle with an apology.
func (o *Orchestrator) Ask(ctx context.Context, question string) *Bundle {
	start := time.Now()

	b := &Bundle{
		ID:       uuid.NewString(),
		Question: question,
		Sources:  []SourceRow{},
		Metadata: Metadata{
			Model:  o.engine.Model(),
			Charts: []*tools.Chart{},
		},
	}

	runCtx := ctx
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	r := &run{o: o, bundle: b, logger: o.logger.With("conversation", b.ID)}
	if err := r.execute(runCtx, strings.TrimSpace(question)); err != nil {
		r.fail(err)
	}

	b.Metadata.Duration = time.Since(start)
	questionsTotal.WithLabelValues(string(b.State)).Inc()
	roundsUsed.Observe(float64(b.Metadata.Rounds))

	r.logger.Info("conversation finished",
		"state", b.State,
		"rounds", b.Metadata.Rounds,
		"tool_calls", b.Metadata.ToolCalls,
		"charts", len(b.Metadata.Charts),
		"duration", b.Metadata.Duration)

	o.record(ctx, b)
	return b
}

func (o *Orchestrator) record(ctx context.Context, b *Bundle) {
	if o.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	entry := &audit.Entry{
		ID:         b.ID,
		Timestamp:  time.Now(),
		Question:   b.Question,
		State:      string(b.State),
		Answer:     b.Answer,
		Rounds:     b.Metadata.Rounds,
		ToolCalls:  b.Metadata.ToolCalls,
		ToolErrors: b.Metadata.ToolErrors,
		Sources:    len(b.Sources),
		Charts:     len(b.Metadata.Charts),
		Model:      b.Metadata.Model,
		Duration:   b.Metadata.Duration,
		Error:      b.Metadata.Error,
	}
	if b.Metadata.BudgetExhausted {
		entry.Metadata = map[string]any{"budget_exhausted": true}
	}

	if err := o.audit.Log(ctx, entry); err != nil {
		o.logger.Warn("failed to record conversation", "conversation", b.ID, "error", err)
	}
}

// run carries the state of one Ask call
type run struct {
	o      *Orchestrator
	bundle *Bundle
	logger *slog.Logger
}

func (r *run) transition(to State) {
	from := r.bundle.State
	r.bundle.State = to
	r.bundle.Metadata.Trace = append(r.bundle.Metadata.Trace, StateChange{State: to, At: time.Now()})
	r.logger.Debug("state transition", "from", from, "to", to, "round", r.bundle.Metadata.Rounds)
}

func (r *run) execute(ctx context.Context, question string) error {
	r.transition(StateInit)
	if question == "" {
		return ErrEmptyQuestion
	}

	chunks, err := r.o.retriever.Search(ctx, question, r.o.config.TopK)
	if err != nil {
		return &UpstreamError{Service: servicePolicyIndex, Err: err}
	}
	r.bundle.Sources = sourceRows(chunks)
	r.bundle.Metadata.SourcesFound = len(chunks)

	conv, err := NewConversation(BuildSystemPrompt(chunks, r.o.summary), question)
	if err != nil {
		return err
	}
	defs := r.o.tools.Definitions()

	for round := 1; ; round++ {
		r.transition(StateAwaitingEngine)
		if err := ctx.Err(); err != nil {
			return err
		}

		reply, err := r.callEngine(ctx, conv, defs)
		if err != nil {
			return err
		}
		r.bundle.Metadata.Rounds = round

		reply = normalizeReply(reply, round)
		conv, err = conv.Append(reply)
		if err != nil {
			return fmt.Errorf("failed to append engine reply: %w", err)
		}

		if len(reply.ToolCalls) == 0 {
			r.finish(reply.Content)
			return nil
		}

		// The budget is checked before every dispatch, whatever the engine asks for
		if round >= r.o.config.MaxRounds {
			r.bundle.Metadata.BudgetExhausted = true
			budgetExhaustedTotal.Inc()
			r.logger.Warn("round budget exhausted with tool calls pending",
				"rounds", round, "pending", len(reply.ToolCalls))
			r.finish(reply.Content)
			return nil
		}

		r.transition(StateDispatchingTools)
		conv, err = r.dispatch(ctx, conv)
		if err != nil {
			return err
		}
	}
}

func (r *run) callEngine(ctx context.Context, conv Conversation, defs []models.ToolDefinition) (models.Message, error) {
	start := time.Now()
	res, err := r.o.engine.Chat(ctx, conv.Messages(), defs)
	if err != nil {
		engineLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return models.Message{}, &UpstreamError{Service: serviceEngine, Err: err}
	}
	engineLatency.WithLabelValues("success").Observe(time.Since(start).Seconds())

	r.logger.Debug("engine replied",
		"tool_calls", len(res.Message.ToolCalls),
		"finish_reason", res.FinishReason,
		"prompt_tokens", res.PromptTokens,
		"completion_tokens", res.CompletionTokens)
	return res.Message, nil
}

// dispatch answers every pending call of the latest assistant message, in order
func (r *run) dispatch(ctx context.Context, conv Conversation) (Conversation, error) {
	for _, call := range conv.Pending() {
		if err := ctx.Err(); err != nil {
			return conv, err
		}

		out, err := r.invoke(ctx, call)
		content := out.Text
		outcome := "ok"
		switch {
		case err != nil:
			content = "Error: " + err.Error()
			outcome = "error"
			r.bundle.Metadata.ToolErrors++
			r.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		case out.Status == tools.StatusEmpty:
			outcome = "empty"
		}
		if out.Chart != nil {
			r.bundle.Metadata.Charts = append(r.bundle.Metadata.Charts, out.Chart)
		}
		r.bundle.Metadata.ToolCalls++
		toolCallsTotal.WithLabelValues(call.Name, outcome).Inc()

		var appendErr error
		conv, appendErr = conv.Append(models.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Name:       call.Name,
			Timestamp:  time.Now(),
		})
		if appendErr != nil {
			return conv, fmt.Errorf("failed to append tool result: %w", appendErr)
		}
	}
	return conv, nil
}

// invoke runs one tool call; a panicking tool is reported like any other tool error
func (r *run) invoke(ctx context.Context, call models.ToolCall) (out tools.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = tools.Output{}
			err = fmt.Errorf("tool %s panicked: %v", call.Name, p)
		}
	}()
	return r.o.tools.Dispatch(ctx, call)
}

func (r *run) finish(content string) {
	answer := strings.TrimSpace(content)
	if answer == "" {
		answer = FallbackAnswer
	}
	r.bundle.Answer = answer
	r.transition(StateDone)
}

func (r *run) fail(err error) {
	r.bundle.Answer = apology(err)
	r.bundle.Sources = []SourceRow{}
	r.bundle.Metadata.SourcesFound = 0
	r.bundle.Metadata.Charts = []*tools.Chart{}
	r.bundle.Metadata.Error = err.Error()
	r.transition(StateFailed)
	r.logger.Error("conversation failed", "error", err)
}

// normalizeReply forces the assistant role and gives every tool call a unique id
func normalizeReply(msg models.Message, round int) models.Message {
	msg.Role = models.RoleAssistant
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if len(msg.ToolCalls) == 0 {
		return msg
	}

	calls := make([]models.ToolCall, len(msg.ToolCalls))
	copy(calls, msg.ToolCalls)

	// First occurrences of engine ids are kept; generated ids never collide with them
	taken := make(map[string]bool, len(calls))
	keep := make([]bool, len(calls))
	for i, tc := range calls {
		if tc.ID != "" && !taken[tc.ID] {
			taken[tc.ID] = true
			keep[i] = true
		}
	}
	for i := range calls {
		if keep[i] {
			continue
		}
		id := fmt.Sprintf("call_%d_%d", round, i)
		for n := 1; taken[id]; n++ {
			id = fmt.Sprintf("call_%d_%d_%d", round, i, n)
		}
		taken[id] = true
		calls[i].ID = id
	}
	msg.ToolCalls = calls
	return msg
}
