package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/finassist/internal/audit"
	"github.com/quantumflow/finassist/internal/gold"
	"github.com/quantumflow/finassist/internal/inference"
	"github.com/quantumflow/finassist/internal/logging"
	"github.com/quantumflow/finassist/internal/models"
	"github.com/quantumflow/finassist/internal/tools"
)

// scriptedEngine replays replies in order and repeats the last one when it runs out
type scriptedEngine struct {
	replies []models.Message
	failAt  int // 1-based call that fails; 0 never fails
	err     error
	block   bool
	calls   [][]models.Message
}

func (e *scriptedEngine) Chat(ctx context.Context, messages []models.Message, defs []models.ToolDefinition) (*inference.ChatResult, error) {
	e.calls = append(e.calls, messages)
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.failAt > 0 && len(e.calls) == e.failAt {
		return nil, e.err
	}
	i := len(e.calls) - 1
	if i >= len(e.replies) {
		i = len(e.replies) - 1
	}
	return &inference.ChatResult{Message: e.replies[i], FinishReason: "stop"}, nil
}

func (e *scriptedEngine) Model() string { return "stub-model" }

type stubRetriever struct {
	result models.RetrievalResult
	err    error
	calls  int
}

func (r *stubRetriever) Search(ctx context.Context, query string, k int) (models.RetrievalResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if k < len(r.result) {
		return r.result[:k], nil
	}
	return r.result, nil
}

type recordingSink struct {
	entries []*audit.Entry
}

func (s *recordingSink) Log(ctx context.Context, entry *audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type panickingDispatcher struct{}

func (panickingDispatcher) Definitions() []models.ToolDefinition { return nil }

func (panickingDispatcher) Dispatch(ctx context.Context, call models.ToolCall) (tools.Output, error) {
	panic("boom")
}

func testGold() *gold.Store {
	customers := make([]models.Customer, 0, 21)
	for i := 1; i <= 20; i++ {
		customers = append(customers, models.Customer{
			CustomerID:          int64(i),
			Country:             "SE",
			TotalSpendEUR:       float64(i) * 100,
			AvgTransactionValue: float64(i) * 2,
			RecencyDays:         int64(i),
		})
	}
	customers = append(customers, models.Customer{CustomerID: 1971, Country: "FI", TotalSpendEUR: 5000, AvgTransactionValue: 88.25})
	return gold.NewStore(customers, nil)
}

func policyChunks() models.RetrievalResult {
	return models.RetrievalResult{
		{Text: "Transfers above 10000 EUR must be reviewed by compliance within two business days.", Source: "aml_policy.txt", Score: 0.9},
		{Text: "Daily card limit is 2000 EUR.", Source: "card_limits.txt", Score: 0.7},
		{Text: "Cross-border fees are 1.5%.", Source: "card_limits.txt", Score: 0.7},
	}
}

func toolCall(id, name string, args map[string]any) models.ToolCall {
	raw, _ := json.Marshal(args)
	return models.ToolCall{ID: id, Name: name, Arguments: raw}
}

func callMessage(calls ...models.ToolCall) models.Message {
	return models.Message{Role: models.RoleAssistant, ToolCalls: calls}
}

func answer(text string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: text}
}

func newTestOrchestrator(engine Engine, retriever Retriever) *Orchestrator {
	store := testGold()
	return NewOrchestrator(DefaultOrchestratorConfig(), engine, retriever,
		tools.NewDefaultRegistry(store), store.Summary(), logging.NewNop())
}

func toolMessages(msgs []models.Message) []models.Message {
	var out []models.Message
	for _, m := range msgs {
		if m.Role == models.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func TestAskDirectAnswer(t *testing.T) {
	engine := &scriptedEngine{replies: []models.Message{answer("  Card limits are 2000 EUR per day.  ")}}
	retriever := &stubRetriever{result: policyChunks()}

	b := newTestOrchestrator(engine, retriever).Ask(context.Background(), "What is the card limit?")

	assert.Equal(t, StateDone, b.State)
	assert.Equal(t, "Card limits are 2000 EUR per day.", b.Answer)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, 1, b.Metadata.Rounds)
	assert.Equal(t, 3, b.Metadata.SourcesFound)
	assert.Equal(t, "stub-model", b.Metadata.Model)
	assert.Empty(t, b.Metadata.Charts)
	assert.Empty(t, b.Metadata.Error)

	require.Len(t, b.Sources, 3)
	assert.Equal(t, "aml_policy.txt", b.Sources[0].Source)
	assert.Equal(t, "Transfers above 10000 EUR must be reviewed by comp...", b.Sources[0].Snippet)
	assert.Equal(t, "Daily card limit is 2000 EUR....", b.Sources[1].Snippet)

	require.Len(t, engine.calls, 1)
	seed := engine.calls[0]
	require.Len(t, seed, 2)
	assert.Equal(t, models.RoleSystem, seed[0].Role)
	assert.Contains(t, seed[0].Content, "POLICY DOCUMENTS")
	assert.Contains(t, seed[0].Content, "[card_limits.txt] Daily card limit is 2000 EUR.")
	assert.Contains(t, seed[0].Content, "GOLD_CUSTOMERS (21 rows)")
	assert.Equal(t, models.RoleUser, seed[1].Role)
	assert.Equal(t, "What is the card limit?", seed[1].Content)

	states := make([]State, len(b.Metadata.Trace))
	for i, s := range b.Metadata.Trace {
		states[i] = s.State
	}
	assert.Equal(t, []State{StateInit, StateAwaitingEngine, StateDone}, states)
}

func TestAskDispatchesToolCalls(t *testing.T) {
	engine := &scriptedEngine{replies: []models.Message{
		callMessage(toolCall("c1", tools.DataAnalysisToolName, map[string]any{
			"query_type": "filter", "table_name": "customers", "column": "customer_id", "operator": "==", "value": "1971",
		})),
		answer("Customer 1971 is from FI."),
	}}

	b := newTestOrchestrator(engine, &stubRetriever{}).Ask(context.Background(), "Tell me about customer 1971")

	assert.Equal(t, StateDone, b.State)
	assert.Equal(t, "Customer 1971 is from FI.", b.Answer)
	assert.Equal(t, 2, b.Metadata.Rounds)
	assert.Equal(t, 1, b.Metadata.ToolCalls)
	assert.Zero(t, b.Metadata.ToolErrors)
	assert.Empty(t, b.Sources)

	require.Len(t, engine.calls, 2)
	second := engine.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, models.RoleAssistant, second[2].Role)
	tool := second[3]
	assert.Equal(t, models.RoleTool, tool.Role)
	assert.Equal(t, "c1", tool.ToolCallID)
	assert.Equal(t, tools.DataAnalysisToolName, tool.Name)
	assert.Contains(t, tool.Content, "1971")
	assert.Contains(t, tool.Content, "FI")
	assert.Contains(t, engine.calls[0][0].Content, noPolicyContext)
}

func TestAskFeedsToolErrorsBack(t *testing.T) {
	engine := &scriptedEngine{replies: []models.Message{
		callMessage(
			toolCall("bad-col", tools.DataAnalysisToolName, map[string]any{
				"query_type": "filter", "table_name": "customers", "column": "shoe_size", "operator": "==", "value": "42",
			}),
			toolCall("bad-tool", "delete_everything", map[string]any{}),
			toolCall("no-rows", tools.DataAnalysisToolName, map[string]any{
				"query_type": "filter", "table_name": "customers", "column": "customer_id", "operator": "==", "value": "99999",
			}),
			toolCall("bad-int", tools.DataAnalysisToolName, map[string]any{
				"query_type": "filter", "table_name": "customers", "column": "customer_id", "operator": "==", "value": "abc",
			}),
		),
		answer("I could not find that column."),
	}}

	b := newTestOrchestrator(engine, &stubRetriever{}).Ask(context.Background(), "shoe sizes?")

	assert.Equal(t, StateDone, b.State)
	assert.Equal(t, 4, b.Metadata.ToolCalls)
	assert.Equal(t, 3, b.Metadata.ToolErrors)

	results := toolMessages(engine.calls[1])
	require.Len(t, results, 4)
	assert.Equal(t, []string{"bad-col", "bad-tool", "no-rows", "bad-int"},
		[]string{results[0].ToolCallID, results[1].ToolCallID, results[2].ToolCallID, results[3].ToolCallID})
	assert.True(t, strings.HasPrefix(results[0].Content, "Error: "))
	assert.Contains(t, results[0].Content, "shoe_size")
	assert.Contains(t, results[1].Content, "delete_everything")
	assert.Equal(t, "No records found in customers where customer_id == 99999.", results[2].Content)
	assert.True(t, strings.HasPrefix(results[3].Content, "Error: "))
}

func TestAskCollectsCharts(t *testing.T) {
	engine := &scriptedEngine{replies: []models.Message{
		callMessage(
			toolCall("v1", tools.VisualizationToolName, map[string]any{"customer_id": 1971, "plot_type": "avg_transaction"}),
			toolCall("v2", tools.VisualizationToolName, map[string]any{"customer_id": 99999, "plot_type": "avg_transaction"}),
		),
		callMessage(toolCall("v3", tools.VisualizationToolName, map[string]any{"customer_id": 3, "plot_type": "recency"})),
		answer("Here are the charts."),
	}}

	b := newTestOrchestrator(engine, &stubRetriever{}).Ask(context.Background(), "plot customer 1971")

	assert.Equal(t, StateDone, b.State)
	assert.Equal(t, 3, b.Metadata.Rounds)
	require.Len(t, b.Metadata.Charts, 2)
	assert.Equal(t, 88.25, b.Metadata.Charts[0].ReferenceValue)
	assert.Equal(t, tools.Metric("recency"), b.Metadata.Charts[1].Metric)

	results := toolMessages(engine.calls[1])
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "Chart generated")
	assert.Contains(t, results[1].Content, "Error: ")
	assert.Equal(t, 1, b.Metadata.ToolErrors)
}

func TestAskRoundBudget(t *testing.T) {
	greedy := callMessage(toolCall("again", tools.DataAnalysisToolName, map[string]any{
		"query_type": "top_n", "table_name": "customers", "column": "total_spend_eur", "n": 2,
	}))
	engine := &scriptedEngine{replies: []models.Message{greedy}}

	b := newTestOrchestrator(engine, &stubRetriever{}).Ask(context.Background(), "loop forever")

	assert.Equal(t, StateDone, b.State)
	assert.Equal(t, FallbackAnswer, b.Answer)
	assert.True(t, b.Metadata.BudgetExhausted)
	assert.Equal(t, 3, b.Metadata.Rounds)
	assert.Len(t, engine.calls, 3, "engine is called at most MaxRounds times")
	assert.Equal(t, 2, b.Metadata.ToolCalls, "the last round's calls are not dispatched")

	// The repeated call id is answered once per round
	assert.Len(t, toolMessages(engine.calls[2]), 2)
}

func TestAskRoundBudgetKeepsPartialAnswer(t *testing.T) {
	msg := callMessage(toolCall("x", tools.DataAnalysisToolName, map[string]any{}))
	msg.Content = "Top spender so far is customer 1971."
	engine := &scriptedEngine{replies: []models.Message{msg}}

	cfg := DefaultOrchestratorConfig()
	cfg.MaxRounds = 1
	store := testGold()
	o := NewOrchestrator(cfg, engine, &stubRetriever{}, tools.NewDefaultRegistry(store), store.Summary(), nil)

	b := o.Ask(context.Background(), "who spends most?")
	assert.Equal(t, StateDone, b.State)
	assert.Equal(t, "Top spender so far is customer 1971.", b.Answer)
	assert.Zero(t, b.Metadata.ToolCalls)
}

func TestNewOrchestratorLeavesConfigAlone(t *testing.T) {
	cfg := &OrchestratorConfig{MaxRounds: 0, TopK: -2}
	greedy := callMessage(toolCall("again", tools.DataAnalysisToolName, map[string]any{
		"query_type": "top_n", "table_name": "customers", "column": "total_spend_eur",
	}))
	engine := &scriptedEngine{replies: []models.Message{greedy}}
	store := testGold()

	o := NewOrchestrator(cfg, engine, &stubRetriever{}, tools.NewDefaultRegistry(store), store.Summary(), logging.NewNop())
	assert.Equal(t, 0, cfg.MaxRounds)
	assert.Equal(t, -2, cfg.TopK)

	b := o.Ask(context.Background(), "anything")
	assert.Equal(t, StateDone, b.State)
	assert.Len(t, engine.calls, 1, "a non-positive budget still allows one round")
}

func TestAskRetrieverFailure(t *testing.T) {
	engine := &scriptedEngine{replies: []models.Message{answer("unused")}}
	retriever := &stubRetriever{err: errors.New("connection refused")}

	b := newTestOrchestrator(engine, retriever).Ask(context.Background(), "What is the AML policy?")

	assert.Equal(t, StateFailed, b.State)
	assert.True(t, b.Failed())
	assert.NotEmpty(t, b.Answer)
	assert.Contains(t, b.Answer, "policy index")
	assert.Empty(t, b.Sources)
	assert.NotNil(t, b.Sources)
	assert.Empty(t, b.Metadata.Charts)
	assert.Contains(t, b.Metadata.Error, "connection refused")
	assert.Empty(t, engine.calls)
}

func TestAskEngineFailureDropsArtifacts(t *testing.T) {
	engine := &scriptedEngine{
		replies: []models.Message{
			callMessage(toolCall("v1", tools.VisualizationToolName, map[string]any{"customer_id": 5, "plot_type": "recency"})),
		},
		failAt: 2,
		err:    &inference.APIError{StatusCode: 503, Body: "overloaded"},
	}

	b := newTestOrchestrator(engine, &stubRetriever{result: policyChunks()}).Ask(context.Background(), "plot 5")

	assert.Equal(t, StateFailed, b.State)
	assert.Contains(t, b.Answer, "reasoning engine")
	assert.Empty(t, b.Sources)
	assert.Empty(t, b.Metadata.Charts)
	assert.Zero(t, b.Metadata.SourcesFound)
	assert.Contains(t, b.Metadata.Error, "503")
	assert.Equal(t, 1, b.Metadata.Rounds, "only completed engine calls count")
	assert.Len(t, engine.calls, 2)
}

func TestAskEmptyQuestion(t *testing.T) {
	engine := &scriptedEngine{replies: []models.Message{answer("unused")}}
	retriever := &stubRetriever{}

	b := newTestOrchestrator(engine, retriever).Ask(context.Background(), "   ")

	assert.Equal(t, StateFailed, b.State)
	assert.Equal(t, "Please enter a question.", b.Answer)
	assert.Zero(t, retriever.calls)
}

func TestAskTimeout(t *testing.T) {
	engine := &scriptedEngine{block: true}
	cfg := DefaultOrchestratorConfig()
	cfg.Timeout = 20 * time.Millisecond
	store := testGold()
	o := NewOrchestrator(cfg, engine, &stubRetriever{}, tools.NewDefaultRegistry(store), store.Summary(), nil)

	b := o.Ask(context.Background(), "slow question")
	assert.Equal(t, StateFailed, b.State)
	assert.Contains(t, b.Answer, "timed out")
}

func TestAskToolPanicIsContained(t *testing.T) {
	engine := &scriptedEngine{replies: []models.Message{
		callMessage(toolCall("p", "anything", nil)),
		answer("recovered"),
	}}
	o := NewOrchestrator(nil, engine, &stubRetriever{}, panickingDispatcher{}, "", nil)

	b := o.Ask(context.Background(), "trigger")
	assert.Equal(t, StateDone, b.State)
	assert.Equal(t, "recovered", b.Answer)
	results := toolMessages(engine.calls[1])
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "panicked")
}

func TestAskRecordsAudit(t *testing.T) {
	sink := &recordingSink{}
	engine := &scriptedEngine{replies: []models.Message{answer("fine")}}
	o := newTestOrchestrator(engine, &stubRetriever{result: policyChunks()[:1]})
	o.SetAuditSink(sink)

	b := o.Ask(context.Background(), "q1")
	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, b.ID, e.ID)
	assert.Equal(t, "DONE", e.State)
	assert.Equal(t, "q1", e.Question)
	assert.Equal(t, 1, e.Sources)
	assert.Equal(t, "stub-model", e.Model)
}

func TestAskEnginesRepeatedCallIDs(t *testing.T) {
	dup := callMessage(
		toolCall("", tools.DataAnalysisToolName, map[string]any{"query_type": "top_n", "table_name": "customers", "column": "recency_days"}),
		toolCall("", tools.DataAnalysisToolName, map[string]any{"query_type": "top_n", "table_name": "customers", "column": "total_spend_eur"}),
	)
	engine := &scriptedEngine{replies: []models.Message{dup, answer("done")}}

	b := newTestOrchestrator(engine, &stubRetriever{}).Ask(context.Background(), "two rankings")
	require.Equal(t, StateDone, b.State, b.Metadata.Error)

	results := toolMessages(engine.calls[1])
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].ToolCallID, results[1].ToolCallID)

	// An engine id that looks like a generated one is not reused for a blank id
	clash := callMessage(
		toolCall("call_1_1", tools.DataAnalysisToolName, map[string]any{"query_type": "top_n", "table_name": "customers", "column": "recency_days"}),
		toolCall("", tools.DataAnalysisToolName, map[string]any{"query_type": "top_n", "table_name": "customers", "column": "total_spend_eur"}),
	)
	engine = &scriptedEngine{replies: []models.Message{clash, answer("done")}}

	b = newTestOrchestrator(engine, &stubRetriever{}).Ask(context.Background(), "two rankings")
	require.Equal(t, StateDone, b.State, b.Metadata.Error)
	assert.Equal(t, 2, b.Metadata.ToolCalls)

	results = toolMessages(engine.calls[1])
	require.Len(t, results, 2)
	assert.Equal(t, "call_1_1", results[0].ToolCallID)
	assert.NotEqual(t, "call_1_1", results[1].ToolCallID)
}

func TestAskOrchestratorIsReusable(t *testing.T) {
	engine := &scriptedEngine{replies: []models.Message{answer("same")}}
	o := newTestOrchestrator(engine, &stubRetriever{})

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		b := o.Ask(context.Background(), fmt.Sprintf("question %d", i))
		assert.Equal(t, StateDone, b.State)
		ids[b.ID] = true
	}
	assert.Len(t, ids, 3)
	for _, call := range engine.calls {
		assert.Len(t, call, 2, "no history leaks between questions")
	}
}
