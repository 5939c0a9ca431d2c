package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/quantumflow/finassist/internal/gold"
	"github.com/quantumflow/finassist/internal/models"
)

// ToolKind is the closed set of tools the engine may call
type ToolKind int

const (
	KindDataAnalysis ToolKind = iota + 1
	KindVisualization
)

func (k ToolKind) String() string {
	switch k {
	case KindDataAnalysis:
		return "data_analysis"
	case KindVisualization:
		return "visualization"
	default:
		return "unknown"
	}
}

const (
	DataAnalysisToolName  = "execute_data_analysis"
	VisualizationToolName = "generate_customer_visualization"
)

var (
	ErrToolNameEmpty = errors.New("tool name is empty")
	ErrToolDuplicate = errors.New("tool already registered")
)

// Output is what a tool hands back to the orchestrator
type Output struct {
	Text   string
	Status Status
	Chart  *Chart // set by the visualization tool only
}

// Tool is a callable with a declared schema
type Tool interface {
	Kind() ToolKind
	Definition() models.ToolDefinition
	Invoke(ctx context.Context, args json.RawMessage) (Output, error)
}

// Registry maps tool names to tools. It is immutable once built.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from the given tools
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Definition().Name
		if name == "" {
			return nil, ErrToolNameEmpty
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrToolDuplicate, name)
		}
		r.tools[name] = t
	}
	return r, nil
}

// NewDefaultRegistry registers the structured query and visualization tools over store
func NewDefaultRegistry(store *gold.Store) *Registry {
	r, err := NewRegistry(NewQueryTool(store), NewVizTool(store))
	if err != nil {
		// Both names are constants, so this only trips on a programming error
		panic(err)
	}
	return r
}

// Lookup finds a tool by name
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return t, nil
}

// Definitions returns every declared schema, sorted by name
func (r *Registry) Definitions() []models.ToolDefinition {
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch looks up and invokes the tool named by call
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) (Output, error) {
	t, err := r.Lookup(call.Name)
	if err != nil {
		return Output{}, err
	}
	return t.Invoke(ctx, call.Arguments)
}

// Kind implements Tool
func (q *QueryTool) Kind() ToolKind { return KindDataAnalysis }

// Definition implements Tool
func (q *QueryTool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name: DataAnalysisToolName,
		Description: "Essential for behavioral analysis and specific customer lookups in the Nordic finance datasets. " +
			"Query the Nordic finance gold datasets (customers and transactions).",
		Parameters: []models.ToolParams{
			{
				Name:        "query_type",
				Type:        "string",
				Description: "Use 'filter' for specific lookups (e.g., ID=123) or 'top_n' for rankings (e.g., top spenders).",
				Enum:        []string{string(QueryFilter), string(QueryTopN)},
				Required:    true,
			},
			{
				Name:        "table_name",
				Type:        "string",
				Description: "Which table to query.",
				Enum:        []string{gold.TableCustomers, gold.TableTransactions},
				Required:    true,
			},
			{
				Name: "column",
				Type: "string",
				Description: "For 'customers' use: customer_id, country, signup_date, email, total_spend_eur, " +
					"avg_transaction_value, transaction_frequency, last_tx_date, recency_days, high_ticket_user, cross_border_count. " +
					"For 'transactions' use: transaction_id, customer_id, amount, currency, timestamp, category, amount_eur.",
				Required: true,
			},
			{
				Name:        "operator",
				Type:        "string",
				Description: "Comparison operator. Use 'contains' for partial text matches.",
				Enum:        []string{string(OpEqual), string(OpContains), string(OpGreater), string(OpLess)},
			},
			{
				Name:        "value",
				Type:        "string",
				Description: "The value to filter by. For booleans (high_ticket_user), use 'True' or 'False'.",
			},
			{
				Name:        "n",
				Type:        "integer",
				Description: "Number of rows to return (for top_n queries).",
				Default:     defaultTopN,
			},
		},
	}
}

// Invoke implements Tool
func (q *QueryTool) Invoke(ctx context.Context, args json.RawMessage) (Output, error) {
	var spec QuerySpec
	if err := decodeArgs(args, &spec); err != nil {
		return Output{}, &ArgumentError{Tool: DataAnalysisToolName, Err: err}
	}
	if err := spec.Validate(); err != nil {
		return Output{}, &ArgumentError{Tool: DataAnalysisToolName, Err: err}
	}

	res, err := q.Execute(spec)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: res.Text, Status: res.Status}, nil
}

// Kind implements Tool
func (v *VizTool) Kind() ToolKind { return KindVisualization }

// Definition implements Tool
func (v *VizTool) Definition() models.ToolDefinition {
	metrics := Metrics()
	enum := make([]string, len(metrics))
	for i, m := range metrics {
		enum[i] = string(m)
	}

	return models.ToolDefinition{
		Name:        VisualizationToolName,
		Description: "Visualizes a customer's position relative to the whole database for specific metrics.",
		Parameters: []models.ToolParams{
			{
				Name:        "customer_id",
				Type:        "integer",
				Description: "The unique ID of the customer.",
				Required:    true,
			},
			{
				Name:        "plot_type",
				Type:        "string",
				Description: "The metric to visualize on the X-axis.",
				Enum:        enum,
				Required:    true,
			},
		},
	}
}

// Invoke implements Tool
func (v *VizTool) Invoke(ctx context.Context, args json.RawMessage) (Output, error) {
	var req VisualizationRequest
	if err := decodeArgs(args, &req); err != nil {
		return Output{}, &ArgumentError{Tool: VisualizationToolName, Err: err}
	}

	chart, err := v.Generate(req)
	if err != nil {
		return Output{}, err
	}

	return Output{
		Text: fmt.Sprintf("Chart generated: %s. Customer %d has a value of %.2f, shown against %d customers.",
			chart.Title, chart.CustomerID, chart.ReferenceValue, len(chart.values)),
		Status: StatusRows,
		Chart:  chart,
	}, nil
}
