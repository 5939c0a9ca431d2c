package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/quantumflow/finassist/internal/gold"
)

// QueryKind selects the structured query shape
type QueryKind string

const (
	QueryFilter QueryKind = "filter"
	QueryTopN   QueryKind = "top_n"
)

// Operator is a filter comparison
type Operator string

const (
	OpEqual    Operator = "=="
	OpGreater  Operator = ">"
	OpLess     Operator = "<"
	OpContains Operator = "contains"
)

var operatorAliases = map[string]Operator{
	"":             OpEqual,
	"==":           OpEqual,
	"=":            OpEqual,
	"eq":           OpEqual,
	"equals":       OpEqual,
	">":            OpGreater,
	"gt":           OpGreater,
	"greater_than": OpGreater,
	"<":            OpLess,
	"lt":           OpLess,
	"less_than":    OpLess,
	"contains":     OpContains,
}

// ParseOperator accepts the declared symbols and their spelled-out names
func ParseOperator(s string) (Operator, bool) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	return op, ok
}

const (
	defaultTopN        = 5
	defaultFilterLimit = 10
)

// QuerySpec is a structured query request decoded from a tool call
type QuerySpec struct {
	Kind     QueryKind `json:"query_type" validate:"required,oneof=filter top_n"`
	Table    string    `json:"table_name" validate:"required,oneof=customers transactions"`
	Column   string    `json:"column" validate:"required"`
	Operator string    `json:"operator" validate:"operator"`
	Value    string    `json:"value" validate:"required_if=Kind filter"`
	Limit    int       `json:"n" validate:"min=0"`
}

// Validate checks the spec shape. Column existence is checked at execution.
func (s *QuerySpec) Validate() error {
	return validate.Struct(s)
}

// Status separates a result that found rows from one that found none
type Status int

const (
	StatusRows Status = iota
	StatusEmpty
)

func (s Status) String() string {
	if s == StatusEmpty {
		return "empty"
	}
	return "rows"
}

// Result is the outcome of a structured query that did not fail
type Result struct {
	Status  Status
	Matched int // rows that satisfied the query
	Shown   int // rows rendered into Text
	Text    string
}

// QueryTool runs structured queries over the gold store
type QueryTool struct {
	store *gold.Store
}

// NewQueryTool creates a query tool over a read-only store
func NewQueryTool(store *gold.Store) *QueryTool {
	return &QueryTool{store: store}
}

// Execute runs a validated spec. Schema and conversion problems come back as typed errors;
// a query that matches nothing is a StatusEmpty result.
func (q *QueryTool) Execute(spec QuerySpec) (Result, error) {
	table, ok := q.store.Table(spec.Table)
	if !ok {
		return Result{}, &SchemaError{Table: spec.Table}
	}

	col, column, ok := table.Column(spec.Column)
	if !ok {
		return Result{}, &SchemaError{Table: spec.Table, Column: spec.Column}
	}

	switch spec.Kind {
	case QueryTopN:
		return q.topN(table, col, column, spec.Limit)
	case QueryFilter:
		return q.filter(table, col, column, spec)
	default:
		return Result{}, fmt.Errorf("unsupported query type %q", spec.Kind)
	}
}

func (q *QueryTool) topN(table *gold.Table, col int, column gold.Column, n int) (Result, error) {
	if !column.Type.Numeric() {
		return Result{}, &SchemaError{
			Table:  table.Name,
			Column: column.Name,
			Reason: fmt.Sprintf("column '%s' is %s; top_n needs a numeric column", column.Name, column.Type),
		}
	}
	if n <= 0 {
		n = defaultTopN
	}

	order := make([]int, table.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return toFloat(table.Rows[order[a]][col]) > toFloat(table.Rows[order[b]][col])
	})
	if len(order) > n {
		order = order[:n]
	}

	if len(order) == 0 {
		return Result{Status: StatusEmpty, Text: fmt.Sprintf("No records found in %s.", table.Name)}, nil
	}

	return Result{
		Status:  StatusRows,
		Matched: len(order),
		Shown:   len(order),
		Text:    renderRows(table, order),
	}, nil
}

func (q *QueryTool) filter(table *gold.Table, col int, column gold.Column, spec QuerySpec) (Result, error) {
	op, ok := ParseOperator(spec.Operator)
	if !ok {
		return Result{}, fmt.Errorf("unsupported operator %q", spec.Operator)
	}

	target, err := coerce(column, spec.Value)
	if err != nil {
		return Result{}, err
	}

	match, err := comparator(table.Name, column, op, target)
	if err != nil {
		return Result{}, err
	}

	var matched []int
	for i, row := range table.Rows {
		if match(row[col]) {
			matched = append(matched, i)
		}
	}

	if len(matched) == 0 {
		return Result{
			Status: StatusEmpty,
			Text:   fmt.Sprintf("No records found in %s where %s %s %s.", table.Name, column.Name, op, spec.Value),
		}, nil
	}

	limit := spec.Limit
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	shown := matched
	if len(shown) > limit {
		shown = shown[:limit]
	}

	text := renderRows(table, shown)
	if len(shown) < len(matched) {
		text += fmt.Sprintf("\n(showing %d of %d matching rows)", len(shown), len(matched))
	}

	return Result{
		Status:  StatusRows,
		Matched: len(matched),
		Shown:   len(shown),
		Text:    text,
	}, nil
}

// coerce casts a literal to the column's declared type
func coerce(column gold.Column, value string) (any, error) {
	v := strings.TrimSpace(value)
	switch column.Type {
	case gold.TypeBool:
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return nil, &ConversionError{Column: column.Name, Value: value, Type: column.Type.String(), Err: err}
		}
		return b, nil
	case gold.TypeInt:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &ConversionError{Column: column.Name, Value: value, Type: column.Type.String(), Err: err}
		}
		return i, nil
	case gold.TypeFloat:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &ConversionError{Column: column.Name, Value: value, Type: column.Type.String(), Err: err}
		}
		return f, nil
	default:
		return value, nil
	}
}

func comparator(table string, column gold.Column, op Operator, target any) (func(any) bool, error) {
	unsupported := func() error {
		return &SchemaError{
			Table:  table,
			Column: column.Name,
			Reason: fmt.Sprintf("operator '%s' is not supported on %s column '%s'", op, column.Type, column.Name),
		}
	}

	switch op {
	case OpEqual:
		return func(v any) bool { return v == target }, nil
	case OpContains:
		if column.Type != gold.TypeString {
			return nil, unsupported()
		}
		needle := strings.ToLower(target.(string))
		return func(v any) bool {
			return strings.Contains(strings.ToLower(v.(string)), needle)
		}, nil
	case OpGreater, OpLess:
		sign := 1
		if op == OpLess {
			sign = -1
		}
		switch column.Type {
		case gold.TypeInt, gold.TypeFloat:
			t := toFloat(target)
			return func(v any) bool { return compareFloat(toFloat(v), t) == sign }, nil
		case gold.TypeString:
			t := target.(string)
			return func(v any) bool { return strings.Compare(v.(string), t) == sign }, nil
		default:
			return nil, unsupported()
		}
	default:
		return nil, unsupported()
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
