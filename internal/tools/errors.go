package tools

import "fmt"

// SchemaError reports a table, column or operator that the gold schema does not support
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Column == "" {
		return fmt.Sprintf("table '%s' does not exist", e.Table)
	}
	return fmt.Sprintf("column '%s' not found in table '%s'", e.Column, e.Table)
}

// ConversionError reports a literal that cannot be cast to the column type
type ConversionError struct {
	Column string
	Value  string
	Type   string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %q to %s for column '%s'", e.Value, e.Type, e.Column)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a visualization target that does not exist
type NotFoundError struct {
	CustomerID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("customer ID %d not found", e.CustomerID)
}

// UnsupportedMetricError reports a metric selector outside the fixed set
type UnsupportedMetricError struct {
	Metric string
}

func (e *UnsupportedMetricError) Error() string {
	return fmt.Sprintf("unsupported plot type: %s", e.Metric)
}

// ArgumentError reports a tool call payload that could not be decoded or validated
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// UnknownToolError reports a tool name missing from the registry
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}
