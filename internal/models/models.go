package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`                // May be empty when only tool calls are carried
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // Set on assistant messages
	ToolCallID string     `json:"tool_call_id,omitempty"` // Set on tool messages
	Name       string     `json:"name,omitempty"`         // Tool name on tool messages
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolCall represents a tool invocation requested by the reasoning engine
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a tool to the reasoning engine
type ToolDefinition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  []ToolParams `json:"parameters"`
}

// ToolParams declares one parameter of a tool
type ToolParams struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "integer", "number", "boolean"
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
	Required    bool     `json:"required"`
}

// Chunk is one retrievable unit of policy text
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Ordinal   int64     `json:"ordinal"` // Insertion order, used to break score ties
	Embedding []float32 `json:"embedding,omitempty"`
}

// RetrievedChunk is a chunk returned by a similarity search
type RetrievedChunk struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// RetrievalResult is ordered by descending similarity
type RetrievalResult []RetrievedChunk

// Customer is one row of the gold customers table
type Customer struct {
	CustomerID           int64   `json:"customer_id"`
	Country              string  `json:"country"`
	SignupDate           string  `json:"signup_date"`
	Email                string  `json:"email"`
	TotalSpendEUR        float64 `json:"total_spend_eur"`
	AvgTransactionValue  float64 `json:"avg_transaction_value"`
	TransactionFrequency int64   `json:"transaction_frequency"`
	LastTxDate           string  `json:"last_tx_date"`
	RecencyDays          int64   `json:"recency_days"`
	HighTicketUser       bool    `json:"high_ticket_user"`
	CrossBorderCount     int64   `json:"cross_border_count"`
}

// Transaction is one row of the gold transactions table
type Transaction struct {
	TransactionID string  `json:"transaction_id"`
	CustomerID    int64   `json:"customer_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Timestamp     string  `json:"timestamp"`
	Category      string  `json:"category"`
	AmountEUR     float64 `json:"amount_eur"`
}
