package gold

import "github.com/quantumflow/finassist/internal/models"

// ColumnType is the declared type of a gold table column
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "boolean"
	default:
		return "string"
	}
}

// Numeric reports whether values of this type can be ranked
func (t ColumnType) Numeric() bool {
	return t == TypeInt || t == TypeFloat
}

// Column describes one column of a table
type Column struct {
	Name string
	Type ColumnType
}

// Table is a read-only, column-typed view over one entity kind.
// Cell values are int64, float64, bool or string according to the column type.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any
	index   map[string]int
}

func newTable(name string, columns []Column, rows [][]any) *Table {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c.Name] = i
	}
	return &Table{Name: name, Columns: columns, Rows: rows, index: index}
}

// Column looks up a column by name
func (t *Table) Column(name string) (int, Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return -1, Column{}, false
	}
	return i, t.Columns[i], true
}

// ColumnNames returns the column names in declared order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// CustomerColumns is the customers table schema
var CustomerColumns = []Column{
	{"customer_id", TypeInt},
	{"country", TypeString},
	{"signup_date", TypeString},
	{"email", TypeString},
	{"total_spend_eur", TypeFloat},
	{"avg_transaction_value", TypeFloat},
	{"transaction_frequency", TypeInt},
	{"last_tx_date", TypeString},
	{"recency_days", TypeInt},
	{"high_ticket_user", TypeBool},
	{"cross_border_count", TypeInt},
}

// TransactionColumns is the transactions table schema
var TransactionColumns = []Column{
	{"transaction_id", TypeString},
	{"customer_id", TypeInt},
	{"amount", TypeFloat},
	{"currency", TypeString},
	{"timestamp", TypeString},
	{"category", TypeString},
	{"amount_eur", TypeFloat},
}

func customerRow(c models.Customer) []any {
	return []any{
		c.CustomerID,
		c.Country,
		c.SignupDate,
		c.Email,
		c.TotalSpendEUR,
		c.AvgTransactionValue,
		c.TransactionFrequency,
		c.LastTxDate,
		c.RecencyDays,
		c.HighTicketUser,
		c.CrossBorderCount,
	}
}

func transactionRow(tx models.Transaction) []any {
	return []any{
		tx.TransactionID,
		tx.CustomerID,
		tx.Amount,
		tx.Currency,
		tx.Timestamp,
		tx.Category,
		tx.AmountEUR,
	}
}
