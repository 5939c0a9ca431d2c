package gold

import (
	"fmt"
	"strings"

	"github.com/quantumflow/finassist/internal/models"
)

const (
	TableCustomers    = "customers"
	TableTransactions = "transactions"
)

// Store holds the gold customers and transactions tables.
// It is built once and never mutated, so it is safe to share between goroutines.
type Store struct {
	customers    []models.Customer
	transactions []models.Transaction
	byID         map[int64]int
	tables       map[string]*Table
}

// NewStore builds a store from already-loaded records.
// The store keeps the slices; callers must not modify them afterwards.
func NewStore(customers []models.Customer, transactions []models.Transaction) *Store {
	byID := make(map[int64]int, len(customers))
	custRows := make([][]any, len(customers))
	for i, c := range customers {
		if _, dup := byID[c.CustomerID]; !dup {
			byID[c.CustomerID] = i
		}
		custRows[i] = customerRow(c)
	}

	txRows := make([][]any, len(transactions))
	for i, tx := range transactions {
		txRows[i] = transactionRow(tx)
	}

	return &Store{
		customers:    customers,
		transactions: transactions,
		byID:         byID,
		tables: map[string]*Table{
			TableCustomers:    newTable(TableCustomers, CustomerColumns, custRows),
			TableTransactions: newTable(TableTransactions, TransactionColumns, txRows),
		},
	}
}

// Table returns a table by name
func (s *Store) Table(name string) (*Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Customer finds a customer by id. The first row wins on duplicate ids.
func (s *Store) Customer(id int64) (models.Customer, bool) {
	i, ok := s.byID[id]
	if !ok {
		return models.Customer{}, false
	}
	return s.customers[i], true
}

// Customers returns all customers in load order. The slice is shared and read-only.
func (s *Store) Customers() []models.Customer {
	return s.customers
}

// Transactions returns all transactions in load order. The slice is shared and read-only.
func (s *Store) Transactions() []models.Transaction {
	return s.transactions
}

// Summary renders the schema description embedded in the system prompt
func (s *Store) Summary() string {
	var b strings.Builder
	b.WriteString("TABLE SCHEMAS:\n")
	for _, name := range []string{TableCustomers, TableTransactions} {
		t := s.tables[name]
		fmt.Fprintf(&b, "- GOLD_%s (%d rows): ", strings.ToUpper(name), t.Len())
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}
		b.WriteString(strings.Join(cols, ", "))
		b.WriteString("\n")
	}
	return b.String()
}
