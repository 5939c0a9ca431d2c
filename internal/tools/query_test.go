package tools

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/finassist/internal/gold"
	"github.com/quantumflow/finassist/internal/models"
)

// testStore builds n customers with ids 1..n. Spend grows with the id,
// except that ids 1 and 2 share the same spend to exercise tie ordering.
func testStore(n int) *gold.Store {
	customers := make([]models.Customer, n)
	for i := range customers {
		id := int64(i + 1)
		spend := float64(id) * 10
		if id == 2 {
			spend = 10
		}
		customers[i] = models.Customer{
			CustomerID:           id,
			Country:              []string{"FI", "SE", "NO", "DK"}[i%4],
			Email:                fmt.Sprintf("user%d@example.com", id),
			TotalSpendEUR:        spend,
			AvgTransactionValue:  float64(id) * 1.5,
			TransactionFrequency: id % 7,
			RecencyDays:          id * 2,
			HighTicketUser:       id%2 == 0,
			CrossBorderCount:     id % 3,
		}
	}

	transactions := []models.Transaction{
		{TransactionID: "tx-1", CustomerID: 1, Amount: 20, Currency: "EUR", Category: "Travel", AmountEUR: 20},
		{TransactionID: "tx-2", CustomerID: 2, Amount: 300, Currency: "SEK", Category: "groceries", AmountEUR: 29.1},
	}
	return gold.NewStore(customers, transactions)
}

func withCustomer(store *gold.Store, c models.Customer) *gold.Store {
	customers := append(append([]models.Customer{}, store.Customers()...), c)
	return gold.NewStore(customers, store.Transactions())
}

func TestFilterEqualsInteger(t *testing.T) {
	store := withCustomer(testStore(10), models.Customer{CustomerID: 1971, Country: "FI", TotalSpendEUR: 99})
	q := NewQueryTool(store)

	res, err := q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "customer_id", Operator: "==", Value: "1971"})
	require.NoError(t, err)
	assert.Equal(t, StatusRows, res.Status)
	assert.Equal(t, 1, res.Matched)

	lines := strings.Split(res.Text, "\n")
	require.Len(t, lines, 2, "header plus one row")
	assert.True(t, strings.HasPrefix(lines[0], "customer_id"))
	assert.True(t, strings.HasPrefix(lines[1], "1971"))
}

func TestFilterNoRecordsIsNotAnError(t *testing.T) {
	q := NewQueryTool(testStore(10))

	res, err := q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "customer_id", Operator: "==", Value: "99999"})
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)
	assert.Equal(t, "No records found in customers where customer_id == 99999.", res.Text)

	_, err = q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "shoe_size", Operator: "==", Value: "42"})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "shoe_size", schemaErr.Column)
}

func TestFilterUnknownTable(t *testing.T) {
	_, err := NewQueryTool(testStore(3)).Execute(QuerySpec{Kind: QueryFilter, Table: "accounts", Column: "id", Value: "1"})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, err.Error(), "accounts")
}

func TestFilterConversion(t *testing.T) {
	q := NewQueryTool(testStore(10))

	_, err := q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "customer_id", Operator: ">", Value: "ten"})
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, "integer", convErr.Type)

	_, err = q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "high_ticket_user", Value: "maybe"})
	require.ErrorAs(t, err, &convErr)

	res, err := q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "high_ticket_user", Value: "True"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Matched)
}

func TestFilterOperators(t *testing.T) {
	q := NewQueryTool(testStore(10))

	res, err := q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "total_spend_eur", Operator: ">", Value: "70"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Matched) // 80, 90, 100

	res, err = q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "recency_days", Operator: "less_than", Value: "5"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched) // 2, 4

	res, err = q.Execute(QuerySpec{Kind: QueryFilter, Table: "transactions", Column: "category", Operator: "contains", Value: "TRAV"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Contains(t, res.Text, "tx-1")

	_, err = q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "recency_days", Operator: "contains", Value: "1"})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestFilterRowCap(t *testing.T) {
	q := NewQueryTool(testStore(30))

	res, err := q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "total_spend_eur", Operator: ">", Value: "0"})
	require.NoError(t, err)
	assert.Equal(t, 30, res.Matched)
	assert.Equal(t, 10, res.Shown)
	assert.Contains(t, res.Text, "(showing 10 of 30 matching rows)")

	res, err = q.Execute(QuerySpec{Kind: QueryFilter, Table: "customers", Column: "total_spend_eur", Operator: ">", Value: "0", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Shown)
}

func TestTopN(t *testing.T) {
	q := NewQueryTool(testStore(100))

	res, err := q.Execute(QuerySpec{Kind: QueryTopN, Table: "customers", Column: "total_spend_eur", Limit: 5})
	require.NoError(t, err)
	lines := strings.Split(res.Text, "\n")
	require.Len(t, lines, 6)
	for i, id := range []string{"100", "99", "98", "97", "96"} {
		assert.True(t, strings.HasPrefix(lines[i+1], id+" "), "row %d: %q", i, lines[i+1])
	}

	small := NewQueryTool(testStore(3))
	res, err = small.Execute(QuerySpec{Kind: QueryTopN, Table: "customers", Column: "total_spend_eur", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Shown)
	lines = strings.Split(res.Text, "\n")
	// ids 1 and 2 tie on spend; the earlier row comes first
	assert.True(t, strings.HasPrefix(lines[1], "3 "))
	assert.True(t, strings.HasPrefix(lines[2], "1 "))
	assert.True(t, strings.HasPrefix(lines[3], "2 "))
}

func TestTopNDefaultsAndNonNumeric(t *testing.T) {
	q := NewQueryTool(testStore(20))

	res, err := q.Execute(QuerySpec{Kind: QueryTopN, Table: "customers", Column: "recency_days"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Shown)

	_, err = q.Execute(QuerySpec{Kind: QueryTopN, Table: "customers", Column: "email"})
	var schemaErr *SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

func TestQuerySpecValidate(t *testing.T) {
	valid := QuerySpec{Kind: QueryFilter, Table: "customers", Column: "country", Value: "FI"}
	assert.NoError(t, valid.Validate())

	missingValue := QuerySpec{Kind: QueryFilter, Table: "customers", Column: "country"}
	assert.Error(t, missingValue.Validate())

	topN := QuerySpec{Kind: QueryTopN, Table: "customers", Column: "total_spend_eur"}
	assert.NoError(t, topN.Validate())

	badKind := QuerySpec{Kind: "group_by", Table: "customers", Column: "country"}
	assert.Error(t, badKind.Validate())

	badOp := QuerySpec{Kind: QueryFilter, Table: "customers", Column: "country", Value: "FI", Operator: "~="}
	assert.Error(t, badOp.Validate())

	negative := QuerySpec{Kind: QueryTopN, Table: "customers", Column: "total_spend_eur", Limit: -1}
	assert.Error(t, negative.Validate())
}
