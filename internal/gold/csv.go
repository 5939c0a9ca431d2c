package gold

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quantumflow/finassist/internal/models"
)

const (
	CustomersFile    = "gold_customers.csv"
	TransactionsFile = "gold_transactions.csv"
)

// LoadCSV reads gold_customers.csv and gold_transactions.csv from dir
func LoadCSV(dir string) (*Store, error) {
	customers, err := readCustomersFile(filepath.Join(dir, CustomersFile))
	if err != nil {
		return nil, err
	}

	transactions, err := readTransactionsFile(filepath.Join(dir, TransactionsFile))
	if err != nil {
		return nil, err
	}

	return NewStore(customers, transactions), nil
}

func readCustomersFile(path string) ([]models.Customer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open customers file: %w", err)
	}
	defer f.Close()

	customers, err := ReadCustomers(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return customers, nil
}

func readTransactionsFile(path string) ([]models.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transactions file: %w", err)
	}
	defer f.Close()

	transactions, err := ReadTransactions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return transactions, nil
}

// ReadCustomers parses customer rows from CSV with a header line
func ReadCustomers(r io.Reader) ([]models.Customer, error) {
	var customers []models.Customer
	err := readRecords(r, CustomerColumns, func(rec *record) {
		customers = append(customers, models.Customer{
			CustomerID:           rec.int("customer_id"),
			Country:              rec.str("country"),
			SignupDate:           rec.str("signup_date"),
			Email:                rec.str("email"),
			TotalSpendEUR:        rec.float("total_spend_eur"),
			AvgTransactionValue:  rec.float("avg_transaction_value"),
			TransactionFrequency: rec.int("transaction_frequency"),
			LastTxDate:           rec.str("last_tx_date"),
			RecencyDays:          rec.int("recency_days"),
			HighTicketUser:       rec.bool("high_ticket_user"),
			CrossBorderCount:     rec.int("cross_border_count"),
		})
	})
	return customers, err
}

// ReadTransactions parses transaction rows from CSV with a header line
func ReadTransactions(r io.Reader) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := readRecords(r, TransactionColumns, func(rec *record) {
		transactions = append(transactions, models.Transaction{
			TransactionID: rec.str("transaction_id"),
			CustomerID:    rec.int("customer_id"),
			Amount:        rec.float("amount"),
			Currency:      rec.str("currency"),
			Timestamp:     rec.str("timestamp"),
			Category:      rec.str("category"),
			AmountEUR:     rec.float("amount_eur"),
		})
	})
	return transactions, err
}

func readRecords(r io.Reader, columns []Column, emit func(*record)) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("missing header")
		}
		return fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	for _, c := range columns {
		if _, ok := index[c.Name]; !ok {
			return fmt.Errorf("missing column %q", c.Name)
		}
	}

	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}
		line++

		rec := &record{fields: fields, index: index}
		emit(rec)
		if rec.err != nil {
			return fmt.Errorf("line %d: %w", line, rec.err)
		}
	}
}

// record decodes typed fields and keeps the first parse error.
// Empty cells decode to the zero value.
type record struct {
	fields []string
	index  map[string]int
	err    error
}

func (r *record) raw(col string) string {
	i := r.index[col]
	if i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r *record) str(col string) string {
	return r.raw(col)
}

func (r *record) int(col string) int64 {
	s := r.raw(col)
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	// Integer columns written by a float-typed writer come out as "12.0"
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		r.fail(col, s, TypeInt)
		return 0
	}
	return int64(f)
}

func (r *record) float(col string) float64 {
	s := r.raw(col)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(col, s, TypeFloat)
		return 0
	}
	return v
}

func (r *record) bool(col string) bool {
	s := r.raw(col)
	if s == "" {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		r.fail(col, s, TypeBool)
		return false
	}
	return v
}

func (r *record) fail(col, value string, t ColumnType) {
	if r.err == nil {
		r.err = fmt.Errorf("column %s: cannot parse %q as %s", col, value, t)
	}
}
