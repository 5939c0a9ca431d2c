package gold

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantumflow/finassist/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS customers (
	row_id INTEGER PRIMARY KEY AUTOINCREMENT,
	customer_id INTEGER NOT NULL,
	country TEXT,
	signup_date TEXT,
	email TEXT,
	total_spend_eur REAL,
	avg_transaction_value REAL,
	transaction_frequency INTEGER,
	last_tx_date TEXT,
	recency_days INTEGER,
	high_ticket_user BOOLEAN,
	cross_border_count INTEGER
);

CREATE TABLE IF NOT EXISTS transactions (
	row_id INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id TEXT NOT NULL,
	customer_id INTEGER NOT NULL,
	amount REAL,
	currency TEXT,
	timestamp TEXT,
	category TEXT,
	amount_eur REAL
);

CREATE INDEX IF NOT EXISTS idx_customers_id ON customers(customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);
`

// LoadSQLite reads the gold tables from a SQLite database with the SaveSQLite schema.
// NULL cells load as zero values, the same as empty CSV cells.
// Rows come back in insertion order so ranking ties match the CSV source.
func LoadSQLite(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+expandPath(dbPath)+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	customers, err := queryCustomers(ctx, db)
	if err != nil {
		return nil, err
	}

	transactions, err := queryTransactions(ctx, db)
	if err != nil {
		return nil, err
	}

	return NewStore(customers, transactions), nil
}

func queryCustomers(ctx context.Context, db *sql.DB) ([]models.Customer, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT customer_id, COALESCE(country, ''), COALESCE(signup_date, ''), COALESCE(email, ''),
			COALESCE(total_spend_eur, 0), COALESCE(avg_transaction_value, 0),
			COALESCE(transaction_frequency, 0), COALESCE(last_tx_date, ''),
			COALESCE(recency_days, 0), COALESCE(high_ticket_user, 0), COALESCE(cross_border_count, 0)
		FROM customers ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(
			&c.CustomerID,
			&c.Country,
			&c.SignupDate,
			&c.Email,
			&c.TotalSpendEUR,
			&c.AvgTransactionValue,
			&c.TransactionFrequency,
			&c.LastTxDate,
			&c.RecencyDays,
			&c.HighTicketUser,
			&c.CrossBorderCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func queryTransactions(ctx context.Context, db *sql.DB) ([]models.Transaction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT transaction_id, customer_id, COALESCE(amount, 0), COALESCE(currency, ''),
			COALESCE(timestamp, ''), COALESCE(category, ''), COALESCE(amount_eur, 0)
		FROM transactions ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.TransactionID,
			&tx.CustomerID,
			&tx.Amount,
			&tx.Currency,
			&tx.Timestamp,
			&tx.Category,
			&tx.AmountEUR,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// SaveSQLite writes the store into a SQLite database, replacing any gold rows already there
func SaveSQLite(ctx context.Context, store *Store, dbPath string) error {
	dbPath = expandPath(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM customers; DELETE FROM transactions;"); err != nil {
		return fmt.Errorf("failed to clear tables: %w", err)
	}

	custStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO customers (
			customer_id, country, signup_date, email, total_spend_eur,
			avg_transaction_value, transaction_frequency, last_tx_date,
			recency_days, high_ticket_user, cross_border_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare customer insert: %w", err)
	}
	defer custStmt.Close()

	for _, c := range store.Customers() {
		if _, err := custStmt.ExecContext(ctx, customerRow(c)...); err != nil {
			return fmt.Errorf("failed to insert customer %d: %w", c.CustomerID, err)
		}
	}

	txStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (
			transaction_id, customer_id, amount, currency, timestamp, category, amount_eur
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare transaction insert: %w", err)
	}
	defer txStmt.Close()

	for _, t := range store.Transactions() {
		if _, err := txStmt.ExecContext(ctx, transactionRow(t)...); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", t.TransactionID, err)
		}
	}

	return tx.Commit()
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
