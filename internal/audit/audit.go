package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Logger records answered conversations
type Logger interface {
	// Log records one conversation
	Log(ctx context.Context, entry *Entry) error

	// Query retrieves conversations, newest first
	Query(ctx context.Context, filter *Filter) ([]*Entry, error)
}

// Entry is one audited conversation
type Entry struct {
	ID         string // conversation id
	Timestamp  time.Time
	Question   string
	State      string
	Answer     string
	Rounds     int
	ToolCalls  int
	ToolErrors int
	Sources    int
	Charts     int
	Model      string
	Duration   time.Duration
	Error      string
	Metadata   map[string]any
}

// Filter defines criteria for querying the log
type Filter struct {
	State     *string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Stats holds aggregate figures over the log
type Stats struct {
	Total           int
	Done            int
	Failed          int
	FailureRate     float64
	AverageRounds   float64
	TotalToolCalls  int
	AverageDuration time.Duration
}

// SQLiteLogger implements Logger using SQLite
type SQLiteLogger struct {
	db *sql.DB
}

// NewSQLiteLogger opens (or creates) the audit database at dbPath
func NewSQLiteLogger(dbPath string) (*SQLiteLogger, error) {
	if strings.HasPrefix(dbPath, "~/") {
		home, _ := os.UserHomeDir()
		dbPath = filepath.Join(home, dbPath[2:])
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writes come from one process; a single connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	logger := &SQLiteLogger{db: db}
	if err := logger.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return logger, nil
}

func (a *SQLiteLogger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		question TEXT NOT NULL,
		state TEXT NOT NULL,
		answer TEXT,
		rounds INTEGER,
		tool_calls INTEGER,
		tool_errors INTEGER,
		sources INTEGER,
		charts INTEGER,
		model TEXT,
		duration_ms INTEGER,
		error TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_conversations_state ON conversations(state);
	`

	_, err := a.db.Exec(schema)
	return err
}

// Log records a conversation
func (a *SQLiteLogger) Log(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO conversations (
			id, timestamp, question, state, answer, rounds, tool_calls,
			tool_errors, sources, charts, model, duration_ms, error, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	metadataJSON := "{}"
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := a.db.ExecContext(ctx, query,
		entry.ID,
		ts.UTC(),
		entry.Question,
		entry.State,
		entry.Answer,
		entry.Rounds,
		entry.ToolCalls,
		entry.ToolErrors,
		entry.Sources,
		entry.Charts,
		entry.Model,
		entry.Duration.Milliseconds(),
		entry.Error,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Query retrieves audited conversations
func (a *SQLiteLogger) Query(ctx context.Context, filter *Filter) ([]*Entry, error) {
	query := `SELECT id, timestamp, question, state, answer, rounds, tool_calls, tool_errors,
		sources, charts, model, duration_ms, error, metadata FROM conversations WHERE 1=1`
	args := []interface{}{}

	if filter == nil {
		filter = &Filter{}
	}

	if filter.State != nil {
		query += " AND state = ?"
		args = append(args, *filter.State)
	}

	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UTC())
	}

	if filter.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UTC())
	}

	query += " ORDER BY timestamp DESC, seq DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var durationMs int64
		var answer, model, errText, metadata sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.Question,
			&entry.State,
			&answer,
			&entry.Rounds,
			&entry.ToolCalls,
			&entry.ToolErrors,
			&entry.Sources,
			&entry.Charts,
			&model,
			&durationMs,
			&errText,
			&metadata,
		)
		if err != nil {
			return nil, err
		}

		entry.Answer = answer.String
		entry.Model = model.String
		entry.Error = errText.String
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		if metadata.Valid && metadata.String != "" && metadata.String != "{}" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of %s: %w", entry.ID, err)
			}
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// GetStats returns statistics over conversations logged since the given time
func (a *SQLiteLogger) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN state = 'DONE' THEN 1 ELSE 0 END), 0) as done,
			COALESCE(SUM(CASE WHEN state = 'FAILED' THEN 1 ELSE 0 END), 0) as failed,
			AVG(rounds) as avg_rounds,
			COALESCE(SUM(tool_calls), 0) as tool_calls,
			AVG(duration_ms) as avg_duration_ms
		FROM conversations
		WHERE timestamp >= ?
	`

	var stats Stats
	var avgRounds, avgDuration sql.NullFloat64

	err := a.db.QueryRowContext(ctx, query, since.UTC()).Scan(
		&stats.Total,
		&stats.Done,
		&stats.Failed,
		&avgRounds,
		&stats.TotalToolCalls,
		&avgDuration,
	)
	if err != nil {
		return nil, err
	}

	if avgRounds.Valid {
		stats.AverageRounds = avgRounds.Float64
	}
	if avgDuration.Valid {
		stats.AverageDuration = time.Duration(avgDuration.Float64) * time.Millisecond
	}
	if stats.Total > 0 {
		stats.FailureRate = float64(stats.Failed) / float64(stats.Total)
	}

	return &stats, nil
}

// Close closes the database connection
func (a *SQLiteLogger) Close() error {
	return a.db.Close()
}
