package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/ollacode/ollacode/agentloop"
	_ "modernc.org/sqlite"
)

// maxStoredOutput bounds the tool output kept per record.
const maxStoredOutput = 16 * 1024

// SQLiteStore implements Repository using SQLite. It also satisfies
// agentloop.Recorder so a session can write to it directly.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serialises writes to avoid SQLITE_BUSY
}

var (
	_ Repository         = (*SQLiteStore)(nil)
	_ agentloop.Recorder = (*SQLiteStore)(nil)
)

// NewSQLite opens or creates the audit database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		call_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		arguments TEXT NOT NULL,
		is_error INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL,
		diff TEXT NOT NULL DEFAULT '',
		approval TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts rec, assigning a ULID and creation time when unset.
func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ID == "" {
		rec.ID = ulid.MustNew(ulid.Timestamp(rec.CreatedAt), ulid.DefaultEntropy()).String()
	}
	output := rec.Output
	if len(output) > maxStoredOutput {
		output = output[:maxStoredOutput] + "\n[truncated]"
	}

	query := `
	INSERT INTO tool_calls (id, session_id, call_id, tool, arguments, is_error, output, diff, approval, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.CallID, rec.Tool, rec.Arguments,
		boolToInt(rec.IsError), output, rec.Diff, rec.Approval,
		rec.DurationMs, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert tool call %s: %w", rec.CallID, err)
	}
	return nil
}

// RecordToolCall stores a record produced by an agentloop session.
func (s *SQLiteStore) RecordToolCall(ctx context.Context, rec agentloop.ToolCallRecord) error {
	return s.Append(ctx, &Record{
		SessionID:  rec.SessionID,
		CallID:     rec.CallID,
		Tool:       rec.Tool,
		Arguments:  rec.Arguments,
		IsError:    rec.IsError,
		Output:     rec.Output,
		Diff:       rec.Diff,
		Approval:   string(rec.Approval),
		DurationMs: rec.Duration.Milliseconds(),
		CreatedAt:  rec.At,
	})
}

// Recent returns the newest records first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `
		SELECT id, session_id, call_id, tool, arguments, is_error, output, diff, approval, duration_ms, created_at
		FROM tool_calls ORDER BY id DESC LIMIT ?`, limit)
}

// BySession returns the records of one session in execution order.
func (s *SQLiteStore) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	return s.query(ctx, `
		SELECT id, session_id, call_id, tool, arguments, is_error, output, diff, approval, duration_ms, created_at
		FROM tool_calls WHERE session_id = ? ORDER BY id ASC`, sessionID)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var isError int
		var createdAt int64
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.CallID, &rec.Tool, &rec.Arguments,
			&isError, &rec.Output, &rec.Diff, &rec.Approval, &rec.DurationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan tool call row: %w", err)
		}
		rec.IsError = isError != 0
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool calls: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
