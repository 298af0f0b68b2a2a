// Package store keeps a sqlite history of finished tasks.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mender/agent"
)

// ErrNotFound is returned when no history exists for a task id
var ErrNotFound = errors.New("task record not found")

// Store manages the SQLite database for task history
type Store struct {
	db  *sql.DB
	fts bool
}

// Record is one persisted task snapshot
type Record struct {
	TaskID      string          `json:"task_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	LateResult  json.RawMessage `json:"late_result,omitempty"`
	Success     bool            `json:"success"`
	Errors      []string        `json:"errors,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	AssignedAt  *time.Time      `json:"assigned_at,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Duration    time.Duration   `json:"duration"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// Filters narrows ListTasks
type Filters struct {
	Status     string
	Type       string
	AssignedTo string
	Since      time.Time
	Limit      int
}

// Open opens (and creates) the history database at dbPath
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under concurrent records
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the database schema
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT,
		payload TEXT,
		result TEXT,
		late_result TEXT,
		success BOOLEAN DEFAULT FALSE,
		errors TEXT,
		created_at TIMESTAMP NOT NULL,
		assigned_at TIMESTAMP,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		duration_ms INTEGER DEFAULT 0,
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_status ON task_history(status);
	CREATE INDEX IF NOT EXISTS idx_history_type ON task_history(type);
	CREATE INDEX IF NOT EXISTS idx_history_agent ON task_history(assigned_to);
	CREATE INDEX IF NOT EXISTS idx_history_completed ON task_history(completed_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 needs the sqlite_fts5 build tag; Search falls back to LIKE without it
	ftsSchema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS task_history_fts USING fts5(
		errors,
		result,
		content=task_history,
		content_rowid=id
	);

	CREATE TRIGGER IF NOT EXISTS task_history_ai AFTER INSERT ON task_history BEGIN
		INSERT INTO task_history_fts(rowid, errors, result)
		VALUES (new.id, new.errors, new.result);
	END;

	CREATE TRIGGER IF NOT EXISTS task_history_au AFTER UPDATE ON task_history BEGIN
		INSERT INTO task_history_fts(task_history_fts, rowid, errors, result)
		VALUES ('delete', old.id, old.errors, old.result);
		INSERT INTO task_history_fts(rowid, errors, result)
		VALUES (new.id, new.errors, new.result);
	END;

	CREATE TRIGGER IF NOT EXISTS task_history_ad AFTER DELETE ON task_history BEGIN
		INSERT INTO task_history_fts(task_history_fts, rowid, errors, result)
		VALUES ('delete', old.id, old.errors, old.result);
	END;
	`
	_, err := s.db.Exec(ftsSchema)
	s.fts = err == nil

	return nil
}

// RecordTask upserts a task snapshot. It satisfies agent.Recorder.
func (s *Store) RecordTask(ctx context.Context, task agent.Task) error {
	payload, err := marshalNullable(task.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	result, err := marshalNullable(task.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	lateResult, err := marshalNullable(task.LateResult)
	if err != nil {
		return fmt.Errorf("failed to marshal late result: %w", err)
	}

	var success bool
	var errs []string
	if task.Result != nil {
		success = task.Result.Success
		errs = task.Result.Errors
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	query := `
		INSERT INTO task_history (
			task_id, type, status, assigned_to,
			payload, result, late_result, success, errors,
			created_at, assigned_at, started_at, completed_at,
			duration_ms, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			payload = excluded.payload,
			result = excluded.result,
			late_result = excluded.late_result,
			success = excluded.success,
			errors = excluded.errors,
			assigned_at = excluded.assigned_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			recorded_at = excluded.recorded_at
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.Type, string(task.Status), task.AssignedTo,
		payload, result, lateResult, success, string(errorsJSON),
		task.CreatedAt, task.AssignedAt, task.StartedAt, task.CompletedAt,
		task.Duration().Milliseconds(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record task: %w", err)
	}

	return nil
}

// GetTask retrieves the latest record of a task
func (s *Store) GetTask(ctx context.Context, taskID string) (*Record, error) {
	query := selectColumns + ` FROM task_history WHERE task_id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return rec, nil
}

// ListTasks lists records, newest first, with optional filters
func (s *Store) ListTasks(ctx context.Context, filters Filters) ([]*Record, error) {
	query := selectColumns + ` FROM task_history WHERE 1=1`

	var args []any
	var conditions []string

	if filters.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filters.Status)
	}
	if filters.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filters.Type)
	}
	if filters.AssignedTo != "" {
		conditions = append(conditions, "assigned_to = ?")
		args = append(args, filters.AssignedTo)
	}
	if !filters.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filters.Since)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}

	return s.queryRecords(ctx, query, args...)
}

// Search finds records whose errors or result mention query
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}

	if s.fts {
		q := selectColumns + ` FROM task_history
			WHERE id IN (SELECT rowid FROM task_history_fts WHERE task_history_fts MATCH ?)
			ORDER BY created_at DESC LIMIT ?`
		// quote the phrase so user input is not parsed as FTS syntax
		phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
		if recs, err := s.queryRecords(ctx, q, phrase, limit); err == nil {
			return recs, nil
		}
	}

	like := "%" + query + "%"
	q := selectColumns + ` FROM task_history
		WHERE errors LIKE ? OR result LIKE ?
		ORDER BY created_at DESC LIMIT ?`
	return s.queryRecords(ctx, q, like, like, limit)
}

// CountByStatus counts records per status
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM task_history GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteBefore removes records completed before t
func (s *Store) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM task_history WHERE completed_at < ?`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	return result.RowsAffected()
}

const selectColumns = `
	SELECT task_id, type, status, assigned_to,
		payload, result, late_result, success, errors,
		created_at, assigned_at, started_at, completed_at,
		duration_ms, recorded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var assignedTo, payload, result, lateResult, errorsJSON sql.NullString
	var assignedAt, startedAt, completedAt sql.NullTime
	var durationMS int64

	err := row.Scan(
		&rec.TaskID, &rec.Type, &rec.Status, &assignedTo,
		&payload, &result, &lateResult, &rec.Success, &errorsJSON,
		&rec.CreatedAt, &assignedAt, &startedAt, &completedAt,
		&durationMS, &rec.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.AssignedTo = assignedTo.String
	rec.Payload = rawJSON(payload)
	rec.Result = rawJSON(result)
	rec.LateResult = rawJSON(lateResult)
	rec.AssignedAt = timePtr(assignedAt)
	rec.StartedAt = timePtr(startedAt)
	rec.CompletedAt = timePtr(completedAt)
	rec.Duration = time.Duration(durationMS) * time.Millisecond

	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &rec.Errors); err != nil {
			rec.Errors = []string{errorsJSON.String}
		}
	}

	return &rec, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func marshalNullable(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case *agent.Result:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
