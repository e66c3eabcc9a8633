// Package auditlog is the append-only source of truth for everything that
// happens to a task: status transitions, attempts, confidence scores. The
// live graph is a derived cache; replaying the log from empty always
// reproduces it exactly. Nothing is ever deleted.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/taskengine/internal/graph"
	_ "modernc.org/sqlite"
)

// Transition is one immutable status-change record.
type Transition struct {
	Seq    int64 // Assigned by the log, strictly increasing
	TaskID string
	From   graph.Status
	To     graph.Status
	Actor  string // "scheduler", "monitor", "dispatcher", "council", "engine"
	Reason string
	At     time.Time
}

// Log is the persistence interface: atomic, crash-safe appends plus reads
// for replay. Implementations must never mutate or delete existing records.
type Log interface {
	AppendTransition(ctx context.Context, tr Transition) error
	AppendAttempt(ctx context.Context, a graph.Attempt) error

	Transitions(ctx context.Context) ([]Transition, error)
	Attempts(ctx context.Context, taskID string) ([]graph.Attempt, error)
	AllAttempts(ctx context.Context) ([]graph.Attempt, error)

	Close() error
}

// SQLiteLog implements Log on SQLite with WAL journaling, so a crash between
// appends never corrupts earlier records.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (or creates) the audit database at path.
func NewSQLiteLog(ctx context.Context, path string) (*SQLiteLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	l := &SQLiteLog{db: db}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}
	return l, nil
}

// NewMemoryLog creates an in-memory audit log for tests.
func NewMemoryLog(ctx context.Context) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("opening memory audit database: %w", err)
	}
	// A single connection keeps the shared-cache memory DB alive.
	db.SetMaxOpenConns(1)

	l := &SQLiteLog{db: db}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transitions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor TEXT NOT NULL,
		reason TEXT,
		at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_task ON transitions(task_id, seq);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		backend TEXT NOT NULL,
		tier INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		result TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		rationale TEXT,
		log_ref TEXT,
		verify_out TEXT,
		UNIQUE (task_id, number)
	);
	`
	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// AppendTransition records one status change. A single INSERT in WAL mode is
// atomic.
func (l *SQLiteLog) AppendTransition(ctx context.Context, tr Transition) error {
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO transitions (task_id, from_status, to_status, actor, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tr.TaskID, string(tr.From), string(tr.To), tr.Actor, tr.Reason, at.UTC())
	if err != nil {
		return fmt.Errorf("appending transition for %s: %w", tr.TaskID, err)
	}
	return nil
}

// AppendAttempt records one immutable execution record.
func (l *SQLiteLog) AppendAttempt(ctx context.Context, a graph.Attempt) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO attempts (id, task_id, number, backend, tier, started_at, ended_at,
			result, confidence, rationale, log_ref, verify_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.Number, a.Backend, a.Tier, a.StartedAt.UTC(), a.EndedAt.UTC(),
		string(a.Result), a.Confidence, a.Rationale, a.LogRef, a.VerifyOut)
	if err != nil {
		return fmt.Errorf("appending attempt %d for %s: %w", a.Number, a.TaskID, err)
	}
	return nil
}

// Transitions returns every transition in append order.
func (l *SQLiteLog) Transitions(ctx context.Context) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, task_id, from_status, to_status, actor, reason, at
		FROM transitions ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var from, to string
		if err := rows.Scan(&tr.Seq, &tr.TaskID, &from, &to, &tr.Actor, &tr.Reason, &tr.At); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		tr.From = graph.Status(from)
		tr.To = graph.Status(to)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Attempts returns a task's attempts ordered by attempt number.
func (l *SQLiteLog) Attempts(ctx context.Context, taskID string) ([]graph.Attempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, task_id, number, backend, tier, started_at, ended_at,
			result, confidence, rationale, log_ref, verify_out
		FROM attempts WHERE task_id = ? ORDER BY number
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying attempts for %s: %w", taskID, err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// AllAttempts returns every attempt, ordered by task then attempt number.
func (l *SQLiteLog) AllAttempts(ctx context.Context) ([]graph.Attempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, task_id, number, backend, tier, started_at, ended_at,
			result, confidence, rationale, log_ref, verify_out
		FROM attempts ORDER BY task_id, number
	`)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]graph.Attempt, error) {
	var out []graph.Attempt
	for rows.Next() {
		var a graph.Attempt
		var result string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Number, &a.Backend, &a.Tier,
			&a.StartedAt, &a.EndedAt, &result, &a.Confidence, &a.Rationale,
			&a.LogRef, &a.VerifyOut); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Result = graph.OutcomeResult(result)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
