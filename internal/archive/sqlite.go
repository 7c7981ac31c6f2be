// Package archive retains cleaned-up tasks in a local SQLite file for
// audit. The in-memory engine store stays authoritative; rows written here
// are never read back into the engine.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"agentflow/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS archived_tasks (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL,
	status          TEXT NOT NULL,
	priority        TEXT NOT NULL,
	agent_type      TEXT NOT NULL,
	progress        INTEGER NOT NULL,
	logs            TEXT NOT NULL DEFAULT '[]',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	started_at      TEXT,
	completed_at    TEXT,
	cron_expression TEXT NOT NULL DEFAULT '',
	timezone        TEXT NOT NULL DEFAULT '',
	archived_at     TEXT NOT NULL
);
`

// SQLiteArchive appends terminal tasks to a SQLite database.
type SQLiteArchive struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path and ensures the
// table exists. The caller is responsible for calling Close.
func Open(ctx context.Context, path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows only one writer; a single connection serializes
	// writes within the process and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	timeout := int((3 * time.Second) / time.Millisecond)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", timeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

// Close releases the underlying database connection.
func (a *SQLiteArchive) Close() error { return a.db.Close() }

// Archive inserts the task. Re-archiving the same task ID replaces the
// earlier row so cleanup retries stay idempotent.
func (a *SQLiteArchive) Archive(ctx context.Context, t *core.AgentTask) error {
	logs, err := json.Marshal(t.Logs)
	if err != nil {
		return fmt.Errorf("encode logs for task %s: %w", t.ID, err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO archived_tasks
			(id, name, description, status, priority, agent_type, progress,
			 logs, created_at, updated_at, started_at, completed_at,
			 cron_expression, timezone, archived_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.Description, string(t.Status), string(t.Priority), string(t.AgentType),
		t.Progress, string(logs),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
		t.CronExpression, t.Timezone,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert archived task %s: %w", t.ID, err)
	}
	return nil
}

// Count returns the number of archived tasks.
func (a *SQLiteArchive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM archived_tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archived tasks: %w", err)
	}
	return n, nil
}

// Get returns one archived task by ID, or sql.ErrNoRows.
func (a *SQLiteArchive) Get(ctx context.Context, id string) (*core.AgentTask, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, priority, agent_type, progress,
		       logs, created_at, updated_at, started_at, completed_at,
		       cron_expression, timezone
		FROM archived_tasks WHERE id = ?`, id)

	var t core.AgentTask
	var status, priority, agentType, logsJSON, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString
	if err := row.Scan(
		&t.ID, &t.Name, &t.Description, &status, &priority, &agentType, &t.Progress,
		&logsJSON, &createdAt, &updatedAt, &startedAt, &completedAt,
		&t.CronExpression, &t.Timezone,
	); err != nil {
		return nil, err
	}
	t.Status = core.TaskStatus(status)
	t.Priority = core.Priority(priority)
	t.AgentType = core.AgentType(agentType)
	if err := json.Unmarshal([]byte(logsJSON), &t.Logs); err != nil {
		return nil, fmt.Errorf("decode logs for task %s: %w", t.ID, err)
	}
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for task %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for task %s: %w", t.ID, err)
	}
	if t.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at for task %s: %w", t.ID, err)
	}
	if t.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at for task %s: %w", t.ID, err)
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
