package conversation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	project      TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	id           TEXT    NOT NULL,
	role         TEXT    NOT NULL,
	content      TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	created_at   TEXT    NOT NULL,
	tool_actions TEXT,
	PRIMARY KEY (project, seq)
);
CREATE INDEX IF NOT EXISTS idx_turns_project ON turns(project);
`

// SQLiteLog stores all projects' logs in a single SQLite database.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (or creates) the database at path.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Load returns the project's turns in order.
func (l *SQLiteLog) Load(projectID string) ([]Turn, error) {
	rows, err := l.db.Query(
		`SELECT id, role, content, status, created_at, tool_actions
		 FROM turns WHERE project = ? ORDER BY seq`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t         Turn
			createdAt string
			actions   sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &t.Status, &createdAt, &actions); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			t.CreatedAt = ts
		}
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &t.ToolActions); err != nil {
				return nil, fmt.Errorf("failed to decode tool actions of %s: %w", t.ID, err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Save replaces the project's turns in one transaction.
func (l *SQLiteLog) Save(projectID string, turns []Turn) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM turns WHERE project = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO turns (project, seq, id, role, content, status, created_at, tool_actions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range turns {
		var actions sql.NullString
		if len(t.ToolActions) > 0 {
			data, err := json.Marshal(t.ToolActions)
			if err != nil {
				return fmt.Errorf("failed to encode tool actions of %s: %w", t.ID, err)
			}
			actions = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.Exec(projectID, i, t.ID, string(t.Role), t.Content, string(t.Status),
			t.CreatedAt.UTC().Format(time.RFC3339Nano), actions); err != nil {
			return fmt.Errorf("failed to insert turn %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Clear deletes the project's turns.
func (l *SQLiteLog) Clear(projectID string) error {
	if _, err := l.db.Exec(`DELETE FROM turns WHERE project = ?`, projectID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
