package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteSink persists audit events in an append-only SQLite table. Rows are
// never updated or deleted here; retention is an external concern.
type SQLiteSink struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteSink opens (or creates) the audit database at dbPath
func NewSQLiteSink(dbPath string, logger zerolog.Logger) (*SQLiteSink, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteSink{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewSQLiteSinkFromDB wraps an existing database handle
func NewSQLiteSinkFromDB(db *sql.DB, logger zerolog.Logger) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			session_id    TEXT,
			tool_name     TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			error_code    TEXT,
			determined_by TEXT,
			approval_id   TEXT,
			duration_ms   INTEGER NOT NULL,
			detail        TEXT,
			created_at    TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_log table: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Record implements Sink
func (s *SQLiteSink) Record(ctx context.Context, event Event) (string, error) {
	if event.ID == "" {
		event.ID = NewEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var detail []byte
	if event.Detail != nil {
		var err error
		detail, err = json.Marshal(event.Detail)
		if err != nil {
			return "", fmt.Errorf("failed to encode event detail: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, session_id, tool_name, outcome, error_code, determined_by, approval_id, duration_ms, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.UserID, event.SessionID, event.ToolName, event.Outcome,
		event.ErrorCode, event.DeterminedBy, event.ApprovalID, event.DurationMs,
		string(detail), event.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to record audit event: %w", err)
	}

	s.logger.Debug().
		Str("event_id", event.ID).
		Str("tool", event.ToolName).
		Str("outcome", event.Outcome).
		Msg("Audit event recorded")

	return event.ID, nil
}

// History returns the most recent events for a user, newest first
func (s *SQLiteSink) History(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, tool_name, outcome, error_code, determined_by, approval_id, duration_ms, detail, created_at
		FROM audit_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var sessionID, errorCode, determinedBy, approvalID, detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.UserID, &sessionID, &ev.ToolName, &ev.Outcome,
			&errorCode, &determinedBy, &approvalID, &ev.DurationMs, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		ev.SessionID = sessionID.String
		ev.ErrorCode = errorCode.String
		ev.DeterminedBy = determinedBy.String
		ev.ApprovalID = approvalID.String

		if detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &ev.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode event detail: %w", err)
			}
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}
