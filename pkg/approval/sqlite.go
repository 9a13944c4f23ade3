package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/pkg/catalog"
)

// SQLiteStore persists approval records in SQLite. The pending-only UPDATE
// predicate makes Transition a compare-and-swap on status, so concurrent
// decisions on the same record cannot both succeed.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the approval database at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
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

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle
func NewSQLiteStoreFromDB(db *sql.DB, logger zerolog.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS approvals (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			tool_name       TEXT NOT NULL,
			parameters      TEXT NOT NULL,
			category        TEXT NOT NULL,
			risk_level      TEXT NOT NULL,
			reasoning       TEXT,
			status          TEXT NOT NULL,
			conversation_id TEXT,
			requested_at    TIMESTAMP NOT NULL,
			expires_at      TIMESTAMP NOT NULL,
			decided_at      TIMESTAMP,
			result          TEXT,
			error_message   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_user_status ON approvals(user_id, status);
		CREATE INDEX IF NOT EXISTS idx_approvals_status_expires ON approvals(status, expires_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create approvals table: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create implements Store
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, user_id, tool_name, parameters, category, risk_level, reasoning, status, conversation_id, requested_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.ToolName, string(params), string(rec.Category),
		string(rec.RiskLevel), rec.Reasoning, string(rec.Status), rec.ConversationID,
		rec.RequestedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create approval record: %w", err)
	}

	s.logger.Info().
		Str("approval_id", rec.ID).
		Str("tool", rec.ToolName).
		Str("user_id", rec.UserID).
		Time("expires_at", rec.ExpiresAt).
		Msg("Approval record created")

	return nil
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, tool_name, parameters, category, risk_level, reasoning, status, conversation_id, requested_at, expires_at, decided_at, result, error_message
		FROM approvals WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Transition implements Store. The WHERE status='pending' predicate is the
// compare half of the compare-and-swap.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to Status, decidedAt time.Time, errorMessage string) (*Record, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, decided_at = ?, error_message = CASE WHEN ? != '' THEN ? ELSE error_message END
		WHERE id = ? AND status = ?
	`, string(to), decidedAt, errorMessage, errorMessage, id, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to transition approval %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyDecided
	}

	s.logger.Info().
		Str("approval_id", id).
		Str("status", string(to)).
		Msg("Approval transitioned")

	return s.Get(ctx, id)
}

// SetResult implements Store
func (s *SQLiteStore) SetResult(ctx context.Context, id string, result interface{}, errorMessage string) error {
	var encoded []byte
	if result != nil {
		var err error
		encoded, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE approvals SET result = ?, error_message = ? WHERE id = ?",
		string(encoded), errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to set result for approval %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListPending implements Store
func (s *SQLiteStore) ListPending(ctx context.Context, userID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tool_name, parameters, category, risk_level, reasoning, status, conversation_id, requested_at, expires_at, decided_at, result, error_message
		FROM approvals
		WHERE user_id = ? AND status = ?
		ORDER BY requested_at ASC
	`, userID, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// ExpireOverdue implements Store
func (s *SQLiteStore) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, decided_at = ?
		WHERE status = ? AND expires_at < ?
	`, string(StatusExpired), now, string(StatusPending), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue approvals: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return int(affected), nil
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	var rec Record
	var params, status, category, riskLevel string
	var reasoning, conversationID, result, errorMessage sql.NullString
	var decidedAt sql.NullTime

	err := sc.Scan(&rec.ID, &rec.UserID, &rec.ToolName, &params, &category,
		&riskLevel, &reasoning, &status, &conversationID, &rec.RequestedAt,
		&rec.ExpiresAt, &decidedAt, &result, &errorMessage)
	if err != nil {
		return nil, err
	}

	rec.Category = catalog.Category(category)
	rec.RiskLevel = catalog.RiskLevel(riskLevel)
	rec.Status = Status(status)
	rec.Reasoning = reasoning.String
	rec.ConversationID = conversationID.String
	rec.ErrorMessage = errorMessage.String

	if decidedAt.Valid {
		rec.DecidedAt = &decidedAt.Time
	}

	if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters for %s: %w", rec.ID, err)
	}

	if result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result for %s: %w", rec.ID, err)
		}
	}

	return &rec, nil
}
