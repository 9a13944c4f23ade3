package autonomy

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

// SQLiteStore persists autonomy settings in SQLite. Settings are stored as a
// JSON document per user and always read fresh, so a concurrent settings
// update is visible to the next resolution.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the settings database at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
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

// NewSQLiteStoreFromDB wraps an existing database handle, sharing it with
// other stores.
func NewSQLiteStoreFromDB(db *sql.DB, logger zerolog.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS autonomy_settings (
			user_id    TEXT PRIMARY KEY,
			settings   TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create autonomy_settings table: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store, creating default settings on first use
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Settings, error) {
	settings, err := s.load(ctx, userID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	defaults := DefaultSettings()
	if err := s.save(ctx, userID, defaults); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("user_id", userID).Msg("Created default autonomy settings")
	return defaults, nil
}

// Update implements Store
func (s *SQLiteStore) Update(ctx context.Context, userID string, patch Patch) (*Settings, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := patch.Apply(current)
	if err := Validate(merged); err != nil {
		return nil, err
	}

	if err := s.save(ctx, userID, merged); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", userID).Msg("Autonomy settings updated")
	return merged, nil
}

// Reset implements Store
func (s *SQLiteStore) Reset(ctx context.Context, userID string, preset string, section Section) (*Settings, error) {
	target, err := Preset(preset)
	if err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged, err := ResetSection(current, target, section)
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, userID, merged); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("preset", preset).
		Str("section", string(section)).
		Msg("Autonomy settings reset")

	return merged, nil
}

func (s *SQLiteStore) load(ctx context.Context, userID string) (*Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT settings FROM autonomy_settings WHERE user_id = ?", userID,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings for %s: %w", userID, err)
	}

	return settings, nil
}

func (s *SQLiteStore) save(ctx context.Context, userID string, settings *Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO autonomy_settings (user_id, settings, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at
	`, userID, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", userID, err)
	}

	return nil
}
