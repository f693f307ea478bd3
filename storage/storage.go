package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// SettingChannels holds the JSON-encoded channel list.
	SettingChannels = "channels"
	// SettingSummaryTime holds the "day HH:MM" schedule override.
	SettingSummaryTime = "summary_time"
)

// Storage provides persistence operations.
type Storage struct {
	db *sql.DB
}

// New returns a new Storage instance.
func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Init creates database tables if they do not exist.
func (s *Storage) Init(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			channel TEXT PRIMARY KEY,
			checked_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// SetSetting sets a key-value pair in settings.
func (s *Storage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// GetSetting retrieves a setting value by key.
func (s *Storage) GetSetting(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

// SaveChannels persists the channel list.
func (s *Storage) SaveChannels(ctx context.Context, channels []string) error {
	data, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	return s.SetSetting(ctx, SettingChannels, string(data))
}

// LoadChannels returns the persisted channel list, if any.
func (s *Storage) LoadChannels(ctx context.Context) ([]string, bool, error) {
	val, ok, err := s.GetSetting(ctx, SettingChannels)
	if err != nil || !ok {
		return nil, false, err
	}
	var channels []string
	if err := json.Unmarshal([]byte(val), &channels); err != nil {
		return nil, false, fmt.Errorf("unmarshal channels: %w", err)
	}
	return channels, true, nil
}

// LoadCheckpoints returns every stored checkpoint. Rows with unparsable
// timestamps are skipped.
func (s *Storage) LoadCheckpoints(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel, checked_at FROM checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var channel, value string
		if err := rows.Scan(&channel, &value); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			continue
		}
		out[channel] = ts.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows checkpoints: %w", err)
	}
	return out, nil
}

// SaveCheckpoints replaces the stored checkpoints in a single transaction.
func (s *Storage) SaveCheckpoints(ctx context.Context, checkpoints map[string]time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints`); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	for channel, ts := range checkpoints {
		_, err := tx.ExecContext(ctx, `INSERT INTO checkpoints (channel, checked_at) VALUES (?, ?)`, channel, ts.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return nil
}

// ClearCheckpoints removes every stored checkpoint.
func (s *Storage) ClearCheckpoints(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints`); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}
