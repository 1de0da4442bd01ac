package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"keyword_tracker/internal/inbox"
	"keyword_tracker/internal/model"
	"keyword_tracker/migrations"
)

const (
	timeLayout  = "2006-01-02T15:04:05Z"
	settingsKey = "tracker"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// LoadSettings returns the persisted settings, or the defaults when none
// were saved yet. Keys missing from the stored blob keep their defaults.
func (s *SQLite) LoadSettings(ctx context.Context) (*model.Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	settings := model.DefaultSettings()
	if err := json.Unmarshal([]byte(raw), settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	settings.Normalize()
	return settings, nil
}

// SaveSettings normalises and persists the settings.
func (s *SQLite) SaveSettings(ctx context.Context, settings *model.Settings) error {
	settings.Normalize()
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		settingsKey, string(raw), now,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Append stores a match, replacing an earlier one for the same message.
func (s *SQLite) Append(ctx context.Context, ev model.MatchEvent) error {
	payload, err := json.Marshal(ev.Message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO unread_matches
		   (message_id, created_at, kind, match_label, guild_name, channel_name, message, matched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Message.ID, ev.Message.CreatedAt.UTC().Format(time.RFC3339Nano), string(ev.Kind),
		ev.MatchLabel, ev.GuildName, ev.ChannelName, string(payload), now,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// ListVisible returns matches that are not older than the retention window,
// newest first. Older rows are left in place.
func (s *SQLite) ListVisible(ctx context.Context, now time.Time) ([]model.MatchEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, match_label, guild_name, channel_name, message
		 FROM unread_matches ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.MatchEvent
	for rows.Next() {
		ev, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inbox.Visible(events, now), nil
}

// MarkRead removes one match.
func (s *SQLite) MarkRead(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM unread_matches WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("delete match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return inbox.ErrNotFound
	}
	return nil
}

// ClearAll removes every match.
func (s *SQLite) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM unread_matches`); err != nil {
		return fmt.Errorf("clear matches: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMatch(row scannable) (model.MatchEvent, error) {
	var ev model.MatchEvent
	var kind, payload string
	err := row.Scan(&kind, &ev.MatchLabel, &ev.GuildName, &ev.ChannelName, &payload)
	if err != nil {
		return ev, fmt.Errorf("scan match: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &ev.Message); err != nil {
		return ev, fmt.Errorf("decode message: %w", err)
	}
	ev.Kind = model.MatchKind(kind)
	return ev, nil
}
