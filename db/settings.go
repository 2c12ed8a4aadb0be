package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Settings is the per-video user configuration consumed by the replay
// engine. Offset is nil until the user set one explicitly or a
// heuristic result was persisted.
type Settings struct {
	Offset      *int `json:"offset"`
	SyncEnabled bool `json:"sync_enabled"`
	AutoScroll  bool `json:"auto_scroll"`
}

// DefaultSettings returns the configuration used when no row exists or
// the store is unavailable.
func DefaultSettings() Settings {
	return Settings{SyncEnabled: true, AutoScroll: true}
}

func settingsKey(videoID string) string { return "settings:" + videoID }

// GetSettings loads the settings for a video, falling back to defaults
// when no row exists or the stored value does not parse.
func GetSettings(ctx context.Context, dbx *sql.DB, videoID string) (Settings, error) {
	var raw string
	err := dbx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, settingsKey(videoID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return DefaultSettings(), fmt.Errorf("load settings: %w", err)
	}
	s := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		// a corrupt row should not lock the user out of replay
		return DefaultSettings(), nil
	}
	return s, nil
}

// SaveSettings persists the settings for a video.
func SaveSettings(ctx context.Context, dbx *sql.DB, videoID string, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = dbx.ExecContext(ctx, `INSERT INTO kv(key, value, updated_at) VALUES($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, settingsKey(videoID), string(raw))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
