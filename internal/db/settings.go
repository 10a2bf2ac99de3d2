package db

import (
	"database/sql"
	"fmt"
	"strconv"
)

// SettingAiConcurrency is the settings key gating the queue processor.
const SettingAiConcurrency = "ai_concurrency"

// GetSetting returns a settings value, or "" when unset.
func (d *DB) GetSetting(key string) (string, error) {
	var value string
	err := d.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// AiConcurrency returns the configured dispatch concurrency cap.
// Defaults to 1; never below 1.
func (d *DB) AiConcurrency() (int, error) {
	raw, err := d.GetSetting(SettingAiConcurrency)
	if err != nil {
		return 1, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1, nil
	}
	return n, nil
}
