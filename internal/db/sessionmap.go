package db

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionMapping routes events from a child agent sub-session to the card
// that owns the parent session.
type SessionMapping struct {
	ChildSessionID  string    `json:"child_session_id"`
	ParentSessionID string    `json:"parent_session_id"`
	CardID          string    `json:"card_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// SaveSessionMapping upserts a child-to-parent mapping.
func (d *DB) SaveSessionMapping(m *SessionMapping) error {
	m.CreatedAt = time.Now()
	_, err := d.Exec(`
		INSERT INTO session_mappings (child_session_id, parent_session_id, card_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(child_session_id) DO UPDATE SET
			parent_session_id = excluded.parent_session_id,
			card_id = excluded.card_id`,
		m.ChildSessionID, m.ParentSessionID, m.CardID, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("save session mapping: %w", err)
	}
	return nil
}

// GetSessionMapping resolves a child session id, or nil when unmapped.
func (d *DB) GetSessionMapping(childSessionID string) (*SessionMapping, error) {
	var m SessionMapping
	var createdAt string
	err := d.QueryRow(`
		SELECT child_session_id, parent_session_id, card_id, created_at
		FROM session_mappings WHERE child_session_id = ?`, childSessionID).
		Scan(&m.ChildSessionID, &m.ParentSessionID, &m.CardID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session mapping: %w", err)
	}
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}
