package db

import (
	"database/sql"
	"fmt"
	"time"
)

// BoardSettings holds per-board metadata consulted when preparing
// dispatcher context.
type BoardSettings struct {
	BoardID      string    `json:"board_id"`
	CodebasePath string    `json:"codebase_path"`
	Conventions  string    `json:"conventions"`
	Environments string    `json:"environments"` // JSON object
	UpdatedAt    time.Time `json:"updated_at"`
}

// GetBoardSettings returns a board's settings, or zero-valued defaults when
// none have been saved.
func (d *DB) GetBoardSettings(boardID string) (*BoardSettings, error) {
	var s BoardSettings
	var updatedAt string
	err := d.QueryRow(`
		SELECT board_id, codebase_path, conventions, environments, updated_at
		FROM board_settings WHERE board_id = ?`, boardID).
		Scan(&s.BoardID, &s.CodebasePath, &s.Conventions, &s.Environments, &updatedAt)
	if err == sql.ErrNoRows {
		return &BoardSettings{BoardID: boardID, Environments: "{}"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get board settings: %w", err)
	}
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// SaveBoardSettings upserts a board's settings.
func (d *DB) SaveBoardSettings(s *BoardSettings) error {
	if s.Environments == "" {
		s.Environments = "{}"
	}
	s.UpdatedAt = time.Now()

	_, err := d.Exec(`
		INSERT INTO board_settings (board_id, codebase_path, conventions, environments, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(board_id) DO UPDATE SET
			codebase_path = excluded.codebase_path,
			conventions = excluded.conventions,
			environments = excluded.environments,
			updated_at = excluded.updated_at`,
		s.BoardID, s.CodebasePath, s.Conventions, s.Environments, formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save board settings: %w", err)
	}
	return nil
}
