package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subtask is a checklist item on a card, grouped into phases.
type Subtask struct {
	ID         string    `json:"id"`
	CardID     string    `json:"card_id"`
	Title      string    `json:"title"`
	Completed  bool      `json:"completed"`
	Position   int       `json:"position"`
	Phase      string    `json:"phase"`
	PhaseOrder int       `json:"phase_order"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateSubtask inserts a subtask, appending it within its phase when no
// position was supplied.
func (d *DB) CreateSubtask(s *Subtask) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Position == 0 {
		var max sql.NullInt64
		err := d.QueryRow(`
			SELECT MAX(position) FROM subtasks WHERE card_id = ? AND phase_order = ?`,
			s.CardID, s.PhaseOrder).Scan(&max)
		if err != nil {
			return fmt.Errorf("subtask position: %w", err)
		}
		s.Position = int(max.Int64) + PositionStep
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := d.Exec(`
		INSERT INTO subtasks (id, card_id, title, completed, position, phase, phase_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CardID, s.Title, boolToInt(s.Completed), s.Position, s.Phase, s.PhaseOrder,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create subtask: %w", err)
	}
	return nil
}

// GetSubtask returns a subtask by id, or nil.
func (d *DB) GetSubtask(id string) (*Subtask, error) {
	rows, err := d.Query(`
		SELECT id, card_id, title, completed, position, phase, phase_order, created_at, updated_at
		FROM subtasks WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get subtask: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subs, err := collectSubtasks(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return subs[0], nil
}

// ListSubtasks returns a card's subtasks ordered by (phase_order, position).
func (d *DB) ListSubtasks(cardID string) ([]*Subtask, error) {
	rows, err := d.Query(`
		SELECT id, card_id, title, completed, position, phase, phase_order, created_at, updated_at
		FROM subtasks WHERE card_id = ?
		ORDER BY phase_order ASC, position ASC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectSubtasks(rows)
}

// UpdateSubtask rewrites title, completion, ordering and phase.
func (d *DB) UpdateSubtask(s *Subtask) error {
	s.UpdatedAt = time.Now()
	res, err := d.Exec(`
		UPDATE subtasks SET title = ?, completed = ?, position = ?, phase = ?, phase_order = ?, updated_at = ?
		WHERE id = ?`,
		s.Title, boolToInt(s.Completed), s.Position, s.Phase, s.PhaseOrder,
		formatTime(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteSubtask removes a subtask.
func (d *DB) DeleteSubtask(id string) error {
	res, err := d.Exec("DELETE FROM subtasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func collectSubtasks(rows *sql.Rows) ([]*Subtask, error) {
	var subs []*Subtask
	for rows.Next() {
		var s Subtask
		var completed int
		var createdAt, updatedAt string
		err := rows.Scan(&s.ID, &s.CardID, &s.Title, &completed, &s.Position,
			&s.Phase, &s.PhaseOrder, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		s.Completed = completed != 0
		s.CreatedAt = parseTime(createdAt)
		s.UpdatedAt = parseTime(updatedAt)
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
