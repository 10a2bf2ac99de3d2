package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Board groups cards into a stage-partitioned view.
type Board struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateBoard inserts a board, assigning an id and timestamps.
func (d *DB) CreateBoard(b *Board) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.TenantID == "" {
		b.TenantID = "default"
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := d.Exec(`
		INSERT INTO boards (id, tenant_id, name, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.Name, b.Position, formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	return nil
}

// GetBoard returns a board by id, or nil if it does not exist.
func (d *DB) GetBoard(id string) (*Board, error) {
	row := d.QueryRow(`
		SELECT id, tenant_id, name, position, created_at, updated_at
		FROM boards WHERE id = ?`, id)
	return scanBoard(row)
}

// ListBoards returns all boards ordered by position.
func (d *DB) ListBoards() ([]*Board, error) {
	rows, err := d.Query(`
		SELECT id, tenant_id, name, position, created_at, updated_at
		FROM boards ORDER BY position, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var boards []*Board
	for rows.Next() {
		b, err := scanBoardRows(rows)
		if err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// UpdateBoard rewrites name and position.
func (d *DB) UpdateBoard(b *Board) error {
	b.UpdatedAt = time.Now()
	res, err := d.Exec(`
		UPDATE boards SET name = ?, position = ?, updated_at = ? WHERE id = ?`,
		b.Name, b.Position, formatTime(b.UpdatedAt), b.ID)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteBoard removes a board; cards cascade.
func (d *DB) DeleteBoard(id string) error {
	res, err := d.Exec("DELETE FROM boards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanBoard(row *sql.Row) (*Board, error) {
	var b Board
	var createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.TenantID, &b.Name, &b.Position, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan board: %w", err)
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func scanBoardRows(rows *sql.Rows) (*Board, error) {
	var b Board
	var createdAt, updatedAt string
	if err := rows.Scan(&b.ID, &b.TenantID, &b.Name, &b.Position, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan board: %w", err)
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}
