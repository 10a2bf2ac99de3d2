package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Comment is a note on a card. Append-only in practice; an update rewrites
// content in place.
type Comment struct {
	ID        string    `json:"id"`
	CardID    string    `json:"card_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateComment inserts a comment.
func (d *DB) CreateComment(c *Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := d.Exec(`
		INSERT INTO comments (id, card_id, author, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.CardID, c.Author, c.Content, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// GetComment returns a comment by id, or nil.
func (d *DB) GetComment(id string) (*Comment, error) {
	rows, err := d.Query(`
		SELECT id, card_id, author, content, created_at, updated_at
		FROM comments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	defer func() { _ = rows.Close() }()

	comments, err := collectComments(rows)
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return nil, nil
	}
	return comments[0], nil
}

// ListComments returns a card's comments oldest first.
func (d *DB) ListComments(cardID string) ([]*Comment, error) {
	rows, err := d.Query(`
		SELECT id, card_id, author, content, created_at, updated_at
		FROM comments WHERE card_id = ? ORDER BY created_at ASC, rowid ASC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectComments(rows)
}

// ListRecentComments returns up to limit comments, newest first, then
// reversed so the caller sees them in chronological order.
func (d *DB) ListRecentComments(cardID string, limit int) ([]*Comment, error) {
	rows, err := d.Query(`
		SELECT id, card_id, author, content, created_at, updated_at
		FROM comments WHERE card_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	comments, err := collectComments(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(comments)-1; i < j; i, j = i+1, j-1 {
		comments[i], comments[j] = comments[j], comments[i]
	}
	return comments, nil
}

// UpdateComment rewrites content in place.
func (d *DB) UpdateComment(id, content string) error {
	res, err := d.Exec(`
		UPDATE comments SET content = ?, updated_at = ? WHERE id = ?`,
		content, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteComment removes a comment.
func (d *DB) DeleteComment(id string) error {
	res, err := d.Exec("DELETE FROM comments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func collectComments(rows *sql.Rows) ([]*Comment, error) {
	var comments []*Comment
	for rows.Next() {
		var c Comment
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.CardID, &c.Author, &c.Content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
