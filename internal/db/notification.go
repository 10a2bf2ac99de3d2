package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification is a type-tagged message for a user, optionally anchored to
// a card or board. An empty user id means global.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CardID    *string   `json:"card_id"`
	BoardID   *string   `json:"board_id"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateNotification inserts a notification.
func (d *DB) CreateNotification(n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now()

	_, err := d.Exec(`
		INSERT INTO notifications (id, user_id, type, message, card_id, board_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Message, n.CardID, n.BoardID, boolToInt(n.Read), formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications for a user plus global ones,
// newest first.
func (d *DB) ListNotifications(userID string) ([]*Notification, error) {
	rows, err := d.Query(`
		SELECT id, user_id, type, message, card_id, board_id, read, created_at
		FROM notifications
		WHERE user_id = ? OR user_id = ''
		ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []*Notification
	for rows.Next() {
		var n Notification
		var read int
		var createdAt string
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.CardID, &n.BoardID, &read, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Read = read != 0
		n.CreatedAt = parseTime(createdAt)
		list = append(list, &n)
	}
	return list, rows.Err()
}

// MarkNotificationRead flips the read flag.
func (d *DB) MarkNotificationRead(id string) error {
	res, err := d.Exec("UPDATE notifications SET read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
