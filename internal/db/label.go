package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Label is a global name+color tag attachable to cards.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// CreateLabel inserts a label.
func (d *DB) CreateLabel(l *Label) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Color == "" {
		l.Color = "#808080"
	}
	_, err := d.Exec("INSERT INTO labels (id, name, color) VALUES (?, ?, ?)", l.ID, l.Name, l.Color)
	if err != nil {
		return fmt.Errorf("create label: %w", err)
	}
	return nil
}

// GetLabel returns a label by id, or nil.
func (d *DB) GetLabel(id string) (*Label, error) {
	var l Label
	err := d.QueryRow("SELECT id, name, color FROM labels WHERE id = ?", id).
		Scan(&l.ID, &l.Name, &l.Color)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get label: %w", err)
	}
	return &l, nil
}

// ListLabels returns all labels ordered by name.
func (d *DB) ListLabels() ([]*Label, error) {
	rows, err := d.Query("SELECT id, name, color FROM labels ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectLabels(rows)
}

// DeleteLabel removes a label and its card attachments.
func (d *DB) DeleteLabel(id string) error {
	res, err := d.Exec("DELETE FROM labels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AttachLabel links a label to a card. Idempotent: attaching an already
// attached label is a no-op.
func (d *DB) AttachLabel(cardID, labelID string) error {
	_, err := d.Exec(`
		INSERT OR IGNORE INTO card_labels (card_id, label_id) VALUES (?, ?)`,
		cardID, labelID)
	if err != nil {
		return fmt.Errorf("attach label: %w", err)
	}
	return nil
}

// DetachLabel removes a label from a card.
func (d *DB) DetachLabel(cardID, labelID string) error {
	_, err := d.Exec("DELETE FROM card_labels WHERE card_id = ? AND label_id = ?", cardID, labelID)
	if err != nil {
		return fmt.Errorf("detach label: %w", err)
	}
	return nil
}

// ListCardLabels returns the labels attached to a card.
func (d *DB) ListCardLabels(cardID string) ([]*Label, error) {
	rows, err := d.Query(`
		SELECT l.id, l.name, l.color
		FROM labels l
		JOIN card_labels cl ON cl.label_id = l.id
		WHERE cl.card_id = ?
		ORDER BY l.name`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list card labels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectLabels(rows)
}

func collectLabels(rows *sql.Rows) ([]*Label, error) {
	var labels []*Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Color); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, &l)
	}
	return labels, rows.Err()
}
