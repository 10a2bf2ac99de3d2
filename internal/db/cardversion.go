package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// VersionRetention is the number of snapshots kept per card.
const VersionRetention = 50

// CardVersion snapshots a card's mutable fields at a user-initiated update.
type CardVersion struct {
	ID               int64     `json:"id"`
	CardID           string    `json:"card_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Stage            string    `json:"stage"`
	Position         int       `json:"position"`
	Priority         string    `json:"priority"`
	WorkingDirectory string    `json:"working_directory"`
	LinkedDocuments  []string  `json:"linked_documents"`
	CreatedAt        time.Time `json:"created_at"`
}

// SaveCardVersion snapshots the card and prunes versions beyond the
// retention window in the same call.
func (d *DB) SaveCardVersion(c *Card) error {
	docs, err := json.Marshal(c.LinkedDocuments)
	if err != nil {
		return fmt.Errorf("marshal linked documents: %w", err)
	}
	if c.LinkedDocuments == nil {
		docs = []byte("[]")
	}

	_, err = d.Exec(`
		INSERT INTO card_versions (card_id, title, description, stage, position, priority, working_directory, linked_documents, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Description, string(c.Stage), c.Position, c.Priority,
		c.WorkingDirectory, string(docs), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save card version: %w", err)
	}

	// Prune: keep the most recent VersionRetention snapshots.
	_, err = d.Exec(`
		DELETE FROM card_versions
		WHERE card_id = ? AND id NOT IN (
			SELECT id FROM card_versions WHERE card_id = ? ORDER BY id DESC LIMIT ?
		)`, c.ID, c.ID, VersionRetention)
	if err != nil {
		return fmt.Errorf("prune card versions: %w", err)
	}
	return nil
}

// ListCardVersions returns a card's snapshots newest first.
func (d *DB) ListCardVersions(cardID string) ([]*CardVersion, error) {
	rows, err := d.Query(`
		SELECT id, card_id, title, description, stage, position, priority, working_directory, linked_documents, created_at
		FROM card_versions WHERE card_id = ? ORDER BY id DESC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list card versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectCardVersions(rows)
}

func collectCardVersions(rows *sql.Rows) ([]*CardVersion, error) {
	var versions []*CardVersion
	for rows.Next() {
		var v CardVersion
		var docs, createdAt string
		err := rows.Scan(&v.ID, &v.CardID, &v.Title, &v.Description, &v.Stage,
			&v.Position, &v.Priority, &v.WorkingDirectory, &docs, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan card version: %w", err)
		}
		if err := json.Unmarshal([]byte(docs), &v.LinkedDocuments); err != nil {
			v.LinkedDocuments = nil
		}
		v.CreatedAt = parseTime(createdAt)
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}
