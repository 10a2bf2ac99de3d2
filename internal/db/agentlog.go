package db

import (
	"database/sql"
	"fmt"
	"time"
)

// AgentLog is one persisted agent event for a card. Append-only.
type AgentLog struct {
	ID        int64     `json:"id"`
	CardID    string    `json:"card_id"`
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	AgentName string    `json:"agent_name"`
	Content   string    `json:"content"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendAgentLog inserts a log row and fills in its id.
func (d *DB) AppendAgentLog(l *AgentLog) error {
	if l.Metadata == "" {
		l.Metadata = "{}"
	}
	l.CreatedAt = time.Now()

	res, err := d.Exec(`
		INSERT INTO agent_logs (card_id, session_id, event_type, agent_name, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.CardID, l.SessionID, l.EventType, l.AgentName, l.Content, l.Metadata, formatTime(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("append agent log: %w", err)
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

// ListAgentLogs returns a card's logs oldest first.
func (d *DB) ListAgentLogs(cardID string) ([]*AgentLog, error) {
	rows, err := d.Query(`
		SELECT id, card_id, session_id, event_type, agent_name, content, metadata, created_at
		FROM agent_logs WHERE card_id = ? ORDER BY id ASC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list agent logs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectAgentLogs(rows)
}

func collectAgentLogs(rows *sql.Rows) ([]*AgentLog, error) {
	var logs []*AgentLog
	for rows.Next() {
		var l AgentLog
		var createdAt string
		err := rows.Scan(&l.ID, &l.CardID, &l.SessionID, &l.EventType, &l.AgentName,
			&l.Content, &l.Metadata, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan agent log: %w", err)
		}
		l.CreatedAt = parseTime(createdAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
