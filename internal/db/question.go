package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Question types.
const (
	QuestionSelect      = "select"
	QuestionMultiSelect = "multi_select"
	QuestionText        = "text"
)

// AiQuestion is a question the agent asked on a card. While unanswered,
// the owning card sits in ai_status waiting_input.
type AiQuestion struct {
	ID           string     `json:"id"`
	CardID       string     `json:"card_id"`
	SessionID    string     `json:"session_id"`
	Question     string     `json:"question"`
	QuestionType string     `json:"question_type"`
	Options      []string   `json:"options"`
	Multiple     bool       `json:"multiple"`
	Answer       *string    `json:"answer"`
	AnsweredAt   *time.Time `json:"answered_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CreateQuestion inserts a question.
func (d *DB) CreateQuestion(q *AiQuestion) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.QuestionType == "" {
		q.QuestionType = QuestionText
	}
	q.CreatedAt = time.Now()

	opts, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if q.Options == nil {
		opts = []byte("[]")
	}

	_, err = d.Exec(`
		INSERT INTO ai_questions (id, card_id, session_id, question, question_type, options, multiple, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.CardID, q.SessionID, q.Question, q.QuestionType, string(opts),
		boolToInt(q.Multiple), formatTime(q.CreatedAt))
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// GetQuestion returns a question by id, or nil.
func (d *DB) GetQuestion(id string) (*AiQuestion, error) {
	rows, err := d.Query(questionSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	defer func() { _ = rows.Close() }()

	qs, err := collectQuestions(rows)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, nil
	}
	return qs[0], nil
}

// ListQuestions returns a card's questions oldest first.
func (d *DB) ListQuestions(cardID string) ([]*AiQuestion, error) {
	rows, err := d.Query(questionSelect+" WHERE card_id = ? ORDER BY created_at ASC, rowid ASC", cardID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectQuestions(rows)
}

// AnswerQuestion stores the answer and its timestamp.
func (d *DB) AnswerQuestion(id, answer string) error {
	res, err := d.Exec(`
		UPDATE ai_questions SET answer = ?, answered_at = ? WHERE id = ?`,
		answer, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("answer question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const questionSelect = `
	SELECT id, card_id, session_id, question, question_type, options, multiple, answer, answered_at, created_at
	FROM ai_questions`

func collectQuestions(rows *sql.Rows) ([]*AiQuestion, error) {
	var qs []*AiQuestion
	for rows.Next() {
		var q AiQuestion
		var opts, createdAt string
		var multiple int
		var answeredAt *string
		err := rows.Scan(&q.ID, &q.CardID, &q.SessionID, &q.Question, &q.QuestionType,
			&opts, &multiple, &q.Answer, &answeredAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Multiple = multiple != 0
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			q.Options = nil
		}
		q.AnsweredAt = parseTimePtr(answeredAt)
		q.CreatedAt = parseTime(createdAt)
		qs = append(qs, &q)
	}
	return qs, rows.Err()
}
