package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lightupdev/lightup/internal/workflow"
)

// PositionStep is the gap left between adjacent cards within a stage.
const PositionStep = 1000

// Card is a unit of work flowing through a board.
type Card struct {
	ID               string            `json:"id"`
	BoardID          string            `json:"board_id"`
	TenantID         string            `json:"tenant_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Stage            workflow.Stage    `json:"stage"`
	Position         int               `json:"position"`
	Priority         string            `json:"priority"`
	WorkingDirectory string            `json:"working_directory"`
	PlanPath         *string           `json:"plan_path"`
	AiSessionID      *string           `json:"ai_session_id"`
	AiStatus         workflow.AiStatus `json:"ai_status"`
	AiProgress       json.RawMessage   `json:"ai_progress"`
	LinkedDocuments  []string          `json:"linked_documents"`
	BranchName       string            `json:"branch_name"`
	WorktreePath     string            `json:"worktree_path"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

const cardColumns = `id, board_id, tenant_id, title, description, stage, position, priority,
	working_directory, plan_path, ai_session_id, ai_status, ai_progress,
	linked_documents, branch_name, worktree_path, created_at, updated_at`

// CreateCard inserts a card. Defaults: stage backlog, ai_status idle,
// position appended at the end of the stage.
func (d *DB) CreateCard(c *Card) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.TenantID == "" {
		c.TenantID = "default"
	}
	if c.Stage == "" {
		c.Stage = workflow.StageBacklog
	}
	if c.AiStatus == "" {
		c.AiStatus = workflow.AiIdle
	}
	if c.Priority == "" {
		c.Priority = "medium"
	}
	if len(c.AiProgress) == 0 {
		c.AiProgress = json.RawMessage("{}")
	}
	if c.Position == 0 {
		pos, err := d.NextPosition(c.Stage)
		if err != nil {
			return err
		}
		c.Position = pos
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	docs, err := json.Marshal(c.LinkedDocuments)
	if err != nil {
		return fmt.Errorf("marshal linked documents: %w", err)
	}
	if c.LinkedDocuments == nil {
		docs = []byte("[]")
	}

	_, err = d.Exec(`
		INSERT INTO cards (id, board_id, tenant_id, title, description, stage, position, priority,
			working_directory, plan_path, ai_session_id, ai_status, ai_progress,
			linked_documents, branch_name, worktree_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.BoardID, c.TenantID, c.Title, c.Description, string(c.Stage), c.Position, c.Priority,
		c.WorkingDirectory, c.PlanPath, c.AiSessionID, string(c.AiStatus), string(c.AiProgress),
		string(docs), c.BranchName, c.WorktreePath, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	return nil
}

// GetCard returns a card by id, or nil if it does not exist.
func (d *DB) GetCard(id string) (*Card, error) {
	rows, err := d.Query("SELECT "+cardColumns+" FROM cards WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return firstCard(rows)
}

// GetCardBySession returns the card whose ai_session_id matches, or nil.
func (d *DB) GetCardBySession(sessionID string) (*Card, error) {
	rows, err := d.Query("SELECT "+cardColumns+" FROM cards WHERE ai_session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("get card by session: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return firstCard(rows)
}

// ListCards returns all cards on a board ordered by stage then position.
func (d *DB) ListCards(boardID string) ([]*Card, error) {
	rows, err := d.Query("SELECT "+cardColumns+" FROM cards WHERE board_id = ? ORDER BY stage, position", boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectCards(rows)
}

// ListQueuedCards returns up to limit todo+queued cards, oldest update first.
func (d *DB) ListQueuedCards(limit int) ([]*Card, error) {
	rows, err := d.Query("SELECT "+cardColumns+` FROM cards
		WHERE stage = ? AND ai_status = ?
		ORDER BY updated_at ASC LIMIT ?`,
		string(workflow.StageTodo), string(workflow.AiQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("list queued cards: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectCards(rows)
}

// CountActiveCards counts cards an agent is currently working:
// stage in {todo, in_progress} with ai_status in {dispatched, working}.
func (d *DB) CountActiveCards() (int, error) {
	var n int
	err := d.QueryRow(`
		SELECT COUNT(*) FROM cards
		WHERE stage IN (?, ?) AND ai_status IN (?, ?)`,
		string(workflow.StageTodo), string(workflow.StageInProgress),
		string(workflow.AiDispatched), string(workflow.AiWorking)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active cards: %w", err)
	}
	return n, nil
}

// NextPosition returns max(position)+PositionStep within a stage.
func (d *DB) NextPosition(stage workflow.Stage) (int, error) {
	var max sql.NullInt64
	err := d.QueryRow("SELECT MAX(position) FROM cards WHERE stage = ?", string(stage)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}
	return int(max.Int64) + PositionStep, nil
}

// UpdateCard rewrites the user-mutable fields of a card and refreshes
// updated_at. Stage is not touched here; moves go through MoveCard.
func (d *DB) UpdateCard(c *Card) error {
	c.UpdatedAt = time.Now()
	docs, err := json.Marshal(c.LinkedDocuments)
	if err != nil {
		return fmt.Errorf("marshal linked documents: %w", err)
	}
	if c.LinkedDocuments == nil {
		docs = []byte("[]")
	}

	res, err := d.Exec(`
		UPDATE cards SET title = ?, description = ?, priority = ?, working_directory = ?,
			linked_documents = ?, branch_name = ?, worktree_path = ?, updated_at = ?
		WHERE id = ?`,
		c.Title, c.Description, c.Priority, c.WorkingDirectory,
		string(docs), c.BranchName, c.WorktreePath, formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MoveCard persists stage, position, and updated_at in a single statement.
func (d *DB) MoveCard(id string, stage workflow.Stage, position int) error {
	res, err := d.Exec(`
		UPDATE cards SET stage = ?, position = ?, updated_at = ? WHERE id = ?`,
		string(stage), position, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("move card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetAiStatus updates ai_status and updated_at.
func (d *DB) SetAiStatus(id string, status workflow.AiStatus) error {
	_, err := d.Exec(`
		UPDATE cards SET ai_status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set ai status: %w", err)
	}
	return nil
}

// SetDispatched records a successful dispatch: session id, status and the
// generated plan path.
func (d *DB) SetDispatched(id, sessionID, planPath string) error {
	_, err := d.Exec(`
		UPDATE cards SET ai_session_id = ?, ai_status = ?, plan_path = ?, updated_at = ?
		WHERE id = ?`,
		sessionID, string(workflow.AiDispatched), planPath, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set dispatched: %w", err)
	}
	return nil
}

// SetDispatchFailed marks a card failed while preserving any plan path that
// was written before the failure, so the UI can show what was attempted.
func (d *DB) SetDispatchFailed(id string, planPath *string) error {
	if planPath != nil {
		_, err := d.Exec(`
			UPDATE cards SET ai_status = ?, plan_path = ?, updated_at = ? WHERE id = ?`,
			string(workflow.AiFailed), *planPath, formatTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("set dispatch failed: %w", err)
		}
		return nil
	}
	return d.SetAiStatus(id, workflow.AiFailed)
}

// SetWorktree records the branch and worktree path for a card.
func (d *DB) SetWorktree(id, branch, worktreePath string) error {
	_, err := d.Exec(`
		UPDATE cards SET branch_name = ?, worktree_path = ?, updated_at = ? WHERE id = ?`,
		branch, worktreePath, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set worktree: %w", err)
	}
	return nil
}

// MergeProgress merges key/value pairs into the card's ai_progress JSON.
func (d *DB) MergeProgress(id string, updates map[string]any) error {
	var raw string
	err := d.QueryRow("SELECT ai_progress FROM cards WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("read progress: %w", err)
	}

	progress := map[string]any{}
	if raw != "" {
		// A corrupt blob resets to empty rather than wedging the card.
		_ = json.Unmarshal([]byte(raw), &progress)
	}
	for k, v := range updates {
		progress[k] = v
	}
	merged, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	_, err = d.Exec(`
		UPDATE cards SET ai_progress = ?, updated_at = ? WHERE id = ?`,
		string(merged), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("merge progress: %w", err)
	}
	return nil
}

// DeleteCard removes a card; children cascade.
func (d *DB) DeleteCard(id string) error {
	res, err := d.Exec("DELETE FROM cards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func firstCard(rows *sql.Rows) (*Card, error) {
	cards, err := collectCards(rows)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, nil
	}
	return cards[0], nil
}

func collectCards(rows *sql.Rows) ([]*Card, error) {
	var cards []*Card
	for rows.Next() {
		var c Card
		var stage, aiStatus, progress, docs, createdAt, updatedAt string
		err := rows.Scan(&c.ID, &c.BoardID, &c.TenantID, &c.Title, &c.Description,
			&stage, &c.Position, &c.Priority, &c.WorkingDirectory,
			&c.PlanPath, &c.AiSessionID, &aiStatus, &progress,
			&docs, &c.BranchName, &c.WorktreePath, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		c.Stage = workflow.Stage(stage)
		c.AiStatus = workflow.AiStatus(aiStatus)
		c.AiProgress = json.RawMessage(progress)
		if err := json.Unmarshal([]byte(docs), &c.LinkedDocuments); err != nil {
			c.LinkedDocuments = nil
		}
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}
