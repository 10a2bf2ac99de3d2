package agent

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
	"github.com/lightupdev/lightup/internal/workflow"
)

const (
	relayBackoffMin = 1 * time.Second
	relayBackoffMax = 30 * time.Second
)

// Relay consumes the agent runtime's event stream, maps each event to the
// card owning the session, applies stage and status transitions, records
// agent logs, and fans results out on the bus.
type Relay struct {
	store  *db.DB
	client *Client
	bus    *events.Bus
	logger *slog.Logger
}

// RelayConfig holds Relay dependencies.
type RelayConfig struct {
	Store  *db.DB
	Client *Client
	Bus    *events.Bus
	Logger *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(cfg RelayConfig) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:  cfg.Store,
		client: cfg.Client,
		bus:    cfg.Bus,
		logger: logger,
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting with
// exponential backoff on transport errors. The backoff starts at one second,
// doubles up to thirty, and resets after any successfully handled message.
func (r *Relay) Run(ctx context.Context) error {
	backoff := relayBackoffMin
	for {
		stream, err := r.client.Events(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("event stream connect failed", "error", err, "retry_in", backoff)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff)
			continue
		}

		err = r.consume(ctx, stream, &backoff)
		stream.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			r.logger.Warn("event stream closed", "error", err, "retry_in", backoff)
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}
}

// consume reads SSE frames off the stream until it fails. The backoff
// pointer is reset whenever a message is handled.
func (r *Relay) consume(ctx context.Context, stream io.Reader, backoff *time.Duration) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				r.HandleMessage(ctx, []byte(data.String()))
				*backoff = relayBackoffMin
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comment lines carry nothing we use.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// HandleMessage applies a single runtime event of shape {type, properties}.
func (r *Relay) HandleMessage(ctx context.Context, raw []byte) {
	eventType := gjson.GetBytes(raw, "type").String()
	if eventType == "" {
		return
	}

	sessionID := extractSessionID(raw)
	if sessionID == "" {
		return
	}

	if eventType == "session.child" {
		r.recordChildSession(sessionID, raw)
		return
	}

	card, err := r.lookupCard(sessionID)
	if err != nil {
		r.logger.Error("card lookup", "session_id", sessionID, "error", err)
		return
	}
	if card == nil {
		r.logger.Debug("event for unknown session", "session_id", sessionID, "type", eventType)
		return
	}

	if shouldLog(eventType, raw) {
		r.appendLog(card, sessionID, eventType, raw)
	}

	if eventType == "question.asked" {
		r.recordQuestion(card, sessionID, raw)
		return
	}

	r.applyTransition(ctx, card, eventType, raw)
}

// recordChildSession maps a subagent session onto the card owning its
// parent, so later events from the child route to the right card.
func (r *Relay) recordChildSession(childID string, raw []byte) {
	parentID := gjson.GetBytes(raw, "properties.parentID").String()
	if parentID == "" {
		parentID = gjson.GetBytes(raw, "properties.info.parentID").String()
	}
	if parentID == "" {
		return
	}

	card, err := r.lookupCard(parentID)
	if err != nil {
		r.logger.Error("parent session lookup", "session_id", parentID, "error", err)
		return
	}
	if card == nil {
		r.logger.Debug("child of unknown session", "parent_session_id", parentID)
		return
	}

	mapping := &db.SessionMapping{
		ChildSessionID:  childID,
		ParentSessionID: parentID,
		CardID:          card.ID,
	}
	if err := r.store.SaveSessionMapping(mapping); err != nil {
		r.logger.Error("save session mapping", "card_id", card.ID, "error", err)
	}
}

// recordQuestion stores an agent question and parks the card in
// waiting_input until someone answers through the API.
func (r *Relay) recordQuestion(card *db.Card, sessionID string, raw []byte) {
	text := gjson.GetBytes(raw, "properties.question").String()
	if text == "" {
		text = gjson.GetBytes(raw, "properties.info.question").String()
	}
	if text == "" {
		return
	}

	var options []string
	for _, opt := range gjson.GetBytes(raw, "properties.options").Array() {
		options = append(options, opt.String())
	}

	question := &db.AiQuestion{
		CardID:       card.ID,
		SessionID:    sessionID,
		Question:     text,
		QuestionType: gjson.GetBytes(raw, "properties.questionType").String(),
		Options:      options,
		Multiple:     gjson.GetBytes(raw, "properties.multiple").Bool(),
	}
	if err := r.store.CreateQuestion(question); err != nil {
		r.logger.Error("create question", "card_id", card.ID, "error", err)
		return
	}
	if err := r.store.SetAiStatus(card.ID, workflow.AiWaitingInput); err != nil {
		r.logger.Error("set ai status", "card_id", card.ID, "error", err)
		return
	}
	r.bus.Publish(events.New(events.TypeQuestionCreated, card.ID, map[string]any{"question": question}))

	fresh, err := r.store.GetCard(card.ID)
	if err != nil || fresh == nil {
		r.logger.Error("reload card", "card_id", card.ID, "error", err)
		return
	}
	r.bus.Publish(events.AiStatusChanged(fresh.ID, string(fresh.AiStatus), fresh.AiProgress,
		string(fresh.Stage), fresh.AiSessionID))
}

// lookupCard resolves a session id to its card, following the child-session
// mapping when the id belongs to a subagent session.
func (r *Relay) lookupCard(sessionID string) (*db.Card, error) {
	card, err := r.store.GetCardBySession(sessionID)
	if err != nil {
		return nil, err
	}
	if card != nil {
		return card, nil
	}

	mapping, err := r.store.GetSessionMapping(sessionID)
	if err != nil || mapping == nil {
		return nil, err
	}
	return r.store.GetCardBySession(mapping.ParentSessionID)
}

func (r *Relay) appendLog(card *db.Card, sessionID, eventType string, raw []byte) {
	log := &db.AgentLog{
		CardID:    card.ID,
		SessionID: sessionID,
		EventType: eventType,
		AgentName: gjson.GetBytes(raw, "properties.info.agent").String(),
		Content:   gjson.GetBytes(raw, "properties.info.summary").String(),
		Metadata:  string(raw),
	}
	if err := r.store.AppendAgentLog(log); err != nil {
		r.logger.Error("append agent log", "card_id", card.ID, "error", err)
		return
	}
	r.bus.Publish(events.AgentLogCreated(card.ID, log))
}

func (r *Relay) applyTransition(ctx context.Context, card *db.Card, eventType string, raw []byte) {
	prevStage := card.Stage
	mutated := false

	switch eventType {
	case "session.status":
		if gjson.GetBytes(raw, "properties.status.type").String() != "busy" {
			return
		}
		switch {
		case card.Stage == workflow.StageTodo:
			pos, err := r.store.NextPosition(workflow.StageInProgress)
			if err != nil {
				r.logger.Error("next position", "card_id", card.ID, "error", err)
				return
			}
			if err := r.store.MoveCard(card.ID, workflow.StageInProgress, pos); err != nil {
				r.logger.Error("move card", "card_id", card.ID, "error", err)
				return
			}
			if err := r.store.SetAiStatus(card.ID, workflow.AiWorking); err != nil {
				r.logger.Error("set ai status", "card_id", card.ID, "error", err)
				return
			}
			mutated = true
		case card.Stage == workflow.StagePlan && card.AiStatus == workflow.AiPlanning:
			if err := r.store.SetAiStatus(card.ID, workflow.AiWorking); err != nil {
				r.logger.Error("set ai status", "card_id", card.ID, "error", err)
				return
			}
			mutated = true
		}

	case "session.idle":
		switch card.Stage {
		case workflow.StageInProgress:
			pos, err := r.store.NextPosition(workflow.StageReview)
			if err != nil {
				r.logger.Error("next position", "card_id", card.ID, "error", err)
				return
			}
			if err := r.store.MoveCard(card.ID, workflow.StageReview, pos); err != nil {
				r.logger.Error("move card", "card_id", card.ID, "error", err)
				return
			}
			if err := r.store.SetAiStatus(card.ID, workflow.AiCompleted); err != nil {
				r.logger.Error("set ai status", "card_id", card.ID, "error", err)
				return
			}
			mutated = true
		case workflow.StagePlan:
			if err := r.store.SetAiStatus(card.ID, workflow.AiIdle); err != nil {
				r.logger.Error("set ai status", "card_id", card.ID, "error", err)
				return
			}
			mutated = true
		}

	case "message.updated":
		updates := map[string]any{}
		if agent := gjson.GetBytes(raw, "properties.info.agent"); agent.Exists() {
			updates["current_agent"] = agent.String()
		}
		if finish := finishReason(raw); finish != "" {
			updates["last_finish_reason"] = finish
		}
		if len(updates) == 0 {
			return
		}
		if err := r.store.MergeProgress(card.ID, updates); err != nil {
			r.logger.Error("merge progress", "card_id", card.ID, "error", err)
			return
		}
		mutated = true

	case "todo.updated":
		updates := todoProgress(raw)
		if err := r.store.MergeProgress(card.ID, updates); err != nil {
			r.logger.Error("merge progress", "card_id", card.ID, "error", err)
			return
		}
		mutated = true

	default:
		return
	}

	if !mutated {
		return
	}

	fresh, err := r.store.GetCard(card.ID)
	if err != nil || fresh == nil {
		r.logger.Error("reload card", "card_id", card.ID, "error", err)
		return
	}
	r.bus.Publish(events.AiStatusChanged(fresh.ID, string(fresh.AiStatus), fresh.AiProgress,
		string(fresh.Stage), fresh.AiSessionID))
	if fresh.Stage != prevStage {
		r.bus.Publish(events.CardMoved(fresh.ID, string(prevStage), string(fresh.Stage)))
	}
}

// extractSessionID tries the known property paths in order.
func extractSessionID(raw []byte) string {
	for _, path := range []string{
		"properties.sessionID",
		"properties.info.sessionID",
		"properties.part.sessionID",
	} {
		if v := gjson.GetBytes(raw, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// shouldLog applies the agent-log retention policy: noisy stream chatter is
// dropped, everything else is persisted.
func shouldLog(eventType string, raw []byte) bool {
	switch eventType {
	case "message.part.updated", "session.diff", "server.connected", "server.heartbeat":
		return false
	case "message.updated":
		return finishReason(raw) != ""
	}
	return true
}

func finishReason(raw []byte) string {
	for _, path := range []string{
		"properties.info.finish",
		"properties.finish",
	} {
		if v := gjson.GetBytes(raw, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// todoProgress recomputes the todo counters from a todo.updated payload.
// current_task is the content of the first in-progress todo.
func todoProgress(raw []byte) map[string]any {
	todos := gjson.GetBytes(raw, "properties.todos").Array()
	completed := 0
	currentTask := ""
	for _, todo := range todos {
		switch todo.Get("status").String() {
		case "completed":
			completed++
		case "in_progress":
			if currentTask == "" {
				currentTask = todo.Get("content").String()
			}
		}
	}
	return map[string]any{
		"total_todos":     len(todos),
		"completed_todos": completed,
		"current_task":    currentTask,
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > relayBackoffMax {
		d = relayBackoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
