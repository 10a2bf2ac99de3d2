package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
	"github.com/lightupdev/lightup/internal/workflow"
)

// askTimeout caps how long an ask call waits for an answer.
const askTimeout = 30 * time.Minute

// askPollInterval is how often the ask call re-reads the question row.
const askPollInterval = 2 * time.Second

func (s *Server) handleAbortCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if card.AiSessionID == nil || *card.AiSessionID == "" {
		s.respondError(w, apperr.ErrNoSession(card.ID))
		return
	}

	if err := s.dispatcher.Abort(r.Context(), card); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.SetAiStatus(card.ID, workflow.AiIdle); err != nil {
		s.respondError(w, err)
		return
	}

	fresh, err := s.loadCard(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.AiStatusChanged(fresh.ID, string(fresh.AiStatus), fresh.AiProgress,
		string(fresh.Stage), fresh.AiSessionID))
	s.jsonResponse(w, fresh)
}

func (s *Server) handleListAgentLogs(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	logs, err := s.store.ListAgentLogs(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if logs == nil {
		logs = []*db.AgentLog{}
	}
	s.jsonResponse(w, logs)
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	questions, err := s.store.ListQuestions(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if questions == nil {
		questions = []*db.AiQuestion{}
	}
	s.jsonResponse(w, questions)
}

// handleAskQuestion records an agent question, parks the card in
// waiting_input, and blocks until the answer arrives or the timeout
// expires. The agent runtime calls this and relays the returned answer.
func (s *Server) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		SessionID    string   `json:"session_id"`
		Question     string   `json:"question"`
		QuestionType string   `json:"question_type"`
		Options      []string `json:"options"`
		Multiple     bool     `json:"multiple"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Question == "" {
		s.respondError(w, apperr.ErrInvalidInput("question text is required"))
		return
	}
	if req.QuestionType == "" {
		req.QuestionType = db.QuestionText
	}

	question := &db.AiQuestion{
		CardID:       card.ID,
		SessionID:    req.SessionID,
		Question:     req.Question,
		QuestionType: req.QuestionType,
		Options:      req.Options,
		Multiple:     req.Multiple,
	}
	if err := s.store.CreateQuestion(question); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.SetAiStatus(card.ID, workflow.AiWaitingInput); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeQuestionCreated, card.ID, map[string]any{"question": question}))

	answer, err := s.awaitAnswer(r, question.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"question_id": question.ID, "answer": answer})
}

// awaitAnswer polls the question row until answered, the client goes away,
// or the timeout lapses.
func (s *Server) awaitAnswer(r *http.Request, questionID string) (string, error) {
	deadline := time.NewTimer(askTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(askPollInterval)
	defer ticker.Stop()

	for {
		question, err := s.store.GetQuestion(questionID)
		if err != nil {
			return "", err
		}
		if question != nil && question.Answer != nil {
			return *question.Answer, nil
		}

		select {
		case <-r.Context().Done():
			return "", apperr.Internal("ask cancelled", r.Context().Err())
		case <-deadline.C:
			return "", apperr.ErrQuestionTimedOut()
		case <-ticker.C:
		}
	}
}

// handleAnswerQuestion stores the answer, wakes the card back up, and
// forwards the answer to the agent session.
func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	question, err := s.store.GetQuestion(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if question == nil {
		s.respondError(w, apperr.ErrQuestionNotFound(id))
		return
	}

	var req struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Answer == "" {
		s.respondError(w, apperr.ErrInvalidInput("answer is required"))
		return
	}
	if err := validateAnswer(question, req.Answer); err != nil {
		s.respondError(w, err)
		return
	}

	if err := s.store.AnswerQuestion(question.ID, req.Answer); err != nil {
		s.respondError(w, err)
		return
	}

	card, err := s.loadCard(question.CardID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if card.AiStatus == workflow.AiWaitingInput {
		if err := s.store.SetAiStatus(card.ID, workflow.AiWorking); err != nil {
			s.respondError(w, err)
			return
		}
	}
	if card.AiSessionID != nil && *card.AiSessionID != "" {
		if err := s.dispatcher.Forward(r.Context(), *card.AiSessionID, req.Answer); err != nil {
			s.logger.Warn("forward answer to agent", "card_id", card.ID, "error", err)
		}
	}

	s.bus.Publish(events.New(events.TypeQuestionAnswered, card.ID, map[string]any{
		"question_id": question.ID,
		"answer":      req.Answer,
	}))
	s.jsonResponse(w, map[string]string{"question_id": question.ID, "answer": req.Answer})
}

// validateAnswer checks a select answer against the question's options.
// Multi-select answers are comma-separated option values.
func validateAnswer(q *db.AiQuestion, answer string) error {
	if len(q.Options) == 0 {
		return nil
	}
	switch q.QuestionType {
	case db.QuestionSelect:
		if !slices.Contains(q.Options, answer) {
			return apperr.ErrInvalidInput("answer must be one of: " + strings.Join(q.Options, ", "))
		}
	case db.QuestionMultiSelect:
		for _, part := range strings.Split(answer, ",") {
			if !slices.Contains(q.Options, strings.TrimSpace(part)) {
				return apperr.ErrInvalidInput("answer must be a comma-separated subset of: " + strings.Join(q.Options, ", "))
			}
		}
	}
	return nil
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	notifications, err := s.store.ListNotifications(userID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if notifications == nil {
		notifications = []*db.Notification{}
	}
	s.jsonResponse(w, notifications)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkNotificationRead(r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "read"})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := s.store.GetSetting(key)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.SetSetting(key, req.Value); err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"key": key, "value": req.Value})
}
