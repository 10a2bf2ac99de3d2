package api

import (
	"net/http"
	"os"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
	"github.com/lightupdev/lightup/internal/plan"
	"github.com/lightupdev/lightup/internal/workflow"
)

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	boardID := r.URL.Query().Get("board_id")
	if boardID == "" {
		s.respondError(w, apperr.ErrInvalidInput("board_id query parameter is required"))
		return
	}
	cards, err := s.store.ListCards(boardID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if cards == nil {
		cards = []*db.Card{}
	}
	s.jsonResponse(w, cards)
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BoardID          string   `json:"board_id"`
		Title            string   `json:"title"`
		Description      string   `json:"description"`
		Stage            string   `json:"stage"`
		Priority         string   `json:"priority"`
		WorkingDirectory string   `json:"working_directory"`
		LinkedDocuments  []string `json:"linked_documents"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Title == "" {
		s.respondError(w, apperr.ErrInvalidInput("card title is required"))
		return
	}
	if _, err := s.loadBoard(req.BoardID); err != nil {
		s.respondError(w, err)
		return
	}

	card := &db.Card{
		BoardID:          req.BoardID,
		Title:            req.Title,
		Description:      req.Description,
		Priority:         req.Priority,
		WorkingDirectory: req.WorkingDirectory,
		LinkedDocuments:  req.LinkedDocuments,
	}
	if req.Stage != "" {
		stage, err := workflow.ParseStage(req.Stage)
		if err != nil {
			s.respondError(w, apperr.ErrInvalidStage(req.Stage))
			return
		}
		card.Stage = stage
	}
	// A card born in todo goes straight into the dispatch queue.
	if card.Stage == workflow.StageTodo {
		card.AiStatus = workflow.AiQueued
	}

	if err := s.store.CreateCard(card); err != nil {
		s.respondError(w, err)
		return
	}
	s.cache.Invalidate(card.BoardID)
	s.bus.Publish(events.New(events.TypeCardCreated, card.ID, map[string]any{"card": card}))
	s.jsonCreated(w, card)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, card)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Snapshot before the edit so the change can be reviewed later.
	if err := s.store.SaveCardVersion(card); err != nil {
		s.logger.Warn("save card version", "card_id", card.ID, "error", err)
	}

	var req struct {
		Title            *string   `json:"title"`
		Description      *string   `json:"description"`
		Priority         *string   `json:"priority"`
		WorkingDirectory *string   `json:"working_directory"`
		LinkedDocuments  *[]string `json:"linked_documents"`
		AiStatus         *string   `json:"ai_status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	// Clients may park a card (idle) or hand it to the queue (queued).
	// The remaining statuses belong to the dispatcher and relay.
	var aiStatus workflow.AiStatus
	if req.AiStatus != nil {
		status, err := workflow.ParseAiStatus(*req.AiStatus)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if status != workflow.AiIdle && status != workflow.AiQueued {
			s.respondError(w, apperr.ErrInvalidInput("ai_status can only be set to idle or queued"))
			return
		}
		aiStatus = status
	}
	if req.Title != nil {
		if *req.Title == "" {
			s.respondError(w, apperr.ErrInvalidInput("card title cannot be empty"))
			return
		}
		card.Title = *req.Title
	}
	if req.Description != nil {
		card.Description = *req.Description
	}
	if req.Priority != nil {
		card.Priority = *req.Priority
	}
	if req.WorkingDirectory != nil {
		card.WorkingDirectory = *req.WorkingDirectory
	}
	if req.LinkedDocuments != nil {
		card.LinkedDocuments = *req.LinkedDocuments
	}

	if err := s.store.UpdateCard(card); err != nil {
		s.respondError(w, err)
		return
	}
	if aiStatus != "" && aiStatus != card.AiStatus {
		if err := s.store.SetAiStatus(card.ID, aiStatus); err != nil {
			s.respondError(w, err)
			return
		}
		card.AiStatus = aiStatus
		s.bus.Publish(events.AiStatusChanged(card.ID, string(aiStatus), card.AiProgress,
			string(card.Stage), card.AiSessionID))
	}
	s.cache.Invalidate(card.BoardID)
	s.bus.Publish(events.New(events.TypeCardUpdated, card.ID, map[string]any{"card": card}))
	s.jsonResponse(w, card)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.DeleteCard(card.ID); err != nil {
		s.respondError(w, err)
		return
	}
	s.cache.Invalidate(card.BoardID)
	s.bus.Publish(events.New(events.TypeCardDeleted, card.ID, map[string]any{"card_id": card.ID}))
	w.WriteHeader(http.StatusNoContent)
}

// handleMoveCard validates the transition, persists the move, then runs the
// dispatch side effects. The stage change is committed before any dispatch
// and is not rolled back if the dispatch fails.
func (s *Server) handleMoveCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		Stage    string `json:"stage"`
		Position *int   `json:"position"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	target, err := workflow.ParseStage(req.Stage)
	if err != nil {
		s.respondError(w, apperr.ErrInvalidStage(req.Stage))
		return
	}
	if err := workflow.CanTransition(card.Stage, target); err != nil {
		s.respondError(w, apperr.ErrIllegalTransition(string(card.Stage), string(target)))
		return
	}

	fromStage := card.Stage
	reDispatch := fromStage == workflow.StageReview && target == workflow.StageTodo

	position := 0
	if req.Position != nil {
		position = *req.Position
	} else {
		position, err = s.store.NextPosition(target)
		if err != nil {
			s.respondError(w, err)
			return
		}
	}

	if err := s.store.MoveCard(card.ID, target, position); err != nil {
		s.respondError(w, err)
		return
	}
	s.cache.Invalidate(card.BoardID)
	s.bus.Publish(events.CardMoved(card.ID, string(fromStage), string(target)))

	if target == workflow.StageTodo && fromStage != workflow.StageTodo {
		if reDispatch {
			s.reDispatch(r, card.ID)
		} else {
			s.freshDispatch(r, card.ID)
		}

		fresh, err := s.loadCard(card.ID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.bus.Publish(events.AiStatusChanged(fresh.ID, string(fresh.AiStatus), fresh.AiProgress,
			string(fresh.Stage), fresh.AiSessionID))
		s.jsonResponse(w, fresh)
		return
	}

	fresh, err := s.loadCard(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, fresh)
}

// reDispatch feeds review feedback into the existing plan and hands the card
// back to the agent. Failures are logged, never surfaced: the move stands.
func (s *Server) reDispatch(r *http.Request, cardID string) {
	card, err := s.loadCard(cardID)
	if err != nil {
		s.logger.Error("reload card for re-dispatch", "card_id", cardID, "error", err)
		return
	}
	if card.PlanPath == nil || *card.PlanPath == "" {
		s.logger.Error("re-dispatch requires a plan", "card_id", cardID)
		if err := s.store.SetDispatchFailed(cardID, nil); err != nil {
			s.logger.Error("mark dispatch failed", "card_id", cardID, "error", err)
		}
		return
	}

	comments, err := s.store.ListRecentComments(cardID, 5)
	if err != nil {
		s.logger.Error("load review comments", "card_id", cardID, "error", err)
		return
	}
	if err := plan.AppendReviewFeedback(*card.PlanPath, comments); err != nil {
		s.logger.Error("append review feedback", "card_id", cardID, "error", err)
		return
	}
	if err := s.dispatcher.DispatchWithPlan(r.Context(), card, *card.PlanPath); err != nil {
		s.logger.Error("re-dispatch", "card_id", cardID, "error", err)
	}
}

func (s *Server) freshDispatch(r *http.Request, cardID string) {
	card, err := s.loadCard(cardID)
	if err != nil {
		s.logger.Error("reload card for dispatch", "card_id", cardID, "error", err)
		return
	}
	if err := s.dispatcher.Dispatch(r.Context(), card); err != nil {
		s.logger.Error("dispatch on move", "card_id", cardID, "error", err)
	}
}

func (s *Server) handleListCardVersions(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	versions, err := s.store.ListCardVersions(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if versions == nil {
		versions = []*db.CardVersion{}
	}
	s.jsonResponse(w, versions)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if card.PlanPath == nil || *card.PlanPath == "" {
		s.respondError(w, apperr.ErrPlanPathMissing(card.ID))
		return
	}
	body, err := os.ReadFile(*card.PlanPath)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{
		"plan_path": *card.PlanPath,
		"content":   string(body),
	})
}

func (s *Server) loadCard(id string) (*db.Card, error) {
	card, err := s.store.GetCard(id)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, apperr.ErrCardNotFound(id)
	}
	return card, nil
}
