package api

import (
	"net/http"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
)

func (s *Server) handleListSubtasks(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	subtasks, err := s.store.ListSubtasks(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if subtasks == nil {
		subtasks = []*db.Subtask{}
	}
	s.jsonResponse(w, subtasks)
}

func (s *Server) handleCreateSubtask(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		Title      string `json:"title"`
		Phase      string `json:"phase"`
		PhaseOrder int    `json:"phase_order"`
		Position   int    `json:"position"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Title == "" {
		s.respondError(w, apperr.ErrInvalidInput("subtask title is required"))
		return
	}

	subtask := &db.Subtask{
		CardID:     card.ID,
		Title:      req.Title,
		Phase:      req.Phase,
		PhaseOrder: req.PhaseOrder,
		Position:   req.Position,
	}
	if err := s.store.CreateSubtask(subtask); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeSubtaskCreated, card.ID, map[string]any{"subtask": subtask}))
	s.jsonCreated(w, subtask)
}

func (s *Server) handleUpdateSubtask(w http.ResponseWriter, r *http.Request) {
	subtask, err := s.loadSubtask(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		Title      *string `json:"title"`
		Completed  *bool   `json:"completed"`
		Phase      *string `json:"phase"`
		PhaseOrder *int    `json:"phase_order"`
		Position   *int    `json:"position"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Title != nil {
		subtask.Title = *req.Title
	}
	if req.Completed != nil {
		subtask.Completed = *req.Completed
	}
	if req.Phase != nil {
		subtask.Phase = *req.Phase
	}
	if req.PhaseOrder != nil {
		subtask.PhaseOrder = *req.PhaseOrder
	}
	if req.Position != nil {
		subtask.Position = *req.Position
	}

	if err := s.store.UpdateSubtask(subtask); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeSubtaskUpdated, subtask.CardID, map[string]any{"subtask": subtask}))
	s.jsonResponse(w, subtask)
}

func (s *Server) handleDeleteSubtask(w http.ResponseWriter, r *http.Request) {
	subtask, err := s.loadSubtask(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.DeleteSubtask(subtask.ID); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeSubtaskDeleted, subtask.CardID, map[string]any{"subtask_id": subtask.ID}))
	w.WriteHeader(http.StatusNoContent)
}

// loadSubtask resolves the nested subtask route, checking card ownership.
func (s *Server) loadSubtask(r *http.Request) (*db.Subtask, error) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	id := r.PathValue("subtaskId")
	subtask, err := s.store.GetSubtask(id)
	if err != nil {
		return nil, err
	}
	if subtask == nil || subtask.CardID != card.ID {
		return nil, apperr.ErrSubtaskNotFound(id)
	}
	return subtask, nil
}
