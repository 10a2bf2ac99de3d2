package api

import (
	"net/http"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
)

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.store.ListLabels()
	if err != nil {
		s.respondError(w, err)
		return
	}
	if labels == nil {
		labels = []*db.Label{}
	}
	s.jsonResponse(w, labels)
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Name == "" {
		s.respondError(w, apperr.ErrInvalidInput("label name is required"))
		return
	}

	label := &db.Label{Name: req.Name, Color: req.Color}
	if err := s.store.CreateLabel(label); err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonCreated(w, label)
}

func (s *Server) handleListCardLabels(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	labels, err := s.store.ListCardLabels(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if labels == nil {
		labels = []*db.Label{}
	}
	s.jsonResponse(w, labels)
}

func (s *Server) handleAttachLabel(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		LabelID string `json:"label_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	label, err := s.store.GetLabel(req.LabelID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if label == nil {
		s.respondError(w, apperr.ErrInvalidInput("label "+req.LabelID+" does not exist"))
		return
	}

	if err := s.store.AttachLabel(card.ID, label.ID); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeLabelAdded, card.ID, map[string]any{"label": label}))
	s.jsonCreated(w, label)
}

func (s *Server) handleDetachLabel(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	labelID := r.PathValue("labelId")
	if err := s.store.DetachLabel(card.ID, labelID); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeLabelRemoved, card.ID, map[string]any{"label_id": labelID}))
	w.WriteHeader(http.StatusNoContent)
}
