package api

import (
	"net/http"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
)

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	comments, err := s.store.ListComments(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if comments == nil {
		comments = []*db.Comment{}
	}
	s.jsonResponse(w, comments)
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		Author  string `json:"author"`
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Content == "" {
		s.respondError(w, apperr.ErrInvalidInput("comment content is required"))
		return
	}

	comment := &db.Comment{CardID: card.ID, Author: req.Author, Content: req.Content}
	if err := s.store.CreateComment(comment); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeCommentCreated, card.ID, map[string]any{"comment": comment}))
	s.jsonCreated(w, comment)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	comment, err := s.loadComment(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Content == "" {
		s.respondError(w, apperr.ErrInvalidInput("comment content is required"))
		return
	}

	if err := s.store.UpdateComment(comment.ID, req.Content); err != nil {
		s.respondError(w, err)
		return
	}
	comment.Content = req.Content
	s.bus.Publish(events.New(events.TypeCommentUpdated, comment.CardID, map[string]any{"comment": comment}))
	s.jsonResponse(w, comment)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	comment, err := s.loadComment(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.DeleteComment(comment.ID); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeCommentDeleted, comment.CardID, map[string]any{"comment_id": comment.ID}))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadComment(r *http.Request) (*db.Comment, error) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	id := r.PathValue("commentId")
	comment, err := s.store.GetComment(id)
	if err != nil {
		return nil, err
	}
	if comment == nil || comment.CardID != card.ID {
		return nil, apperr.ErrCommentNotFound(id)
	}
	return comment, nil
}
