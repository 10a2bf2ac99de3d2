package api

import (
	"net/http"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
)

func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.store.ListBoards()
	if err != nil {
		s.respondError(w, err)
		return
	}
	if boards == nil {
		boards = []*db.Board{}
	}
	s.jsonResponse(w, boards)
}

func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Position int    `json:"position"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Name == "" {
		s.respondError(w, apperr.ErrInvalidInput("board name is required"))
		return
	}

	board := &db.Board{Name: req.Name, Position: req.Position}
	if err := s.store.CreateBoard(board); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeBoardCreated, "", map[string]any{"board": board}))
	s.jsonCreated(w, board)
}

func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.loadBoard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, board)
}

func (s *Server) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.loadBoard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		Name     *string `json:"name"`
		Position *int    `json:"position"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Name != nil {
		board.Name = *req.Name
	}
	if req.Position != nil {
		board.Position = *req.Position
	}

	if err := s.store.UpdateBoard(board); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeBoardUpdated, "", map[string]any{"board": board}))
	s.jsonResponse(w, board)
}

func (s *Server) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.loadBoard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.DeleteBoard(board.ID); err != nil {
		s.respondError(w, err)
		return
	}
	s.bus.Publish(events.New(events.TypeBoardDeleted, "", map[string]any{"board_id": board.ID}))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBoardSummary(w http.ResponseWriter, r *http.Request) {
	board, err := s.loadBoard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	summary, err := s.cache.Summary(board.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, summary)
}

func (s *Server) handleGetBoardSettings(w http.ResponseWriter, r *http.Request) {
	board, err := s.loadBoard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	settings, err := s.store.GetBoardSettings(board.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, settings)
}

func (s *Server) handleSaveBoardSettings(w http.ResponseWriter, r *http.Request) {
	board, err := s.loadBoard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var settings db.BoardSettings
	if err := decodeJSON(r, &settings); err != nil {
		s.respondError(w, err)
		return
	}
	settings.BoardID = board.ID
	if err := s.store.SaveBoardSettings(&settings); err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, settings)
}

func (s *Server) loadBoard(id string) (*db.Board, error) {
	board, err := s.store.GetBoard(id)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, apperr.ErrBoardNotFound(id)
	}
	return board, nil
}
