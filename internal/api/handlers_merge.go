package api

import (
	"net/http"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
	"github.com/lightupdev/lightup/internal/gitx"
	"github.com/lightupdev/lightup/internal/workflow"
)

// cardRepo resolves the repository a card's merge flow operates on: the
// board's codebase path when configured, otherwise the card's working
// directory.
func (s *Server) cardRepo(card *db.Card) (string, error) {
	settings, err := s.store.GetBoardSettings(card.BoardID)
	if err != nil {
		return "", err
	}
	if settings.CodebasePath != "" {
		return settings.CodebasePath, nil
	}
	if card.WorkingDirectory != "" {
		return card.WorkingDirectory, nil
	}
	return "", apperr.ErrInvalidInput("card " + card.ID + " has no repository configured")
}

// loadMergeTarget loads the card plus its repo and branch for merge routes.
func (s *Server) loadMergeTarget(r *http.Request) (*db.Card, string, error) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		return nil, "", err
	}
	repo, err := s.cardRepo(card)
	if err != nil {
		return nil, "", err
	}
	if card.BranchName == "" {
		return nil, "", apperr.ErrWorktreeMissing(card.ID)
	}
	return card, repo, nil
}

func (s *Server) handleCreateWorktree(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	repo, err := s.cardRepo(card)
	if err != nil {
		s.respondError(w, err)
		return
	}

	branch, path, err := s.git.CreateWorktree(repo, card.ID, card.Title)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.SetWorktree(card.ID, branch, path); err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonCreated(w, map[string]string{"branch": branch, "worktree_path": path})
}

func (s *Server) handleRemoveWorktree(w http.ResponseWriter, r *http.Request) {
	card, err := s.loadCard(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	repo, err := s.cardRepo(card)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.git.RemoveWorktree(repo, card.WorktreePath, card.BranchName)
	if err := s.store.SetWorktree(card.ID, "", ""); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	card, repo, err := s.loadMergeTarget(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	diff, err := s.git.Diff(repo, card.BranchName)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, diff)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	card, repo, err := s.loadMergeTarget(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		KeepConflicts bool `json:"keep_conflicts"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	result, err := s.git.Merge(repo, card.BranchName, req.KeepConflicts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if result.Success {
		s.finishMergedCard(card)
	}
	s.jsonResponse(w, result)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	_, repo, err := s.loadMergeTarget(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	report, err := s.git.Conflicts(repo)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, report)
}

func (s *Server) handleResolveConflicts(w http.ResponseWriter, r *http.Request) {
	_, repo, err := s.loadMergeTarget(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		Resolutions []gitx.Resolution `json:"resolutions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if len(req.Resolutions) == 0 {
		s.respondError(w, apperr.ErrInvalidInput("at least one resolution is required"))
		return
	}

	if err := s.git.Resolve(repo, req.Resolutions); err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "resolved"})
}

func (s *Server) handleCompleteMerge(w http.ResponseWriter, r *http.Request) {
	card, repo, err := s.loadMergeTarget(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if err := s.git.CompleteMerge(repo); err != nil {
		s.respondError(w, err)
		return
	}

	s.finishMergedCard(card)
	fresh, err := s.loadCard(card.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, fresh)
}

func (s *Server) handleAbortMerge(w http.ResponseWriter, r *http.Request) {
	_, repo, err := s.loadMergeTarget(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.git.AbortMerge(repo); err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "aborted"})
}

func (s *Server) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	card, repo, err := s.loadMergeTarget(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Title == "" {
		req.Title = card.Title
	}

	url, err := s.git.CreatePR(repo, card.BranchName, req.Title, req.Body)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"url": url})
}

// finishMergedCard moves a reviewed card to done once its branch lands.
func (s *Server) finishMergedCard(card *db.Card) {
	if card.Stage != workflow.StageReview {
		return
	}
	position, err := s.store.NextPosition(workflow.StageDone)
	if err != nil {
		s.logger.Error("next position", "card_id", card.ID, "error", err)
		return
	}
	if err := s.store.MoveCard(card.ID, workflow.StageDone, position); err != nil {
		s.logger.Error("move merged card", "card_id", card.ID, "error", err)
		return
	}
	s.bus.Publish(events.CardMoved(card.ID, string(workflow.StageReview), string(workflow.StageDone)))
}
