package api

import (
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/gitx"
	"github.com/lightupdev/lightup/internal/workflow"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// newMergeRepo builds a repo where main and a card branch both edited
// README.md, so merging the branch conflicts.
func newMergeRepo(t *testing.T, branch string) string {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "test")

	readme := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("hello\n"), 0o644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial")

	gitRun(t, dir, "checkout", "-b", branch)
	require.NoError(t, os.WriteFile(readme, []byte("branch version\n"), 0o644))
	gitRun(t, dir, "commit", "-am", "branch edit")

	gitRun(t, dir, "checkout", "main")
	require.NoError(t, os.WriteFile(readme, []byte("main version\n"), 0o644))
	gitRun(t, dir, "commit", "-am", "main edit")
	return dir
}

// newReviewCard parks a card in review with a work branch pointing at repo.
func (e *testEnv) newReviewCard(t *testing.T, repo, branch string) *db.Card {
	t.Helper()
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{"working_directory": repo})
	require.NoError(t, e.store.SetWorktree(card.ID, branch, repo))
	require.NoError(t, e.store.MoveCard(card.ID, workflow.StageReview, 1000))
	fresh, err := e.store.GetCard(card.ID)
	require.NoError(t, err)
	return fresh
}

func TestMergeConflictFlow(t *testing.T) {
	requireGit(t)
	e := newTestEnv(t)
	repo := newMergeRepo(t, "ai/feature")
	card := e.newReviewCard(t, repo, "ai/feature")

	// Merge with keep_conflicts leaves the merge in progress.
	var merged gitx.MergeResult
	rec := e.do(t, "POST", "/api/cards/"+card.ID+"/merge", map[string]any{"keep_conflicts": true}, &merged)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, merged.Success)
	assert.True(t, merged.MergeInProgress)
	require.Contains(t, merged.Conflicts, "README.md")
	require.Len(t, merged.ConflictDetails, 1)
	assert.Equal(t, "main version\n", merged.ConflictDetails[0].OursContent)
	assert.Equal(t, "branch version\n", merged.ConflictDetails[0].TheirsContent)

	// Completing now is rejected and the card stays in review.
	rec = e.do(t, "POST", "/api/cards/"+card.ID+"/complete-merge", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflicts remain")
	mid, err := e.store.GetCard(card.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageReview, mid.Stage)

	// Conflicts are still reported.
	var report gitx.ConflictReport
	rec = e.do(t, "GET", "/api/cards/"+card.ID+"/conflicts", nil, &report)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, report.MergeInProgress)

	// Resolve ours, then completing succeeds and the card moves to done.
	rec = e.do(t, "POST", "/api/cards/"+card.ID+"/resolve-conflicts", map[string]any{
		"resolutions": []gitx.Resolution{{Path: "README.md", Strategy: "ours"}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var done db.Card
	rec = e.do(t, "POST", "/api/cards/"+card.ID+"/complete-merge", nil, &done)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StageDone, done.Stage)

	content, err := os.ReadFile(filepath.Join(repo, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "main version\n", string(content))
}

func TestCleanMergeMovesCardToDone(t *testing.T) {
	requireGit(t)
	e := newTestEnv(t)

	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial")
	gitRun(t, dir, "checkout", "-b", "ai/clean")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("new\n"), 0o644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "feature")
	gitRun(t, dir, "checkout", "main")

	card := e.newReviewCard(t, dir, "ai/clean")

	var merged gitx.MergeResult
	rec := e.do(t, "POST", "/api/cards/"+card.ID+"/merge", nil, &merged)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, merged.Success)

	fresh, err := e.store.GetCard(card.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageDone, fresh.Stage)
}

func TestMergeWithoutBranch(t *testing.T) {
	requireGit(t)
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{"working_directory": t.TempDir()})

	rec := e.do(t, "POST", "/api/cards/"+card.ID+"/merge", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "work branch")
}

func TestWorktreeLifecycle(t *testing.T) {
	requireGit(t)
	e := newTestEnv(t)

	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial")

	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{
		"title":             "Worktree card",
		"working_directory": dir,
	})

	var out struct {
		Branch       string `json:"branch"`
		WorktreePath string `json:"worktree_path"`
	}
	rec := e.do(t, "POST", "/api/cards/"+card.ID+"/worktree", nil, &out)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, out.Branch, "ai/")
	assert.DirExists(t, out.WorktreePath)

	fresh, err := e.store.GetCard(card.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Branch, fresh.BranchName)

	rec = e.do(t, "DELETE", "/api/cards/"+card.ID+"/worktree", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDiffEndpoint(t *testing.T) {
	requireGit(t)
	e := newTestEnv(t)
	repo := newMergeRepo(t, "ai/diff")
	card := e.newReviewCard(t, repo, "ai/diff")

	var diff gitx.DiffResult
	rec := e.do(t, "GET", "/api/cards/"+card.ID+"/diff", nil, &diff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, diff.Files, 1)
	assert.Equal(t, "README.md", diff.Files[0].Path)
}
