package gitx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/lightupdev/lightup/internal/apperr"
)

const (
	branchPrefix = "ai/"
	workspaceDir = ".lightup-workspaces"
	maxSlugLen   = 40
)

// Service runs worktree and merge operations against card repositories.
// A per-repo lock serialises merge flows: a merge kept in progress holds
// the lock until CompleteMerge or AbortMerge releases it.
type Service struct {
	runner CommandRunner
	logger *slog.Logger
	prTool string

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]bool
}

// ServiceConfig holds Service dependencies.
type ServiceConfig struct {
	Runner CommandRunner
	Logger *slog.Logger

	// PRTool is the external command used by CreatePR. Defaults to "gh".
	PRTool string
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	runner := cfg.Runner
	if runner == nil {
		runner = NewExecRunner()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prTool := cfg.PRTool
	if prTool == "" {
		prTool = "gh"
	}
	return &Service{
		runner:  runner,
		logger:  logger,
		prTool:  prTool,
		locks:   make(map[string]*sync.Mutex),
		pending: make(map[string]bool),
	}
}

// BranchName derives the work branch for a card: ai/<id8>-<slug>.
func BranchName(cardID, title string) string {
	id8 := cardID
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	slug := branchSlug(title)
	if slug == "" {
		return branchPrefix + id8
	}
	return branchPrefix + id8 + "-" + slug
}

// branchSlug lowercases, keeps alphanumerics, dashes the rest, and truncates
// to 40 characters.
func branchSlug(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		if b.Len() >= maxSlugLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// CreateWorktree makes an isolated worktree plus work branch for a card.
func (s *Service) CreateWorktree(repo, cardID, title string) (branch, worktreePath string, err error) {
	if _, statErr := os.Stat(filepath.Join(repo, ".git")); statErr != nil {
		return "", "", apperr.ErrNotGitRepo(repo)
	}

	if err := s.ensureWorkspacesIgnored(repo); err != nil {
		return "", "", err
	}

	branch = BranchName(cardID, title)
	worktreePath = filepath.Join(repo, workspaceDir, cardID)
	if err := os.MkdirAll(filepath.Join(repo, workspaceDir), 0755); err != nil {
		return "", "", fmt.Errorf("create workspaces dir: %w", err)
	}

	if _, err := s.git(repo, "worktree", "add", worktreePath, "-b", branch); err != nil {
		return "", "", fmt.Errorf("create worktree: %w", err)
	}
	return branch, worktreePath, nil
}

// RemoveWorktree tears down a card's worktree and branch. Best effort:
// failures are logged, never returned.
func (s *Service) RemoveWorktree(repo, worktreePath, branch string) {
	if worktreePath != "" {
		if _, err := s.git(repo, "worktree", "remove", "--force", worktreePath); err != nil {
			s.logger.Warn("remove worktree", "path", worktreePath, "error", err)
		}
	}
	if branch != "" {
		if _, err := s.git(repo, "branch", "-D", branch); err != nil {
			s.logger.Warn("delete branch", "branch", branch, "error", err)
		}
	}
}

// ensureWorkspacesIgnored appends the workspace directory to .gitignore once.
func (s *Service) ensureWorkspacesIgnored(repo string) error {
	path := filepath.Join(repo, ".gitignore")
	entry := workspaceDir + "/"

	body, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}
	for _, line := range strings.Split(string(body), "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	out := string(body)
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	out += entry + "\n"
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return fmt.Errorf("update .gitignore: %w", err)
	}
	return nil
}

// DefaultBranch resolves the repo's default branch: the remote HEAD symbolic
// ref when available, then main, then master.
func (s *Service) DefaultBranch(repo string) (string, error) {
	if out, err := s.git(repo, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		if i := strings.LastIndex(out, "/"); i >= 0 && i < len(out)-1 {
			return out[i+1:], nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if _, err := s.git(repo, "rev-parse", "--verify", candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot determine default branch for %s", repo)
}

// DiffFile is one changed file in a branch diff.
type DiffFile struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// DiffResult is a branch diff against the default branch.
type DiffResult struct {
	DefaultBranch  string     `json:"default_branch"`
	Files          []DiffFile `json:"files"`
	TotalAdditions int        `json:"total_additions"`
	TotalDeletions int        `json:"total_deletions"`
}

// Diff reports what branch changed relative to the default branch.
func (s *Service) Diff(repo, branch string) (*DiffResult, error) {
	base, err := s.DefaultBranch(repo)
	if err != nil {
		return nil, err
	}
	rangeSpec := base + "..." + branch

	nameStatus, err := s.git(repo, "diff", "--name-status", rangeSpec)
	if err != nil {
		return nil, fmt.Errorf("diff name-status: %w", err)
	}
	numstat, err := s.git(repo, "diff", "--numstat", rangeSpec)
	if err != nil {
		return nil, fmt.Errorf("diff numstat: %w", err)
	}

	counts := parseNumstat(numstat)
	result := &DiffResult{DefaultBranch: base}
	for _, line := range splitLines(nameStatus) {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		file := DiffFile{Path: fields[len(fields)-1], Status: diffStatus(fields[0])}
		if c, ok := counts[file.Path]; ok {
			file.Additions, file.Deletions = c[0], c[1]
		}
		patch, err := s.git(repo, "diff", rangeSpec, "--", file.Path)
		if err == nil {
			file.Patch = patch
		}
		result.TotalAdditions += file.Additions
		result.TotalDeletions += file.Deletions
		result.Files = append(result.Files, file)
	}
	return result, nil
}

func diffStatus(code string) string {
	switch {
	case strings.HasPrefix(code, "A"):
		return "added"
	case strings.HasPrefix(code, "D"):
		return "deleted"
	case strings.HasPrefix(code, "R"):
		return "renamed"
	default:
		return "modified"
	}
}

// parseNumstat maps path to [additions, deletions]. Binary files report "-"
// and count as zero.
func parseNumstat(out string) map[string][2]int {
	counts := make(map[string][2]int)
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		add, _ := strconv.Atoi(fields[0])
		del, _ := strconv.Atoi(fields[1])
		counts[fields[len(fields)-1]] = [2]int{add, del}
	}
	return counts
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// MergeResult reports the outcome of merging a card branch.
type MergeResult struct {
	Success         bool             `json:"success"`
	Message         string           `json:"message"`
	Conflicts       []string         `json:"conflicts"`
	ConflictDetails []ConflictDetail `json:"conflict_details,omitempty"`
	MergeInProgress bool             `json:"merge_in_progress"`
}

// Merge merges branch into the default branch with --no-ff. On conflicts,
// keepConflicts leaves the merge in progress (and holds the repo lock) so
// the conflicts can be resolved; otherwise the merge is aborted. While a
// kept merge is pending, further merges on the repo fail immediately
// instead of waiting on the lock.
func (s *Service) Merge(repo, branch string, keepConflicts bool) (*MergeResult, error) {
	if s.isPending(repo) {
		return nil, apperr.ErrMergeInProgress(repo)
	}
	lock := s.repoLock(repo)
	lock.Lock()
	held := false
	defer func() {
		if !held {
			lock.Unlock()
		}
	}()

	base, err := s.DefaultBranch(repo)
	if err != nil {
		return nil, err
	}
	prev, err := s.git(repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("current branch: %w", err)
	}

	if _, err := s.git(repo, "checkout", base); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", base, err)
	}

	_, mergeErr := s.git(repo, "merge", branch, "--no-ff", "-m", "Merge "+branch)
	if mergeErr == nil {
		s.restoreBranch(repo, prev, base)
		return &MergeResult{
			Success: true,
			Message: fmt.Sprintf("merged %s into %s", branch, base),
		}, nil
	}

	conflicts, err := s.unmergedPaths(repo)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		// Merge failed for a non-conflict reason.
		s.restoreBranch(repo, prev, base)
		return nil, fmt.Errorf("merge %s: %w", branch, mergeErr)
	}

	result := &MergeResult{
		Message:   fmt.Sprintf("merge of %s has conflicts", branch),
		Conflicts: conflicts,
	}
	if keepConflicts {
		details, err := s.conflictDetails(repo, conflicts)
		if err != nil {
			s.logger.Warn("conflict details", "repo", repo, "error", err)
		}
		result.ConflictDetails = details
		result.MergeInProgress = true
		s.markPending(repo)
		held = true
		return result, nil
	}

	if _, err := s.git(repo, "merge", "--abort"); err != nil {
		s.logger.Warn("merge abort", "repo", repo, "error", err)
	}
	s.restoreBranch(repo, prev, base)
	return result, nil
}

func (s *Service) restoreBranch(repo, prev, current string) {
	if prev == "" || prev == "HEAD" || prev == current {
		return
	}
	if _, err := s.git(repo, "checkout", prev); err != nil {
		s.logger.Warn("restore branch", "repo", repo, "branch", prev, "error", err)
	}
}

// ConflictDetail describes one unmerged file with its three index stages.
type ConflictDetail struct {
	Path          string `json:"path"`
	ConflictType  string `json:"conflict_type"`
	IsBinary      bool   `json:"is_binary"`
	OursContent   string `json:"ours_content"`
	TheirsContent string `json:"theirs_content"`
	BaseContent   string `json:"base_content"`
}

// ConflictReport is the current conflict state of a repository.
type ConflictReport struct {
	MergeInProgress bool             `json:"merge_in_progress"`
	Conflicts       []ConflictDetail `json:"conflicts"`
}

// Conflicts reports the unmerged files and whether a merge is in progress.
func (s *Service) Conflicts(repo string) (*ConflictReport, error) {
	paths, err := s.unmergedPaths(repo)
	if err != nil {
		return nil, err
	}
	details, err := s.conflictDetails(repo, paths)
	if err != nil {
		return nil, err
	}
	return &ConflictReport{
		MergeInProgress: s.mergeInProgress(repo),
		Conflicts:       details,
	}, nil
}

func (s *Service) unmergedPaths(repo string) ([]string, error) {
	out, err := s.git(repo, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return splitLines(out), nil
}

func (s *Service) mergeInProgress(repo string) bool {
	out, err := s.git(repo, "rev-parse", "--git-path", "MERGE_HEAD")
	if err != nil {
		return false
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(repo, out)
	}
	_, err = os.Stat(out)
	return err == nil
}

func (s *Service) conflictDetails(repo string, paths []string) ([]ConflictDetail, error) {
	details := make([]ConflictDetail, 0, len(paths))
	for _, path := range paths {
		detail := ConflictDetail{Path: path, ConflictType: "both_modified"}

		base, baseOK := s.stageContent(repo, 1, path)
		ours, oursOK := s.stageContent(repo, 2, path)
		theirs, theirsOK := s.stageContent(repo, 3, path)

		switch {
		case !baseOK && oursOK && theirsOK:
			detail.ConflictType = "both_added"
		case !oursOK:
			detail.ConflictType = "deleted_by_us"
		case !theirsOK:
			detail.ConflictType = "deleted_by_them"
		}

		detail.IsBinary = strings.ContainsRune(ours, 0) || strings.ContainsRune(theirs, 0)
		if !detail.IsBinary {
			detail.BaseContent = base
			detail.OursContent = ours
			detail.TheirsContent = theirs
		}
		details = append(details, detail)
	}
	return details, nil
}

func (s *Service) stageContent(repo string, stage int, path string) (string, bool) {
	out, err := s.git(repo, "show", fmt.Sprintf(":%d:%s", stage, path))
	if err != nil {
		return "", false
	}
	return out, true
}

// Resolution picks how one conflicted file is settled.
type Resolution struct {
	Path     string `json:"path"`
	Strategy string `json:"strategy"` // ours, theirs, or manual
	Content  string `json:"content,omitempty"`
}

// Resolve applies resolutions to conflicted files and stages the results.
func (s *Service) Resolve(repo string, resolutions []Resolution) error {
	for _, res := range resolutions {
		switch res.Strategy {
		case "ours":
			if _, err := s.git(repo, "checkout", "--ours", "--", res.Path); err != nil {
				return fmt.Errorf("resolve %s as ours: %w", res.Path, err)
			}
		case "theirs":
			if _, err := s.git(repo, "checkout", "--theirs", "--", res.Path); err != nil {
				return fmt.Errorf("resolve %s as theirs: %w", res.Path, err)
			}
		case "manual":
			full := filepath.Join(repo, res.Path)
			if err := os.WriteFile(full, []byte(res.Content), 0644); err != nil {
				return fmt.Errorf("resolve %s manually: %w", res.Path, err)
			}
		default:
			return fmt.Errorf("unknown resolution strategy %q for %s", res.Strategy, res.Path)
		}
		if _, err := s.git(repo, "add", "--", res.Path); err != nil {
			return fmt.Errorf("stage %s: %w", res.Path, err)
		}
	}
	return nil
}

// CompleteMerge commits a kept merge once every conflict is resolved, then
// releases the repo lock. The lock stays held while conflicts remain.
func (s *Service) CompleteMerge(repo string) error {
	if !s.mergeInProgress(repo) {
		return apperr.ErrNoMergeInProgress(repo)
	}
	unresolved, err := s.unmergedPaths(repo)
	if err != nil {
		return err
	}
	if len(unresolved) > 0 {
		return apperr.ErrConflictsRemain(unresolved)
	}
	if _, err := s.git(repo, "commit", "--no-edit"); err != nil {
		return fmt.Errorf("complete merge: %w", err)
	}
	s.releasePending(repo)
	return nil
}

// AbortMerge abandons a kept merge. The repo lock is released whether or not
// the abort itself succeeds, so a wedged merge cannot block later ones.
func (s *Service) AbortMerge(repo string) error {
	defer s.releasePending(repo)
	if !s.mergeInProgress(repo) {
		return apperr.ErrNoMergeInProgress(repo)
	}
	if _, err := s.git(repo, "merge", "--abort"); err != nil {
		return fmt.Errorf("abort merge: %w", err)
	}
	return nil
}

// CreatePR pushes the branch to origin and opens a pull request through the
// external PR tool. Returns the tool's stdout, typically the PR URL.
func (s *Service) CreatePR(repo, branch, title, body string) (string, error) {
	base, err := s.DefaultBranch(repo)
	if err != nil {
		return "", err
	}
	if _, err := s.git(repo, "push", "origin", branch); err != nil {
		return "", fmt.Errorf("push %s: %w", branch, err)
	}

	out, err := s.runner.Run(repo, s.prTool, "pr", "create",
		"--base", base, "--head", branch, "--title", title, "--body", body)
	if err != nil {
		return "", fmt.Errorf("create pr: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("pr tool produced no output")
	}
	return strings.TrimSpace(out), nil
}

func (s *Service) git(repo string, args ...string) (string, error) {
	return s.runner.Run(repo, "git", args...)
}

// repoLock returns the mutex for a repository, keyed on its canonical path.
func (s *Service) repoLock(repo string) *sync.Mutex {
	key := canonicalPath(repo)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *Service) isPending(repo string) bool {
	key := canonicalPath(repo)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[key]
}

func (s *Service) markPending(repo string) {
	key := canonicalPath(repo)
	s.mu.Lock()
	s.pending[key] = true
	s.mu.Unlock()
}

// releasePending unlocks the repo lock held by a kept merge, if any.
func (s *Service) releasePending(repo string) {
	key := canonicalPath(repo)
	s.mu.Lock()
	wasPending := s.pending[key]
	delete(s.pending, key)
	lock := s.locks[key]
	s.mu.Unlock()

	if wasPending && lock != nil {
		lock.Unlock()
	}
}

func canonicalPath(repo string) string {
	if resolved, err := filepath.EvalSymlinks(repo); err == nil {
		repo = resolved
	}
	if abs, err := filepath.Abs(repo); err == nil {
		return abs
	}
	return repo
}
