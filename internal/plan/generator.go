// Package plan renders the markdown work-plan document handed to the agent
// before dispatch.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lightupdev/lightup/internal/db"
)

// PlansDir is the plan location relative to a card's working directory.
const PlansDir = ".sisyphus/plans"

// Slug normalises a title into a file-name-safe slug: lowercase, keep
// alphanumerics, collapse runs of anything else to single dashes, trim
// leading and trailing dashes.
func Slug(title string) string {
	var b strings.Builder
	lastDash := true // swallow leading dashes
	for _, r := range strings.ToLower(title) {
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

// Profile is the heuristic agent profile for a subtask.
type Profile struct {
	Category string
	Skills   []string
}

// ProfileFor derives an agent profile from keyword matching on the subtask
// title.
func ProfileFor(title string) Profile {
	lower := strings.ToLower(title)
	switch {
	case containsAny(lower, "ui", "frontend", "design", "css", "style"):
		return Profile{Category: "visual-engineering", Skills: []string{"frontend-ui-ux"}}
	case containsAny(lower, "bug", "fix", "hotfix", "regression"):
		return Profile{Category: "quick", Skills: []string{"debugging"}}
	}
	return Profile{Category: "unspecified-high", Skills: nil}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Render produces the plan document for a card and its ordered subtasks.
// Output is deterministic for equal inputs.
func Render(card *db.Card, subtasks []*db.Subtask) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", card.Title)

	b.WriteString("## TL;DR\n\n")
	if desc := strings.TrimSpace(card.Description); desc != "" {
		b.WriteString(desc)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%d subtask(s) to complete.\n\n", len(subtasks))

	b.WriteString("## Context\n\n")
	fmt.Fprintf(&b, "- Priority: %s\n", card.Priority)
	fmt.Fprintf(&b, "- Stage: %s\n", card.Stage)
	fmt.Fprintf(&b, "- Working directory: %s\n\n", card.WorkingDirectory)

	if len(card.LinkedDocuments) > 0 {
		b.WriteString("## Referenced Documents\n\n")
		for _, doc := range card.LinkedDocuments {
			fmt.Fprintf(&b, "- %s\n", doc)
		}
		b.WriteString("\n")
	}

	b.WriteString("## TODOs\n\n")
	for i, s := range subtasks {
		mark := " "
		if s.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, s.Title)
		p := ProfileFor(s.Title)
		if len(p.Skills) > 0 {
			fmt.Fprintf(&b, "   - Agent profile: %s (%s)\n", p.Category, strings.Join(p.Skills, ", "))
		} else {
			fmt.Fprintf(&b, "   - Agent profile: %s\n", p.Category)
		}
	}

	return b.String()
}

// Write renders the plan and writes it under the card's working directory,
// creating the plans directory if missing. Returns the absolute plan path.
func Write(card *db.Card, subtasks []*db.Subtask) (string, error) {
	dir := filepath.Join(card.WorkingDirectory, PlansDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create plans dir: %w", err)
	}

	path := filepath.Join(dir, Slug(card.Title)+".md")
	if err := os.WriteFile(path, []byte(Render(card, subtasks)), 0644); err != nil {
		return "", fmt.Errorf("write plan: %w", err)
	}
	return path, nil
}

// AppendReviewFeedback appends a Review Feedback block listing each comment
// to an existing plan file.
func AppendReviewFeedback(planPath string, comments []*db.Comment) error {
	body, err := os.ReadFile(planPath)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}

	var b strings.Builder
	b.Write(body)
	if !strings.HasSuffix(b.String(), "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n## Review Feedback\n\n")
	for _, c := range comments {
		author := c.Author
		if author == "" {
			author = "reviewer"
		}
		fmt.Fprintf(&b, "- %s: %s\n", author, strings.ReplaceAll(c.Content, "\n", " "))
	}

	if err := os.WriteFile(planPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
