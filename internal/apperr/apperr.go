// Package apperr provides structured error types for lightup.
package apperr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for lightup.
const (
	// Lookup errors
	CodeBoardNotFound    Code = "BOARD_NOT_FOUND"
	CodeCardNotFound     Code = "CARD_NOT_FOUND"
	CodeSubtaskNotFound  Code = "SUBTASK_NOT_FOUND"
	CodeCommentNotFound  Code = "COMMENT_NOT_FOUND"
	CodeLabelNotFound    Code = "LABEL_NOT_FOUND"
	CodeQuestionNotFound Code = "QUESTION_NOT_FOUND"

	// Validation errors
	CodeInvalidStage      Code = "INVALID_STAGE"
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeInvalidAnswer     Code = "INVALID_ANSWER"

	// Auth errors
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Agent runtime errors
	CodeAgentUnavailable Code = "AGENT_UNAVAILABLE"
	CodeNoSession        Code = "NO_SESSION"

	// Git errors
	CodeNotGitRepo       Code = "NOT_GIT_REPO"
	CodeMergeInProgress  Code = "MERGE_IN_PROGRESS"
	CodeConflictsRemain  Code = "CONFLICTS_REMAIN"
	CodeNoMergeInFlight  Code = "NO_MERGE_IN_PROGRESS"
	CodeWorktreeMissing  Code = "WORKTREE_MISSING"
	CodePlanPathMissing  Code = "PLAN_PATH_MISSING"
	CodeWorkdirMissing   Code = "WORKDIR_MISSING"
	CodeInternalFailure  Code = "INTERNAL"
	CodeQuestionTimedOut Code = "QUESTION_TIMEOUT"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryUnauthorized
	CategoryInternal
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeBoardNotFound:    CategoryNotFound,
	CodeCardNotFound:     CategoryNotFound,
	CodeSubtaskNotFound:  CategoryNotFound,
	CodeCommentNotFound:  CategoryNotFound,
	CodeLabelNotFound:    CategoryNotFound,
	CodeQuestionNotFound: CategoryNotFound,

	CodeInvalidStage:      CategoryBadRequest,
	CodeIllegalTransition: CategoryBadRequest,
	CodeInvalidInput:      CategoryBadRequest,
	CodeInvalidAnswer:     CategoryBadRequest,
	CodeConflictsRemain:   CategoryBadRequest,
	CodeMergeInProgress:   CategoryBadRequest,
	CodeNoMergeInFlight:   CategoryBadRequest,
	CodePlanPathMissing:   CategoryBadRequest,
	CodeWorkdirMissing:    CategoryBadRequest,
	CodeNotGitRepo:        CategoryBadRequest,

	CodeUnauthorized: CategoryUnauthorized,

	CodeAgentUnavailable: CategoryInternal,
	CodeNoSession:        CategoryBadRequest,
	CodeWorktreeMissing:  CategoryBadRequest,
	CodeInternalFailure:  CategoryInternal,
	CodeQuestionTimedOut: CategoryInternal,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryUnauthorized:
		return 401
	default:
		return 500
	}
}

// Error is the structured error type for lightup.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"error":  e.Error(),
		"status": e.HTTPStatus(),
	})
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Cause: err}
}

// --- Error constructors ---

// NotFound returns a 404 error naming the missing resource.
func NotFound(code Code, resource, id string) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("%s %s not found", resource, id),
	}
}

// ErrBoardNotFound returns an error when a board doesn't exist.
func ErrBoardNotFound(id string) *Error {
	return NotFound(CodeBoardNotFound, "board", id)
}

// ErrCardNotFound returns an error when a card doesn't exist.
func ErrCardNotFound(id string) *Error {
	return NotFound(CodeCardNotFound, "card", id)
}

// ErrSubtaskNotFound returns an error when a subtask doesn't exist.
func ErrSubtaskNotFound(id string) *Error {
	return NotFound(CodeSubtaskNotFound, "subtask", id)
}

// ErrCommentNotFound returns an error when a comment doesn't exist.
func ErrCommentNotFound(id string) *Error {
	return NotFound(CodeCommentNotFound, "comment", id)
}

// ErrQuestionNotFound returns an error when a question doesn't exist.
func ErrQuestionNotFound(id string) *Error {
	return NotFound(CodeQuestionNotFound, "question", id)
}

// ErrInvalidStage returns an error for an unknown stage name.
func ErrInvalidStage(stage string) *Error {
	return &Error{
		Code:    CodeInvalidStage,
		Message: fmt.Sprintf("invalid stage %q", stage),
	}
}

// ErrIllegalTransition returns an error for a forbidden stage transition.
// The message names both stages so clients can assert on it.
func ErrIllegalTransition(from, to string) *Error {
	return &Error{
		Code:    CodeIllegalTransition,
		Message: fmt.Sprintf("cannot move card from %s to %s", from, to),
	}
}

// ErrInvalidInput returns a 400 validation error.
func ErrInvalidInput(msg string) *Error {
	return &Error{Code: CodeInvalidInput, Message: msg}
}

// ErrUnauthorized returns a 401 error.
func ErrUnauthorized() *Error {
	return &Error{Code: CodeUnauthorized, Message: "missing or invalid credentials"}
}

// ErrConflictsRemain returns the error raised when complete-merge is called
// with unresolved conflicts. The message must contain "conflicts remain".
func ErrConflictsRemain(paths []string) *Error {
	return &Error{
		Code:    CodeConflictsRemain,
		Message: fmt.Sprintf("conflicts remain in %d file(s): %s", len(paths), strings.Join(paths, ", ")),
	}
}

// ErrNotGitRepo returns an error for a path that holds no git repository.
func ErrNotGitRepo(path string) *Error {
	return &Error{
		Code:    CodeNotGitRepo,
		Message: fmt.Sprintf("%s is not a git repository", path),
	}
}

// ErrMergeInProgress rejects a merge while an earlier one still holds the
// repository.
func ErrMergeInProgress(repo string) *Error {
	return &Error{
		Code:    CodeMergeInProgress,
		Message: fmt.Sprintf("a merge is already in progress for %s", repo),
	}
}

// ErrNoMergeInProgress rejects a complete or abort when no merge is pending.
func ErrNoMergeInProgress(repo string) *Error {
	return &Error{
		Code:    CodeNoMergeInFlight,
		Message: fmt.Sprintf("no merge in progress for %s", repo),
	}
}

// ErrWorktreeMissing returns an error when a merge operation needs a work
// branch the card does not have.
func ErrWorktreeMissing(cardID string) *Error {
	return &Error{
		Code:    CodeWorktreeMissing,
		Message: fmt.Sprintf("card %s has no work branch", cardID),
	}
}

// ErrWorkdirMissing returns an error when a card's working directory does not
// exist on disk.
func ErrWorkdirMissing(path string) *Error {
	return &Error{
		Code:    CodeWorkdirMissing,
		Message: fmt.Sprintf("working directory %s does not exist", path),
	}
}

// ErrNoSession returns an error when a card has no active agent session.
func ErrNoSession(cardID string) *Error {
	return &Error{
		Code:    CodeNoSession,
		Message: fmt.Sprintf("card %s has no active session", cardID),
	}
}

// ErrAgentUnavailable wraps a transport failure talking to the agent runtime.
func ErrAgentUnavailable(cause error) *Error {
	return &Error{
		Code:    CodeAgentUnavailable,
		Message: "agent runtime unavailable",
		Cause:   cause,
	}
}

// ErrQuestionTimedOut returns the error for an ask call whose question was
// never answered.
func ErrQuestionTimedOut() *Error {
	return &Error{
		Code:    CodeQuestionTimedOut,
		Message: "question was not answered within 30 minutes",
	}
}

// ErrPlanPathMissing returns an error when a re-dispatch requires a plan file
// but the card has none.
func ErrPlanPathMissing(cardID string) *Error {
	return &Error{
		Code:    CodePlanPathMissing,
		Message: fmt.Sprintf("card %s has no plan file to append feedback to", cardID),
	}
}

// Internal wraps an unexpected failure into a 500 error.
func Internal(msg string, cause error) *Error {
	return &Error{Code: CodeInternalFailure, Message: msg, Cause: cause}
}

// As attempts to convert an error to an *Error.
// Returns nil if the error is not an *Error.
func As(err error) *Error {
	for err != nil {
		if appErr, ok := err.(*Error); ok {
			return appErr
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = unwrapper.Unwrap()
	}
	return nil
}
