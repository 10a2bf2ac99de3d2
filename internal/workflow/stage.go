// Package workflow defines the card stage state machine and AI status values.
package workflow

import (
	"github.com/lightupdev/lightup/internal/apperr"
)

// Stage is one of the six workflow states that partition a board.
type Stage string

const (
	StageBacklog    Stage = "backlog"
	StagePlan       Stage = "plan"
	StageTodo       Stage = "todo"
	StageInProgress Stage = "in_progress"
	StageReview     Stage = "review"
	StageDone       Stage = "done"
)

// Stages lists all stages in board order.
var Stages = []Stage{StageBacklog, StagePlan, StageTodo, StageInProgress, StageReview, StageDone}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageBacklog, StagePlan, StageTodo, StageInProgress, StageReview, StageDone:
		return Stage(s), nil
	}
	return "", apperr.ErrInvalidStage(s)
}

// forward holds the forward edge out of each stage.
var forward = map[Stage]Stage{
	StageBacklog:    StagePlan,
	StagePlan:       StageTodo,
	StageTodo:       StageInProgress,
	StageInProgress: StageReview,
	StageReview:     StageDone,
}

// CanTransition reports whether moving a card from one stage to another is
// legal. Legal moves are the forward edges, review back to todo for
// re-dispatch, and any stage back to backlog. The returned error is
// deterministic and names both stages.
func CanTransition(from, to Stage) error {
	if forward[from] == to {
		return nil
	}
	if from == StageReview && to == StageTodo {
		return nil
	}
	if to == StageBacklog && from != StageBacklog {
		return nil
	}
	return apperr.ErrIllegalTransition(string(from), string(to))
}

// AiStatus tracks where a card sits in its agent work cycle.
type AiStatus string

const (
	AiIdle         AiStatus = "idle"
	AiQueued       AiStatus = "queued"
	AiPlanning     AiStatus = "planning"
	AiDispatched   AiStatus = "dispatched"
	AiWorking      AiStatus = "working"
	AiWaitingInput AiStatus = "waiting_input"
	AiCompleted    AiStatus = "completed"
	AiFailed       AiStatus = "failed"
)

// ParseAiStatus validates an AI status value.
func ParseAiStatus(s string) (AiStatus, error) {
	switch AiStatus(s) {
	case AiIdle, AiQueued, AiPlanning, AiDispatched, AiWorking, AiWaitingInput, AiCompleted, AiFailed:
		return AiStatus(s), nil
	}
	return "", apperr.ErrInvalidInput("invalid ai_status " + s)
}
