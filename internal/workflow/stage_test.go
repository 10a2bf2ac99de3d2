package workflow

import (
	"strings"
	"testing"
)

func TestParseStage(t *testing.T) {
	for _, s := range Stages {
		got, err := ParseStage(string(s))
		if err != nil {
			t.Errorf("ParseStage(%q) failed: %v", s, err)
		}
		if got != s {
			t.Errorf("ParseStage(%q) = %q", s, got)
		}
	}

	if _, err := ParseStage("doing"); err == nil {
		t.Error("ParseStage should reject unknown stage")
	}
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]Stage]bool{}

	// Forward edges
	for _, e := range [][2]Stage{
		{StageBacklog, StagePlan},
		{StagePlan, StageTodo},
		{StageTodo, StageInProgress},
		{StageInProgress, StageReview},
		{StageReview, StageDone},
		// Re-dispatch edge
		{StageReview, StageTodo},
	} {
		legal[e] = true
	}
	// Any stage may fall back to backlog
	for _, from := range Stages {
		if from != StageBacklog {
			legal[[2]Stage{from, StageBacklog}] = true
		}
	}

	// Exhaustive check of every pair
	for _, from := range Stages {
		for _, to := range Stages {
			err := CanTransition(from, to)
			want := legal[[2]Stage{from, to}]
			if want && err != nil {
				t.Errorf("CanTransition(%s, %s) = %v, want legal", from, to, err)
			}
			if !want && err == nil {
				t.Errorf("CanTransition(%s, %s) succeeded, want rejection", from, to)
			}
		}
	}
}

func TestTransitionErrorNamesBothStages(t *testing.T) {
	err := CanTransition(StageBacklog, StageDone)
	if err == nil {
		t.Fatal("backlog -> done should be illegal")
	}
	msg := err.Error()
	if !strings.Contains(msg, "backlog") || !strings.Contains(msg, "done") {
		t.Errorf("error text should name both stages: %q", msg)
	}

	// Deterministic text
	again := CanTransition(StageBacklog, StageDone)
	if again.Error() != msg {
		t.Errorf("error text not deterministic: %q vs %q", msg, again.Error())
	}
}

func TestDoneOnlyFromReview(t *testing.T) {
	for _, from := range Stages {
		err := CanTransition(from, StageDone)
		if from == StageReview {
			if err != nil {
				t.Errorf("review -> done should be legal: %v", err)
			}
		} else if err == nil {
			t.Errorf("%s -> done should be illegal", from)
		}
	}
}

func TestParseAiStatus(t *testing.T) {
	for _, s := range []AiStatus{AiIdle, AiQueued, AiPlanning, AiDispatched, AiWorking, AiWaitingInput, AiCompleted, AiFailed} {
		if _, err := ParseAiStatus(string(s)); err != nil {
			t.Errorf("ParseAiStatus(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseAiStatus("busy"); err == nil {
		t.Error("ParseAiStatus should reject unknown status")
	}
}
