package db

import (
	"database/sql"
	"testing"

	"github.com/lightupdev/lightup/internal/workflow"
)

func TestQuestionLifecycle(t *testing.T) {
	d := NewTestDB(t)
	b := newTestBoard(t, d)
	c := &Card{BoardID: b.ID, Title: "Needs input"}
	if err := d.CreateCard(c); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	q := &AiQuestion{
		CardID:    c.ID,
		SessionID: "sess-1",
		Question:  "Which framework?",
		Options:   []string{"react", "vue"},
	}
	if err := d.CreateQuestion(q); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}
	if q.ID == "" {
		t.Error("question ID not set")
	}
	if q.QuestionType != QuestionText {
		t.Errorf("QuestionType = %q, want text default", q.QuestionType)
	}

	got, err := d.GetQuestion(q.ID)
	if err != nil {
		t.Fatalf("GetQuestion failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetQuestion returned nil")
	}
	if got.Answer != nil {
		t.Errorf("Answer = %v, want nil before answering", *got.Answer)
	}
	if len(got.Options) != 2 || got.Options[0] != "react" {
		t.Errorf("Options = %v", got.Options)
	}

	if err := d.AnswerQuestion(q.ID, "react"); err != nil {
		t.Fatalf("AnswerQuestion failed: %v", err)
	}
	got, err = d.GetQuestion(q.ID)
	if err != nil {
		t.Fatalf("GetQuestion failed: %v", err)
	}
	if got.Answer == nil || *got.Answer != "react" {
		t.Errorf("Answer = %v, want react", got.Answer)
	}
	if got.AnsweredAt == nil {
		t.Error("AnsweredAt not set")
	}
}

func TestAnswerUnknownQuestion(t *testing.T) {
	d := NewTestDB(t)
	if err := d.AnswerQuestion("nope", "x"); err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestListQuestionsOrder(t *testing.T) {
	d := NewTestDB(t)
	b := newTestBoard(t, d)
	c := &Card{BoardID: b.ID, Title: "Chatty card"}
	if err := d.CreateCard(c); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	for _, text := range []string{"first?", "second?"} {
		q := &AiQuestion{CardID: c.ID, Question: text}
		if err := d.CreateQuestion(q); err != nil {
			t.Fatalf("CreateQuestion failed: %v", err)
		}
	}

	qs, err := d.ListQuestions(c.ID)
	if err != nil {
		t.Fatalf("ListQuestions failed: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("len = %d, want 2", len(qs))
	}
	if qs[0].Question != "first?" {
		t.Errorf("qs[0] = %q, want first?", qs[0].Question)
	}

	// A waiting card keeps its questions visible
	if err := d.SetAiStatus(c.ID, workflow.AiWaitingInput); err != nil {
		t.Fatalf("SetAiStatus failed: %v", err)
	}
	fresh, err := d.GetCard(c.ID)
	if err != nil || fresh == nil {
		t.Fatalf("GetCard failed: %v", err)
	}
	if fresh.AiStatus != workflow.AiWaitingInput {
		t.Errorf("AiStatus = %q", fresh.AiStatus)
	}
}
