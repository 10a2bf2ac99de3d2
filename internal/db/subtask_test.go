package db

import (
	"testing"
)

func TestSubtaskOrdering(t *testing.T) {
	d := NewTestDB(t)
	b := newTestBoard(t, d)

	c := &Card{BoardID: b.ID, Title: "Ordered"}
	if err := d.CreateCard(c); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	// Insert out of order across phases
	mk := func(title string, phaseOrder, position int) {
		s := &Subtask{CardID: c.ID, Title: title, Phase: "p", PhaseOrder: phaseOrder, Position: position}
		if err := d.CreateSubtask(s); err != nil {
			t.Fatalf("CreateSubtask failed: %v", err)
		}
	}
	mk("b", 2, 1000)
	mk("d", 3, 2000)
	mk("a", 1, 3000)
	mk("c", 3, 1000)

	subs, err := d.ListSubtasks(c.ID)
	if err != nil {
		t.Fatalf("ListSubtasks failed: %v", err)
	}
	if len(subs) != 4 {
		t.Fatalf("count = %d, want 4", len(subs))
	}
	want := []string{"a", "b", "c", "d"}
	for i, s := range subs {
		if s.Title != want[i] {
			t.Errorf("subs[%d] = %q, want %q", i, s.Title, want[i])
		}
	}
}

func TestSubtaskToggleAndDelete(t *testing.T) {
	d := NewTestDB(t)
	b := newTestBoard(t, d)

	c := &Card{BoardID: b.ID, Title: "Toggle"}
	if err := d.CreateCard(c); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	s := &Subtask{CardID: c.ID, Title: "Write tests"}
	if err := d.CreateSubtask(s); err != nil {
		t.Fatalf("CreateSubtask failed: %v", err)
	}
	if s.Position != PositionStep {
		t.Errorf("Position = %d, want %d", s.Position, PositionStep)
	}

	s.Completed = true
	if err := d.UpdateSubtask(s); err != nil {
		t.Fatalf("UpdateSubtask failed: %v", err)
	}

	got, err := d.GetSubtask(s.ID)
	if err != nil {
		t.Fatalf("GetSubtask failed: %v", err)
	}
	if !got.Completed {
		t.Error("subtask should be completed")
	}

	if err := d.DeleteSubtask(s.ID); err != nil {
		t.Fatalf("DeleteSubtask failed: %v", err)
	}
	gone, _ := d.GetSubtask(s.ID)
	if gone != nil {
		t.Error("subtask should be deleted")
	}
}
