package db

import (
	"testing"
)

func TestLabelAttachIdempotent(t *testing.T) {
	d := NewTestDB(t)
	b := newTestBoard(t, d)

	c := &Card{BoardID: b.ID, Title: "Labeled"}
	if err := d.CreateCard(c); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	l := &Label{Name: "bug", Color: "#ff0000"}
	if err := d.CreateLabel(l); err != nil {
		t.Fatalf("CreateLabel failed: %v", err)
	}

	if err := d.AttachLabel(c.ID, l.ID); err != nil {
		t.Fatalf("AttachLabel failed: %v", err)
	}
	// Second attach must neither error nor duplicate
	if err := d.AttachLabel(c.ID, l.ID); err != nil {
		t.Fatalf("repeat AttachLabel failed: %v", err)
	}

	labels, err := d.ListCardLabels(c.ID)
	if err != nil {
		t.Fatalf("ListCardLabels failed: %v", err)
	}
	if len(labels) != 1 {
		t.Fatalf("labels = %d, want 1", len(labels))
	}
	if labels[0].Name != "bug" {
		t.Errorf("Name = %q", labels[0].Name)
	}

	if err := d.DetachLabel(c.ID, l.ID); err != nil {
		t.Fatalf("DetachLabel failed: %v", err)
	}
	labels, _ = d.ListCardLabels(c.ID)
	if len(labels) != 0 {
		t.Error("label should be detached")
	}
}

func TestLabelUniqueName(t *testing.T) {
	d := NewTestDB(t)

	if err := d.CreateLabel(&Label{Name: "infra"}); err != nil {
		t.Fatalf("CreateLabel failed: %v", err)
	}
	if err := d.CreateLabel(&Label{Name: "infra"}); err == nil {
		t.Error("duplicate label name should error")
	}
}
