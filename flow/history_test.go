package flow

import (
	"fmt"
	"testing"
)

func snap(label string) Snapshot {
	return Snapshot{Nodes: []Node{{ID: label, Type: NodeMessage}}}
}

func snapLabel(s Snapshot) string {
	if len(s.Nodes) == 0 {
		return ""
	}
	return s.Nodes[0].ID
}

func TestHistory_UndoRedo(t *testing.T) {
	h := NewHistory(snap("v0"), 0)
	h.Push(snap("v1"))
	h.Push(snap("v2"))

	if !h.CanUndo() || h.CanRedo() {
		t.Fatalf("CanUndo=%v CanRedo=%v, want true/false", h.CanUndo(), h.CanRedo())
	}

	s, ok := h.Undo()
	if !ok || snapLabel(s) != "v1" {
		t.Fatalf("Undo = %q/%v, want v1/true", snapLabel(s), ok)
	}
	s, ok = h.Undo()
	if !ok || snapLabel(s) != "v0" {
		t.Fatalf("Undo = %q/%v, want v0/true", snapLabel(s), ok)
	}
	if _, ok := h.Undo(); ok {
		t.Error("Undo past the oldest state should fail")
	}

	s, ok = h.Redo()
	if !ok || snapLabel(s) != "v1" {
		t.Fatalf("Redo = %q/%v, want v1/true", snapLabel(s), ok)
	}
	s, ok = h.Redo()
	if !ok || snapLabel(s) != "v2" {
		t.Fatalf("Redo = %q/%v, want v2/true", snapLabel(s), ok)
	}
	if _, ok := h.Redo(); ok {
		t.Error("Redo past the newest state should fail")
	}
}

func TestHistory_PushTruncatesRedoTail(t *testing.T) {
	h := NewHistory(snap("v0"), 0)
	h.Push(snap("v1"))
	h.Push(snap("v2"))
	h.Undo()
	h.Undo()

	h.Push(snap("fork"))

	if h.CanRedo() {
		t.Error("push after undo must discard the redo tail")
	}
	if got := snapLabel(h.Current()); got != "fork" {
		t.Errorf("Current = %q, want fork", got)
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2 (v0, fork)", h.Len())
	}
}

func TestHistory_EvictsOldestAtCapacity(t *testing.T) {
	const capacity = 5
	h := NewHistory(snap("v0"), capacity)
	for i := 1; i <= 10; i++ {
		h.Push(snap(fmt.Sprintf("v%d", i)))
	}

	if h.Len() != capacity {
		t.Fatalf("Len = %d, want %d", h.Len(), capacity)
	}
	if got := snapLabel(h.Current()); got != "v10" {
		t.Errorf("Current = %q, want v10", got)
	}

	// Undo all the way: the oldest retained state is v6, not v0.
	var last Snapshot
	for h.CanUndo() {
		last, _ = h.Undo()
	}
	if got := snapLabel(last); got != "v6" {
		t.Errorf("oldest retained = %q, want v6", got)
	}
}

func TestHistory_CurrentTracksCursor(t *testing.T) {
	h := NewHistory(snap("v0"), 0)
	if got := snapLabel(h.Current()); got != "v0" {
		t.Fatalf("Current = %q, want v0", got)
	}
	h.Push(snap("v1"))
	h.Undo()
	if got := snapLabel(h.Current()); got != "v0" {
		t.Errorf("Current after undo = %q, want v0", got)
	}
	h.Redo()
	if got := snapLabel(h.Current()); got != "v1" {
		t.Errorf("Current after redo = %q, want v1", got)
	}
}
