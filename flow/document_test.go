package flow

import (
	"errors"
	"strings"
	"testing"
)

func TestDocument_AddNodeSeedsDefaults(t *testing.T) {
	d := NewDocument()

	n, err := d.AddNode(NodeAskQuestion, Position{X: 10, Y: 20})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if !strings.HasPrefix(n.ID, "askQuestion-") {
		t.Errorf("ID = %q, want askQuestion- prefix", n.ID)
	}
	if n.Data.ValidationType != ValidationText {
		t.Errorf("ValidationType = %q, want %q", n.Data.ValidationType, ValidationText)
	}
	if n.Data.Buttons == nil || n.Data.Items == nil || n.Data.Triggers == nil {
		t.Error("default data should have non-nil collections")
	}

	api, err := d.AddNode(NodeAPIRequest, Position{})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if api.Data.Method != "GET" {
		t.Errorf("Method = %q, want GET", api.Data.Method)
	}
}

func TestDocument_AddNodeRejectsUnknownType(t *testing.T) {
	d := NewDocument()
	if _, err := d.AddNode("teleport", Position{}); !errors.Is(err, ErrInvalidNodeType) {
		t.Fatalf("err = %v, want ErrInvalidNodeType", err)
	}
}

func TestDocument_AddEdgeRejectsMissingEndpoints(t *testing.T) {
	d := NewDocument()
	n, _ := d.AddNode(NodeMessage, Position{})

	if _, err := d.AddEdge(n.ID, "ghost", ""); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("missing target: err = %v, want ErrInvalidReference", err)
	}
	if _, err := d.AddEdge("ghost", n.ID, ""); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("missing source: err = %v, want ErrInvalidReference", err)
	}
	if len(d.Edges()) != 0 {
		t.Errorf("failed AddEdge must not leave edges behind, got %d", len(d.Edges()))
	}
}

func TestDocument_RemoveNodeCascadesEdges(t *testing.T) {
	d := NewDocument()
	a, _ := d.AddNode(NodeFlowStart, Position{})
	b, _ := d.AddNode(NodeMessage, Position{})
	c, _ := d.AddNode(NodeMessage, Position{})
	d.AddEdge(a.ID, b.ID, "")
	d.AddEdge(b.ID, c.ID, "")
	d.AddEdge(a.ID, c.ID, "")

	d.RemoveNode(b.ID)

	if _, ok := d.Node(b.ID); ok {
		t.Fatal("node still present after removal")
	}
	for _, e := range d.Edges() {
		if e.Source == b.ID || e.Target == b.ID {
			t.Errorf("edge %q still references removed node", e.ID)
		}
	}
	if len(d.Edges()) != 1 {
		t.Errorf("edges = %d, want 1 (a->c survives)", len(d.Edges()))
	}
}

func TestDocument_RemoveNodeIsIdempotent(t *testing.T) {
	d := NewDocument()
	a, _ := d.AddNode(NodeMessage, Position{})

	d.RemoveNode(a.ID)
	d.RemoveNode(a.ID)
	d.RemoveNode("never-existed")

	if len(d.Nodes()) != 0 {
		t.Errorf("nodes = %d, want 0", len(d.Nodes()))
	}
}

func TestDocument_UpdateNodeData(t *testing.T) {
	d := NewDocument()
	n, _ := d.AddNode(NodeMessage, Position{})

	err := d.UpdateNodeData(n.ID, func(data *NodeData) {
		data.Text = "hello {{name}}"
	})
	if err != nil {
		t.Fatalf("UpdateNodeData: %v", err)
	}

	got, _ := d.Node(n.ID)
	if got.Data.Text != "hello {{name}}" {
		t.Errorf("Text = %q", got.Data.Text)
	}

	if err := d.UpdateNodeData("ghost", func(*NodeData) {}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestDocument_UpdateNodeDataEnforcesButtonCap(t *testing.T) {
	d := NewDocument()
	n, _ := d.AddNode(NodeMessage, Position{})

	err := d.UpdateNodeData(n.ID, func(data *NodeData) {
		for i := 0; i <= MaxButtons; i++ {
			data.Buttons = append(data.Buttons, Button{ID: "b", Text: "x"})
		}
	})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}

	got, _ := d.Node(n.ID)
	if len(got.Data.Buttons) != 0 {
		t.Errorf("rejected update must leave the node unchanged, got %d buttons", len(got.Data.Buttons))
	}
}

func TestDocument_AdjacencyQueries(t *testing.T) {
	d := NewDocument()
	a, _ := d.AddNode(NodeFlowStart, Position{})
	b, _ := d.AddNode(NodeMessage, Position{})
	c, _ := d.AddNode(NodeMessage, Position{})
	e1, _ := d.AddEdge(a.ID, b.ID, "")
	e2, _ := d.AddEdge(a.ID, c.ID, "")

	out := d.OutgoingEdges(a.ID)
	if len(out) != 2 || out[0].ID != e1.ID || out[1].ID != e2.ID {
		t.Errorf("OutgoingEdges = %+v, want [%s %s] in insertion order", out, e1.ID, e2.ID)
	}
	in := d.IncomingEdges(b.ID)
	if len(in) != 1 || in[0].ID != e1.ID {
		t.Errorf("IncomingEdges = %+v, want [%s]", in, e1.ID)
	}
	if len(d.OutgoingEdges(c.ID)) != 0 {
		t.Error("leaf node should have no outgoing edges")
	}
}

func TestDocument_StartNodes(t *testing.T) {
	d := NewDocument()
	s1, _ := d.AddNode(NodeFlowStart, Position{})
	s2, _ := d.AddNode(NodeFlowStart, Position{})
	m, _ := d.AddNode(NodeMessage, Position{})
	d.AddEdge(m.ID, s2.ID, "") // s2 is mid-flow now

	starts := d.StartNodes()
	if len(starts) != 1 || starts[0].ID != s1.ID {
		t.Fatalf("StartNodes = %+v, want only %s", starts, s1.ID)
	}
}

func TestDocument_SnapshotRestoreIsDeep(t *testing.T) {
	d := NewDocument()
	n, _ := d.AddNode(NodeMessage, Position{})
	d.UpdateNodeData(n.ID, func(data *NodeData) {
		data.Text = "before"
		data.Buttons = []Button{{ID: "b1", Text: "Go"}}
	})

	snap := d.Snapshot()

	d.UpdateNodeData(n.ID, func(data *NodeData) {
		data.Text = "after"
		data.Buttons[0].Text = "Changed"
	})

	if snap.Nodes[0].Data.Text != "before" || snap.Nodes[0].Data.Buttons[0].Text != "Go" {
		t.Fatal("snapshot was mutated by a later edit")
	}

	d.Restore(snap)
	got, _ := d.Node(n.ID)
	if got.Data.Text != "before" {
		t.Errorf("restored Text = %q, want before", got.Data.Text)
	}
}

func TestFromFlow_RejectsDuplicates(t *testing.T) {
	f := &Flow{
		Nodes: []Node{
			{ID: "n1", Type: NodeMessage},
			{ID: "n1", Type: NodeMessage},
		},
	}
	if _, err := FromFlow(f); !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("err = %v, want ErrDuplicateNode", err)
	}
}

func TestDocument_ToFlowSyncsTriggers(t *testing.T) {
	d := NewDocument()
	s, _ := d.AddNode(NodeFlowStart, Position{})
	d.UpdateNodeData(s.ID, func(data *NodeData) {
		data.Triggers = []string{"hi", "hello"}
	})

	var f Flow
	d.ToFlow(&f)

	if len(f.Triggers) != 2 || f.Triggers[0] != "hi" {
		t.Errorf("Triggers = %v, want [hi hello]", f.Triggers)
	}
}
