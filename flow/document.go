package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Document errors
var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrDuplicateNode    = errors.New("duplicate node ID")
	ErrInvalidReference = errors.New("edge references unknown node")
	ErrInvalidNodeType  = errors.New("invalid node type")
	ErrLimitExceeded    = errors.New("branch limit exceeded")
)

// Document is the mutable editing surface for one flow graph. The builder
// UI is its only writer; the validator and simulator read snapshots and
// never mutate it. Node order is insertion order, which keeps validation
// output and serialization deterministic.
type Document struct {
	nodes     map[string]*Node
	nodeOrder []string
	edges     []Edge
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{
		nodes:     make(map[string]*Node),
		nodeOrder: make([]string, 0),
		edges:     make([]Edge, 0),
	}
}

// FromFlow builds a document from a persisted flow. Node data is
// normalized on the way in. Returns an error on duplicate node IDs or an
// unknown node type; edges referencing missing nodes are kept as-is so
// the validator can report them.
func FromFlow(f *Flow) (*Document, error) {
	d := NewDocument()
	for _, n := range f.Nodes {
		if err := d.InsertNode(n); err != nil {
			return nil, err
		}
	}
	d.edges = append(d.edges, f.Edges...)
	return d, nil
}

// AddNode creates a node of the given type at the given position with
// type-appropriate default data, and returns it. The generated ID is
// stable across later edits.
func (d *Document) AddNode(t NodeType, pos Position) (Node, error) {
	if !t.IsValid() {
		return Node{}, fmt.Errorf("%w: %q", ErrInvalidNodeType, t)
	}

	n := Node{
		ID:       d.newNodeID(t),
		Type:     t,
		Position: pos,
		Data:     DefaultData(t),
	}
	d.nodes[n.ID] = &n
	d.nodeOrder = append(d.nodeOrder, n.ID)
	return n, nil
}

// InsertNode adds a fully-formed node, typically during import.
func (d *Document) InsertNode(n Node) error {
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: node %q has type %q", ErrInvalidNodeType, n.ID, n.Type)
	}
	if _, exists := d.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	n.Data.Normalize()
	d.nodes[n.ID] = &n
	d.nodeOrder = append(d.nodeOrder, n.ID)
	return nil
}

// AddEdge connects two existing nodes, optionally keyed to a button or
// list-item handle on the source. It fails with ErrInvalidReference if
// either endpoint is missing; a dangling edge is never created.
func (d *Document) AddEdge(source, target, sourceHandle string) (Edge, error) {
	if _, ok := d.nodes[source]; !ok {
		return Edge{}, fmt.Errorf("%w: source %q", ErrInvalidReference, source)
	}
	if _, ok := d.nodes[target]; !ok {
		return Edge{}, fmt.Errorf("%w: target %q", ErrInvalidReference, target)
	}

	e := Edge{
		ID:           "e-" + shortID(),
		Source:       source,
		Target:       target,
		SourceHandle: sourceHandle,
	}
	d.edges = append(d.edges, e)
	return e, nil
}

// RemoveNode deletes a node and every edge that references it. Removing
// an absent node is a no-op.
func (d *Document) RemoveNode(id string) {
	if _, ok := d.nodes[id]; !ok {
		return
	}
	delete(d.nodes, id)

	order := d.nodeOrder[:0]
	for _, nid := range d.nodeOrder {
		if nid != id {
			order = append(order, nid)
		}
	}
	d.nodeOrder = order

	edges := d.edges[:0]
	for _, e := range d.edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	d.edges = edges
}

// RemoveEdge deletes an edge by ID. Removing an absent edge is a no-op.
func (d *Document) RemoveEdge(id string) {
	edges := d.edges[:0]
	for _, e := range d.edges {
		if e.ID != id {
			edges = append(edges, e)
		}
	}
	d.edges = edges
}

// UpdateNodeData applies mutate to the node's configuration. The result
// is normalized, and button/list limits are enforced: on overflow the
// update is rejected and the node is left unchanged.
func (d *Document) UpdateNodeData(id string, mutate func(*NodeData)) error {
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	next := n.Data
	mutate(&next)
	next.Normalize()

	if len(next.Buttons) > MaxButtons {
		return fmt.Errorf("%w: node %q has %d buttons (max %d)", ErrLimitExceeded, id, len(next.Buttons), MaxButtons)
	}
	if len(next.Items) > MaxListItems {
		return fmt.Errorf("%w: node %q has %d list items (max %d)", ErrLimitExceeded, id, len(next.Items), MaxListItems)
	}

	n.Data = next
	return nil
}

// MoveNode updates a node's editor position. Position never affects
// execution, so there is no snapshot or validation implication.
func (d *Document) MoveNode(id string, pos Position) error {
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Position = pos
	return nil
}

// Node retrieves a node by ID.
func (d *Document) Node(id string) (Node, bool) {
	n, ok := d.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns all nodes in insertion order.
func (d *Document) Nodes() []Node {
	nodes := make([]Node, 0, len(d.nodeOrder))
	for _, id := range d.nodeOrder {
		nodes = append(nodes, *d.nodes[id])
	}
	return nodes
}

// Edges returns a copy of all edges in insertion order.
func (d *Document) Edges() []Edge {
	edges := make([]Edge, len(d.edges))
	copy(edges, d.edges)
	return edges
}

// OutgoingEdges returns the edges leaving the given node, in insertion order.
func (d *Document) OutgoingEdges(id string) []Edge {
	var out []Edge
	for _, e := range d.edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns the edges arriving at the given node, in insertion order.
func (d *Document) IncomingEdges(id string) []Edge {
	var in []Edge
	for _, e := range d.edges {
		if e.Target == id {
			in = append(in, e)
		}
	}
	return in
}

// StartNodes returns the flowStart nodes that have no incoming edges.
// Only these are valid execution entry points.
func (d *Document) StartNodes() []Node {
	return startNodes(d.Nodes(), d.edges)
}

// Validate runs static validation over the document's current graph.
func (d *Document) Validate() []Diagnostic {
	return Validate(d.Nodes(), d.edges)
}

// Snapshot is an immutable copy of the graph's structure, used for
// undo/redo and for handing a stable view to the simulator.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Snapshot captures a deep copy of the current nodes and edges.
func (d *Document) Snapshot() Snapshot {
	nodes := d.Nodes()
	for i := range nodes {
		nodes[i].Data = cloneData(nodes[i].Data)
	}
	return Snapshot{Nodes: nodes, Edges: d.Edges()}
}

// Restore replaces the document's contents with the given snapshot.
func (d *Document) Restore(s Snapshot) {
	d.nodes = make(map[string]*Node, len(s.Nodes))
	d.nodeOrder = make([]string, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		n.Data = cloneData(n.Data)
		node := n
		d.nodes[n.ID] = &node
		d.nodeOrder = append(d.nodeOrder, n.ID)
	}
	d.edges = make([]Edge, len(s.Edges))
	copy(d.edges, s.Edges)
}

// ToFlow writes the document's graph into the given flow, refreshing the
// denormalized trigger list.
func (d *Document) ToFlow(f *Flow) {
	f.Nodes = d.Nodes()
	f.Edges = d.Edges()
	f.SyncTriggers()
}

// newNodeID generates a unique, type-prefixed node ID.
func (d *Document) newNodeID(t NodeType) string {
	for {
		id := string(t) + "-" + shortID()
		if _, exists := d.nodes[id]; !exists {
			return id
		}
	}
}

// shortID returns the first segment of a random UUID; enough entropy for
// IDs scoped to a single flow.
func shortID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// cloneData deep-copies a node's configuration payload.
func cloneData(d NodeData) NodeData {
	out := d
	out.Triggers = append([]string{}, d.Triggers...)
	out.Buttons = append([]Button{}, d.Buttons...)
	out.Items = append([]ListItem{}, d.Items...)
	return out
}

// startNodes is shared with the validator so both agree on what counts
// as an entry point.
func startNodes(nodes []Node, edges []Edge) []Node {
	hasIncoming := make(map[string]bool, len(edges))
	for _, e := range edges {
		hasIncoming[e.Target] = true
	}
	var starts []Node
	for _, n := range nodes {
		if n.Type == NodeFlowStart && !hasIncoming[n.ID] {
			starts = append(starts, n)
		}
	}
	return starts
}
