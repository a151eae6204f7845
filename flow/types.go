// Package flow defines the graph model for WhatsApp automation flows:
// typed nodes, directed edges keyed by button/list handles, the persisted
// Flow shape, the mutable Document used by the builder, static validation,
// and the builder's undo/redo history.
package flow

import "time"

// NodeType identifies the kind of a flow node.
type NodeType string

const (
	// NodeFlowStart is the entry point; activated when incoming text
	// matches one of its triggers, or by an explicit simulation start.
	NodeFlowStart NodeType = "flowStart"

	// NodeMessage emits a text bubble with up to MaxButtons quick-action buttons.
	NodeMessage NodeType = "message"

	// NodeMediaButtons is like NodeMessage but leads with media.
	NodeMediaButtons NodeType = "mediaButtons"

	// NodeList emits a selectable list of up to MaxListItems items.
	NodeList NodeType = "list"

	// NodeAskQuestion pauses for free-text input and stores the answer
	// into a session attribute.
	NodeAskQuestion NodeType = "askQuestion"

	// NodeTemplate emits a pre-approved message template's rendered text.
	NodeTemplate NodeType = "template"

	// NodeSetAttribute writes a session attribute and auto-advances.
	NodeSetAttribute NodeType = "setAttribute"

	// NodeAddTag tags the contact and auto-advances.
	NodeAddTag NodeType = "addTag"

	// NodeAPIRequest performs a (simulated) external call, optionally
	// storing the response into a session attribute, and auto-advances.
	NodeAPIRequest NodeType = "apiRequest"
)

// AllNodeTypes lists every node type in a stable order.
var AllNodeTypes = [...]NodeType{
	NodeFlowStart,
	NodeMessage,
	NodeMediaButtons,
	NodeList,
	NodeAskQuestion,
	NodeTemplate,
	NodeSetAttribute,
	NodeAddTag,
	NodeAPIRequest,
}

// IsValid reports whether t is one of the known node types.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeFlowStart, NodeMessage, NodeMediaButtons, NodeList,
		NodeAskQuestion, NodeTemplate, NodeSetAttribute, NodeAddTag,
		NodeAPIRequest:
		return true
	default:
		return false
	}
}

// String returns the string representation of the NodeType.
func (t NodeType) String() string {
	return string(t)
}

// Edit-time limits, re-checked by the validator.
const (
	MaxButtons   = 3
	MaxListItems = 10
)

// ButtonType identifies the behavior of a quick-action button.
type ButtonType string

const (
	ButtonQuickReply ButtonType = "quick_reply"
	ButtonPostback   ButtonType = "postback"
	ButtonURL        ButtonType = "url"
)

// Button is a quick-action button on a message or media node.
// Its ID doubles as the sourceHandle for the edge wired to the branch.
type Button struct {
	ID   string     `json:"id"`
	Text string     `json:"text"`
	Type ButtonType `json:"type,omitempty"`
	URL  string     `json:"url,omitempty"`
}

// ListItem is a selectable row in a list node. Its ID doubles as the
// sourceHandle for the edge wired to the branch.
type ListItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// MediaType identifies the media attached to a mediaButtons node.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
)

// ValidationType selects the answer check for an askQuestion node.
type ValidationType string

const (
	ValidationText   ValidationType = "text"
	ValidationNumber ValidationType = "number"
	ValidationEmail  ValidationType = "email"
	ValidationRegex  ValidationType = "regex"
)

// Position is the editor canvas coordinate of a node. It has no effect
// on execution semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the per-type configuration payload of a node. It is a flat
// union: each node type reads only its own fields, and JSON decoding of a
// partially-filled payload is always safe because Normalize guarantees
// empty collections instead of nils.
type NodeData struct {
	// flowStart
	Triggers []string `json:"triggers,omitempty"`

	// message, mediaButtons, list, template
	Text   string `json:"text,omitempty"`
	Header string `json:"header,omitempty"`
	Footer string `json:"footer,omitempty"`

	// message, mediaButtons
	Buttons []Button `json:"buttons,omitempty"`

	// mediaButtons
	MediaType MediaType `json:"mediaType,omitempty"`
	MediaURL  string    `json:"mediaUrl,omitempty"`

	// list
	Items []ListItem `json:"items,omitempty"`

	// askQuestion
	Question        string         `json:"question,omitempty"`
	AttributeName   string         `json:"attributeName,omitempty"`
	Required        bool           `json:"required,omitempty"`
	ValidationType  ValidationType `json:"validationType,omitempty"`
	ValidationRegex string         `json:"validationRegex,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`

	// template
	TemplateID   string `json:"templateId,omitempty"`
	TemplateName string `json:"templateName,omitempty"`

	// setAttribute (AttributeName is shared with askQuestion)
	AttributeValue string `json:"attributeValue,omitempty"`

	// addTag
	TagID   string `json:"tagId,omitempty"`
	TagName string `json:"tagName,omitempty"`

	// apiRequest
	URL               string `json:"url,omitempty"`
	Method            string `json:"method,omitempty"`
	ResponseAttribute string `json:"responseAttribute,omitempty"`
}

// Normalize replaces nil collections with empty ones so downstream code
// never needs nil guards.
func (d *NodeData) Normalize() {
	if d.Triggers == nil {
		d.Triggers = []string{}
	}
	if d.Buttons == nil {
		d.Buttons = []Button{}
	}
	if d.Items == nil {
		d.Items = []ListItem{}
	}
}

// DefaultData seeds a type-appropriate empty configuration for a freshly
// created node.
func DefaultData(t NodeType) NodeData {
	d := NodeData{
		Triggers: []string{},
		Buttons:  []Button{},
		Items:    []ListItem{},
	}
	switch t {
	case NodeAskQuestion:
		d.ValidationType = ValidationText
	case NodeAPIRequest:
		d.Method = "GET"
	}
	return d
}

// Node is a single step in an automation flow.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Branch is a selectable choice on a button- or list-bearing node.
// Handle is the edge sourceHandle that wires the choice to its target.
type Branch struct {
	Handle string
	Label  string
}

// Branches returns the selectable choices the node offers, in display
// order. Non-branching node types return nil.
func (n Node) Branches() []Branch {
	switch n.Type {
	case NodeMessage, NodeMediaButtons:
		if len(n.Data.Buttons) == 0 {
			return nil
		}
		branches := make([]Branch, 0, len(n.Data.Buttons))
		for _, b := range n.Data.Buttons {
			branches = append(branches, Branch{Handle: b.ID, Label: b.Text})
		}
		return branches
	case NodeList:
		if len(n.Data.Items) == 0 {
			return nil
		}
		branches := make([]Branch, 0, len(n.Data.Items))
		for _, item := range n.Data.Items {
			branches = append(branches, Branch{Handle: item.ID, Label: item.Title})
		}
		return branches
	case NodeFlowStart, NodeAskQuestion, NodeTemplate, NodeSetAttribute,
		NodeAddTag, NodeAPIRequest:
		return nil
	default:
		return nil
	}
}

// Edge is a directed connection between two nodes. SourceHandle keys the
// edge to a specific button or list item when the source node branches.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// FlowStatus is the lifecycle state of a persisted flow.
type FlowStatus string

const (
	StatusDraft    FlowStatus = "draft"
	StatusActive   FlowStatus = "active"
	StatusArchived FlowStatus = "archived"
)

// IsValid reports whether s is a known flow status.
func (s FlowStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusArchived:
		return true
	default:
		return false
	}
}

// Flow is the persisted automation graph: nodes, edges, and metadata.
// Triggers is a denormalized copy of the start node's triggers so list
// views never need to walk the graph.
type Flow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      FlowStatus `json:"status"`
	Triggers    []string   `json:"triggers"`
	Nodes       []Node     `json:"nodes"`
	Edges       []Edge     `json:"edges"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Normalize fills nil collections across the flow and its nodes and
// defaults the status to draft.
func (f *Flow) Normalize() {
	if f.Status == "" {
		f.Status = StatusDraft
	}
	if f.Triggers == nil {
		f.Triggers = []string{}
	}
	if f.Nodes == nil {
		f.Nodes = []Node{}
	}
	if f.Edges == nil {
		f.Edges = []Edge{}
	}
	for i := range f.Nodes {
		f.Nodes[i].Data.Normalize()
	}
}

// SyncTriggers refreshes the denormalized trigger list from the flow's
// start nodes.
func (f *Flow) SyncTriggers() {
	triggers := []string{}
	for _, n := range f.Nodes {
		if n.Type == NodeFlowStart {
			triggers = append(triggers, n.Data.Triggers...)
		}
	}
	f.Triggers = triggers
}

// Validate runs static validation over the flow's graph.
func (f *Flow) Validate() []Diagnostic {
	return Validate(f.Nodes, f.Edges)
}
