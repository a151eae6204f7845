package sim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waveline-labs/chatflow/flow"
)

// TriggerMode controls how Start selects the entry node.
type TriggerMode string

const (
	// TriggerMatch starts only when the trigger text matches a start
	// node's triggers; unmatched text completes immediately.
	TriggerMatch TriggerMode = "match"

	// TriggerManual starts at the first start node regardless of
	// triggers, for testing a flow from the builder.
	TriggerManual TriggerMode = "manual"
)

// DefaultMaxHops bounds how many nodes a session may enter. Cyclic
// graphs are legal, so the guard is what terminates a runaway loop.
const DefaultMaxHops = 100

// Config assembles a Simulator. Nodes and Edges are treated as read-only
// for the lifetime of the session.
type Config struct {
	Nodes []flow.Node
	Edges []flow.Edge

	// Mode defaults to TriggerMatch.
	Mode TriggerMode

	// MaxHops defaults to DefaultMaxHops when zero or negative.
	MaxHops int

	// API serves apiRequest nodes. Defaults to an empty CannedAPIClient.
	API APIClient

	// EventHandler receives simulator events. Optional.
	EventHandler EventHandler

	// Now and NewID are clock and ID hooks for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// Result is what one Start or HandleUserInput call produced: the bot
// messages emitted during the call and where the session stands.
type Result struct {
	Messages          []Message `json:"messages"`
	IsWaitingForInput bool      `json:"isWaitingForInput"`
	IsComplete        bool      `json:"isComplete"`
}

// ValidationError is returned by Start when the graph has error-severity
// diagnostics. It is the only error Start can return.
type ValidationError struct {
	Diagnostics []flow.Diagnostic
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("flow has %d validation errors", len(flow.Errors(e.Diagnostics)))
}

// Simulator walks one flow graph as a simulated conversation. It is not
// safe for concurrent use; callers serialize access per session.
type Simulator struct {
	cfg      Config
	nodes    map[string]flow.Node
	outgoing map[string][]flow.Edge

	session *Session
	seq     uint64
}

// New builds a simulator over the given graph.
func New(cfg Config) *Simulator {
	if cfg.Mode == "" {
		cfg.Mode = TriggerMatch
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.API == nil {
		cfg.API = &CannedAPIClient{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	s := &Simulator{
		cfg:      cfg,
		nodes:    make(map[string]flow.Node, len(cfg.Nodes)),
		outgoing: make(map[string][]flow.Edge),
	}
	s.reset()
	for _, n := range cfg.Nodes {
		n.Data.Normalize()
		s.nodes[n.ID] = n
	}
	for _, e := range cfg.Edges {
		s.outgoing[e.Source] = append(s.outgoing[e.Source], e)
	}
	return s
}

// reset replaces the session so nothing from a previous run carries
// over: empty transcript, attributes, tags, and step count.
func (s *Simulator) reset() {
	s.session = &Session{
		State:      StateIdle,
		Messages:   []Message{},
		Attributes: map[string]string{},
		Tags:       []Tag{},
	}
}

// Session returns the accumulated session state.
func (s *Simulator) Session() *Session {
	return s.session
}

// State returns the session's lifecycle state.
func (s *Simulator) State() State {
	return s.session.State
}

// Close discards the session, returning the simulator to idle. There are
// no timers or external resources to release.
func (s *Simulator) Close() {
	s.session.State = StateIdle
	s.session.Awaiting = AwaitNone
	s.session.CurrentNodeID = ""
}

// Start begins the conversation on a fresh session; restarting discards
// the previous run. In match mode the trigger text is checked against
// every start node's triggers; unmatched text completes immediately with
// no messages. The only possible error is a *ValidationError when the
// graph has error-severity diagnostics.
func (s *Simulator) Start(triggerText string) (Result, error) {
	diags := flow.Validate(s.cfg.Nodes, s.cfg.Edges)
	if flow.HasErrors(diags) {
		return Result{}, &ValidationError{Diagnostics: diags}
	}

	s.reset()

	entry, ok := s.entryNode(triggerText)
	if !ok {
		s.session.State = StateComplete
		return s.result(nil), nil
	}

	s.session.ID = s.cfg.NewID()
	s.session.State = StateRunning
	s.session.StartedAt = s.cfg.Now()
	s.emit(s.event(EventSimStarted).WithPayload("trigger", triggerText))

	var out []Message
	s.runFrom(entry.ID, &out)
	return s.result(out), nil
}

// HandleUserInput feeds a user reply into a waiting session. Input while
// the session is not waiting is a no-op that reports current state.
func (s *Simulator) HandleUserInput(value string, kind InputKind) Result {
	if s.session.State != StateWaiting {
		return s.result(nil)
	}

	s.session.appendMessage(Message{
		ID:        s.cfg.NewID(),
		Role:      RoleUser,
		Text:      value,
		Timestamp: s.cfg.Now(),
	})

	node, ok := s.nodes[s.session.CurrentNodeID]
	if !ok {
		return s.complete(nil)
	}

	var out []Message
	switch s.session.Awaiting {
	case AwaitAnswer:
		s.handleAnswer(node, value, &out)
	case AwaitButton, AwaitListItem:
		s.handleSelection(node, value, &out)
	default:
		return s.complete(out)
	}
	return s.result(out)
}

// entryNode resolves the start node for a trigger. Starts are considered
// in node order; the first match wins.
func (s *Simulator) entryNode(triggerText string) (flow.Node, bool) {
	starts := startNodes(s.cfg.Nodes, s.cfg.Edges)
	if len(starts) == 0 {
		return flow.Node{}, false
	}
	if s.cfg.Mode == TriggerManual {
		return starts[0], true
	}

	want := fold(triggerText)
	for _, n := range starts {
		for _, trig := range n.Data.Triggers {
			if fold(trig) == want {
				return n, true
			}
		}
	}
	return flow.Node{}, false
}

// runFrom advances through nodes starting at id, collecting emitted
// messages, until the session pauses or completes.
func (s *Simulator) runFrom(id string, out *[]Message) {
	for {
		node, ok := s.nodes[id]
		if !ok {
			// Malformed mid-run graph degrades to completion.
			s.complete(nil)
			return
		}

		s.session.Steps++
		if s.session.Steps > s.cfg.MaxHops {
			s.complete(nil)
			return
		}
		s.session.CurrentNodeID = node.ID
		s.emit(s.event(EventNodeEntered).WithNode(node.ID, node.Type))

		next, done := s.execute(node, out)
		if done {
			return
		}
		id = next
	}
}

// execute runs one node: emit its message, apply its side effect, and
// decide whether to pause, complete, or advance. Returns the next node
// ID unless done.
func (s *Simulator) execute(node flow.Node, out *[]Message) (next string, done bool) {
	switch node.Type {
	case flow.NodeFlowStart:
		// Entry marker only; nothing to emit.

	case flow.NodeMessage, flow.NodeMediaButtons:
		s.emitBubble(node, out)
		if len(node.Data.Buttons) > 0 {
			s.wait(AwaitButton)
			return "", true
		}

	case flow.NodeList:
		s.emitBubble(node, out)
		if len(node.Data.Items) > 0 {
			s.wait(AwaitListItem)
			return "", true
		}

	case flow.NodeAskQuestion:
		s.emitText(node, Interpolate(node.Data.Question, s.session.Attributes), out)
		s.wait(AwaitAnswer)
		return "", true

	case flow.NodeTemplate:
		text := node.Data.Text
		if text == "" {
			text = node.Data.TemplateName
		}
		s.emitText(node, Interpolate(text, s.session.Attributes), out)

	case flow.NodeSetAttribute:
		value := Interpolate(node.Data.AttributeValue, s.session.Attributes)
		s.session.SetAttribute(node.Data.AttributeName, value)

	case flow.NodeAddTag:
		s.session.AddTag(Tag{ID: node.Data.TagID, Name: node.Data.TagName})

	case flow.NodeAPIRequest:
		method := node.Data.Method
		if method == "" {
			method = "GET"
		}
		body, err := s.cfg.API.Call(context.Background(), method, node.Data.URL)
		if err == nil && node.Data.ResponseAttribute != "" {
			s.session.SetAttribute(node.Data.ResponseAttribute, body)
		}

	default:
		// Unknown type mid-run degrades to completion.
		s.complete(nil)
		return "", true
	}

	target, ok := s.defaultTarget(node.ID)
	if !ok {
		s.complete(nil)
		return "", true
	}
	return target, false
}

// handleAnswer validates a free-text answer for an askQuestion node,
// re-prompting on rejection and advancing on acceptance.
func (s *Simulator) handleAnswer(node flow.Node, value string, out *[]Message) {
	if !ValidateAnswer(value, node.Data) {
		s.emit(s.event(EventInputRejected).
			WithNode(node.ID, node.Type).
			WithPayload("value", value))
		s.emitText(node, rejectionMessage(node.Data), out)
		// Still waiting on the same question.
		return
	}

	s.emit(s.event(EventInputReceived).
		WithNode(node.ID, node.Type).
		WithPayload("kind", string(InputText)))
	s.session.SetAttribute(node.Data.AttributeName, strings.TrimSpace(value))
	s.session.State = StateRunning
	s.session.Awaiting = AwaitNone

	target, ok := s.defaultTarget(node.ID)
	if !ok {
		s.complete(*out)
		return
	}
	s.runFrom(target, out)
}

// handleSelection resolves a button click or list choice. The value may
// be the branch handle (ID) or its visible label; label matching is
// case-insensitive on trimmed text. An unrecognized value leaves the
// session waiting. A recognized branch with no wired edge completes.
func (s *Simulator) handleSelection(node flow.Node, value string, out *[]Message) {
	branch, ok := matchBranch(node, value)
	if !ok {
		s.emit(s.event(EventInputRejected).
			WithNode(node.ID, node.Type).
			WithPayload("value", value))
		return
	}

	s.emit(s.event(EventInputReceived).
		WithNode(node.ID, node.Type).
		WithPayload("handle", branch.Handle))
	s.session.State = StateRunning
	s.session.Awaiting = AwaitNone

	target, ok := s.handleTarget(node.ID, branch.Handle)
	if !ok {
		s.complete(*out)
		return
	}
	s.runFrom(target, out)
}

// matchBranch finds the branch a user selection refers to, by handle
// first and then by label.
func matchBranch(node flow.Node, value string) (flow.Branch, bool) {
	branches := node.Branches()
	for _, b := range branches {
		if b.Handle == value {
			return b, true
		}
	}
	want := fold(value)
	for _, b := range branches {
		if fold(b.Label) == want {
			return b, true
		}
	}
	return flow.Branch{}, false
}

// defaultTarget returns the target of the node's first unkeyed outgoing edge.
func (s *Simulator) defaultTarget(nodeID string) (string, bool) {
	for _, e := range s.outgoing[nodeID] {
		if e.SourceHandle == "" {
			return e.Target, true
		}
	}
	return "", false
}

// handleTarget returns the target of the edge keyed to the given handle.
func (s *Simulator) handleTarget(nodeID, handle string) (string, bool) {
	for _, e := range s.outgoing[nodeID] {
		if e.SourceHandle == handle {
			return e.Target, true
		}
	}
	return "", false
}

// emitBubble renders a message, media, or list node into a transcript
// bubble with interpolated text.
func (s *Simulator) emitBubble(node flow.Node, out *[]Message) {
	m := Message{
		ID:        s.cfg.NewID(),
		Role:      RoleBot,
		Text:      Interpolate(node.Data.Text, s.session.Attributes),
		Header:    Interpolate(node.Data.Header, s.session.Attributes),
		Footer:    Interpolate(node.Data.Footer, s.session.Attributes),
		NodeID:    node.ID,
		Timestamp: s.cfg.Now(),
	}
	if len(node.Data.Buttons) > 0 {
		m.Buttons = append([]flow.Button{}, node.Data.Buttons...)
	}
	if len(node.Data.Items) > 0 {
		m.Items = append([]flow.ListItem{}, node.Data.Items...)
	}
	if node.Type == flow.NodeMediaButtons {
		m.MediaType = node.Data.MediaType
		m.MediaURL = node.Data.MediaURL
	}
	s.deliver(node, m, out)
}

// emitText renders a plain text bubble.
func (s *Simulator) emitText(node flow.Node, text string, out *[]Message) {
	s.deliver(node, Message{
		ID:        s.cfg.NewID(),
		Role:      RoleBot,
		Text:      text,
		NodeID:    node.ID,
		Timestamp: s.cfg.Now(),
	}, out)
}

func (s *Simulator) deliver(node flow.Node, m Message, out *[]Message) {
	s.session.appendMessage(m)
	*out = append(*out, m)
	s.emit(s.event(EventMessageEmitted).
		WithNode(node.ID, node.Type).
		WithPayload("text", m.Text))
}

// wait pauses the session for user input.
func (s *Simulator) wait(kind AwaitKind) {
	s.session.State = StateWaiting
	s.session.Awaiting = kind
	node := s.nodes[s.session.CurrentNodeID]
	s.emit(s.event(EventInputRequired).
		WithNode(node.ID, node.Type).
		WithPayload("awaiting", string(kind)))
}

// complete marks the session terminal and emits the closing event once.
func (s *Simulator) complete(out []Message) Result {
	if s.session.State != StateComplete {
		s.session.State = StateComplete
		s.session.Awaiting = AwaitNone
		s.emit(s.event(EventSimCompleted).WithPayload("steps", s.session.Steps))
	}
	return s.result(out)
}

func (s *Simulator) result(out []Message) Result {
	if out == nil {
		out = []Message{}
	}
	return Result{
		Messages:          out,
		IsWaitingForInput: s.session.State == StateWaiting,
		IsComplete:        s.session.State == StateComplete,
	}
}

func (s *Simulator) event(kind EventKind) Event {
	s.seq++
	now := s.cfg.Now()
	e := Event{
		Kind:      kind,
		SessionID: s.session.ID,
		Time:      now,
		Seq:       s.seq,
	}
	if !s.session.StartedAt.IsZero() {
		e.Elapsed = now.Sub(s.session.StartedAt)
	}
	return e
}

func (s *Simulator) emit(e Event) {
	if s.cfg.EventHandler != nil {
		s.cfg.EventHandler(e)
	}
}

// fold normalizes text for trigger, button, and list matching.
func fold(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// startNodes mirrors the flow package's notion of an entry point:
// flowStart nodes with no incoming edges, in node order.
func startNodes(nodes []flow.Node, edges []flow.Edge) []flow.Node {
	hasIncoming := make(map[string]bool, len(edges))
	for _, e := range edges {
		hasIncoming[e.Target] = true
	}
	var starts []flow.Node
	for _, n := range nodes {
		if n.Type == flow.NodeFlowStart && !hasIncoming[n.ID] {
			starts = append(starts, n)
		}
	}
	return starts
}
