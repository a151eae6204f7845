// Package sim executes automation flows as simulated WhatsApp
// conversations: it walks the graph node by node, renders bot messages,
// pauses for user input at questions and branch choices, and records the
// whole transcript on a Session. No real messages are ever sent.
package sim

import (
	"time"

	"github.com/waveline-labs/chatflow/flow"
)

// State is the lifecycle state of a simulation session.
type State string

const (
	// StateIdle means the session has not started (or was closed).
	StateIdle State = "idle"

	// StateRunning means the simulator is advancing through nodes.
	StateRunning State = "running"

	// StateWaiting means execution is paused until user input arrives.
	StateWaiting State = "waiting_for_input"

	// StateComplete means the session reached a terminal state.
	StateComplete State = "complete"
)

// MessageRole distinguishes bot bubbles from user replies in the transcript.
type MessageRole string

const (
	RoleBot  MessageRole = "bot"
	RoleUser MessageRole = "user"
)

// Message is one bubble in the simulated conversation transcript. Bot
// messages carry the rendered presentation of the node that emitted them.
type Message struct {
	ID        string          `json:"id"`
	Role      MessageRole     `json:"role"`
	Text      string          `json:"text,omitempty"`
	Header    string          `json:"header,omitempty"`
	Footer    string          `json:"footer,omitempty"`
	Buttons   []flow.Button   `json:"buttons,omitempty"`
	Items     []flow.ListItem `json:"items,omitempty"`
	MediaType flow.MediaType  `json:"mediaType,omitempty"`
	MediaURL  string          `json:"mediaUrl,omitempty"`
	NodeID    string          `json:"nodeId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AwaitKind describes what kind of input the paused simulator expects.
type AwaitKind string

const (
	// AwaitNone means the session is not waiting.
	AwaitNone AwaitKind = ""

	// AwaitAnswer means a free-text answer to an askQuestion node.
	AwaitAnswer AwaitKind = "answer"

	// AwaitButton means a button selection on a message or media node.
	AwaitButton AwaitKind = "button"

	// AwaitListItem means a row selection on a list node.
	AwaitListItem AwaitKind = "listItem"
)

// InputKind classifies user input handed to HandleUserInput.
type InputKind string

const (
	// InputText is free text typed by the user.
	InputText InputKind = "text"

	// InputButton is a button click; the value is the button ID or its label.
	InputButton InputKind = "button"

	// InputListItem is a list selection; the value is the item ID or its title.
	InputListItem InputKind = "list"
)

// Tag is a contact tag applied during the session.
type Tag struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Session is the accumulated state of one simulated conversation: the
// transcript, contact attributes, applied tags, and the execution cursor.
type Session struct {
	ID         string            `json:"id"`
	State      State             `json:"state"`
	Messages   []Message         `json:"messages"`
	Attributes map[string]string `json:"attributes"`
	Tags       []Tag             `json:"tags"`

	// CurrentNodeID is the node execution is at or paused on.
	CurrentNodeID string `json:"currentNodeId,omitempty"`

	// Awaiting describes the expected input when State is waiting_for_input.
	Awaiting AwaitKind `json:"awaiting,omitempty"`

	// Steps counts nodes entered, for the hop guard and metrics.
	Steps int `json:"steps"`

	StartedAt time.Time `json:"startedAt,omitempty"`
}

// SetAttribute stores an attribute value, overwriting any previous one.
func (s *Session) SetAttribute(name, value string) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]string)
	}
	s.Attributes[name] = value
}

// AddTag records a tag once; re-tagging with the same name is a no-op.
func (s *Session) AddTag(tag Tag) {
	for _, t := range s.Tags {
		if t.Name == tag.Name {
			return
		}
	}
	s.Tags = append(s.Tags, tag)
}

// Snapshot returns a deep copy that stays stable while the live session
// keeps advancing. Callers that read a session concurrently with input
// handling serialize the copy, not the copy's use.
func (s *Session) Snapshot() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.Tags = make([]Tag, len(s.Tags))
	copy(out.Tags, s.Tags)
	out.Attributes = make(map[string]string, len(s.Attributes))
	for k, v := range s.Attributes {
		out.Attributes[k] = v
	}
	return &out
}

// appendMessage records a bubble in the transcript and returns it.
func (s *Session) appendMessage(m Message) Message {
	s.Messages = append(s.Messages, m)
	return m
}
