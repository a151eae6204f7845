package sim

import (
	"time"

	"github.com/waveline-labs/chatflow/flow"
)

// EventKind identifies the type of event emitted by the simulator.
type EventKind string

const (
	// EventSimStarted is emitted when a simulation session begins.
	EventSimStarted EventKind = "sim.started"

	// EventNodeEntered is emitted when execution enters a node.
	EventNodeEntered EventKind = "node.entered"

	// EventMessageEmitted is emitted for every bot message bubble.
	EventMessageEmitted EventKind = "message.emitted"

	// EventInputRequired is emitted when execution pauses for user input.
	EventInputRequired EventKind = "input.required"

	// EventInputReceived is emitted when user input is accepted.
	EventInputReceived EventKind = "input.received"

	// EventInputRejected is emitted when an answer fails validation and
	// the question is re-asked.
	EventInputRejected EventKind = "input.rejected"

	// EventSimCompleted is emitted when the session reaches a terminal state.
	EventSimCompleted EventKind = "sim.completed"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during a simulation.
// Payloads are kept small; full message content lives on the Session.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// SessionID is the unique identifier for this simulation session.
	SessionID string

	// NodeID is the node that produced this event (empty for session-level events).
	NodeID string

	// NodeType is the type of that node (empty for session-level events).
	NodeType flow.NodeType

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the session started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per session (1-indexed).
	Seq uint64
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID string, nodeType flow.NodeType) Event {
	e.NodeID = nodeID
	e.NodeType = nodeType
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventHandler is a function type for handling simulator events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}
