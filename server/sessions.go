package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/waveline-labs/chatflow/flow"
	"github.com/waveline-labs/chatflow/sim"
)

// ErrSessionNotFound is returned for unknown simulation session IDs.
var ErrSessionNotFound = errors.New("simulation session not found")

// sessionEntry pairs a simulator with its own lock; writes to one
// session never block another.
type sessionEntry struct {
	mu  sync.Mutex
	sim *sim.Simulator
}

// SessionService owns the live simulation sessions of the HTTP API. The
// registry itself is a map guarded by a mutex; each session serializes
// its own input handling.
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	events sim.EventHandler
}

// NewSessionService creates an empty session registry. The optional
// event handler receives every simulator event from every session.
func NewSessionService(events sim.EventHandler) *SessionService {
	return &SessionService{
		sessions: make(map[string]*sessionEntry),
		events:   events,
	}
}

// StartRequest configures a new simulation session.
type StartRequest struct {
	// TriggerText starts the flow by trigger matching. Ignored in
	// manual mode.
	TriggerText string `json:"triggerText,omitempty"`

	// Manual starts at the first start node regardless of triggers.
	Manual bool `json:"manual,omitempty"`
}

// SessionView is the API shape of a session. Session is a snapshot taken
// under the session's lock, so encoding a view never races with input
// arriving on another request.
type SessionView struct {
	ID      string       `json:"id"`
	Session *sim.Session `json:"session"`
	Result  sim.Result   `json:"result"`
}

// Start creates a session over a flow's graph and runs it until the
// first pause or completion. The returned ID addresses the session in
// later calls even after completion, until it is deleted.
func (s *SessionService) Start(f flow.Flow, req StartRequest) (SessionView, error) {
	mode := sim.TriggerMatch
	if req.Manual {
		mode = sim.TriggerManual
	}

	id := uuid.NewString()
	simulator := sim.New(sim.Config{
		Nodes:        f.Nodes,
		Edges:        f.Edges,
		Mode:         mode,
		EventHandler: s.events,
		NewID:        uuid.NewString,
	})

	res, err := simulator.Start(req.TriggerText)
	if err != nil {
		return SessionView{}, err
	}

	s.mu.Lock()
	s.sessions[id] = &sessionEntry{sim: simulator}
	s.mu.Unlock()

	return SessionView{ID: id, Session: simulator.Session().Snapshot(), Result: res}, nil
}

// Input feeds user input into a session.
func (s *SessionService) Input(id, value string, kind sim.InputKind) (SessionView, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return SessionView{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	res := entry.sim.HandleUserInput(value, kind)
	return SessionView{ID: id, Session: entry.sim.Session().Snapshot(), Result: res}, nil
}

// Get returns a session's current state.
func (s *SessionService) Get(id string) (SessionView, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return SessionView{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	sess := entry.sim.Session().Snapshot()
	return SessionView{
		ID:      id,
		Session: sess,
		Result: sim.Result{
			Messages:          []sim.Message{},
			IsWaitingForInput: sess.State == sim.StateWaiting,
			IsComplete:        sess.State == sim.StateComplete,
		},
	}, nil
}

// Delete discards a session. Sessions hold no external resources, so
// deletion is just removal from the registry.
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	entry.sim.Close()
	delete(s.sessions, id)
	return nil
}

// Len reports how many sessions are live.
func (s *SessionService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionService) lookup(id string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return entry, nil
}
