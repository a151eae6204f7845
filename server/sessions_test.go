package server

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/waveline-labs/chatflow/flow"
	"github.com/waveline-labs/chatflow/sim"
)

func askEmailFlow() flow.Flow {
	return flow.Flow{
		ID:     "f1",
		Name:   "Ask email",
		Status: flow.StatusDraft,
		Nodes: []flow.Node{
			{ID: "s", Type: flow.NodeFlowStart, Data: flow.NodeData{Triggers: []string{"hi"}}},
			{ID: "q", Type: flow.NodeAskQuestion, Data: flow.NodeData{
				Question:       "Email?",
				AttributeName:  "email",
				ValidationType: flow.ValidationEmail,
			}},
		},
		Edges: []flow.Edge{{ID: "e1", Source: "s", Target: "q"}},
	}
}

// Views carry session snapshots, so encoding one view while input lands
// on the same session never observes a half-applied mutation.
func TestSessionService_ViewsAreStableUnderConcurrentInput(t *testing.T) {
	svc := NewSessionService(nil)

	view, err := svc.Start(askEmailFlow(), StartRequest{TriggerText: "hi"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !view.Result.IsWaitingForInput {
		t.Fatalf("view = %+v, want waiting session", view)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			// Rejected answers keep the session waiting and the
			// transcript growing.
			if _, err := svc.Input(view.ID, "not-an-email", sim.InputText); err != nil {
				t.Errorf("Input: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			got, err := svc.Get(view.ID)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			if _, err := json.Marshal(got); err != nil {
				t.Errorf("marshal view: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

// A view handed out earlier stays fixed while the live session moves on.
func TestSessionService_ViewIsDetachedFromLiveSession(t *testing.T) {
	svc := NewSessionService(nil)

	view, err := svc.Start(askEmailFlow(), StartRequest{TriggerText: "hi"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := len(view.Session.Messages)

	if _, err := svc.Input(view.ID, "not-an-email", sim.InputText); err != nil {
		t.Fatalf("Input: %v", err)
	}

	if len(view.Session.Messages) != before {
		t.Errorf("held view grew to %d messages, want %d", len(view.Session.Messages), before)
	}

	after, err := svc.Get(view.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(after.Session.Messages) <= before {
		t.Errorf("live session = %d messages, want more than %d", len(after.Session.Messages), before)
	}
}
