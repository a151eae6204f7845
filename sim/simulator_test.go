package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/waveline-labs/chatflow/flow"
)

func start(id string, triggers ...string) flow.Node {
	return flow.Node{ID: id, Type: flow.NodeFlowStart, Data: flow.NodeData{Triggers: triggers}}
}

func msg(id, text string, buttons ...flow.Button) flow.Node {
	return flow.Node{ID: id, Type: flow.NodeMessage, Data: flow.NodeData{Text: text, Buttons: buttons}}
}

func edge(id, source, target, handle string) flow.Edge {
	return flow.Edge{ID: id, Source: source, Target: target, SourceHandle: handle}
}

// Scenario: a trigger fires a linear welcome flow that auto-advances
// through two messages and completes.
func TestSimulator_LinearFlow(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "hi"),
			msg("m1", "Welcome!"),
			msg("m2", "How can we help?"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "m1", ""),
			edge("e2", "m1", "m2", ""),
		},
	})

	res, err := sim.Start("hi")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.IsComplete || res.IsWaitingForInput {
		t.Fatalf("result = %+v, want complete", res)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(res.Messages))
	}
	if res.Messages[0].Text != "Welcome!" || res.Messages[1].Text != "How can we help?" {
		t.Errorf("messages = %q, %q", res.Messages[0].Text, res.Messages[1].Text)
	}
	if sim.State() != StateComplete {
		t.Errorf("state = %q, want complete", sim.State())
	}
}

func TestSimulator_TriggerMatchingIsCaseInsensitiveTrimmed(t *testing.T) {
	for _, trigger := range []string{"hi", "HI", "  Hi  "} {
		sim := New(Config{
			Nodes: []flow.Node{start("s", "hi"), msg("m", "hello")},
			Edges: []flow.Edge{edge("e1", "s", "m", "")},
		})
		res, err := sim.Start(trigger)
		if err != nil {
			t.Fatalf("Start(%q): %v", trigger, err)
		}
		if len(res.Messages) != 1 {
			t.Errorf("Start(%q) messages = %d, want 1", trigger, len(res.Messages))
		}
	}
}

func TestSimulator_UnmatchedTriggerCompletesSilently(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{start("s", "hi"), msg("m", "hello")},
		Edges: []flow.Edge{edge("e1", "s", "m", "")},
	})

	res, err := sim.Start("goodbye")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.IsComplete {
		t.Error("unmatched trigger should complete")
	}
	if res.Messages == nil || len(res.Messages) != 0 {
		t.Errorf("messages = %#v, want empty non-nil slice", res.Messages)
	}
}

func TestSimulator_ManualModeIgnoresTriggers(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{start("s", "hi"), msg("m", "hello")},
		Edges: []flow.Edge{edge("e1", "s", "m", "")},
		Mode:  TriggerManual,
	})

	res, err := sim.Start("")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(res.Messages))
	}
}

func TestSimulator_StartRefusesInvalidGraph(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{msg("m", "no start here")},
	})

	_, err := sim.Start("hi")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(verr.Diagnostics) == 0 {
		t.Error("ValidationError should carry diagnostics")
	}
}

// Scenario: a message with buttons pauses; clicking a button follows the
// edge keyed to that button's handle.
func TestSimulator_ButtonBranching(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "menu"),
			msg("m", "Pick one",
				flow.Button{ID: "b-sales", Text: "Sales"},
				flow.Button{ID: "b-support", Text: "Support"},
			),
			msg("sales", "Sales team here"),
			msg("support", "Support team here"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "m", ""),
			edge("e2", "m", "sales", "b-sales"),
			edge("e3", "m", "support", "b-support"),
		},
	})

	res, err := sim.Start("menu")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.IsWaitingForInput {
		t.Fatalf("result = %+v, want waiting", res)
	}
	if len(res.Messages) != 1 || len(res.Messages[0].Buttons) != 2 {
		t.Fatalf("expected one bubble with two buttons, got %+v", res.Messages)
	}

	res = sim.HandleUserInput("b-support", InputButton)
	if !res.IsComplete {
		t.Fatalf("result = %+v, want complete", res)
	}
	if len(res.Messages) != 1 || res.Messages[0].Text != "Support team here" {
		t.Errorf("messages = %+v, want the support branch", res.Messages)
	}
}

// Typing the button label instead of clicking resolves the same branch,
// case-insensitively.
func TestSimulator_ButtonLabelMatching(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "menu"),
			msg("m", "Pick one", flow.Button{ID: "b1", Text: "Sales"}),
			msg("sales", "Sales team here"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "m", ""),
			edge("e2", "m", "sales", "b1"),
		},
	})

	sim.Start("menu")
	res := sim.HandleUserInput("  SALES ", InputText)
	if !res.IsComplete || len(res.Messages) != 1 {
		t.Fatalf("result = %+v, want the sales branch", res)
	}
}

func TestSimulator_UnrecognizedSelectionKeepsWaiting(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "menu"),
			msg("m", "Pick one", flow.Button{ID: "b1", Text: "Sales"}),
			msg("sales", "Sales team here"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "m", ""),
			edge("e2", "m", "sales", "b1"),
		},
	})

	sim.Start("menu")
	res := sim.HandleUserInput("pizza", InputText)
	if !res.IsWaitingForInput || res.IsComplete {
		t.Fatalf("result = %+v, want still waiting", res)
	}
}

// Scenario: askQuestion with number validation rejects a word, re-prompts
// with the configured error message, then accepts a number and stores it.
func TestSimulator_QuestionValidationLoop(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "age"),
			{ID: "q", Type: flow.NodeAskQuestion, Data: flow.NodeData{
				Question:       "How old are you?",
				AttributeName:  "age",
				ValidationType: flow.ValidationNumber,
				ErrorMessage:   "Numbers only please",
			}},
			msg("done", "You are {{age}}!"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "q", ""),
			edge("e2", "q", "done", ""),
		},
	})

	res, err := sim.Start("age")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.IsWaitingForInput || res.Messages[0].Text != "How old are you?" {
		t.Fatalf("result = %+v, want the question", res)
	}

	res = sim.HandleUserInput("old", InputText)
	if !res.IsWaitingForInput {
		t.Fatalf("rejected answer should keep waiting, got %+v", res)
	}
	if len(res.Messages) != 1 || res.Messages[0].Text != "Numbers only please" {
		t.Fatalf("messages = %+v, want the re-prompt", res.Messages)
	}

	res = sim.HandleUserInput(" 29 ", InputText)
	if !res.IsComplete {
		t.Fatalf("result = %+v, want complete", res)
	}
	if res.Messages[0].Text != "You are 29!" {
		t.Errorf("final message = %q, want interpolated age", res.Messages[0].Text)
	}
	if got := sim.Session().Attributes["age"]; got != "29" {
		t.Errorf("attribute age = %q, want trimmed 29", got)
	}
}

func TestSimulator_ListSelection(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "plans"),
			{ID: "l", Type: flow.NodeList, Data: flow.NodeData{
				Text: "Our plans",
				Items: []flow.ListItem{
					{ID: "i-basic", Title: "Basic"},
					{ID: "i-pro", Title: "Pro"},
				},
			}},
			msg("pro", "Pro it is"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "l", ""),
			edge("e2", "l", "pro", "i-pro"),
		},
	})

	res, _ := sim.Start("plans")
	if !res.IsWaitingForInput || len(res.Messages[0].Items) != 2 {
		t.Fatalf("result = %+v, want list waiting", res)
	}

	res = sim.HandleUserInput("Pro", InputListItem)
	if !res.IsComplete || res.Messages[0].Text != "Pro it is" {
		t.Fatalf("result = %+v, want the pro branch", res)
	}
}

// A selected branch with no wired edge dead-ends the session instead of
// erroring.
func TestSimulator_UnwiredBranchCompletes(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "menu"),
			msg("m", "Pick", flow.Button{ID: "b1", Text: "Go"}),
		},
		Edges: []flow.Edge{edge("e1", "s", "m", "")},
	})

	sim.Start("menu")
	res := sim.HandleUserInput("Go", InputButton)
	if !res.IsComplete {
		t.Fatalf("result = %+v, want complete on dead-end", res)
	}
}

func TestSimulator_SideEffects(t *testing.T) {
	api := &CannedAPIClient{
		Responses: map[string]string{"https://api.example.com/quote": "stay curious"},
	}
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "go"),
			{ID: "set", Type: flow.NodeSetAttribute, Data: flow.NodeData{
				AttributeName: "plan", AttributeValue: "pro",
			}},
			{ID: "tag", Type: flow.NodeAddTag, Data: flow.NodeData{
				TagID: "t1", TagName: "vip",
			}},
			{ID: "api", Type: flow.NodeAPIRequest, Data: flow.NodeData{
				URL: "https://api.example.com/quote", ResponseAttribute: "quote",
			}},
			msg("m", "{{plan}} says: {{quote}}"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "set", ""),
			edge("e2", "set", "tag", ""),
			edge("e3", "tag", "api", ""),
			edge("e4", "api", "m", ""),
		},
		API: api,
	})

	res, err := sim.Start("go")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Messages[0].Text != "pro says: stay curious" {
		t.Errorf("message = %q", res.Messages[0].Text)
	}

	sess := sim.Session()
	if sess.Attributes["plan"] != "pro" {
		t.Errorf("plan = %q, want pro", sess.Attributes["plan"])
	}
	if len(sess.Tags) != 1 || sess.Tags[0].Name != "vip" {
		t.Errorf("tags = %+v, want [vip]", sess.Tags)
	}
}

func TestSimulator_APIFailureSkipsAttribute(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "go"),
			{ID: "api", Type: flow.NodeAPIRequest, Data: flow.NodeData{
				URL: "https://down.example.com", ResponseAttribute: "out",
			}},
			msg("m", "done"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "api", ""),
			edge("e2", "api", "m", ""),
		},
		API: &CannedAPIClient{
			Errors: map[string]error{"https://down.example.com": context.DeadlineExceeded},
		},
	})

	res, err := sim.Start("go")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.IsComplete {
		t.Fatal("a failed call must not stall the flow")
	}
	if _, ok := sim.Session().Attributes["out"]; ok {
		t.Error("failed call should not store a response attribute")
	}
}

// A cyclic graph of auto-advancing nodes terminates via the hop guard.
func TestSimulator_MaxHopsGuard(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "loop"),
			msg("a", "ping"),
			msg("b", "pong"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "a", ""),
			edge("e2", "a", "b", ""),
			edge("e3", "b", "a", ""),
		},
		MaxHops: 10,
	})

	res, err := sim.Start("loop")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.IsComplete {
		t.Fatal("cycle must hard-stop as complete")
	}
	if sim.Session().Steps > 11 {
		t.Errorf("steps = %d, guard did not bound the walk", sim.Session().Steps)
	}
}

func TestSimulator_InputWhileNotWaitingIsNoOp(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{start("s", "hi"), msg("m", "bye")},
		Edges: []flow.Edge{edge("e1", "s", "m", "")},
	})

	// Before Start.
	res := sim.HandleUserInput("hello?", InputText)
	if res.IsWaitingForInput || res.IsComplete || len(res.Messages) != 0 {
		t.Errorf("input before start = %+v, want inert result", res)
	}

	// After completion.
	sim.Start("hi")
	before := len(sim.Session().Messages)
	res = sim.HandleUserInput("hello?", InputText)
	if !res.IsComplete || len(res.Messages) != 0 {
		t.Errorf("input after completion = %+v, want inert complete", res)
	}
	if len(sim.Session().Messages) != before {
		t.Error("inert input must not touch the transcript")
	}
}

func TestSimulator_TemplateNode(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "promo"),
			{ID: "set", Type: flow.NodeSetAttribute, Data: flow.NodeData{
				AttributeName: "name", AttributeValue: "Ana",
			}},
			{ID: "t", Type: flow.NodeTemplate, Data: flow.NodeData{
				TemplateID: "tpl-1", TemplateName: "summer_sale", Text: "Sale for {{name}}!",
			}},
		},
		Edges: []flow.Edge{
			edge("e1", "s", "set", ""),
			edge("e2", "set", "t", ""),
		},
	})

	res, err := sim.Start("promo")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Messages[0].Text != "Sale for Ana!" {
		t.Errorf("template message = %q", res.Messages[0].Text)
	}
}

func TestSimulator_Events(t *testing.T) {
	var kinds []EventKind
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "hi"),
			{ID: "q", Type: flow.NodeAskQuestion, Data: flow.NodeData{
				Question: "Name?", AttributeName: "name",
			}},
		},
		Edges: []flow.Edge{edge("e1", "s", "q", "")},
		EventHandler: func(e Event) {
			kinds = append(kinds, e.Kind)
		},
	})

	sim.Start("hi")
	sim.HandleUserInput("Ana", InputText)

	want := []EventKind{
		EventSimStarted,
		EventNodeEntered,   // s
		EventNodeEntered,   // q
		EventMessageEmitted,
		EventInputRequired,
		EventInputReceived,
		EventSimCompleted,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

// Restarting a simulator begins a fresh session: the previous run's
// transcript, attributes, tags, and step count do not carry over.
func TestSimulator_StartResetsSession(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "hi"),
			{ID: "set", Type: flow.NodeSetAttribute, Data: flow.NodeData{
				AttributeName: "plan", AttributeValue: "pro",
			}},
			{ID: "tag", Type: flow.NodeAddTag, Data: flow.NodeData{TagName: "vip"}},
			msg("m", "Welcome!"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "set", ""),
			edge("e2", "set", "tag", ""),
			edge("e3", "tag", "m", ""),
		},
		MaxHops: 6,
	})

	if _, err := sim.Start("hi"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	firstSteps := sim.Session().Steps

	// A second run must not inherit the transcript or burn the hop
	// budget the first run used.
	res, err := sim.Start("hi")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !res.IsComplete || len(res.Messages) != 1 {
		t.Fatalf("restart result = %+v, want complete with one message", res)
	}

	sess := sim.Session()
	if len(sess.Messages) != 1 {
		t.Errorf("transcript = %d messages, want 1", len(sess.Messages))
	}
	if sess.Steps != firstSteps {
		t.Errorf("steps = %d, want %d", sess.Steps, firstSteps)
	}
	if len(sess.Attributes) != 1 || sess.Attributes["plan"] != "pro" {
		t.Errorf("attributes = %+v, want only the fresh plan", sess.Attributes)
	}
}

func TestSimulator_TranscriptAccumulates(t *testing.T) {
	sim := New(Config{
		Nodes: []flow.Node{
			start("s", "hi"),
			{ID: "q", Type: flow.NodeAskQuestion, Data: flow.NodeData{
				Question: "Name?", AttributeName: "name",
			}},
			msg("m", "Hi {{name}}"),
		},
		Edges: []flow.Edge{
			edge("e1", "s", "q", ""),
			edge("e2", "q", "m", ""),
		},
	})

	sim.Start("hi")
	sim.HandleUserInput("Ana", InputText)

	msgs := sim.Session().Messages
	if len(msgs) != 3 {
		t.Fatalf("transcript = %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != RoleBot || msgs[1].Role != RoleUser || msgs[2].Role != RoleBot {
		t.Errorf("roles = %q %q %q", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
	if msgs[2].Text != "Hi Ana" {
		t.Errorf("final bubble = %q, want Hi Ana", msgs[2].Text)
	}
}
