package flow

import (
	"fmt"
	"regexp"
)

// Diagnostic represents a validation error or warning for a flow graph.
type Diagnostic struct {
	Code     string `json:"code"`             // e.g. "FL-001"
	Severity string `json:"severity"`         // "error" or "warning"
	NodeID   string `json:"nodeId,omitempty"` // offending node, when applicable
	Message  string `json:"message"`
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic codes. Checks run in this priority order and never
// short-circuit: a flow with no start node still gets its config errors
// reported.
const (
	CodeNoStartNode     = "FL-001"
	CodeMultipleStarts  = "FL-002"
	CodeUnreachableNode = "FL-003"
	CodeMissingConfig   = "FL-004"
	CodeUnwiredBranch   = "FL-005"
	CodeOrphanEdge      = "FL-006"
	CodeBranchLimit     = "FL-007"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// Validate statically analyzes a flow graph and returns its findings in a
// deterministic order. The graph is never mutated. Error-severity
// findings block simulation start; warnings do not.
func Validate(nodes []Node, edges []Edge) []Diagnostic {
	var diags []Diagnostic

	nodeByID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}

	starts := startNodes(nodes, edges)

	// FL-001: no start node
	if len(starts) == 0 {
		diags = append(diags, Diagnostic{
			Code:     CodeNoStartNode,
			Severity: SeverityError,
			Message:  "Flow has no start node",
		})
	}

	// FL-002: multiple start nodes. Execution picks the first one, which
	// is ambiguous authoring.
	if len(starts) > 1 {
		diags = append(diags, Diagnostic{
			Code:     CodeMultipleStarts,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Flow has %d start nodes; simulation uses the first one", len(starts)),
		})
	}

	// FL-003: nodes not reachable by forward traversal from any start node
	if len(starts) > 0 {
		reachable := reachableFrom(starts, edges)
		for _, n := range nodes {
			if !reachable[n.ID] {
				diags = append(diags, Diagnostic{
					Code:     CodeUnreachableNode,
					Severity: SeverityWarning,
					NodeID:   n.ID,
					Message:  fmt.Sprintf("Node %q is not reachable from a start node", n.ID),
				})
			}
		}
	}

	// FL-004: per-type required configuration
	for _, n := range nodes {
		diags = append(diags, validateNodeConfig(n)...)
	}

	// FL-005: button/list item with no edge wired from its handle;
	// selecting that branch dead-ends in simulation.
	handles := make(map[string]map[string]bool) // node ID -> wired sourceHandles
	for _, e := range edges {
		if e.SourceHandle == "" {
			continue
		}
		if handles[e.Source] == nil {
			handles[e.Source] = make(map[string]bool)
		}
		handles[e.Source][e.SourceHandle] = true
	}
	for _, n := range nodes {
		for _, b := range n.Branches() {
			if !handles[n.ID][b.Handle] {
				diags = append(diags, Diagnostic{
					Code:     CodeUnwiredBranch,
					Severity: SeverityWarning,
					NodeID:   n.ID,
					Message:  fmt.Sprintf("Node %q: choice %q has no outgoing edge", n.ID, b.Label),
				})
			}
		}
	}

	// FL-006: edges referencing missing nodes. The Document never creates
	// these, but imported JSON can carry them.
	for _, e := range edges {
		if _, ok := nodeByID[e.Source]; !ok {
			diags = append(diags, Diagnostic{
				Code:     CodeOrphanEdge,
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge %q source %q references a missing node", e.ID, e.Source),
			})
		}
		if _, ok := nodeByID[e.Target]; !ok {
			diags = append(diags, Diagnostic{
				Code:     CodeOrphanEdge,
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge %q target %q references a missing node", e.ID, e.Target),
			})
		}
	}

	// FL-007: branch caps, enforced at edit time and re-checked here for
	// imported graphs.
	for _, n := range nodes {
		if len(n.Data.Buttons) > MaxButtons {
			diags = append(diags, Diagnostic{
				Code:     CodeBranchLimit,
				Severity: SeverityError,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("Node %q has %d buttons (max %d)", n.ID, len(n.Data.Buttons), MaxButtons),
			})
		}
		if len(n.Data.Items) > MaxListItems {
			diags = append(diags, Diagnostic{
				Code:     CodeBranchLimit,
				Severity: SeverityError,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("Node %q has %d list items (max %d)", n.ID, len(n.Data.Items), MaxListItems),
			})
		}
	}

	return diags
}

// validateNodeConfig checks the required fields for a single node. The
// switch is exhaustive over all node types so a new type cannot ship
// without a validation rule.
func validateNodeConfig(n Node) []Diagnostic {
	var diags []Diagnostic

	errf := func(format string, args ...any) {
		diags = append(diags, Diagnostic{
			Code:     CodeMissingConfig,
			Severity: SeverityError,
			NodeID:   n.ID,
			Message:  fmt.Sprintf(format, args...),
		})
	}
	warnf := func(format string, args ...any) {
		diags = append(diags, Diagnostic{
			Code:     CodeMissingConfig,
			Severity: SeverityWarning,
			NodeID:   n.ID,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	switch n.Type {
	case NodeFlowStart:
		// Triggerless starts are still reachable via manual simulation.
		if len(n.Data.Triggers) == 0 {
			warnf("Start node %q has no triggers; the flow can only be started manually", n.ID)
		}
	case NodeMessage:
		if n.Data.Text == "" && len(n.Data.Buttons) == 0 {
			errf("Message node %q has no text and no buttons", n.ID)
		}
	case NodeMediaButtons:
		if n.Data.MediaURL == "" {
			errf("Media node %q has no media URL", n.ID)
		}
	case NodeList:
		if n.Data.Text == "" {
			errf("List node %q has no text", n.ID)
		}
		if len(n.Data.Items) == 0 {
			errf("List node %q has no items", n.ID)
		}
	case NodeAskQuestion:
		if n.Data.Question == "" {
			errf("Question node %q has no question text", n.ID)
		}
		if n.Data.AttributeName == "" {
			errf("Question node %q has no attribute name to store the answer", n.ID)
		}
		if n.Data.ValidationType == ValidationRegex {
			if n.Data.ValidationRegex == "" {
				errf("Question node %q uses regex validation but has no pattern", n.ID)
			} else if _, err := regexp.Compile(n.Data.ValidationRegex); err != nil {
				errf("Question node %q has an invalid regex pattern: %v", n.ID, err)
			}
		}
	case NodeTemplate:
		if n.Data.TemplateID == "" {
			errf("Template node %q has no template selected", n.ID)
		}
	case NodeSetAttribute:
		if n.Data.AttributeName == "" {
			errf("Attribute node %q has no attribute name", n.ID)
		}
	case NodeAddTag:
		if n.Data.TagID == "" && n.Data.TagName == "" {
			errf("Tag node %q has no tag selected", n.ID)
		}
	case NodeAPIRequest:
		if n.Data.URL == "" {
			errf("API node %q has no URL", n.ID)
		}
	default:
		errf("Node %q has unknown type %q", n.ID, n.Type)
	}

	return diags
}

// reachableFrom returns the set of node IDs reachable by forward
// traversal from the given start nodes.
func reachableFrom(starts []Node, edges []Edge) map[string]bool {
	successors := make(map[string][]string)
	for _, e := range edges {
		successors[e.Source] = append(successors[e.Source], e.Target)
	}

	visited := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, succ := range successors[id] {
			visit(succ)
		}
	}
	for _, s := range starts {
		visit(s.ID)
	}
	return visited
}
