// Package graph provides structural validation and layout algorithms for
// flow graphs. Both are pure: they read the node and edge sets and never
// mutate the graph.
package graph

import (
	"fmt"

	"github.com/voxflow/voxflow/internal/models"
)

// ValidationResult reports every violated invariant, not just the first.
// A graph with an empty error list is publishable.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate checks the five structural invariants of a flow graph and
// returns all violations as human-readable messages naming the offending
// node by label. It never panics: a missing Start node or terminal node is
// reported as an error, not raised.
func Validate(g *models.FlowGraph) ValidationResult {
	errs := []string{}

	nodeByID := make(map[string]*models.FlowNode, len(g.Nodes))
	for i := range g.Nodes {
		nodeByID[g.Nodes[i].ID] = &g.Nodes[i]
	}

	incoming := make(map[string]int, len(g.Nodes))
	outgoing := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		if _, ok := nodeByID[e.Source]; !ok {
			errs = append(errs, fmt.Sprintf("edge %q starts at unknown node %q", e.ID, e.Source))
			continue
		}
		if _, ok := nodeByID[e.Target]; !ok {
			errs = append(errs, fmt.Sprintf("edge %q points at unknown node %q", e.ID, e.Target))
			continue
		}
		outgoing[e.Source]++
		incoming[e.Target]++
	}

	// Invariant 1: exactly one Start node.
	startCount := 0
	for i := range g.Nodes {
		if g.Nodes[i].Type == models.NodeTypeStart {
			startCount++
		}
	}
	switch {
	case startCount == 0:
		errs = append(errs, "flow has no Start node")
	case startCount > 1:
		errs = append(errs, fmt.Sprintf("flow has %d Start nodes, expected exactly one", startCount))
	}

	// Invariant 2: at least one terminal node.
	terminalCount := 0
	for i := range g.Nodes {
		if models.IsTerminalNodeType(g.Nodes[i].Type) {
			terminalCount++
		}
	}
	if terminalCount == 0 {
		errs = append(errs, "flow has no End or Transfer node")
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]

		// Invariant 3: every node except Start has at least one incoming edge.
		if n.Type != models.NodeTypeStart && incoming[n.ID] == 0 {
			errs = append(errs, fmt.Sprintf("node %q is unreachable: no incoming connection", nodeName(n)))
		}

		// Invariant 4: every non-terminal node has at least one outgoing edge.
		if !models.IsTerminalNodeType(n.Type) && outgoing[n.ID] == 0 {
			errs = append(errs, fmt.Sprintf("node %q is a dead end: no outgoing connection", nodeName(n)))
		}

		// Invariant 5: every edge leaving a Branch node carries a label.
		if n.Type == models.NodeTypeBranch {
			seen := make(map[string]bool)
			for _, e := range g.Edges {
				if e.Source != n.ID {
					continue
				}
				if e.Label == "" {
					errs = append(errs, fmt.Sprintf("branch node %q has an unlabeled outgoing edge", nodeName(n)))
					continue
				}
				if seen[e.Label] {
					errs = append(errs, fmt.Sprintf("branch node %q has duplicate edge label %q", nodeName(n), e.Label))
				}
				seen[e.Label] = true
			}
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// nodeName prefers the display label and falls back to the id so every
// validation message names the offending node.
func nodeName(n *models.FlowNode) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}
