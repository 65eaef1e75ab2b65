// Package compiler lowers a validated flow graph into the natural-language
// instruction script handed to the conversational agent platform as its
// system instructions. Compilation is deterministic: identical graphs
// compile to byte-identical scripts.
package compiler

import (
	"fmt"
	"strings"

	"github.com/voxflow/voxflow/internal/models"
)

// preamble opens every compiled script. It carries the marker directive the
// traversal engine depends on (see models.NodeMarker): the agent must tag
// each utterance with the node it is executing.
const preamble = `You are a voice agent running a guided phone conversation. Follow the numbered step instructions below in order. Each step names a node id.

IMPORTANT: begin every single utterance you speak with the marker [[NODE:<node-id>]] of the step you are currently executing. The marker is machine-read and stripped before text-to-speech; never omit it and never speak it aloud.`

// closingRules is the fixed conduct block appended to every script.
const closingRules = `General rules, always in force:
- After asking a question, stop talking and wait for the caller. Never answer for them.
- Acknowledge what the caller said before proceeding to the next step.
- Do not offer options the current step does not list.
- Do not skip steps or invent steps that are not in the script.
- Keep each utterance short and conversational; this is a phone call, not a lecture.`

// Compile walks the graph from its Start node and renders one instruction
// block per reachable node. At Branch nodes every outgoing edge is expanded
// as a conditional instruction; everywhere else the single outgoing edge is
// followed. A visited guard keeps the walk finite on graphs that happen to
// contain cycles. Returns an error only when the graph has no Start node;
// validated graphs always compile.
func Compile(g *models.FlowGraph) (string, error) {
	start := g.StartNode()
	if start == nil {
		return "", fmt.Errorf("flow %q has no start node", g.ID)
	}

	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n\n")

	visited := make(map[string]bool)
	writeNode(&sb, g, start, visited)

	sb.WriteString("\n")
	sb.WriteString(closingRules)
	sb.WriteString("\n")
	return sb.String(), nil
}

// writeNode renders one node's instruction block and recurses into its
// successors. Already-visited nodes are skipped, which both terminates
// cycles and keeps shared suffixes (several branches converging on one
// node) rendered exactly once.
func writeNode(sb *strings.Builder, g *models.FlowGraph, n *models.FlowNode, visited map[string]bool) {
	if visited[n.ID] {
		return
	}
	visited[n.ID] = true

	fmt.Fprintf(sb, "Step %q (node %s):\n", nodeName(n), n.ID)

	switch n.Type {
	case models.NodeTypeStart:
		sb.WriteString("Begin the call here. Greet the caller and move directly to the next step.\n")

	case models.NodeTypeMessage:
		fmt.Fprintf(sb, "Say: %q\n", n.Content)

	case models.NodeTypeListen:
		sb.WriteString("Stop talking and wait for the caller to speak. Do not offer multiple options. Do not continue until the caller has answered.\n")
		if len(n.IntentHints) > 0 {
			fmt.Fprintf(sb, "The caller will likely say one of: %s.\n", strings.Join(n.IntentHints, ", "))
		}

	case models.NodeTypeBranch:
		sb.WriteString("Route the conversation by what the caller chose:\n")
		for _, e := range g.Outgoing(n.ID) {
			target := g.FindNode(e.Target)
			if target == nil {
				continue
			}
			fmt.Fprintf(sb, "- If the detected choice is %q, proceed to the instructions of node %s (%q).\n",
				e.Label, target.ID, nodeName(target))
		}

	case models.NodeTypeAction:
		fmt.Fprintf(sb, "Perform this action now: %s. Tell the caller you are doing it, then continue.\n", n.Content)

	case models.NodeTypeTransfer:
		fmt.Fprintf(sb, "Transfer the call to %s. Tell the caller you are transferring them, then stop speaking.\n", n.TransferNumber)

	case models.NodeTypeEnd:
		if n.ClosingLine != "" {
			fmt.Fprintf(sb, "Say: %q Then end the call.\n", n.ClosingLine)
		} else {
			sb.WriteString("Thank the caller and end the call.\n")
		}
	}

	sb.WriteString("\n")

	// Terminal nodes have nothing to recurse into; Branch nodes expand all
	// outgoing edges, everything else follows its single successor.
	if models.IsTerminalNodeType(n.Type) {
		return
	}
	for _, e := range g.Outgoing(n.ID) {
		if target := g.FindNode(e.Target); target != nil {
			writeNode(sb, g, target, visited)
		}
		if n.Type != models.NodeTypeBranch {
			break
		}
	}
}

func nodeName(n *models.FlowNode) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}
