// Package models defines the core data structures for VoxFlow.
//
// It includes the flow graph entities, call events, and API response types
// shared across modules.
package models

import (
	"errors"
	"time"
)

// NodeType defines the behavior of a flow node during compilation and traversal.
type NodeType string

const (
	// NodeTypeStart is the unique entry point of a flow.
	NodeTypeStart NodeType = "start"
	// NodeTypeMessage speaks a fixed message to the caller.
	NodeTypeMessage NodeType = "message"
	// NodeTypeListen stops talking and waits for the caller to speak.
	NodeTypeListen NodeType = "listen"
	// NodeTypeBranch routes the conversation by the caller's detected intent.
	NodeTypeBranch NodeType = "branch"
	// NodeTypeAction performs an action, optionally calling an external API.
	NodeTypeAction NodeType = "action"
	// NodeTypeTransfer hands the call to a destination number.
	NodeTypeTransfer NodeType = "transfer"
	// NodeTypeEnd speaks an optional closing line and ends the call.
	NodeTypeEnd NodeType = "end"
)

// Validation constants for flow ingestion.
const (
	// MaxNodeLabelLength defines the maximum allowed length for node labels.
	MaxNodeLabelLength = 100
	// MaxNodeContentLength defines the maximum allowed length for spoken content.
	MaxNodeContentLength = 2000
	// MaxFlowNodeCount defines the maximum number of nodes in one flow.
	MaxFlowNodeCount = 200
)

// Error variables for better error handling and testability.
var (
	ErrEmptyFlowID         = errors.New("flow id cannot be empty")
	ErrEmptyNodeID         = errors.New("node id cannot be empty")
	ErrDuplicateNodeID     = errors.New("duplicate node id")
	ErrInvalidNodeType     = errors.New("invalid node type")
	ErrNodeLabelTooLong    = errors.New("node label exceeds maximum length")
	ErrNodeContentTooLong  = errors.New("node content exceeds maximum length")
	ErrTooManyNodes        = errors.New("flow exceeds maximum node count")
	ErrEmptyEdgeID         = errors.New("edge id cannot be empty")
	ErrEdgeEndpointUnknown = errors.New("edge references unknown node")
	ErrFlowNotFound        = errors.New("flow not found")
	ErrSessionNotFound     = errors.New("call session not found")
)

// IsValidNodeType checks if the given node type is supported.
func IsValidNodeType(nt NodeType) bool {
	switch nt {
	case NodeTypeStart, NodeTypeMessage, NodeTypeListen, NodeTypeBranch, NodeTypeAction, NodeTypeTransfer, NodeTypeEnd:
		return true
	default:
		return false
	}
}

// IsTerminalNodeType reports whether the node type ends a conversation path.
func IsTerminalNodeType(nt NodeType) bool {
	return nt == NodeTypeEnd || nt == NodeTypeTransfer
}

// Position is a 2D canvas coordinate. Presentation-only: the traversal
// engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Header is one HTTP header attached to an external action request.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ResponseMapping selects one field of an external action response by JSON
// path and gives it a display label. Disabled mappings are ignored.
type ResponseMapping struct {
	Path    string `json:"path"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// ApiConfig describes the external call an Action node performs. The
// endpoint template may contain a {phone} placeholder substituted with the
// customer phone captured at call start.
type ApiConfig struct {
	Endpoint        string            `json:"endpoint"`
	Headers         []Header          `json:"headers,omitempty"`
	ResponseMapping []ResponseMapping `json:"response_mapping,omitempty"`
}

// FlowNode is one step of a conversation design.
type FlowNode struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Label    string   `json:"label"`
	Position Position `json:"position"`

	// Content is the spoken or performed content for Message and Action nodes.
	Content string `json:"content,omitempty"`
	// IntentHints are advisory expected-intent labels for Listen nodes,
	// rendered by the compiler; not authoritative for resolution.
	IntentHints []string `json:"intent_hints,omitempty"`
	// API is the optional external-call descriptor for Action nodes.
	API *ApiConfig `json:"api,omitempty"`
	// TransferNumber is the destination for Transfer nodes.
	TransferNumber string `json:"transfer_number,omitempty"`
	// ClosingLine is the optional closing utterance for End nodes.
	ClosingLine string `json:"closing_line,omitempty"`
}

// FlowEdge is a directed connection between two nodes. Label carries the
// branch condition name; it is mandatory only for edges leaving a Branch node.
type FlowEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// FlowGraph is one conversation design: the node set plus the edge set.
// Structural invariants are enforced by graph.Validate, not here, since
// edit-time intermediate states may violate them.
type FlowGraph struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Nodes     []FlowNode `json:"nodes"`
	Edges     []FlowEdge `json:"edges"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// FindNode returns the node with the given id, or nil.
func (g *FlowGraph) FindNode(id string) *FlowNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// StartNode returns the first Start node, or nil.
func (g *FlowGraph) StartNode() *FlowNode {
	for i := range g.Nodes {
		if g.Nodes[i].Type == NodeTypeStart {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Outgoing returns the edges leaving the given node, in declaration order.
func (g *FlowGraph) Outgoing(nodeID string) []FlowEdge {
	var out []FlowEdge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Successor returns the target node of the single outgoing edge of the given
// node, or nil when the node has no outgoing edge. Branch routing is handled
// separately by the traversal engine.
func (g *FlowGraph) Successor(nodeID string) *FlowNode {
	edges := g.Outgoing(nodeID)
	if len(edges) == 0 {
		return nil
	}
	return g.FindNode(edges[0].Target)
}

// Validate performs shape validation on a flow before it is stored. It
// checks ingestion limits and referential integrity; the five structural
// invariants are the validator's job and are reported as a list there.
func (g *FlowGraph) Validate() error {
	if g.ID == "" {
		return ErrEmptyFlowID
	}
	if len(g.Nodes) > MaxFlowNodeCount {
		return ErrTooManyNodes
	}

	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return ErrEmptyNodeID
		}
		if seen[n.ID] {
			return ErrDuplicateNodeID
		}
		seen[n.ID] = true
		if !IsValidNodeType(n.Type) {
			return ErrInvalidNodeType
		}
		if len(n.Label) > MaxNodeLabelLength {
			return ErrNodeLabelTooLong
		}
		if len(n.Content) > MaxNodeContentLength {
			return ErrNodeContentTooLong
		}
	}

	for _, e := range g.Edges {
		if e.ID == "" {
			return ErrEmptyEdgeID
		}
		if !seen[e.Source] || !seen[e.Target] {
			return ErrEdgeEndpointUnknown
		}
	}

	return nil
}

// CallSummary records one finished live call for the dashboard surface.
type CallSummary struct {
	CallID        string    `json:"call_id"`
	FlowID        string    `json:"flow_id"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
	VisitedNodes  []string  `json:"visited_nodes,omitempty"`
}

// SessionSnapshot is a point-in-time view of one live traversal, consumed by
// the canvas polling endpoint.
type SessionSnapshot struct {
	CallID         string   `json:"call_id"`
	FlowID         string   `json:"flow_id"`
	CurrentNodeID  string   `json:"current_node_id,omitempty"`
	VisitedNodes   []string `json:"visited_nodes"`
	IsClassifying  bool     `json:"is_classifying"`
	DetectedIntent string   `json:"detected_intent,omitempty"`
	CustomerPhone  string   `json:"customer_phone,omitempty"`
	Active         bool     `json:"active"`
}
