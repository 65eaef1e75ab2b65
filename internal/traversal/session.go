// Package traversal drives the live view of a call over a flow graph. Each
// call gets one Session, a single-writer actor: every mutation of traversal
// state — incoming call events, classification results, timer callbacks —
// is funneled through one goroutine, so asynchronous completions can never
// race the event stream. Stale completions are detected by a generation
// counter and discarded instead of cancelled.
package traversal

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/action"
	"github.com/voxflow/voxflow/internal/intent"
	"github.com/voxflow/voxflow/internal/models"
)

// IntentResolver resolves an utterance to one of the candidate labels.
type IntentResolver interface {
	Resolve(ctx context.Context, utterance string, candidates []string) intent.Resolution
}

// ActionExecutor performs the external call configured on an Action node.
type ActionExecutor interface {
	Execute(ctx context.Context, cfg models.ApiConfig, customerPhone string) action.Result
}

// ContextInjector pushes a context string into the live call.
type ContextInjector interface {
	Inject(ctx context.Context, controlURL, content string) error
}

const (
	// startCompleteDelay is how long the Start node stays merely highlighted
	// before it is marked completed.
	startCompleteDelay = 400 * time.Millisecond
	// terminalCompleteDelay is the settle time before a terminal node is
	// marked completed.
	terminalCompleteDelay = 800 * time.Millisecond
	// classifyTimeout bounds one classification round trip.
	classifyTimeout = 15 * time.Second
	// actionTimeout bounds one external action call plus its injection.
	actionTimeout = 20 * time.Second

	opQueueSize = 64
)

// Session owns the traversal state of one live call. All fields below deps
// are touched only from the run goroutine.
type Session struct {
	callID   string
	graph    *models.FlowGraph
	resolver IntentResolver
	executor ActionExecutor
	injector ContextInjector
	timer    Timer
	notify   func(models.SessionSnapshot)

	ops  chan func()
	done chan struct{}

	flowID         string
	currentNodeID  string
	visited        map[string]bool
	visitedOrder   []string
	isClassifying  bool
	detectedIntent string
	customerPhone  string
	controlURL     string
	active         bool

	// gen invalidates in-flight classifications and pending timer callbacks.
	// It is bumped on call-start, on a hard error reset, and on an
	// authoritative marker jump.
	gen int
}

func newSession(callID string, graph *models.FlowGraph, resolver IntentResolver, executor ActionExecutor, injector ContextInjector, timer Timer, notify func(models.SessionSnapshot)) *Session {
	s := &Session{
		callID:   callID,
		graph:    graph,
		resolver: resolver,
		executor: executor,
		injector: injector,
		timer:    timer,
		notify:   notify,
		ops:      make(chan func(), opQueueSize),
		done:     make(chan struct{}),
		visited:  make(map[string]bool),
		flowID:   graph.ID,
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.done:
			return
		}
	}
}

// post schedules fn on the session goroutine. It is the only way state is
// mutated from outside the run loop.
func (s *Session) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

func (s *Session) close() {
	close(s.done)
	s.timer.Stop()
}

// Apply queues one call event for processing. Events for the same call are
// applied strictly in arrival order.
func (s *Session) Apply(ev models.CallEvent) {
	s.post(func() { s.handle(ev) })
}

// Snapshot returns a point-in-time copy of the traversal state, taken on the
// session goroutine so it is always internally consistent.
func (s *Session) Snapshot() models.SessionSnapshot {
	reply := make(chan models.SessionSnapshot, 1)
	s.post(func() { reply <- s.snapshot() })
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return models.SessionSnapshot{CallID: s.callID, FlowID: s.flowID}
	}
}

func (s *Session) handle(ev models.CallEvent) {
	slog.Debug("Session.handle: processing event", "call_id", s.callID, "type", ev.Type)
	switch ev.Type {
	case models.EventCallStart:
		s.handleCallStart(ev)
	case models.EventSpeechStart:
		s.handleSpeechStart()
	case models.EventSpeechEnd:
		s.handleSpeechEnd()
	case models.EventMessage:
		switch ev.Role {
		case models.RoleAssistant:
			s.handleAssistantMessage(ev.Transcript)
		case models.RoleUser:
			s.handleUserMessage(ev.Transcript)
		default:
			slog.Debug("Session.handle: message with unknown role ignored", "call_id", s.callID, "role", ev.Role)
		}
	case models.EventCallEnd:
		s.handleCallEnd()
	case models.EventError:
		s.handleError(ev.Error)
	default:
		slog.Warn("Session.handle: unknown event type", "call_id", s.callID, "type", ev.Type)
	}
}

func (s *Session) handleCallStart(ev models.CallEvent) {
	s.gen++
	s.visited = make(map[string]bool)
	s.visitedOrder = nil
	s.currentNodeID = ""
	s.isClassifying = false
	s.detectedIntent = ""
	s.active = true

	if ev.Payload != nil {
		if ev.Payload.FlowID != "" {
			s.flowID = ev.Payload.FlowID
		}
		s.customerPhone = ev.Payload.CustomerPhone
		s.controlURL = ev.Payload.ControlURL
	}
	if s.customerPhone == "" {
		slog.Info("Session.handleCallStart: no customer phone in payload", "call_id", s.callID)
	}
	if s.controlURL == "" {
		slog.Info("Session.handleCallStart: no call-control handle in payload, context injection disabled", "call_id", s.callID)
	}

	start := s.graph.StartNode()
	if start == nil {
		slog.Warn("Session.handleCallStart: flow has no start node", "call_id", s.callID, "flow_id", s.flowID)
		s.emit()
		return
	}
	s.currentNodeID = start.ID
	s.scheduleVisit(start.ID, startCompleteDelay)
	s.emit()
}

func (s *Session) handleSpeechStart() {
	if s.currentNodeID == "" {
		return
	}
	cur := s.graph.FindNode(s.currentNodeID)
	if cur == nil {
		return
	}
	// Never preempt a pending classification, and never guess a branch
	// direction from speech timing alone.
	if cur.Type == models.NodeTypeBranch {
		return
	}
	if cur.Type != models.NodeTypeStart && !s.visited[cur.ID] {
		return
	}
	succ := s.graph.Successor(cur.ID)
	if succ == nil {
		return
	}
	s.currentNodeID = succ.ID
	s.emit()
}

func (s *Session) handleSpeechEnd() {
	if s.currentNodeID == "" {
		return
	}
	cur := s.graph.FindNode(s.currentNodeID)
	if cur == nil {
		return
	}
	s.markVisited(cur.ID)

	if cur.Type == models.NodeTypeAction && cur.API != nil && cur.API.Endpoint != "" {
		s.dispatchAction(cur)
	}

	if cur.Type != models.NodeTypeBranch {
		if succ := s.graph.Successor(cur.ID); succ != nil {
			s.currentNodeID = succ.ID
			if models.IsTerminalNodeType(succ.Type) {
				s.scheduleVisit(succ.ID, terminalCompleteDelay)
			}
		}
	}
	s.emit()
}

func (s *Session) handleAssistantMessage(transcript string) {
	// Primary path: a node marker in the agent's speech is authoritative.
	if marker := models.ExtractNodeMarker(transcript); marker != "" {
		node := s.graph.FindNode(marker)
		if node == nil {
			slog.Debug("Session.handleAssistantMessage: marker names unknown node", "call_id", s.callID, "marker", marker)
		} else {
			if s.currentNodeID != "" && s.currentNodeID != marker {
				// The traversal moved: only now is in-flight work stale. A
				// marker re-naming the current node leaves a pending
				// classification live.
				s.markVisited(s.currentNodeID)
				s.gen++
				s.isClassifying = false
			}
			s.currentNodeID = node.ID
			if models.IsTerminalNodeType(node.Type) {
				s.scheduleVisit(node.ID, terminalCompleteDelay)
			}
			s.emit()
			return
		}
	}

	// Fallback path, no marker.
	if s.currentNodeID == "" {
		return
	}
	cur := s.graph.FindNode(s.currentNodeID)
	if cur == nil {
		return
	}
	if cur.Type == models.NodeTypeStart && !s.visited[cur.ID] {
		if succ := s.graph.Successor(cur.ID); succ != nil {
			s.currentNodeID = succ.ID
			s.emit()
		}
		return
	}
	if cur.Type == models.NodeTypeBranch && s.detectedIntent != "" {
		label := s.detectedIntent
		s.detectedIntent = ""
		if edge := s.matchEdge(cur, label); edge != nil {
			s.markVisited(cur.ID)
			s.advanceTo(edge.Target)
		} else {
			slog.Debug("Session.handleAssistantMessage: cached intent matched no edge", "call_id", s.callID, "intent", label)
		}
		s.emit()
	}
}

func (s *Session) handleUserMessage(transcript string) {
	if s.currentNodeID == "" {
		return
	}
	cur := s.graph.FindNode(s.currentNodeID)
	if cur == nil {
		return
	}
	switch cur.Type {
	case models.NodeTypeListen:
		s.markVisited(cur.ID)
		succ := s.graph.Successor(cur.ID)
		if succ == nil {
			s.emit()
			return
		}
		// Optimistic highlight: the branch lights up before classification
		// resolves so the canvas tracks the call without lag.
		s.currentNodeID = succ.ID
		if succ.Type == models.NodeTypeBranch {
			s.beginClassification(succ, transcript)
		} else if models.IsTerminalNodeType(succ.Type) {
			s.scheduleVisit(succ.ID, terminalCompleteDelay)
		}
		s.emit()
	case models.NodeTypeBranch:
		s.beginClassification(cur, transcript)
		s.emit()
	}
}

func (s *Session) handleCallEnd() {
	if s.currentNodeID != "" {
		s.markVisited(s.currentNodeID)
	}
	var end *models.FlowNode
	for i := range s.graph.Nodes {
		if s.graph.Nodes[i].Type == models.NodeTypeEnd {
			end = &s.graph.Nodes[i]
			break
		}
	}
	s.isClassifying = false
	s.detectedIntent = ""
	s.active = false
	if end != nil && !s.visited[end.ID] {
		s.currentNodeID = end.ID
		s.scheduleVisit(end.ID, terminalCompleteDelay)
	} else {
		s.currentNodeID = ""
	}
	slog.Info("Session.handleCallEnd: call finished", "call_id", s.callID, "visited", len(s.visitedOrder))
	s.emit()
}

func (s *Session) handleError(msg string) {
	slog.Warn("Session.handleError: platform error, hard reset", "call_id", s.callID, "error", msg)
	s.gen++
	s.currentNodeID = ""
	s.visited = make(map[string]bool)
	s.visitedOrder = nil
	s.isClassifying = false
	s.detectedIntent = ""
	s.active = false
	s.emit()
}

// beginClassification dispatches an asynchronous intent resolution for the
// given branch. The completion re-enters the session goroutine via post and
// re-checks the generation before touching state.
func (s *Session) beginClassification(branch *models.FlowNode, transcript string) {
	candidates := s.branchCandidates(branch)
	if len(candidates) == 0 {
		slog.Warn("Session.beginClassification: branch has no candidate labels", "call_id", s.callID, "node_id", branch.ID)
		return
	}
	if s.resolver == nil {
		slog.Warn("Session.beginClassification: no resolver configured", "call_id", s.callID)
		return
	}
	s.isClassifying = true
	gen := s.gen
	branchID := branch.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), classifyTimeout)
		defer cancel()
		res := s.resolver.Resolve(ctx, transcript, candidates)
		s.post(func() { s.finishClassification(gen, branchID, res) })
	}()
}

func (s *Session) finishClassification(gen int, branchID string, res intent.Resolution) {
	if gen != s.gen {
		slog.Debug("Session.finishClassification: discarding stale result", "call_id", s.callID, "intent", res.Intent)
		return
	}
	// call-end keeps the generation (the terminal settle still has to land),
	// so a result arriving after the call must be dropped here.
	if !s.active {
		slog.Debug("Session.finishClassification: call no longer active, discarding result", "call_id", s.callID, "intent", res.Intent)
		return
	}
	s.isClassifying = false
	if res.Intent == "" {
		slog.Debug("Session.finishClassification: no intent resolved", "call_id", s.callID, "reasoning", res.Reasoning)
		s.emit()
		return
	}
	branch := s.graph.FindNode(branchID)
	if branch == nil {
		return
	}
	if edge := s.matchEdge(branch, res.Intent); edge != nil && s.currentNodeID == branchID {
		s.markVisited(branchID)
		s.detectedIntent = ""
		s.advanceTo(edge.Target)
	} else {
		// Keep the intent around: a later marker-less assistant message on
		// this branch consumes it.
		s.detectedIntent = res.Intent
	}
	s.emit()
}

// dispatchAction fires the external call of an Action node and, on success,
// injects the formatted context into the live call. Nothing here touches
// traversal state, so the whole path runs off the session goroutine and any
// failure is logged only.
func (s *Session) dispatchAction(node *models.FlowNode) {
	if s.executor == nil {
		slog.Warn("Session.dispatchAction: no executor configured", "call_id", s.callID, "node_id", node.ID)
		return
	}
	cfg := *node.API
	phone := s.customerPhone
	controlURL := s.controlURL
	callID := s.callID
	nodeID := node.ID
	injector := s.injector

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		res := s.executor.Execute(ctx, cfg, phone)
		if !res.Success {
			slog.Warn("Session.dispatchAction: external call failed", "call_id", callID, "node_id", nodeID, "error", res.Err)
			return
		}
		if res.Context == "" {
			slog.Debug("Session.dispatchAction: external call returned no context", "call_id", callID, "node_id", nodeID)
			return
		}
		if controlURL == "" || injector == nil {
			slog.Debug("Session.dispatchAction: no call-control handle, skipping injection", "call_id", callID, "node_id", nodeID)
			return
		}
		if err := injector.Inject(ctx, controlURL, res.Context); err != nil {
			slog.Warn("Session.dispatchAction: context injection failed", "call_id", callID, "error", err)
			return
		}
		slog.Info("Session.dispatchAction: context injected", "call_id", callID, "node_id", nodeID)
	}()
}

// scheduleVisit marks nodeID completed after delay, unless the session has
// been reset or jumped since.
func (s *Session) scheduleVisit(nodeID string, delay time.Duration) {
	gen := s.gen
	if _, err := s.timer.ScheduleAfter(delay, func() {
		s.post(func() {
			if gen != s.gen {
				return
			}
			s.markVisited(nodeID)
			// Once a post-call wrapup completes the terminal node, the
			// highlight has nothing left to point at.
			if !s.active && s.currentNodeID == nodeID {
				s.currentNodeID = ""
			}
			s.emit()
		})
	}); err != nil {
		slog.Warn("Session.scheduleVisit: scheduling failed", "call_id", s.callID, "node_id", nodeID, "error", err)
	}
}

func (s *Session) advanceTo(nodeID string) {
	node := s.graph.FindNode(nodeID)
	if node == nil {
		slog.Warn("Session.advanceTo: unknown node", "call_id", s.callID, "node_id", nodeID)
		return
	}
	s.currentNodeID = node.ID
	if models.IsTerminalNodeType(node.Type) {
		s.scheduleVisit(node.ID, terminalCompleteDelay)
	}
}

func (s *Session) markVisited(nodeID string) {
	if s.visited[nodeID] {
		return
	}
	s.visited[nodeID] = true
	s.visitedOrder = append(s.visitedOrder, nodeID)
}

// branchCandidates derives the candidate label set for a branch: the edge
// label when present, else the label of the edge's target node.
func (s *Session) branchCandidates(branch *models.FlowNode) []string {
	var candidates []string
	for _, e := range s.graph.Outgoing(branch.ID) {
		label := e.Label
		if label == "" {
			if target := s.graph.FindNode(e.Target); target != nil {
				label = target.Label
			}
		}
		if label != "" {
			candidates = append(candidates, label)
		}
	}
	return candidates
}

// matchEdge maps a resolved intent label to one outgoing edge of the branch:
// exact edge-label match first, then exact target-node-label match, then
// substring containment in either direction.
func (s *Session) matchEdge(branch *models.FlowNode, label string) *models.FlowEdge {
	edges := s.graph.Outgoing(branch.ID)

	for i := range edges {
		if edges[i].Label != "" && strings.EqualFold(edges[i].Label, label) {
			return &edges[i]
		}
	}
	for i := range edges {
		if target := s.graph.FindNode(edges[i].Target); target != nil && target.Label != "" && strings.EqualFold(target.Label, label) {
			return &edges[i]
		}
	}

	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return nil
	}
	for i := range edges {
		cand := strings.ToLower(edges[i].Label)
		if cand == "" {
			if target := s.graph.FindNode(edges[i].Target); target != nil {
				cand = strings.ToLower(target.Label)
			}
		}
		if cand != "" && (strings.Contains(l, cand) || strings.Contains(cand, l)) {
			return &edges[i]
		}
	}
	return nil
}

func (s *Session) snapshot() models.SessionSnapshot {
	visited := make([]string, len(s.visitedOrder))
	copy(visited, s.visitedOrder)
	return models.SessionSnapshot{
		CallID:         s.callID,
		FlowID:         s.flowID,
		CurrentNodeID:  s.currentNodeID,
		VisitedNodes:   visited,
		IsClassifying:  s.isClassifying,
		DetectedIntent: s.detectedIntent,
		CustomerPhone:  s.customerPhone,
		Active:         s.active,
	}
}

func (s *Session) emit() {
	if s.notify != nil {
		s.notify(s.snapshot())
	}
}
