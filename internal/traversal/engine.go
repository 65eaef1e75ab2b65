package traversal

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxflow/voxflow/internal/models"
)

const defaultUpdateBuffer = 256

// Opts holds configuration for the traversal engine.
type Opts struct {
	// TimerFactory builds the per-session timer. Defaults to NewSimpleTimer.
	TimerFactory func() Timer
	// UpdateBuffer sizes the snapshot update channel.
	UpdateBuffer int
}

// Option configures the engine.
type Option func(*Opts)

// WithTimerFactory overrides the per-session timer constructor.
func WithTimerFactory(factory func() Timer) Option {
	return func(o *Opts) { o.TimerFactory = factory }
}

// WithUpdateBuffer sets the capacity of the update channel.
func WithUpdateBuffer(n int) Option {
	return func(o *Opts) { o.UpdateBuffer = n }
}

// Engine routes call events to per-call sessions. One engine serves all live
// calls; each call's state is confined to its own session goroutine.
type Engine struct {
	resolver IntentResolver
	executor ActionExecutor
	injector ContextInjector
	newTimer func() Timer

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool

	updates chan models.SessionSnapshot
}

// NewEngine creates a traversal engine. resolver, executor and injector may
// each be nil; the corresponding paths then log and no-op.
func NewEngine(resolver IntentResolver, executor ActionExecutor, injector ContextInjector, options ...Option) *Engine {
	opts := Opts{
		TimerFactory: func() Timer { return NewSimpleTimer() },
		UpdateBuffer: defaultUpdateBuffer,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &Engine{
		resolver: resolver,
		executor: executor,
		injector: injector,
		newTimer: opts.TimerFactory,
		sessions: make(map[string]*Session),
		updates:  make(chan models.SessionSnapshot, opts.UpdateBuffer),
	}
}

// Updates exposes the stream of traversal snapshots, one per state change.
// Slow consumers lose updates rather than stall the traversal.
func (e *Engine) Updates() <-chan models.SessionSnapshot {
	return e.updates
}

// HandleEvent applies one call event. A call-start event creates the session
// for its call id, binding it to graph; every other event type requires an
// existing session, and graph may then be nil.
func (e *Engine) HandleEvent(graph *models.FlowGraph, ev models.CallEvent) error {
	if !models.IsValidEventType(ev.Type) {
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.CallID == "" {
		return fmt.Errorf("event has no call id")
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine is stopped")
	}
	sess, ok := e.sessions[ev.CallID]
	if !ok {
		if ev.Type != models.EventCallStart {
			e.mu.Unlock()
			return fmt.Errorf("event %s for call %s: %w", ev.Type, ev.CallID, models.ErrSessionNotFound)
		}
		if graph == nil {
			e.mu.Unlock()
			return fmt.Errorf("call-start for call %s: no flow graph", ev.CallID)
		}
		sess = newSession(ev.CallID, graph, e.resolver, e.executor, e.injector, e.newTimer(), e.safeEmit)
		e.sessions[ev.CallID] = sess
		slog.Info("Engine.HandleEvent: session created", "call_id", ev.CallID, "flow_id", graph.ID)
	}
	e.mu.Unlock()

	sess.Apply(ev)
	return nil
}

// Snapshot returns the current traversal state of one call.
func (e *Engine) Snapshot(callID string) (models.SessionSnapshot, error) {
	e.mu.Lock()
	sess, ok := e.sessions[callID]
	e.mu.Unlock()
	if !ok {
		return models.SessionSnapshot{}, fmt.Errorf("call %s: %w", callID, models.ErrSessionNotFound)
	}
	return sess.Snapshot(), nil
}

// Sessions lists the ids of all known calls, live and finished.
func (e *Engine) Sessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Remove drops a finished call's session. Snapshot stops working for it.
func (e *Engine) Remove(callID string) {
	e.mu.Lock()
	sess, ok := e.sessions[callID]
	if ok {
		delete(e.sessions, callID)
	}
	e.mu.Unlock()
	if ok {
		sess.close()
		slog.Debug("Engine.Remove: session removed", "call_id", callID)
	}
}

// Stop shuts down every session. The engine accepts no events afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	sessions := e.sessions
	e.sessions = make(map[string]*Session)
	e.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	slog.Info("Engine.Stop: stopped", "sessions", len(sessions))
}

// safeEmit publishes a snapshot without ever blocking a session goroutine.
func (e *Engine) safeEmit(snap models.SessionSnapshot) {
	select {
	case e.updates <- snap:
	default:
		slog.Debug("Engine.safeEmit: update channel full, dropping snapshot", "call_id", snap.CallID)
	}
}
