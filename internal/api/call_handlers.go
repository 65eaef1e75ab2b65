package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxflow/voxflow/internal/models"
	"github.com/voxflow/voxflow/internal/platform"
)

// callEventsHandler ingests one call event. A call-start event must name its
// flow in the payload so the session can be bound to the right graph.
func (s *Server) callEventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var ev models.CallEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		slog.Warn("Server.callEventsHandler: invalid JSON body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	if !models.IsValidEventType(ev.Type) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown event type"))
		return
	}

	var flow *models.FlowGraph
	if ev.Type == models.EventCallStart {
		if ev.Payload == nil || ev.Payload.FlowID == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("call-start requires payload.flow_id"))
			return
		}
		var err error
		flow, err = s.store.GetFlow(ev.Payload.FlowID)
		if errors.Is(err, models.ErrFlowNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return
		}
		if err != nil {
			slog.Error("Server.callEventsHandler: flow load failed", "flow_id", ev.Payload.FlowID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load flow"))
			return
		}
	}

	if err := s.engine.HandleEvent(flow, ev); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown call"))
			return
		}
		slog.Warn("Server.callEventsHandler: event rejected", "call_id", ev.CallID, "type", ev.Type, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("event accepted", nil))
}

// twilioWebhookHandler turns Twilio Voice status callbacks into call events.
// The callback URL carries ?flow_id= so a call-start can be bound to its
// flow design.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	ev, err := s.twilio.ParseStatusCallback(r)
	if errors.Is(err, platform.ErrIgnoredStatus) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: bad callback", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Bad status callback"))
		return
	}

	// ParseStatusCallback has parsed the form, so the signature check sees
	// the full parameter set.
	if !s.twilio.ValidateRequest(r) {
		slog.Warn("Server.twilioWebhookHandler: signature validation failed", "call_id", ev.CallID)
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
		return
	}

	var flow *models.FlowGraph
	if ev.Type == models.EventCallStart {
		flowID := r.URL.Query().Get("flow_id")
		if flowID == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Callback URL missing flow_id"))
			return
		}
		flow, err = s.store.GetFlow(flowID)
		if errors.Is(err, models.ErrFlowNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return
		}
		if err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load flow"))
			return
		}
		ev.Payload.FlowID = flowID
	}

	if err := s.engine.HandleEvent(flow, ev); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			// Status callbacks can outlive the session; acknowledge so
			// Twilio stops retrying.
			slog.Debug("Server.twilioWebhookHandler: event for unknown call", "call_id", ev.CallID)
			w.WriteHeader(http.StatusOK)
			return
		}
		slog.Warn("Server.twilioWebhookHandler: event rejected", "call_id", ev.CallID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// callStatusHandler returns the live traversal snapshot for one call.
func (s *Server) callStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	callID := r.URL.Query().Get("id")
	if callID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing id parameter"))
		return
	}
	snap, err := s.engine.Snapshot(callID)
	if errors.Is(err, models.ErrSessionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown call"))
		return
	}
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read call state"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

// callSummariesHandler lists persisted call records, optionally filtered by
// ?flow_id=.
func (s *Server) callSummariesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	summaries, err := s.store.ListCallSummaries(r.URL.Query().Get("flow_id"))
	if err != nil {
		slog.Error("Server.callSummariesHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list calls"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summaries))
}

// persistFinishedCalls consumes traversal snapshots and records a summary
// row whenever a call leaves the active state. Upserts keyed by call id make
// the repeated end-of-call snapshots harmless.
func (s *Server) persistFinishedCalls() {
	started := make(map[string]time.Time)
	for snap := range s.engine.Updates() {
		if snap.Active {
			if _, ok := started[snap.CallID]; !ok {
				started[snap.CallID] = time.Now().UTC()
			}
			continue
		}
		startedAt, ok := started[snap.CallID]
		if !ok {
			startedAt = time.Now().UTC()
			started[snap.CallID] = startedAt
		}
		summary := models.CallSummary{
			CallID:        snap.CallID,
			FlowID:        snap.FlowID,
			CustomerPhone: snap.CustomerPhone,
			StartedAt:     startedAt,
			EndedAt:       time.Now().UTC(),
			VisitedNodes:  snap.VisitedNodes,
		}
		if err := s.store.SaveCallSummary(summary); err != nil {
			slog.Error("Server.persistFinishedCalls: save failed", "call_id", snap.CallID, "error", err)
		}
	}
}
