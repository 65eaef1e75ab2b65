package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxflow/voxflow/internal/compiler"
	"github.com/voxflow/voxflow/internal/graph"
	"github.com/voxflow/voxflow/internal/models"
	"github.com/voxflow/voxflow/internal/util"
)

// flowsHandler saves a flow design (POST) or fetches flows (GET, one by
// ?id= or all).
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.saveFlowHandler(w, r)
	case http.MethodGet:
		s.getFlowsHandler(w, r)
	default:
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

func (s *Server) saveFlowHandler(w http.ResponseWriter, r *http.Request) {
	var flow models.FlowGraph
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		slog.Warn("Server.saveFlowHandler: invalid JSON body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	if flow.ID == "" {
		flow.ID = util.GenerateFlowID()
	}
	flow.UpdatedAt = time.Now().UTC()

	if err := flow.Validate(); err != nil {
		slog.Warn("Server.saveFlowHandler: flow failed shape validation", "flow_id", flow.ID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	// Structural problems block publishing; they are reported as a list,
	// never as a failure of the request itself.
	if result := graph.Validate(&flow); !result.Valid {
		slog.Info("Server.saveFlowHandler: flow failed structural validation", "flow_id", flow.ID, "errors", len(result.Errors))
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Invalid(result))
		return
	}

	if err := s.store.SaveFlow(flow); err != nil {
		slog.Error("Server.saveFlowHandler: save failed", "flow_id", flow.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
		return
	}
	slog.Info("Server.saveFlowHandler: flow saved", "flow_id", flow.ID, "nodes", len(flow.Nodes), "edges", len(flow.Edges))
	writeJSONResponse(w, http.StatusCreated, models.Success(flow))
}

func (s *Server) getFlowsHandler(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		flow, err := s.store.GetFlow(id)
		if errors.Is(err, models.ErrFlowNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return
		}
		if err != nil {
			slog.Error("Server.getFlowsHandler: load failed", "flow_id", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load flow"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(flow))
		return
	}

	flows, err := s.store.ListFlows()
	if err != nil {
		slog.Error("Server.getFlowsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list flows"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(flows))
}

// validateFlowHandler reports all structural violations of the posted flow.
func (s *Server) validateFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var flow models.FlowGraph
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(graph.Validate(&flow)))
}

// compileFlowHandler renders the agent instruction script for a flow. The
// flow may be posted inline or referenced by ?id=.
func (s *Server) compileFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	flow, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}

	script, err := compiler.Compile(flow)
	if err != nil {
		slog.Warn("Server.compileFlowHandler: compile failed", "flow_id", flow.ID, "error", err)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"script": script}))
}

// layoutRequest is the body of POST /flows/layout.
type layoutRequest struct {
	Flow models.FlowGraph `json:"flow"`
	// Mode selects "initial" (BFS placement for a fresh graph) or
	// "rearrange" (full hierarchical re-layout). Defaults to rearrange.
	Mode    string              `json:"mode,omitempty"`
	Options graph.LayoutOptions `json:"options,omitempty"`
}

// layoutFlowHandler computes node positions and returns the flow with the
// positions applied.
func (s *Server) layoutFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req layoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}

	var positions map[string]models.Position
	switch req.Mode {
	case "initial":
		positions = graph.InitialLayout(&req.Flow)
	case "", "rearrange":
		positions = graph.Rearrange(&req.Flow, req.Options)
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown layout mode"))
		return
	}

	for i := range req.Flow.Nodes {
		if pos, ok := positions[req.Flow.Nodes[i].ID]; ok {
			req.Flow.Nodes[i].Position = pos
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(req.Flow))
}

// flowFromRequest reads a flow either inline from the body or by ?id= from
// the store. Writes the error response itself when it returns ok=false.
func (s *Server) flowFromRequest(w http.ResponseWriter, r *http.Request) (*models.FlowGraph, bool) {
	if id := r.URL.Query().Get("id"); id != "" {
		flow, err := s.store.GetFlow(id)
		if errors.Is(err, models.ErrFlowNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return nil, false
		}
		if err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load flow"))
			return nil, false
		}
		return flow, true
	}

	var flow models.FlowGraph
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return nil, false
	}
	return &flow, true
}
