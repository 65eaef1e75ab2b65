package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxflow/voxflow/internal/intent"
	"github.com/voxflow/voxflow/internal/models"
	"github.com/voxflow/voxflow/internal/platform"
	"github.com/voxflow/voxflow/internal/store"
	"github.com/voxflow/voxflow/internal/traversal"
)

type instantTimer struct{}

func (instantTimer) ScheduleAfter(_ time.Duration, fn func()) (string, error) {
	fn()
	return "t", nil
}
func (instantTimer) Cancel(string) error { return nil }
func (instantTimer) Stop()               {}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := traversal.NewEngine(intent.NewResolver(nil), nil, nil,
		traversal.WithTimerFactory(func() traversal.Timer { return instantTimer{} }))
	t.Cleanup(engine.Stop)
	return NewServer(st, engine, platform.NewTwilioAdapter("", "")), st
}

func validFlow() models.FlowGraph {
	return models.FlowGraph{
		ID:   "flow_valid",
		Name: "Greeting flow",
		Nodes: []models.FlowNode{
			{ID: "start", Type: models.NodeTypeStart, Label: "Start"},
			{ID: "greet", Type: models.NodeTypeMessage, Label: "Greeting", Content: "hello"},
			{ID: "end", Type: models.NodeTypeEnd, Label: "End"},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", Source: "start", Target: "greet"},
			{ID: "e2", Source: "greet", Target: "end"},
		},
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestSaveAndGetFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/flows", validFlow())
	if rec.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/flows?id=flow_valid", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Greeting flow") {
		t.Errorf("get response missing flow name: %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/flows?id=flow_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing flow status = %d, want 404", rec.Code)
	}
}

func TestSaveFlowGeneratesID(t *testing.T) {
	srv, st := newTestServer(t)
	flow := validFlow()
	flow.ID = ""

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/flows", flow)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body.String())
	}
	flows, err := st.ListFlows()
	if err != nil || len(flows) != 1 {
		t.Fatalf("flows = %v, err = %v", flows, err)
	}
	if !strings.HasPrefix(flows[0].ID, "flow_") {
		t.Errorf("generated id = %q, want flow_ prefix", flows[0].ID)
	}
}

func TestSaveFlowBlocksInvalidStructure(t *testing.T) {
	srv, st := newTestServer(t)
	flow := validFlow()
	flow.Nodes[0].Type = models.NodeTypeMessage // no Start node left

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/flows", flow)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body %s", rec.Code, rec.Body.String())
	}
	if flows, _ := st.ListFlows(); len(flows) != 0 {
		t.Error("structurally invalid flow was persisted")
	}
}

func TestValidateEndpointReportsAllErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	flow := models.FlowGraph{
		ID: "flow_bad",
		Nodes: []models.FlowNode{
			{ID: "a", Type: models.NodeTypeMessage, Label: "Orphan"},
		},
	}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/flows/validate", flow)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Result struct {
			Valid  bool     `json:"valid"`
			Errors []string `json:"errors"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Valid {
		t.Error("invalid flow reported as valid")
	}
	if len(resp.Result.Errors) == 0 {
		t.Error("no structural errors reported")
	}
}

func TestCompileEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/flows/compile", validFlow())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "[[NODE:") {
		t.Error("compiled script missing node marker directive")
	}
}

func TestCompileEndpointByID(t *testing.T) {
	srv, st := newTestServer(t)
	flow := validFlow()
	flow.UpdatedAt = time.Now()
	if err := st.SaveFlow(flow); err != nil {
		t.Fatalf("SaveFlow: %v", err)
	}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/flows/compile?id=flow_valid", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestLayoutEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	body := map[string]interface{}{"flow": validFlow(), "mode": "initial"}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/flows/layout", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Result models.FlowGraph `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// start at level 0, greet below it, end below that
	byID := map[string]models.Position{}
	for _, n := range resp.Result.Nodes {
		byID[n.ID] = n.Position
	}
	if !(byID["start"].Y < byID["greet"].Y && byID["greet"].Y < byID["end"].Y) {
		t.Errorf("layout levels not descending: %+v", byID)
	}
}

func TestCallEventsLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	flow := validFlow()
	if rec := doJSON(t, h, http.MethodPost, "/flows", flow); rec.Code != http.StatusCreated {
		t.Fatalf("save flow: %d", rec.Code)
	}

	start := models.CallEvent{
		Type: models.EventCallStart, CallID: "call_9",
		Payload: &models.CallStartPayload{FlowID: "flow_valid", CustomerPhone: "+15550100"},
	}
	if rec := doJSON(t, h, http.MethodPost, "/calls/events", start); rec.Code != http.StatusAccepted {
		t.Fatalf("call-start status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, h, http.MethodGet, "/calls/status?id=call_9", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	var resp struct {
		Result models.SessionSnapshot `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.CurrentNodeID != "start" || !resp.Result.Active {
		t.Errorf("snapshot = %+v, want active at start node", resp.Result)
	}

	end := models.CallEvent{Type: models.EventCallEnd, CallID: "call_9"}
	if rec := doJSON(t, h, http.MethodPost, "/calls/events", end); rec.Code != http.StatusAccepted {
		t.Fatalf("call-end status = %d", rec.Code)
	}
}

func TestCallEventsUnknownFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	ev := models.CallEvent{
		Type: models.EventCallStart, CallID: "call_1",
		Payload: &models.CallStartPayload{FlowID: "flow_nope"},
	}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/calls/events", ev)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCallEventsUnknownCall(t *testing.T) {
	srv, _ := newTestServer(t)
	ev := models.CallEvent{Type: models.EventSpeechStart, CallID: "call_ghost"}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/calls/events", ev)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCallStatusValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	if rec := doJSON(t, h, http.MethodGet, "/calls/status", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/calls/status?id=call_ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown call status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("health payload status = %q", resp.Status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	for _, path := range []string{"/flows/validate", "/flows/compile", "/flows/layout", "/calls/events"} {
		if rec := doJSON(t, h, http.MethodGet, path, nil); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s status = %d, want 405", path, rec.Code)
		}
	}
}
