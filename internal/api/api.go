// Package api provides HTTP handlers and the main API server logic for the
// flow service.
//
// It exposes RESTful endpoints for designing, validating, compiling and
// laying out call flows, plus webhook endpoints that feed live call events
// into the traversal engine.
package api

import (
	"log/slog"
	"net/http"

	"github.com/voxflow/voxflow/internal/action"
	"github.com/voxflow/voxflow/internal/callctl"
	"github.com/voxflow/voxflow/internal/genai"
	"github.com/voxflow/voxflow/internal/intent"
	"github.com/voxflow/voxflow/internal/models"
	"github.com/voxflow/voxflow/internal/platform"
	"github.com/voxflow/voxflow/internal/store"
	"github.com/voxflow/voxflow/internal/traversal"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	// Addr is the listen address.
	Addr string
	// TwilioAuthToken enables webhook signature validation when set.
	TwilioAuthToken string
	// PublicBaseURL is the external origin Twilio signs requests against.
	PublicBaseURL string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioAuthToken sets the token used to verify webhook signatures.
func WithTwilioAuthToken(token string) Option {
	return func(o *Opts) { o.TwilioAuthToken = token }
}

// WithPublicBaseURL sets the external origin for signature verification.
func WithPublicBaseURL(baseURL string) Option {
	return func(o *Opts) { o.PublicBaseURL = baseURL }
}

// Server wires the store, the compiler-facing flow endpoints and the
// traversal engine behind one HTTP mux.
type Server struct {
	store  store.Store
	engine *traversal.Engine
	twilio *platform.TwilioAdapter
}

// NewServer creates a server over the given collaborators.
func NewServer(st store.Store, engine *traversal.Engine, twilio *platform.TwilioAdapter) *Server {
	return &Server{store: st, engine: engine, twilio: twilio}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flows", s.flowsHandler)
	mux.HandleFunc("/flows/validate", s.validateFlowHandler)
	mux.HandleFunc("/flows/compile", s.compileFlowHandler)
	mux.HandleFunc("/flows/layout", s.layoutFlowHandler)
	mux.HandleFunc("/calls/events", s.callEventsHandler)
	mux.HandleFunc("/calls/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/calls/status", s.callStatusHandler)
	mux.HandleFunc("/calls", s.callSummariesHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run builds the full service from options and serves until the listener
// fails. The store backend is picked by DSN shape; without a DSN everything
// stays in memory. A missing OpenAI key disables the remote classification
// tier, nothing else.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	var apiCfg Opts
	for _, opt := range apiOpts {
		opt(&apiCfg)
	}
	if apiCfg.Addr == "" {
		apiCfg.Addr = DefaultAddr
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	var genaiClient genai.ClientInterface
	if client, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("Run: GenAI client unavailable, intent resolution degrades to local matching", "error", err)
	} else {
		genaiClient = client
	}

	resolver := intent.NewResolver(genaiClient)
	executor := action.NewExecutor(nil)
	injector := callctl.NewHTTPInjector(nil)
	engine := traversal.NewEngine(resolver, executor, injector)
	defer engine.Stop()

	twilio := platform.NewTwilioAdapter(apiCfg.TwilioAuthToken, apiCfg.PublicBaseURL)
	server := NewServer(st, engine, twilio)

	go server.persistFinishedCalls()

	slog.Info("Run: API server listening", "addr", apiCfg.Addr)
	return http.ListenAndServe(apiCfg.Addr, server.Handler())
}

// buildStore selects a backend from the configured DSN.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("buildStore: no DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == store.DSNTypePostgres {
		slog.Info("buildStore: using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Info("buildStore: using SQLite store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
