// Package store provides storage backends for flow designs and call records.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends selected by DSN shape.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/voxflow/voxflow/internal/models"
)

// Store persists flow designs and finished call summaries.
type Store interface {
	// SaveFlow inserts or replaces a flow design by id.
	SaveFlow(flow models.FlowGraph) error
	// GetFlow returns the flow with the given id, or models.ErrFlowNotFound.
	GetFlow(id string) (*models.FlowGraph, error)
	// ListFlows returns all saved flows ordered by id.
	ListFlows() ([]models.FlowGraph, error)
	// DeleteFlow removes a flow. Deleting an unknown id is not an error.
	DeleteFlow(id string) error

	// SaveCallSummary records one finished call.
	SaveCallSummary(summary models.CallSummary) error
	// ListCallSummaries returns the calls for one flow, newest first. An
	// empty flowID returns every call.
	ListCallSummaries(flowID string) ([]models.CallSummary, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string.
	DSN string
}

// Option defines a functional option for store configuration.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithSQLiteDSN sets an SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return WithDSN(dsn)
}

// DSN type names returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite"
)

// DetectDSNType classifies a DSN as Postgres or SQLite. Anything that is not
// recognizably a Postgres URL or key/value string is treated as an SQLite
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// InMemoryStore keeps everything in process memory. Used by tests and as the
// default backend when no DSN is configured.
type InMemoryStore struct {
	mu        sync.RWMutex
	flows     map[string]models.FlowGraph
	summaries []models.CallSummary
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{flows: make(map[string]models.FlowGraph)}
}

func (s *InMemoryStore) SaveFlow(flow models.FlowGraph) error {
	if flow.ID == "" {
		return models.ErrEmptyFlowID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = flow
	return nil
}

func (s *InMemoryStore) GetFlow(id string) (*models.FlowGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, models.ErrFlowNotFound
	}
	return &flow, nil
}

func (s *InMemoryStore) ListFlows() ([]models.FlowGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flows := make([]models.FlowGraph, 0, len(s.flows))
	for _, flow := range s.flows {
		flows = append(flows, flow)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
	return flows, nil
}

func (s *InMemoryStore) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	return nil
}

func (s *InMemoryStore) SaveCallSummary(summary models.CallSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Replace an existing record for the same call.
	for i := range s.summaries {
		if s.summaries[i].CallID == summary.CallID {
			s.summaries[i] = summary
			return nil
		}
	}
	s.summaries = append(s.summaries, summary)
	return nil
}

func (s *InMemoryStore) ListCallSummaries(flowID string) ([]models.CallSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CallSummary
	for _, summary := range s.summaries {
		if flowID == "" || summary.FlowID == flowID {
			out = append(out, summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
