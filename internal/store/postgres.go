// Package store provides storage backends for flow designs and call records.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/voxflow/voxflow/internal/models"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists flows and call summaries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveFlow(flow models.FlowGraph) error {
	if flow.ID == "" {
		return models.ErrEmptyFlowID
	}
	nodes, err := json.Marshal(flow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes for flow %s: %w", flow.ID, err)
	}
	edges, err := json.Marshal(flow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges for flow %s: %w", flow.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO flows (id, name, nodes, edges, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(id) DO UPDATE SET name=EXCLUDED.name, nodes=EXCLUDED.nodes, edges=EXCLUDED.edges, updated_at=EXCLUDED.updated_at`,
		flow.ID, flow.Name, string(nodes), string(edges), flow.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.SaveFlow failed", "error", err, "flow_id", flow.ID)
		return fmt.Errorf("failed to save flow %s: %w", flow.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetFlow(id string) (*models.FlowGraph, error) {
	row := s.db.QueryRow(`SELECT id, name, nodes, edges, updated_at FROM flows WHERE id = $1`, id)
	flow, err := scanFlow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrFlowNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.GetFlow failed", "error", err, "flow_id", id)
		return nil, fmt.Errorf("failed to load flow %s: %w", id, err)
	}
	return flow, nil
}

func (s *PostgresStore) ListFlows() ([]models.FlowGraph, error) {
	rows, err := s.db.Query(`SELECT id, name, nodes, edges, updated_at FROM flows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []models.FlowGraph
	for rows.Next() {
		flow, err := scanFlow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		flows = append(flows, *flow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	return flows, nil
}

func (s *PostgresStore) DeleteFlow(id string) error {
	if _, err := s.db.Exec(`DELETE FROM flows WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) SaveCallSummary(summary models.CallSummary) error {
	visited, err := json.Marshal(summary.VisitedNodes)
	if err != nil {
		return fmt.Errorf("failed to marshal visited nodes for call %s: %w", summary.CallID, err)
	}
	_, err = s.db.Exec(`INSERT INTO call_summaries (call_id, flow_id, customer_phone, started_at, ended_at, visited_nodes) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(call_id) DO UPDATE SET ended_at=EXCLUDED.ended_at, visited_nodes=EXCLUDED.visited_nodes`,
		summary.CallID, summary.FlowID, summary.CustomerPhone, summary.StartedAt, nilIfZeroTime(summary.EndedAt), string(visited))
	if err != nil {
		slog.Error("PostgresStore.SaveCallSummary failed", "error", err, "call_id", summary.CallID)
		return fmt.Errorf("failed to save call summary %s: %w", summary.CallID, err)
	}
	return nil
}

func (s *PostgresStore) ListCallSummaries(flowID string) ([]models.CallSummary, error) {
	query := `SELECT call_id, flow_id, customer_phone, started_at, ended_at, visited_nodes FROM call_summaries`
	args := []interface{}{}
	if flowID != "" {
		query += ` WHERE flow_id = $1`
		args = append(args, flowID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.CallSummary
	for rows.Next() {
		summary, err := scanCallSummary(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call summary row: %w", err)
		}
		summaries = append(summaries, *summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call summary rows: %w", err)
	}
	return summaries, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
