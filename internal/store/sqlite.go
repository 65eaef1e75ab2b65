// Package store provides storage backends for flow designs and call records.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voxflow/voxflow/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists flows and call summaries in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path; its directory is created if absent.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveFlow(flow models.FlowGraph) error {
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
	_, err = s.db.Exec(`INSERT INTO flows (id, name, nodes, edges, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, nodes=excluded.nodes, edges=excluded.edges, updated_at=excluded.updated_at`,
		flow.ID, flow.Name, string(nodes), string(edges), flow.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.SaveFlow failed", "error", err, "flow_id", flow.ID)
		return fmt.Errorf("failed to save flow %s: %w", flow.ID, err)
	}
	slog.Debug("SQLiteStore.SaveFlow succeeded", "flow_id", flow.ID)
	return nil
}

func (s *SQLiteStore) GetFlow(id string) (*models.FlowGraph, error) {
	row := s.db.QueryRow(`SELECT id, name, nodes, edges, updated_at FROM flows WHERE id = ?`, id)
	flow, err := scanFlow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrFlowNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.GetFlow failed", "error", err, "flow_id", id)
		return nil, fmt.Errorf("failed to load flow %s: %w", id, err)
	}
	return flow, nil
}

func (s *SQLiteStore) ListFlows() ([]models.FlowGraph, error) {
	rows, err := s.db.Query(`SELECT id, name, nodes, edges, updated_at FROM flows ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore.ListFlows query failed", "error", err)
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

func (s *SQLiteStore) DeleteFlow(id string) error {
	if _, err := s.db.Exec(`DELETE FROM flows WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SaveCallSummary(summary models.CallSummary) error {
	visited, err := json.Marshal(summary.VisitedNodes)
	if err != nil {
		return fmt.Errorf("failed to marshal visited nodes for call %s: %w", summary.CallID, err)
	}
	_, err = s.db.Exec(`INSERT INTO call_summaries (call_id, flow_id, customer_phone, started_at, ended_at, visited_nodes) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET ended_at=excluded.ended_at, visited_nodes=excluded.visited_nodes`,
		summary.CallID, summary.FlowID, summary.CustomerPhone, summary.StartedAt, nilIfZeroTime(summary.EndedAt), string(visited))
	if err != nil {
		slog.Error("SQLiteStore.SaveCallSummary failed", "error", err, "call_id", summary.CallID)
		return fmt.Errorf("failed to save call summary %s: %w", summary.CallID, err)
	}
	return nil
}

func (s *SQLiteStore) ListCallSummaries(flowID string) ([]models.CallSummary, error) {
	query := `SELECT call_id, flow_id, customer_phone, started_at, ended_at, visited_nodes FROM call_summaries`
	args := []interface{}{}
	if flowID != "" {
		query += ` WHERE flow_id = ?`
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
